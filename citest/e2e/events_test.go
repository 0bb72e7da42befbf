package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/pkg/types"
)

var _ = Describe("Notification Stream", func() {
	It("should announce the connection and send heartbeats", func() {
		stream, err := testServer.Events(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		_, err = stream.WaitForNotification("server.connected", 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(stream.WaitForHeartbeat(2 * time.Second)).To(Succeed())
	})

	It("should publish the lifecycle of a turn", func() {
		stream, err := testServer.Events(ctx)
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		s, err := client.CreateSession(ctx, testServer.WorkDir, "Observed")
		Expect(err).NotTo(HaveOccurred())
		defer client.DeleteSession(ctx, s.ID)

		e, err := stream.WaitForNotification(event.SessionCreated, 2*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var created event.SessionInfo
		Expect(e.Decode(&created)).To(Succeed())
		Expect(created.Info.ID).To(Equal(s.ID))

		_, err = client.SendMessage(ctx, s.ID, "hello")
		Expect(err).NotTo(HaveOccurred())

		e, err = stream.WaitForNotification(event.SessionIdle, 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var idle event.SessionIdleData
		Expect(e.Decode(&idle)).To(Succeed())
		Expect(idle.SessionID).To(Equal(s.ID))
		Expect(idle.Status).To(Equal(types.MessageCompleted))
		settle(s.ID)
	})
})
