package e2e_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/streamd/internal/session"
)

var _ = Describe("Session Workflows", func() {
	Describe("Basic Session Lifecycle", func() {
		It("should create a new session with the default model", func() {
			s, err := client.CreateSession(ctx, testServer.WorkDir, "Test Session")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, s.ID)

			Expect(s.ID).NotTo(BeEmpty())
			Expect(s.Title).To(Equal("Test Session"))
			Expect(s.ProviderID).To(Equal("openai"))
			Expect(s.ModelID).To(Equal("mock-gpt"))
			Expect(s.Directory).To(Equal(testServer.WorkDir))
		})

		It("should give untitled sessions a default title", func() {
			s, err := client.CreateSession(ctx, testServer.WorkDir, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, s.ID)

			Expect(s.Title).To(HavePrefix(session.DefaultTitle))
		})

		It("should retrieve session by ID", func() {
			s, err := client.CreateSession(ctx, testServer.WorkDir, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, s.ID)

			retrieved, err := client.GetSession(ctx, s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.ID).To(Equal(s.ID))
		})

		It("should rename a session", func() {
			s, err := client.CreateSession(ctx, testServer.WorkDir, "")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, s.ID)

			renamed, err := client.RenameSession(ctx, s.ID, "Renamed")
			Expect(err).NotTo(HaveOccurred())
			Expect(renamed.Title).To(Equal("Renamed"))
			Expect(renamed.Time.Updated).To(BeNumerically(">=", s.Time.Updated))
		})

		It("should list sessions with the most recent first", func() {
			first, err := client.CreateSession(ctx, testServer.WorkDir, "first")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, first.ID)
			second, err := client.CreateSession(ctx, testServer.WorkDir, "second")
			Expect(err).NotTo(HaveOccurred())
			defer client.DeleteSession(ctx, second.ID)

			time.Sleep(5 * time.Millisecond)
			_, err = client.RenameSession(ctx, first.ID, "first again")
			Expect(err).NotTo(HaveOccurred())

			sessions, err := client.ListSessions(ctx)
			Expect(err).NotTo(HaveOccurred())
			var ids []string
			for _, s := range sessions {
				if s.ID == first.ID || s.ID == second.ID {
					ids = append(ids, s.ID)
				}
			}
			Expect(ids).To(Equal([]string{first.ID, second.ID}))
		})

		It("should delete a session and its messages", func() {
			s, err := client.CreateSession(ctx, testServer.WorkDir, "")
			Expect(err).NotTo(HaveOccurred())
			_, err = client.SendMessage(ctx, s.ID, "hello")
			Expect(err).NotTo(HaveOccurred())

			Expect(client.DeleteSession(ctx, s.ID)).To(Succeed())

			resp, err := client.Get(ctx, "/session/"+s.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.ErrorCode()).To(Equal("NOT_FOUND"))

			resp, err = client.Get(ctx, "/session/"+s.ID+"/message")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("Error Handling", func() {
		It("should reject a half-specified model", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{"providerID": "openai"})
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(resp.ErrorCode()).To(Equal("INVALID_REQUEST"))
		})

		It("should return 404 for unknown sessions", func() {
			resp, err := client.Delete(ctx, "/session/does-not-exist")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
