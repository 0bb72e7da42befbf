package e2e_test

import (
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/opencode-ai/streamd/citest/testutil"
	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/pkg/types"
)

// settle waits until the session's stream has been finalized. Clients see the
// terminal event before the message is written.
func settle(id string) {
	GinkgoHelper()
	Eventually(func() bool { return testServer.Service.IsBusy(id) }).Should(BeFalse())
}

var _ = Describe("Message Workflows", func() {
	var sessions *testutil.SessionManager
	var sess *types.Session

	BeforeEach(func() {
		sessions = testutil.NewSessionManager(client)
		var err error
		sess, err = sessions.Create(ctx, testServer.WorkDir, "")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		settle(sess.ID)
		sessions.Cleanup(ctx)
	})

	Describe("Simple Message Exchange", func() {
		It("should stream a framed text answer", func() {
			events, err := client.SendMessage(ctx, sess.ID, "Say 'Hello, World!' and nothing else.")
			Expect(err).NotTo(HaveOccurred())

			seq := testutil.EventTypes(events)
			Expect(seq[0]).To(Equal(types.EventTextStart))
			Expect(seq[len(seq)-2]).To(Equal(types.EventTextEnd))
			Expect(seq[len(seq)-1]).To(Equal(types.EventComplete))
			Expect(testutil.JoinText(events)).To(Equal("Hello, World!"))
		})

		It("should persist the user and assistant messages", func() {
			_, err := client.SendMessage(ctx, sess.ID, "What is 2+2? Answer with just the number.")
			Expect(err).NotTo(HaveOccurred())
			settle(sess.ID)

			messages, err := client.GetMessages(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(2))

			Expect(messages[0].Role).To(Equal(types.RoleUser))
			Expect(messages[1].Role).To(Equal(types.RoleAssistant))
			Expect(messages[1].Status).To(Equal(types.MessageCompleted))
			Expect(messages[1].Ordering).To(BeNumerically(">", messages[0].Ordering))
			Expect(testutil.MessageText(messages[1])).To(Equal("4"))
			Expect(messages[0].Metadata).NotTo(BeNil())
			Expect(messages[0].Metadata.CPUCores).To(Equal(4))
		})

		It("should maintain conversation context", func() {
			_, err := client.SendMessage(ctx, sess.ID, "Remember this number: 42. Just say 'OK' to confirm.")
			Expect(err).NotTo(HaveOccurred())
			settle(sess.ID)

			testServer.MockLLM.Reset()
			events, err := client.SendMessage(ctx, sess.ID, "What number did I ask you to remember?")
			Expect(err).NotTo(HaveOccurred())
			Expect(testutil.JoinText(events)).To(Equal("42"))

			var streamed []testutil.MockRequest
			for _, req := range testServer.MockLLM.Requests() {
				if req.Body.Stream {
					streamed = append(streamed, req)
				}
			}
			Expect(streamed).To(HaveLen(1))

			var roles []string
			for _, m := range streamed[0].Body.Messages {
				roles = append(roles, m.Role)
			}
			Expect(roles).To(Equal([]string{"system", "user", "assistant", "user"}))
			Expect(streamed[0].Body.Messages[2].Text()).To(Equal("OK"))
		})

		It("should name an untitled session after its first turn", func() {
			_, err := client.SendMessage(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())

			Eventually(func() string {
				s, err := client.GetSession(ctx, sess.ID)
				if err != nil {
					return ""
				}
				return s.Title
			}).Should(Equal("Greeting the assistant"))
		})
	})

	Describe("Tool Round Trip", func() {
		It("should run a tool and answer with its result", func() {
			_, err := testutil.WriteFile(testServer.WorkDir, "notes.txt", "hello notes\n")
			Expect(err).NotTo(HaveOccurred())

			events, err := client.SendMessage(ctx, sess.ID, "Read notes.txt please")
			Expect(err).NotTo(HaveOccurred())

			Expect(testutil.EventTypes(events)).To(Equal([]types.StreamEventType{
				types.EventToolCall,
				types.EventToolResult,
				types.EventTextStart,
				types.EventTextDelta, types.EventTextDelta, types.EventTextDelta, types.EventTextDelta,
				types.EventTextEnd,
				types.EventComplete,
			}))
			Expect(events[0].ToolCallID).To(Equal("call_read_001"))
			Expect(events[0].ToolName).To(Equal("read"))
			Expect(events[1].Result).To(ContainSubstring("hello notes"))
			Expect(events[1].Result).To(ContainSubstring("<system_status>"))
			Expect(testutil.JoinText(events)).To(Equal("The notes say hello."))
			settle(sess.ID)

			complete := events[len(events)-1]
			Expect(complete.Usage).NotTo(BeNil())
			Expect(complete.Usage.TotalTokens).To(Equal(300), "usage summed over both steps")

			messages, err := client.GetMessages(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(2))
			parts := testutil.ToolParts(messages[1])
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].Status).To(Equal(types.PartCompleted))
			Expect(parts[0].Input).To(MatchJSON(`{"filePath":"notes.txt"}`))
			Expect(*parts[0].Result).To(ContainSubstring("hello notes"))
		})

		It("should report a failing tool and keep going", func() {
			events, err := client.SendMessage(ctx, sess.ID, "Read the missing file")
			Expect(err).NotTo(HaveOccurred())

			seq := testutil.EventTypes(events)
			Expect(seq[:2]).To(Equal([]types.StreamEventType{types.EventToolCall, types.EventToolError}))
			Expect(seq[len(seq)-1]).To(Equal(types.EventComplete))
			Expect(events[1].Error).To(ContainSubstring("missing.txt"))
			Expect(testutil.JoinText(events)).To(Equal("That file does not exist."))
			settle(sess.ID)

			messages, err := client.GetMessages(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages[1].Status).To(Equal(types.MessageCompleted))
			parts := testutil.ToolParts(messages[1])
			Expect(parts).To(HaveLen(1))
			Expect(parts[0].Status).To(Equal(types.PartError))
			Expect(parts[0].Error).NotTo(BeNil())
		})

		It("should maintain the todo list through the todowrite tool", func() {
			notifications, err := testServer.Events(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer notifications.Close()

			events, err := client.SendMessage(ctx, sess.ID, "Plan the work for the parser")
			Expect(err).NotTo(HaveOccurred())
			Expect(events[len(events)-1].Type).To(Equal(types.EventComplete))

			todos, err := client.GetTodos(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(todos).To(HaveLen(2))
			Expect(todos[0].ID).To(Equal(1))
			Expect(todos[0].Content).To(Equal("Write the parser"))
			Expect(todos[0].Status).To(Equal(types.TodoInProgress))
			Expect(todos[1].ID).To(Equal(2))
			Expect(todos[1].Ordering).To(BeNumerically(">", todos[0].Ordering))

			e, err := notifications.WaitForNotification(event.TodoUpdated, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			var data event.TodoUpdatedData
			Expect(e.Decode(&data)).To(Succeed())
			Expect(data.SessionID).To(Equal(sess.ID))
			Expect(data.Todos).To(HaveLen(2))
		})

		It("should wait for the answer to a question", func() {
			notifications, err := testServer.Events(ctx)
			Expect(err).NotTo(HaveOccurred())
			defer notifications.Close()

			stream, resp, err := client.SendMessageStream(ctx, sess.ID, "Please pick a database for the app")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer stream.Close()

			e, err := notifications.WaitForNotification(event.QuestionAsked, 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			var asked event.QuestionAskedData
			Expect(e.Decode(&asked)).To(Succeed())
			Expect(asked.Question.SessionID).To(Equal(sess.ID))
			Expect(asked.Question.CallID).To(Equal("call_question_001"))
			Expect(asked.Question.Questions[0].Options).To(Equal([]string{"Postgres", "SQLite"}))

			pending, err := client.ListQuestions(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))

			Expect(client.AnswerQuestion(ctx, sess.ID, "call_question_001", "Postgres")).To(Succeed())

			events, err := stream.Collect(10 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			seq := testutil.EventTypes(events)
			Expect(seq[:2]).To(Equal([]types.StreamEventType{types.EventToolCall, types.EventToolResult}))
			Expect(events[1].Result).To(ContainSubstring("A: Postgres"))
			Expect(seq[len(seq)-1]).To(Equal(types.EventComplete))
			Expect(testutil.JoinText(events)).To(Equal("Going with your choice."))

			settle(sess.ID)
			pending, err = client.ListQuestions(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
			Expect(client.AnswerQuestion(ctx, sess.ID, "call_question_001", "SQLite")).To(MatchError(ContainSubstring("404")))
		})
	})

	Describe("Abort And Concurrency", func() {
		It("should abort a running stream", func() {
			stream, resp, err := client.SendMessageStream(ctx, sess.ID, "Tell me a long story")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer stream.Close()

			first, err := stream.NextEvent(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Type).To(Equal(types.EventTextStart))

			busy, _, err := client.SendMessageStream(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(busy).To(BeNil())

			aborted, err := client.Abort(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(aborted).To(BeTrue())

			rest, err := stream.Collect(10 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			last := rest[len(rest)-1]
			Expect(last.Type).To(Equal(types.EventAbort))
			settle(sess.ID)

			messages, err := client.GetMessages(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(HaveLen(2))
			Expect(messages[1].Status).To(Equal(types.MessageAbort))

			again, err := client.Abort(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeFalse())
		})

		It("should reject a second stream on a busy session", func() {
			stream, _, err := client.SendMessageStream(ctx, sess.ID, "Tell me a long story")
			Expect(err).NotTo(HaveOccurred())
			defer stream.Close()
			_, err = stream.NextEvent(5 * time.Second)
			Expect(err).NotTo(HaveOccurred())

			_, resp, err := client.SendMessageStream(ctx, sess.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
			Expect(resp.ErrorCode()).To(Equal("SESSION_BUSY"))

			_, err = client.Abort(ctx, sess.ID)
			Expect(err).NotTo(HaveOccurred())
			_, err = stream.Collect(10 * time.Second)
			Expect(err).NotTo(HaveOccurred())
			settle(sess.ID)
		})

		It("should fail cleanly when the model is not configured", func() {
			resp, err := client.Post(ctx, "/session", map[string]string{
				"directory":  testServer.WorkDir,
				"providerID": "anthropic",
				"modelID":    "claude-sonnet-4-20250514",
			})
			Expect(err).NotTo(HaveOccurred())
			var other types.Session
			Expect(resp.JSON(&other)).To(Succeed())
			defer client.DeleteSession(ctx, other.ID)

			events, err := client.SendMessage(ctx, other.ID, "hello")
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(HaveLen(1))
			Expect(events[0].Type).To(Equal(types.EventError))
			Expect(events[0].Error).To(ContainSubstring("provider not configured"))
			settle(other.ID)

			messages, err := client.GetMessages(ctx, other.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(messages).To(BeEmpty(), "nothing is recorded for a turn that never reached the model")
		})
	})
})
