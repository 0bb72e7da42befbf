package session

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/provider"
	"github.com/opencode-ai/streamd/internal/storage"
	"github.com/opencode-ai/streamd/internal/stream"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

type testEnv struct {
	svc   *Service
	store *storage.Store
	dir   string
}

func newTestEnv(t *testing.T, clients ClientFactory, mutate func(*ServiceOptions)) *testEnv {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "streamd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts := ServiceOptions{
		Sampler:      sysstatus.StaticSampler{Status: *testStatus},
		DefaultModel: types.ModelRef{ProviderID: "fake", ModelID: "fake-1"},
		Tools:        func(*types.Session) *tool.Registry { return echoTools() },
	}
	if mutate != nil {
		mutate(&opts)
	}

	svc := NewService(store, clients, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Shutdown(ctx))
	})
	return &testEnv{svc: svc, store: store, dir: t.TempDir()}
}

func (e *testEnv) session(t *testing.T) *types.Session {
	t.Helper()
	s, err := e.svc.Create(context.Background(), CreateParams{Directory: e.dir})
	require.NoError(t, err)
	return s
}

// send runs one turn to the end and returns its events.
func (e *testEnv) send(t *testing.T, sessionID, text string) []types.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := e.svc.Send(ctx, StartRequest{SessionID: sessionID, Text: text})
	require.NoError(t, err)
	events, err := ch.Collect(ctx)
	require.NoError(t, err)
	require.NoError(t, e.svc.Wait(ctx, sessionID))
	return events
}

func (e *testEnv) messages(t *testing.T, sessionID string) []*types.Message {
	t.Helper()
	msgs, err := e.svc.Messages(context.Background(), sessionID)
	require.NoError(t, err)
	return msgs
}

func (e *testEnv) activeCount(t *testing.T, sessionID string) int {
	t.Helper()
	n, err := e.store.CountActiveMessages(context.Background(), sessionID)
	require.NoError(t, err)
	return n
}

// drainWith reads ch to its end, calling onEvent for every event.
func drainWith(t *testing.T, ch *stream.Channel, onEvent func(types.StreamEvent)) []types.StreamEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var events []types.StreamEvent
	for {
		ev, ok, err := ch.Next(ctx)
		require.NoError(t, err)
		if !ok {
			return events
		}
		events = append(events, ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func TestService_ToolThenSummary(t *testing.T) {
	m := newFakeModel(
		fakeStep{chunks: []*schema.Message{
			toolCallChunk(0, "call_1", "search", `{}`),
			usageChunk(100, 10, "tool_calls"),
		}},
		fakeStep{chunks: []*schema.Message{
			textChunk("Found "),
			textChunk("3 files."),
			usageChunk(20, 30, "stop"),
		}},
	)
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)

	events := env.send(t, sess.ID, "list files")

	assertFraming(t, events)
	last := events[len(events)-1]
	require.Equal(t, types.EventComplete, last.Type)
	require.NotNil(t, last.Usage)
	assert.Equal(t, types.Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160}, *last.Usage)

	msgs := env.messages(t, sess.ID)
	require.Len(t, msgs, 2)

	user := msgs[0]
	assert.Equal(t, types.RoleUser, user.Role)
	assert.Equal(t, testStatus, user.Metadata)
	require.Len(t, user.Parts, 1)
	assert.Equal(t, "list files", user.Parts[0].(*types.TextPart).Content)

	assistant := msgs[1]
	assert.Equal(t, types.MessageCompleted, assistant.Status)
	assert.Equal(t, "stop", assistant.FinishReason)
	require.NotNil(t, assistant.Usage)
	assert.Equal(t, types.Usage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160}, *assistant.Usage)

	require.Len(t, assistant.Parts, 2)
	call, ok := assistant.Parts[0].(*types.ToolPart)
	require.True(t, ok)
	assert.Equal(t, "search", call.ToolName)
	assert.Equal(t, types.PartCompleted, call.Status)
	assert.Equal(t, "3 files", call.Title)
	require.NotNil(t, call.Result)
	assert.True(t, strings.HasPrefix(*call.Result, "a.go\nb.go\nc.go\n\n<system_status>"), *call.Result)

	text, ok := assistant.Parts[1].(*types.TextPart)
	require.True(t, ok)
	assert.Equal(t, "Found 3 files.", text.Content)

	assert.Zero(t, env.activeCount(t, sess.ID))
}

func TestService_ProviderNotConfigured(t *testing.T) {
	env := newTestEnv(t, provider.NewRegistry(&types.Config{}), func(o *ServiceOptions) {
		o.DefaultModel = types.ModelRef{ProviderID: "anthropic", ModelID: "claude-sonnet-4"}
	})
	sess := env.session(t)

	events := env.send(t, sess.ID, "hello")

	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "not configured")

	assert.Empty(t, env.messages(t, sess.ID))
	assert.Zero(t, env.activeCount(t, sess.ID))
	assert.False(t, env.svc.IsBusy(sess.ID))
}

func TestService_AbortMidText(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("Hel"), textChunk("lo")}, hold: true})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)

	ch, err := env.svc.Send(context.Background(), StartRequest{SessionID: sess.ID, Text: "say hello"})
	require.NoError(t, err)

	aborted := false
	events := drainWith(t, ch, func(ev types.StreamEvent) {
		if ev.Type == types.EventTextDelta && !aborted {
			aborted = true
			assert.True(t, env.svc.Abort(sess.ID))
		}
	})
	require.NoError(t, env.svc.Wait(context.Background(), sess.ID))

	require.True(t, aborted)
	assert.Equal(t, types.EventAbort, events[len(events)-1].Type)
	assert.NotContains(t, eventTypes(events), types.EventTextEnd)

	msgs := env.messages(t, sess.ID)
	assistant := msgs[len(msgs)-1]
	assert.Equal(t, types.MessageAbort, assistant.Status)
	require.Len(t, assistant.Parts, 1)
	text := assistant.Parts[0].(*types.TextPart)
	assert.True(t, strings.HasPrefix(text.Content, "Hel"))
	assert.Equal(t, types.PartCompleted, text.Status)
	assert.Zero(t, env.activeCount(t, sess.ID))
}

func TestService_ToolErrorThenRecovery(t *testing.T) {
	m := newFakeModel(
		fakeStep{chunks: []*schema.Message{toolCallChunk(0, "call_1", "read", `{"filePath":"missing.txt"}`)}},
		fakeStep{chunks: []*schema.Message{textChunk("The file does not exist."), usageChunk(50, 8, "stop")}},
	)
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) {
		o.Tools = nil
		o.Fs = afero.NewOsFs()
	})
	sess := env.session(t)

	events := env.send(t, sess.ID, "read missing.txt")

	assertFraming(t, events)
	assert.Equal(t, []types.StreamEventType{
		types.EventToolCall,
		types.EventToolError,
		types.EventTextStart,
		types.EventTextDelta,
		types.EventTextEnd,
		types.EventComplete,
	}, eventTypes(events))
	assert.Contains(t, events[1].Error, "file not found")
	assert.GreaterOrEqual(t, events[1].Duration, int64(0))

	assistant := env.messages(t, sess.ID)[1]
	assert.Equal(t, types.MessageCompleted, assistant.Status)
	call := assistant.Parts[0].(*types.ToolPart)
	assert.Equal(t, types.PartError, call.Status)
	require.NotNil(t, call.Error)
	assert.Contains(t, *call.Error, "file not found")
}

func TestService_SecondTurnSeesToolHistory(t *testing.T) {
	m := newFakeModel(
		fakeStep{chunks: []*schema.Message{toolCallChunk(0, "call_1", "search", `{}`)}},
		fakeStep{chunks: []*schema.Message{textChunk("Found 3 files.")}},
		fakeStep{chunks: []*schema.Message{textChunk("a.go is first.")}},
	)
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)

	env.send(t, sess.ID, "list files")
	env.send(t, sess.ID, "which one is first?")

	msgs := env.messages(t, sess.ID)
	require.Len(t, msgs, 4)

	blocks, err := BuildContext(context.Background(), msgs, ContextOptions{})
	require.NoError(t, err)
	require.Len(t, blocks, 4)

	segs := blocks[1].Segments
	require.Len(t, segs, 3)
	assert.Equal(t, SegmentToolCall, segs[0].Type)
	assert.Equal(t, "call_1", segs[0].ToolCallID)
	assert.Equal(t, SegmentToolResult, segs[1].Type)
	assert.Equal(t, "call_1", segs[1].ToolCallID)
	assert.Equal(t, SegmentText, segs[2].Type)

	input := m.input(2)
	require.Len(t, input, 6)
	assert.Equal(t, schema.System, input[0].Role)
	require.Len(t, input[2].ToolCalls, 1)
	assert.Equal(t, "call_1", input[2].ToolCalls[0].ID)
	assert.Equal(t, schema.Tool, input[3].Role)
	assert.Equal(t, "Found 3 files.", input[4].Content)
	assert.Contains(t, input[5].Content, "which one is first?")
}

func TestService_OneStreamPerSession(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("working")}, hold: true})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)
	ctx := context.Background()

	ch, err := env.svc.Send(ctx, StartRequest{SessionID: sess.ID, Text: "go"})
	require.NoError(t, err)

	first, ok, err := ch.Next(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.EventTextStart, first.Type)

	assert.True(t, env.svc.IsBusy(sess.ID))
	assert.Equal(t, 1, env.activeCount(t, sess.ID))

	_, err = env.svc.Send(ctx, StartRequest{SessionID: sess.ID, Text: "again"})
	assert.ErrorIs(t, err, ErrSessionBusy)
	assert.ErrorIs(t, env.svc.Delete(ctx, sess.ID), ErrSessionBusy)

	require.True(t, env.svc.Abort(sess.ID))
	drainWith(t, ch, nil)
	require.NoError(t, env.svc.Wait(ctx, sess.ID))

	assert.False(t, env.svc.IsBusy(sess.ID))
	assert.False(t, env.svc.Abort(sess.ID))
	assert.Zero(t, env.activeCount(t, sess.ID))
}

func TestService_ProviderErrorFinalizesAsError(t *testing.T) {
	m := newFakeModel(fakeStep{
		chunks: []*schema.Message{textChunk("partial")},
		err:    errors.New("connection reset"),
	})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)

	events := env.send(t, sess.ID, "hi")
	assert.Equal(t, types.EventError, events[len(events)-1].Type)

	assistant := env.messages(t, sess.ID)[1]
	assert.Equal(t, types.MessageError, assistant.Status)
	require.Len(t, assistant.Parts, 2)
	assert.Equal(t, types.PartError, assistant.Parts[0].PartStatus())
	assert.Equal(t, "connection reset", assistant.Parts[1].(*types.ErrorPart).Error)
	assert.Zero(t, env.activeCount(t, sess.ID))
}

func TestService_AbortDuringToolDiscardsResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})
	tools := func(*types.Session) *tool.Registry {
		r := tool.NewRegistry()
		r.Register(tool.Define("slow", "Waits to be released", func(_ context.Context, _ tool.Call, _ searchInput) (tool.Result, error) {
			close(started)
			<-release
			defer close(finished)
			return tool.Result{Output: "finished anyway"}, nil
		}))
		return r
	}

	m := newFakeModel(fakeStep{chunks: []*schema.Message{toolCallChunk(0, "call_1", "slow", `{}`)}})
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) { o.Tools = tools })
	sess := env.session(t)

	ch, err := env.svc.Send(context.Background(), StartRequest{SessionID: sess.ID, Text: "run slow"})
	require.NoError(t, err)

	go func() {
		<-started
		env.svc.Abort(sess.ID)
	}()
	events := drainWith(t, ch, nil)
	require.NoError(t, env.svc.Wait(context.Background(), sess.ID))
	close(release)
	<-finished

	assert.Equal(t, []types.StreamEventType{types.EventToolCall, types.EventAbort}, eventTypes(events))

	assistant := env.messages(t, sess.ID)[1]
	assert.Equal(t, types.MessageAbort, assistant.Status)
	require.Len(t, assistant.Parts, 1)
	call := assistant.Parts[0].(*types.ToolPart)
	assert.Nil(t, call.Result)
	require.NotNil(t, call.Error)
	assert.Equal(t, "aborted", *call.Error)
}

func TestService_SnapshotsAreFrozen(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("ok")}})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)
	ctx := context.Background()

	_, err := env.svc.UpdateTodos(ctx, sess.ID, []types.Todo{
		{Content: "Read code", ActiveForm: "Reading code", Status: types.TodoInProgress},
	})
	require.NoError(t, err)

	env.send(t, sess.ID, "continue")

	user := env.messages(t, sess.ID)[0]
	require.Len(t, user.TodoSnapshot, 1)
	assert.Equal(t, "Read code", user.TodoSnapshot[0].Content)
	assert.Contains(t, m.input(0)[1].Content, "<todo_list>\n- [>] Read code (Reading code)\n</todo_list>")
	assert.True(t, strings.HasPrefix(m.input(0)[1].Content, "<system_status>"))

	before, err := BuildContext(ctx, env.messages(t, sess.ID), ContextOptions{})
	require.NoError(t, err)

	_, err = env.svc.UpdateTodos(ctx, sess.ID, []types.Todo{
		{ID: 1, Content: "Read code", ActiveForm: "Reading code", Status: types.TodoCompleted},
		{Content: "Write code", ActiveForm: "Writing code", Status: types.TodoInProgress},
	})
	require.NoError(t, err)

	after, err := BuildContext(ctx, env.messages(t, sess.ID), ContextOptions{})
	require.NoError(t, err)

	a, err := json.Marshal(before)
	require.NoError(t, err)
	b, err := json.Marshal(after)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestService_UnknownSession(t *testing.T) {
	env := newTestEnv(t, fakeClients{model: newFakeModel()}, nil)
	ctx := context.Background()

	_, err := env.svc.Send(ctx, StartRequest{SessionID: "nope", Text: "hi"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = env.svc.Orchestrator().Start(ctx, StartRequest{SessionID: "nope"})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	ch := stream.NewChannel(0)
	out := env.svc.Orchestrator().Run(ctx, StartRequest{SessionID: "nope"}, ch)
	ch.Finish()
	events, err := ch.Collect(ctx)
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, types.EventError, events[0].Type)
	assert.Contains(t, events[0].Error, "session not found")
	assert.Equal(t, types.MessageError, out.Status)
	assert.Empty(t, out.AssistantMessageID)
}

// writeLog records the finalization writes made through a Store.
type writeLog struct {
	*storage.Store
	mu     sync.Mutex
	writes []string
}

func (w *writeLog) record(op string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, op)
}

func (w *writeLog) UpdateMessageStatus(ctx context.Context, id string, status types.MessageStatus) error {
	w.record("status")
	return w.Store.UpdateMessageStatus(ctx, id, status)
}

func (w *writeLog) UpdateMessageUsage(ctx context.Context, id string, usage types.Usage) error {
	w.record("usage")
	return w.Store.UpdateMessageUsage(ctx, id, usage)
}

func (w *writeLog) UpdateMessageFinishReason(ctx context.Context, id, reason string) error {
	w.record("finish")
	return w.Store.UpdateMessageFinishReason(ctx, id, reason)
}

func TestOrchestrator_FinalizeWriteOrder(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("done"), usageChunk(12, 3, "stop")}})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)
	ctx := context.Background()

	log := &writeLog{Store: env.store}
	orch := NewOrchestrator(log, fakeClients{model: m}, OrchestratorOptions{})
	ch, err := orch.Start(ctx, StartRequest{SessionID: sess.ID, Text: "finish up"})
	require.NoError(t, err)
	_, err = ch.Collect(ctx)
	require.NoError(t, err)

	log.mu.Lock()
	assert.Equal(t, []string{"status", "usage", "finish"}, log.writes)
	log.mu.Unlock()

	assistant := env.messages(t, sess.ID)[1]
	assert.Equal(t, types.MessageCompleted, assistant.Status)
	assert.Equal(t, "stop", assistant.FinishReason)
	assert.Equal(t, &types.Usage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, assistant.Usage)
}

func TestOrchestrator_StartDeliversTurn(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("hi there")}})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)
	ctx := context.Background()

	ch, err := env.svc.Orchestrator().Start(ctx, StartRequest{SessionID: sess.ID, Text: "hello"})
	require.NoError(t, err)
	events, err := ch.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, types.EventComplete, events[len(events)-1].Type)
	assert.Equal(t, types.MessageCompleted, env.messages(t, sess.ID)[1].Status)
}

func TestService_ConsumerGoneStillFinalizes(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("a"), textChunk("b"), textChunk("c")}})
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) { o.Buffer = 1 })
	sess := env.session(t)

	ch, err := env.svc.Send(context.Background(), StartRequest{SessionID: sess.ID, Text: "hi"})
	require.NoError(t, err)
	ch.Close()
	require.NoError(t, env.svc.Wait(context.Background(), sess.ID))

	assistant := env.messages(t, sess.ID)[1]
	assert.Equal(t, types.MessageCompleted, assistant.Status)
	assert.Equal(t, "abc", assistant.Parts[0].(*types.TextPart).Content)
}

func TestService_AttachmentsAreDescribed(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("noted")}})
	fs := afero.NewMemMapFs()
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) { o.Fs = fs })
	sess := env.session(t)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(env.dir, "notes.txt"), []byte("buy milk\n"), 0o644))

	ctx := context.Background()
	ch, err := env.svc.Send(ctx, StartRequest{SessionID: sess.ID, Text: "read this", Attachments: []string{"notes.txt"}})
	require.NoError(t, err)
	_, err = ch.Collect(ctx)
	require.NoError(t, err)
	require.NoError(t, env.svc.Wait(ctx, sess.ID))

	user := env.messages(t, sess.ID)[0]
	require.Len(t, user.Attachments, 1)
	att := user.Attachments[0]
	assert.Equal(t, filepath.Join(env.dir, "notes.txt"), att.Path)
	assert.Equal(t, "notes.txt", att.RelativePath)
	assert.Equal(t, "text/plain", att.MIMEType)
	require.NotNil(t, att.Size)
	assert.Equal(t, int64(9), *att.Size)

	assert.Contains(t, m.input(0)[1].Content, "<file path=\"notes.txt\">\nbuy milk\n\n</file>")
}

func TestService_GeneratesTitle(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("Here they are.")}})
	m.title = "\"Listing project files\"\nextra line"
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) { o.GenerateTitles = true })
	sess := env.session(t)
	assert.True(t, strings.HasPrefix(sess.Title, DefaultTitle))

	env.send(t, sess.ID, "list files")

	assert.Eventually(t, func() bool {
		got, err := env.svc.Get(context.Background(), sess.ID)
		return err == nil && got.Title == "Listing project files"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestOrchestrator_GenerateTitleKeepsCustomTitle(t *testing.T) {
	m := newFakeModel()
	m.title = "Something else"
	env := newTestEnv(t, fakeClients{model: m}, nil)
	ctx := context.Background()

	sess, err := env.svc.Create(ctx, CreateParams{Directory: env.dir, Title: "My session"})
	require.NoError(t, err)

	title, err := env.svc.Orchestrator().GenerateTitle(ctx, sess.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "My session", title)
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Fixing bug", cleanTitle("\n  Fixing bug  \nmore"))
	assert.Equal(t, "", cleanTitle("   "))
	long := cleanTitle(strings.Repeat("x", 150))
	assert.Len(t, long, maxTitleLength)
	assert.True(t, strings.HasSuffix(long, "..."))
}

func TestService_SessionCRUD(t *testing.T) {
	env := newTestEnv(t, fakeClients{model: newFakeModel()}, nil)
	ctx := context.Background()

	sess := env.session(t)
	assert.Equal(t, "fake", sess.ProviderID)
	assert.Equal(t, env.dir, sess.Directory)

	updated, err := env.svc.SetModel(ctx, sess.ID, types.ModelRef{ProviderID: "openai", ModelID: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", updated.Model().String())

	updated, err = env.svc.SetTitle(ctx, sess.ID, "Renamed")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)

	list, err := env.svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Renamed", list[0].Title)
	assert.Equal(t, "gpt-4o", list[0].ModelID)

	require.NoError(t, env.svc.Delete(ctx, sess.ID))
	_, err = env.svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, env.svc.Delete(ctx, sess.ID), ErrSessionNotFound)
}

func TestService_UpdateTodos(t *testing.T) {
	env := newTestEnv(t, fakeClients{model: newFakeModel()}, nil)
	sess := env.session(t)
	ctx := context.Background()

	todos, err := env.svc.UpdateTodos(ctx, sess.ID, []types.Todo{
		{Content: "a", ActiveForm: "doing a", Status: types.TodoInProgress},
		{Content: "b", ActiveForm: "doing b", Status: types.TodoPending},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(todos))

	todos, err = env.svc.UpdateTodos(ctx, sess.ID, []types.Todo{
		todos[0],
		{Content: "c", ActiveForm: "doing c", Status: types.TodoPending},
		todos[1],
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 2}, ids(todos))
	assert.Equal(t, []int{1024, 1536, 2048}, orderings(todos))

	stored, err := env.svc.Todos(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, todos, stored)

	_, err = env.svc.UpdateTodos(ctx, sess.ID, []types.Todo{
		{Content: "x", ActiveForm: "x", Status: types.TodoInProgress},
		{Content: "y", ActiveForm: "y", Status: types.TodoInProgress},
	})
	assert.ErrorIs(t, err, ErrMultipleInProgress)

	stored, err = env.svc.Todos(ctx, sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3, "a rejected update leaves the list alone")
}

func TestService_TodoWriteToolUsesSessionList(t *testing.T) {
	m := newFakeModel(
		fakeStep{chunks: []*schema.Message{toolCallChunk(0, "call_1", "todowrite",
			`{"todos":[{"content":"Plan","activeForm":"Planning","status":"in_progress"}]}`)}},
		fakeStep{chunks: []*schema.Message{textChunk("Planned.")}},
	)
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) { o.Tools = nil })
	sess := env.session(t)

	events := env.send(t, sess.ID, "make a plan")
	require.Equal(t, types.EventToolResult, events[1].Type)

	todos, err := env.svc.Todos(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, todos, 1)
	assert.Equal(t, 1, todos[0].ID)
	assert.Equal(t, types.TodoInProgress, todos[0].Status)
}

func TestService_PublishesNotifications(t *testing.T) {
	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	sub, err := bus.Subscribe(ctx, event.SessionIdle, event.TodoUpdated)
	require.NoError(t, err)

	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("ok")}})
	env := newTestEnv(t, fakeClients{model: m}, func(o *ServiceOptions) { o.Bus = bus })
	sess := env.session(t)

	_, err = env.svc.UpdateTodos(ctx, sess.ID, []types.Todo{{Content: "a", ActiveForm: "doing a", Status: types.TodoPending}})
	require.NoError(t, err)
	env.send(t, sess.ID, "hi")

	seen := map[event.EventType]event.Event{}
	timeout := time.After(5 * time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-sub:
			seen[ev.Type] = ev
		case <-timeout:
			t.Fatalf("missing notifications, got %v", seen)
		}
	}

	var idle event.SessionIdleData
	require.NoError(t, seen[event.SessionIdle].Decode(&idle))
	assert.Equal(t, sess.ID, idle.SessionID)
	assert.Equal(t, types.MessageCompleted, idle.Status)

	var todos event.TodoUpdatedData
	require.NoError(t, seen[event.TodoUpdated].Decode(&todos))
	assert.Len(t, todos.Todos, 1)
}

func TestService_ShutdownAbortsStreams(t *testing.T) {
	m := newFakeModel(fakeStep{chunks: []*schema.Message{textChunk("working")}, hold: true})
	env := newTestEnv(t, fakeClients{model: m}, nil)
	sess := env.session(t)
	ctx := context.Background()

	ch, err := env.svc.Send(ctx, StartRequest{SessionID: sess.ID, Text: "go"})
	require.NoError(t, err)
	_, _, err = ch.Next(ctx)
	require.NoError(t, err)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	go func() {
		for range ch.Events() {
		}
	}()
	require.NoError(t, env.svc.Shutdown(shutdownCtx))

	assert.Equal(t, types.MessageAbort, env.messages(t, sess.ID)[1].Status)

	_, err = env.svc.Send(ctx, StartRequest{SessionID: sess.ID, Text: "again"})
	assert.ErrorIs(t, err, ErrServiceClosed)
}
