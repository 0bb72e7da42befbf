package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/session"
	"github.com/opencode-ai/streamd/internal/storage"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

// scriptedModel streams one reply per turn. A reply with hold set keeps the
// stream open until the request is cancelled.
type scriptedModel struct {
	mu      sync.Mutex
	replies []scriptedReply
	calls   int
}

type scriptedReply struct {
	text []string
	hold bool
}

func (m *scriptedModel) Generate(context.Context, []*schema.Message, ...model.Option) (*schema.Message, error) {
	return schema.AssistantMessage("Test title", nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	reply := scriptedReply{text: []string{"ok"}}
	if m.calls < len(m.replies) {
		reply = m.replies[m.calls]
	}
	m.calls++
	m.mu.Unlock()

	sr, sw := schema.Pipe[*schema.Message](len(reply.text) + 2)
	go func() {
		defer sw.Close()
		for _, t := range reply.text {
			sw.Send(schema.AssistantMessage(t, nil), nil)
		}
		if reply.hold {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
			return
		}
		sw.Send(&schema.Message{
			Role:         schema.Assistant,
			ResponseMeta: &schema.ResponseMeta{FinishReason: "stop"},
		}, nil)
	}()
	return sr, nil
}

func (m *scriptedModel) WithTools([]*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

type scriptedClients struct{ model *scriptedModel }

func (c scriptedClients) NewClient(context.Context, string, string) (model.ToolCallingChatModel, error) {
	return c.model, nil
}

type testServer struct {
	srv *Server
	svc *session.Service
	bus *event.Bus
	dir string
}

func newTestServer(t *testing.T, replies ...scriptedReply) *testServer {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "streamd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	svc := session.NewService(store, scriptedClients{model: &scriptedModel{replies: replies}}, session.ServiceOptions{
		Bus:          bus,
		Sampler:      sysstatus.StaticSampler{Status: types.SystemStatus{CPUCores: 4, MemoryTotal: 8 << 30}},
		DefaultModel: types.ModelRef{ProviderID: "fake", ModelID: "fake-1"},
		Tools:        func(*types.Session) *tool.Registry { return tool.NewRegistry() },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Shutdown(ctx)
	})

	cfg := DefaultConfig()
	cfg.Heartbeat = 50 * time.Millisecond
	return &testServer{srv: New(cfg, svc, bus), svc: svc, bus: bus, dir: t.TempDir()}
}

func (ts *testServer) session(t *testing.T) *types.Session {
	t.Helper()
	s, err := ts.svc.Create(context.Background(), session.CreateParams{Directory: ts.dir})
	require.NoError(t, err)
	return s
}

// readFrames reads SSE "data:" frames from r until it ends or stop returns
// true for a frame.
func readFrames(t *testing.T, r io.Reader, stop func(json.RawMessage) bool) []json.RawMessage {
	t.Helper()
	var frames []json.RawMessage
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		frame := json.RawMessage(data)
		frames = append(frames, frame)
		if stop != nil && stop(frame) {
			break
		}
	}
	return frames
}

func decodeEvents(t *testing.T, frames []json.RawMessage) []types.StreamEvent {
	t.Helper()
	out := make([]types.StreamEvent, len(frames))
	for i, f := range frames {
		require.NoError(t, json.Unmarshal(f, &out[i]))
	}
	return out
}
