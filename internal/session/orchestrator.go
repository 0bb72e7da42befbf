package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/storage"
	"github.com/opencode-ai/streamd/internal/stream"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/pkg/types"
)

// Store is the persistence the orchestrator needs. *storage.Store
// implements it.
type Store interface {
	GetSessionByID(ctx context.Context, id string) (*types.Session, error)
	UpdateSession(ctx context.Context, session *types.Session) error
	AddMessage(ctx context.Context, sessionID string, p storage.AddMessageParams) (string, error)
	GetMessage(ctx context.Context, messageID string) (*types.Message, error)
	GetMessages(ctx context.Context, sessionID string) ([]*types.Message, error)
	UpdateMessageParts(ctx context.Context, messageID string, parts []types.Part) error
	UpdateMessageStatus(ctx context.Context, messageID string, status types.MessageStatus) error
	UpdateMessageUsage(ctx context.Context, messageID string, usage types.Usage) error
	UpdateMessageFinishReason(ctx context.Context, messageID, finishReason string) error
	GetTodos(ctx context.Context, sessionID string) ([]types.Todo, error)
}

// ClientFactory creates chat model clients. *provider.Registry implements it.
type ClientFactory interface {
	NewClient(ctx context.Context, providerID, modelID string) (model.ToolCallingChatModel, error)
}

// State is the phase an orchestrator run is in.
type State int

const (
	StateIdle State = iota
	StateBuilding
	StateStreaming
	StateAborting
	StateErroring
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuilding:
		return "building"
	case StateStreaming:
		return "streaming"
	case StateAborting:
		return "aborting"
	case StateErroring:
		return "erroring"
	case StateFinalizing:
		return "finalizing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// OrchestratorOptions configures an Orchestrator.
type OrchestratorOptions struct {
	// Tools returns the tools available to a session. Nil means no tools.
	Tools func(session *types.Session) *tool.Registry

	// Sampler captures the system status snapshot stored with each user
	// message. Nil stores no snapshot.
	Sampler sysstatus.Sampler

	// Bus receives message and session notifications. Optional.
	Bus *event.Bus

	// Fs reads attachments and instruction files. Defaults to the OS
	// filesystem.
	Fs afero.Fs

	// OutputHook post-processes tool output. Defaults to StatusHook when a
	// Sampler is set.
	OutputHook ToolOutputHook

	// Instructions are extra instruction files added to the system prompt.
	Instructions []string

	MaxSteps int

	// Stop is closed when the owner shuts down. Running tool calls are
	// stopped then; aborting a single stream does not stop them.
	Stop <-chan struct{}

	// Buffer is the Event Channel size used by Start.
	Buffer int
}

// StartRequest is one user turn.
type StartRequest struct {
	SessionID string
	Text      string

	// Attachments are file paths, absolute or relative to the session
	// directory.
	Attachments []string
}

// Outcome summarizes a finished run.
type Outcome struct {
	UserMessageID      string
	AssistantMessageID string
	Status             types.MessageStatus
	Terminal           types.StreamEvent
}

// Orchestrator runs user turns: it persists the user message, builds the
// model context, drives the model and records the assistant message.
type Orchestrator struct {
	store   Store
	clients ClientFactory
	driver  *Driver
	opts    OrchestratorOptions
	log     zerolog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store Store, clients ClientFactory, opts OrchestratorOptions) *Orchestrator {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.OutputHook == nil && opts.Sampler != nil {
		opts.OutputHook = StatusHook(opts.Sampler)
	}
	return &Orchestrator{
		store:   store,
		clients: clients,
		driver:  NewDriver(),
		opts:    opts,
		log:     logging.Component("orchestrator"),
	}
}

// Start validates the session and runs the turn in a new goroutine. Events
// are delivered on the returned channel, which is finished after the
// assistant message has been finalized.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*stream.Channel, error) {
	if _, err := o.lookupSession(ctx, req.SessionID); err != nil {
		return nil, err
	}
	ch := stream.NewChannel(o.opts.Buffer)
	go func() {
		defer ch.Finish()
		o.Run(ctx, req, ch)
	}()
	return ch, nil
}

func (o *Orchestrator) lookupSession(ctx context.Context, id string) (*types.Session, error) {
	session, err := o.store.GetSessionByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, err
}

// run is the state of one turn.
type run struct {
	sid   string
	ch    *stream.Channel
	state State
	log   zerolog.Logger
	out   Outcome
}

func (r *run) transition(to State) {
	r.log.Debug().Stringer("from", r.state).Stringer("to", to).Msg("Orchestrator state")
	r.state = to
}

// failBuild ends a turn that never reached the model. A cancelled ctx is
// reported as abort, anything else as error.
func (r *run) failBuild(ctx context.Context, err error) Outcome {
	ev := types.Error(err.Error())
	r.out.Status = types.MessageError
	if ctx.Err() != nil {
		ev = types.Abort()
		r.out.Status = types.MessageAbort
		r.transition(StateAborting)
	} else {
		r.log.Warn().Err(err).Msg("Turn failed before streaming")
		r.transition(StateErroring)
	}
	r.ch.Send(ev)
	r.out.Terminal = ev
	r.transition(StateIdle)
	return r.out
}

// Run executes one turn synchronously, sending every event to ch. It always
// sends exactly one terminal event, and does not finish ch.
func (o *Orchestrator) Run(ctx context.Context, req StartRequest, ch *stream.Channel) Outcome {
	r := &run{sid: req.SessionID, ch: ch, log: logging.ForSession(req.SessionID)}
	r.transition(StateBuilding)

	session, err := o.lookupSession(ctx, req.SessionID)
	if err != nil {
		return r.failBuild(ctx, err)
	}

	chat, err := o.clients.NewClient(ctx, session.ProviderID, session.ModelID)
	if err != nil {
		return r.failBuild(ctx, err)
	}

	userID, err := o.addUserMessage(ctx, session, req)
	if err != nil {
		return r.failBuild(ctx, err)
	}
	r.out.UserMessageID = userID

	history, err := o.store.GetMessages(ctx, session.ID)
	if err != nil {
		return r.failBuild(ctx, fmt.Errorf("load history: %w", err))
	}
	blocks, err := BuildContext(ctx, history, ContextOptions{Fs: o.opts.Fs})
	if err != nil {
		return r.failBuild(ctx, fmt.Errorf("build context: %w", err))
	}
	system := NewSystemPrompt(o.opts.Fs, session, o.opts.Instructions).Build()
	messages := ToEinoMessages(system, blocks)

	assistantID, err := o.store.AddMessage(ctx, session.ID, storage.AddMessageParams{
		Role:   types.RoleAssistant,
		Status: types.MessageActive,
	})
	if err != nil {
		return r.failBuild(ctx, fmt.Errorf("create assistant message: %w", err))
	}
	r.out.AssistantMessageID = assistantID
	r.log = r.log.With().Str("messageID", assistantID).Logger()
	o.publishMessage(ctx, event.MessageCreated, assistantID)

	// Everything from here on must reach the store even when ctx is
	// cancelled.
	persistCtx := context.WithoutCancel(ctx)
	acc := NewAccumulator()

	var tools *tool.Registry
	if o.opts.Tools != nil {
		tools = o.opts.Tools(session)
	}

	r.transition(StateStreaming)
	emit := func(ev types.StreamEvent) {
		ch.Send(ev)
		structural, err := acc.Apply(ev)
		if err != nil {
			r.log.Debug().Err(err).Str("event", string(ev.Type)).Msg("Dropped event")
			return
		}
		switch ev.Type {
		case types.EventAbort:
			r.transition(StateAborting)
		case types.EventError:
			r.transition(StateErroring)
		}
		if structural && !ev.Type.Terminal() {
			if err := o.store.UpdateMessageParts(persistCtx, assistantID, acc.Parts()); err != nil {
				r.log.Warn().Err(err).Msg("Failed to persist parts")
			}
		}
	}

	o.driver.Run(ctx, DriverRequest{
		Model:    chat,
		Messages: messages,
		Tools:    tools,
		ToolCall: tool.Call{
			SessionID: session.ID,
			MessageID: assistantID,
			WorkDir:   session.Directory,
			StopCh:    o.opts.Stop,
		},
		OutputHook: o.opts.OutputHook,
		MaxSteps:   o.opts.MaxSteps,
	}, emit)

	if _, ok := acc.Terminal(); !ok {
		emit(types.Error("stream ended without a terminal event"))
	}

	r.transition(StateFinalizing)
	o.finalize(persistCtx, r, assistantID, acc)
	r.transition(StateIdle)
	return r.out
}

func (o *Orchestrator) addUserMessage(ctx context.Context, session *types.Session, req StartRequest) (string, error) {
	var status *types.SystemStatus
	if o.opts.Sampler != nil {
		s, err := o.opts.Sampler.Capture(ctx)
		if err != nil {
			o.log.Debug().Err(err).Msg("System status unavailable")
		} else {
			status = s
		}
	}

	todos, err := o.store.GetTodos(ctx, session.ID)
	if err != nil {
		return "", fmt.Errorf("load todos: %w", err)
	}

	id, err := o.store.AddMessage(ctx, session.ID, storage.AddMessageParams{
		Role: types.RoleUser,
		Parts: []types.Part{&types.TextPart{
			ID:      ulid.Make().String(),
			Type:    types.PartTypeText,
			Content: req.Text,
			Status:  types.PartCompleted,
		}},
		Attachments:  o.describeAttachments(session.Directory, req.Attachments),
		Metadata:     status,
		TodoSnapshot: todos,
	})
	if err != nil {
		return "", fmt.Errorf("save user message: %w", err)
	}
	o.publishMessage(ctx, event.MessageCreated, id)
	return id, nil
}

// describeAttachments resolves attachment paths and records their size and
// media type. Files that cannot be read are kept without them.
func (o *Orchestrator) describeAttachments(dir string, paths []string) []types.FileAttachment {
	out := make([]types.FileAttachment, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(dir, p)
		}
		att := types.FileAttachment{Path: abs, RelativePath: p}
		if rel, err := filepath.Rel(dir, abs); err == nil && dir != "" && !strings.HasPrefix(rel, "..") {
			att.RelativePath = rel
		}

		if info, err := o.opts.Fs.Stat(abs); err == nil && !info.IsDir() {
			size := info.Size()
			att.Size = &size
			if f, err := o.opts.Fs.Open(abs); err == nil {
				if m, err := mimetype.DetectReader(f); err == nil {
					att.MIMEType, _, _ = strings.Cut(m.String(), ";")
				}
				f.Close()
			}
		} else {
			o.log.Debug().Str("path", abs).Msg("Attachment not readable")
		}
		out = append(out, att)
	}
	return out
}

// finalize writes parts, status, usage and finish reason, in that order.
func (o *Orchestrator) finalize(ctx context.Context, r *run, messageID string, acc *Accumulator) {
	terminal, _ := acc.Terminal()
	status := acc.Status()
	r.out.Status = status
	r.out.Terminal = terminal

	if err := o.store.UpdateMessageParts(ctx, messageID, acc.Parts()); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist final parts")
	}
	if err := o.store.UpdateMessageStatus(ctx, messageID, status); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist message status")
	}
	if terminal.Usage != nil {
		if err := o.store.UpdateMessageUsage(ctx, messageID, *terminal.Usage); err != nil {
			r.log.Error().Err(err).Msg("Failed to persist usage")
		}
	}
	if terminal.FinishReason != "" {
		if err := o.store.UpdateMessageFinishReason(ctx, messageID, terminal.FinishReason); err != nil {
			r.log.Error().Err(err).Msg("Failed to persist finish reason")
		}
	}

	r.log.Info().Str("status", string(status)).Msg("Turn finished")
	o.publishMessage(ctx, event.MessageUpdated, messageID)
	o.publish(event.SessionIdle, event.SessionIdleData{
		SessionID: r.sid,
		MessageID: messageID,
		Status:    status,
	})
}

func (o *Orchestrator) publishMessage(ctx context.Context, typ event.EventType, messageID string) {
	if o.opts.Bus == nil {
		return
	}
	msg, err := o.store.GetMessage(ctx, messageID)
	if err != nil {
		o.log.Debug().Err(err).Str("messageID", messageID).Msg("Skipping message notification")
		return
	}
	o.publish(typ, event.MessageInfo{Info: msg})
}

func (o *Orchestrator) publish(typ event.EventType, data any) {
	if o.opts.Bus == nil {
		return
	}
	if err := o.opts.Bus.Publish(typ, data); err != nil {
		o.log.Debug().Err(err).Str("event", string(typ)).Msg("Publish failed")
	}
}

const titleSystemPrompt = `You are a title generator. You output ONLY a thread title. Nothing else.

Generate a brief title that would help the user find this conversation later.

Rules:
- A single line, ≤50 characters
- No explanations
- Use -ing verbs for actions (Debugging, Implementing, Analyzing)
- Keep exact: technical terms, numbers, filenames
- Remove: the, this, my, a, an
- Always output something meaningful

Examples:
"debug 500 errors in production" → Debugging production 500 errors
"refactor user service" → Refactoring user service
"implement rate limiting" → Implementing rate limiting`

// DefaultTitle prefixes the title of sessions created without one.
const DefaultTitle = "New Session"

const maxTitleLength = 100

func isDefaultTitle(title string) bool {
	return title == "" || strings.HasPrefix(title, DefaultTitle)
}

// GenerateTitle asks the session's model for a title based on the first user
// message and stores it, unless the session already has a custom title.
// It returns the title in effect afterwards.
func (o *Orchestrator) GenerateTitle(ctx context.Context, sessionID, userText string) (string, error) {
	session, err := o.lookupSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !isDefaultTitle(session.Title) {
		return session.Title, nil
	}

	chat, err := o.clients.NewClient(ctx, session.ProviderID, session.ModelID)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	resp, err := chat.Generate(ctx, []*schema.Message{
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage("Generate a title for this conversation:\n\n" + userText),
	})
	if err != nil {
		return "", fmt.Errorf("generate title: %w", err)
	}

	title := cleanTitle(resp.Content)
	if title == "" {
		return session.Title, nil
	}

	// The user may have renamed the session while the model was working.
	session, err = o.lookupSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !isDefaultTitle(session.Title) {
		return session.Title, nil
	}
	session.Title = title
	if err := o.store.UpdateSession(ctx, session); err != nil {
		return "", fmt.Errorf("save title: %w", err)
	}
	o.publish(event.SessionUpdated, event.SessionInfo{Info: session})
	return title, nil
}

// cleanTitle keeps the first non-empty line, unquoted and truncated.
func cleanTitle(s string) string {
	title := ""
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			title = line
			break
		}
	}
	title = strings.Trim(title, `"'`)
	if r := []rune(title); len(r) > maxTitleLength {
		title = string(r[:maxTitleLength-3]) + "..."
	}
	return title
}
