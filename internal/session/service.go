package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/storage"
	"github.com/opencode-ai/streamd/internal/stream"
	"github.com/opencode-ai/streamd/internal/sysstatus"
	"github.com/opencode-ai/streamd/internal/tool"
	"github.com/opencode-ai/streamd/internal/tool/shell"
	"github.com/opencode-ai/streamd/pkg/types"
)

var (
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when a session already has a running stream.
	ErrSessionBusy = errors.New("session is busy")

	// ErrStreamClosed is returned when an event arrives after the stream
	// was aborted or ended.
	ErrStreamClosed = errors.New("stream closed")

	// ErrMultipleInProgress is returned when a todo list has more than one
	// item in progress.
	ErrMultipleInProgress = errors.New("only one todo may be in_progress")

	// ErrServiceClosed is returned by Send after Shutdown.
	ErrServiceClosed = errors.New("session service is shut down")
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	Bus     *event.Bus
	Sampler sysstatus.Sampler

	// Fs backs file tools and attachments. Defaults to the OS filesystem.
	Fs afero.Fs

	// Shells tracks background commands of all sessions. Defaults to a new
	// manager, closed by Shutdown.
	Shells *shell.Manager

	// Asker answers the question tool. Defaults to the service itself:
	// questions wait until Answer is called.
	Asker tool.Asker

	HTTPClient    *http.Client
	DisabledTools map[string]bool

	// DefaultModel is used for sessions created without a model.
	DefaultModel types.ModelRef

	Instructions []string

	// GenerateTitles names sessions after their first completed turn.
	GenerateTitles bool

	MaxSteps int
	Buffer   int

	// Tools replaces the built-in tool set.
	Tools func(session *types.Session) *tool.Registry
}

type activeStream struct {
	cancel  context.CancelFunc
	done    chan struct{}
	aborted bool
}

// Service is the entry point for session operations. It admits at most one
// running stream per session.
type Service struct {
	store  *storage.Store
	orch   *Orchestrator
	bus    *event.Bus
	shells *shell.Manager
	opts   ServiceOptions
	log    zerolog.Logger

	// background work such as title generation
	ctx  context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	active map[string]*activeStream
	closed bool
	wg     sync.WaitGroup

	todoMu sync.Mutex

	qmu       sync.Mutex
	questions map[string]*pendingQuestion
}

// NewService creates a session service.
func NewService(store *storage.Store, clients ClientFactory, opts ServiceOptions) *Service {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Shells == nil {
		opts.Shells = shell.NewManager("")
	}

	s := &Service{
		store:     store,
		bus:       opts.Bus,
		shells:    opts.Shells,
		opts:      opts,
		log:       logging.Component("session"),
		active:    make(map[string]*activeStream),
		questions: make(map[string]*pendingQuestion),
	}
	s.ctx, s.stop = context.WithCancel(context.Background())

	tools := opts.Tools
	if tools == nil {
		tools = s.defaultTools
	}
	s.orch = NewOrchestrator(store, clients, OrchestratorOptions{
		Tools:        tools,
		Sampler:      opts.Sampler,
		Bus:          opts.Bus,
		Fs:           opts.Fs,
		Instructions: opts.Instructions,
		MaxSteps:     opts.MaxSteps,
		Stop:         s.ctx.Done(),
		Buffer:       opts.Buffer,
	})
	return s
}

func (s *Service) defaultTools(session *types.Session) *tool.Registry {
	var asker tool.Asker = s
	if s.opts.Asker != nil {
		asker = s.opts.Asker
	}
	return tool.DefaultRegistry(tool.Options{
		WorkDir:    session.Directory,
		Fs:         s.opts.Fs,
		Shells:     s.shells,
		Todos:      s,
		Asker:      asker,
		HTTPClient: s.opts.HTTPClient,
		Disabled:   s.opts.DisabledTools,
	})
}

// Orchestrator returns the orchestrator used for streams.
func (s *Service) Orchestrator() *Orchestrator {
	return s.orch
}

// Send starts a turn in the session and returns its event channel.
//
// The stream runs on a context detached from ctx: a consumer that goes away
// only closes the channel, and the turn still runs to finalization. Use
// Abort to cancel it.
func (s *Service) Send(ctx context.Context, req StartRequest) (*stream.Channel, error) {
	if _, err := s.Get(ctx, req.SessionID); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	as := &activeStream{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, ErrServiceClosed
	}
	if _, busy := s.active[req.SessionID]; busy {
		s.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrSessionBusy, req.SessionID)
	}
	s.active[req.SessionID] = as
	s.wg.Add(1)
	s.mu.Unlock()

	ch := stream.NewChannel(s.opts.Buffer)
	go func() {
		defer s.wg.Done()
		defer cancel()

		out := s.orch.Run(runCtx, req, ch)

		// The gate opens before the channel closes so a consumer that saw
		// the end of the stream can send again right away.
		s.release(req.SessionID, as)
		ch.Finish()

		if s.opts.GenerateTitles && out.Status == types.MessageCompleted {
			if _, err := s.orch.GenerateTitle(s.ctx, req.SessionID, req.Text); err != nil {
				s.log.Debug().Err(err).Str("sessionID", req.SessionID).Msg("Title generation failed")
			}
		}
	}()
	return ch, nil
}

func (s *Service) release(sessionID string, as *activeStream) {
	s.mu.Lock()
	if s.active[sessionID] == as {
		delete(s.active, sessionID)
	}
	s.mu.Unlock()
	close(as.done)
}

// Abort cancels the running stream of a session. It reports whether a stream
// was running.
func (s *Service) Abort(sessionID string) bool {
	s.mu.Lock()
	as, ok := s.active[sessionID]
	if ok {
		as.aborted = true
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.log.Info().Str("sessionID", sessionID).Msg("Aborting stream")
	as.cancel()
	s.cancelQuestions(sessionID)
	return true
}

// IsBusy reports whether a session has a running stream.
func (s *Service) IsBusy(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// Wait blocks until the session has no running stream.
func (s *Service) Wait(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	as, ok := s.active[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-as.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown rejects new streams, aborts running ones and waits for them to be
// finalized.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	for _, as := range s.active {
		as.cancel()
	}
	s.mu.Unlock()
	s.stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if cerr := s.shells.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// CreateParams describes a new session.
type CreateParams struct {
	Directory  string
	Title      string
	ProviderID string
	ModelID    string
}

// Create creates a session. Missing fields default to the current
// directory, a dated title and the default model.
func (s *Service) Create(ctx context.Context, p CreateParams) (*types.Session, error) {
	if p.Directory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		p.Directory = wd
	}
	if p.Title == "" {
		p.Title = DefaultTitle + " - " + time.Now().UTC().Format(time.RFC3339)
	}
	if p.ProviderID == "" || p.ModelID == "" {
		p.ProviderID = s.opts.DefaultModel.ProviderID
		p.ModelID = s.opts.DefaultModel.ModelID
	}

	session := &types.Session{
		ProviderID: p.ProviderID,
		ModelID:    p.ModelID,
		Title:      p.Title,
		Directory:  p.Directory,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.log.Info().Str("sessionID", session.ID).Str("model", session.Model().String()).Msg("Created session")
	s.publish(event.SessionCreated, event.SessionInfo{Info: session})
	return session, nil
}

// Get returns a session or ErrSessionNotFound.
func (s *Service) Get(ctx context.Context, id string) (*types.Session, error) {
	session, err := s.store.GetSessionByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, err
}

// List returns all sessions, most recently updated first.
func (s *Service) List(ctx context.Context) ([]*types.Session, error) {
	return s.store.ListSessions(ctx)
}

// Delete removes a session that has no running stream.
func (s *Service) Delete(ctx context.Context, id string) error {
	session, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if s.IsBusy(id) {
		return fmt.Errorf("%w: %s", ErrSessionBusy, id)
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.publish(event.SessionDeleted, event.SessionInfo{Info: session})
	return nil
}

// UpdateParams lists session fields to change. Nil fields are left alone.
type UpdateParams struct {
	Title *string
	Model *types.ModelRef
}

// Update changes a session's title or model. A new model applies to later
// turns only.
func (s *Service) Update(ctx context.Context, id string, p UpdateParams) (*types.Session, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Title != nil {
		session.Title = *p.Title
	}
	if p.Model != nil {
		session.ProviderID = p.Model.ProviderID
		session.ModelID = p.Model.ModelID
	}
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}
	s.publish(event.SessionUpdated, event.SessionInfo{Info: session})
	return session, nil
}

// SetModel switches the model used by later turns of a session.
func (s *Service) SetModel(ctx context.Context, id string, ref types.ModelRef) (*types.Session, error) {
	return s.Update(ctx, id, UpdateParams{Model: &ref})
}

// SetTitle renames a session.
func (s *Service) SetTitle(ctx context.Context, id, title string) (*types.Session, error) {
	return s.Update(ctx, id, UpdateParams{Title: &title})
}

// Messages returns the session history in order.
func (s *Service) Messages(ctx context.Context, id string) ([]*types.Message, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, id)
}

// Todos returns the session's todo list in display order.
func (s *Service) Todos(ctx context.Context, id string) ([]types.Todo, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.GetTodos(ctx, id)
}

// UpdateTodos replaces the session's todo list. Ids and ordering keys are
// assigned by PlanTodos; at most one item may be in progress.
func (s *Service) UpdateTodos(ctx context.Context, id string, todos []types.Todo) ([]types.Todo, error) {
	s.todoMu.Lock()
	defer s.todoMu.Unlock()

	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := s.store.GetTodos(ctx, id)
	if err != nil {
		return nil, err
	}

	planned, nextID, err := PlanTodos(current, todos, session.NextTodoID)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateTodos(ctx, id, planned, nextID); err != nil {
		return nil, fmt.Errorf("save todos: %w", err)
	}

	s.publish(event.TodoUpdated, event.TodoUpdatedData{SessionID: id, Todos: planned})
	return planned, nil
}

func (s *Service) publish(typ event.EventType, data any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(typ, data); err != nil {
		s.log.Debug().Err(err).Str("event", string(typ)).Msg("Publish failed")
	}
}
