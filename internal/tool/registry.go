package tool

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/cloudwego/eino/schema"
	"github.com/spf13/afero"

	"github.com/opencode-ai/streamd/internal/logging"
	"github.com/opencode-ai/streamd/internal/tool/shell"
)

// Built-in tool names.
const (
	ReadToolName       = "read"
	WriteToolName      = "write"
	EditToolName       = "edit"
	BashToolName       = "bash"
	BashOutputToolName = "bash_output"
	BashKillToolName   = "bash_kill"
	GlobToolName       = "glob"
	GrepToolName       = "grep"
	ListToolName       = "list"
	WebFetchToolName   = "webfetch"
	QuestionToolName   = "question"
	TodoWriteToolName  = "todowrite"
	TodoReadToolName   = "todoread"
	BatchToolName      = "batch"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	logging.Debug().Str("tool", t.Name()).Msg("Registered tool")
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// ToolInfos returns eino tool definitions for all tools, sorted by name.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	tools := r.List()
	infos := make([]*schema.ToolInfo, len(tools))
	for i, t := range tools {
		infos[i] = t.Info()
	}
	return infos
}

// Execute runs the named tool with raw JSON arguments.
func (r *Registry) Execute(ctx context.Context, name string, call Call, args string) (Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t.Execute(ctx, call, args)
}

// Options configures the built-in tools.
type Options struct {
	WorkDir string

	// Fs backs read, write and edit. Defaults to the OS filesystem.
	Fs afero.Fs

	// Shells tracks background commands. Defaults to a new manager.
	Shells *shell.Manager

	// Todos backs todowrite and todoread; both are omitted when nil.
	Todos TodoStore

	// Asker answers the question tool; without one it fails with ErrNoAsker.
	Asker Asker

	HTTPClient *http.Client

	// Disabled lists tool names to leave out.
	Disabled map[string]bool
}

// DefaultRegistry creates a registry with all built-in tools.
func DefaultRegistry(opts Options) *Registry {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Shells == nil {
		opts.Shells = shell.NewManager("")
	}

	r := NewRegistry()
	r.Register(NewReadTool(opts.Fs, opts.WorkDir))
	r.Register(NewWriteTool(opts.Fs, opts.WorkDir))
	r.Register(NewEditTool(opts.Fs, opts.WorkDir))
	r.Register(NewBashTool(opts.Shells, opts.WorkDir))
	r.Register(NewBashOutputTool(opts.Shells))
	r.Register(NewBashKillTool(opts.Shells))
	r.Register(NewGlobTool(opts.WorkDir))
	r.Register(NewGrepTool(opts.WorkDir))
	r.Register(NewListTool(opts.WorkDir))
	r.Register(NewWebFetchTool(opts.HTTPClient))
	r.Register(NewQuestionTool(opts.Asker))
	if opts.Todos != nil {
		r.Register(NewTodoWriteTool(opts.Todos))
		r.Register(NewTodoReadTool(opts.Todos))
	}
	r.Register(NewBatchTool(r))

	for name, disabled := range opts.Disabled {
		if disabled {
			r.Unregister(name)
		}
	}
	return r
}
