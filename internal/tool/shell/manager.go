package shell

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencode-ai/streamd/internal/logging"
)

// ErrShellNotFound is returned for an unknown background shell id.
var ErrShellNotFound = errors.New("background shell not found")

// Status is the lifecycle state of a background shell.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusKilled    Status = "killed"
)

// Snapshot describes a background shell at a point in time.
type Snapshot struct {
	ID          string    `json:"id"`
	Command     string    `json:"command"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	ExitCode    *int      `json:"exitCode,omitempty"`
	Output      string    `json:"output"`
	StartedAt   time.Time `json:"startedAt"`
}

type background struct {
	id          string
	command     string
	description string
	startedAt   time.Time
	proc        *Process

	mu     sync.Mutex
	killed bool
}

func (b *background) status() Status {
	b.mu.Lock()
	killed := b.killed
	b.mu.Unlock()

	switch {
	case killed:
		return StatusKilled
	case !b.proc.Exited():
		return StatusRunning
	case b.proc.ExitCode() == 0 && b.proc.Err() == nil:
		return StatusCompleted
	default:
		return StatusFailed
	}
}

func (b *background) snapshot(output string) Snapshot {
	s := Snapshot{
		ID:          b.id,
		Command:     b.command,
		Description: b.description,
		Status:      b.status(),
		Output:      output,
		StartedAt:   b.startedAt,
	}
	if b.proc.Exited() {
		code := b.proc.ExitCode()
		s.ExitCode = &code
	}
	return s
}

// Manager tracks commands started in the background. Background shells have
// no timeout; they run until they exit, are killed, or the manager is closed.
type Manager struct {
	shell string

	mu     sync.Mutex
	shells map[string]*background
}

// NewManager creates a manager that runs commands with shellPath, or the
// detected shell when shellPath is empty.
func NewManager(shellPath string) *Manager {
	if shellPath == "" {
		shellPath = Detect()
	}
	return &Manager{
		shell:  shellPath,
		shells: make(map[string]*background),
	}
}

// Shell returns the shell binary used to run commands.
func (m *Manager) Shell() string {
	return m.shell
}

// Start launches command in dir and returns its id.
func (m *Manager) Start(command, dir, description string) (Snapshot, error) {
	proc, err := Start(m.shell, command, dir)
	if err != nil {
		return Snapshot{}, fmt.Errorf("start background shell: %w", err)
	}

	b := &background{
		id:          uuid.NewString(),
		command:     command,
		description: description,
		startedAt:   time.Now(),
		proc:        proc,
	}

	m.mu.Lock()
	m.shells[b.id] = b
	m.mu.Unlock()

	logging.Debug().
		Str("shellID", b.id).
		Str("command", command).
		Msg("Started background shell")

	return b.snapshot(""), nil
}

// Poll returns the output produced since the previous poll. When filter is
// non-nil only matching lines are returned; the rest are still consumed.
func (m *Manager) Poll(id string, filter *regexp.Regexp) (Snapshot, error) {
	b, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}

	out := b.proc.Unread()
	if filter != nil {
		var kept []string
		for _, line := range strings.Split(out, "\n") {
			if filter.MatchString(line) {
				kept = append(kept, line)
			}
		}
		out = strings.Join(kept, "\n")
	}
	return b.snapshot(out), nil
}

// Kill terminates a background shell. Killing an exited shell is a no-op.
func (m *Manager) Kill(id string) (Snapshot, error) {
	b, err := m.get(id)
	if err != nil {
		return Snapshot{}, err
	}

	if !b.proc.Exited() {
		b.mu.Lock()
		b.killed = true
		b.mu.Unlock()
		b.proc.Kill()
		logging.Debug().Str("shellID", id).Msg("Killed background shell")
	}
	return b.snapshot(b.proc.Unread()), nil
}

// List returns all tracked shells, oldest first.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	shells := make([]*background, 0, len(m.shells))
	for _, b := range m.shells {
		shells = append(shells, b)
	}
	m.mu.Unlock()

	sort.Slice(shells, func(i, j int) bool {
		return shells[i].startedAt.Before(shells[j].startedAt)
	})

	out := make([]Snapshot, 0, len(shells))
	for _, b := range shells {
		out = append(out, b.snapshot(""))
	}
	return out
}

// Close kills every running shell.
func (m *Manager) Close() error {
	m.mu.Lock()
	shells := make([]*background, 0, len(m.shells))
	for _, b := range m.shells {
		shells = append(shells, b)
	}
	m.mu.Unlock()

	for _, b := range shells {
		if !b.proc.Exited() {
			b.mu.Lock()
			b.killed = true
			b.mu.Unlock()
			b.proc.Kill()
		}
	}
	return nil
}

func (m *Manager) get(id string) (*background, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.shells[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShellNotFound, id)
	}
	return b, nil
}
