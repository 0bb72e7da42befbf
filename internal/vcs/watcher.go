// Package vcs reports the git branch of a working directory and watches it
// for changes.
package vcs

import (
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/opencode-ai/streamd/internal/event"
	"github.com/opencode-ai/streamd/internal/logging"
)

// Watcher publishes vcs.branch.updated when the checked-out branch of a
// directory changes.
type Watcher struct {
	watcher *fsnotify.Watcher
	bus     *event.Bus
	workDir string
	gitDir  string

	mu     sync.RWMutex
	branch string

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// NewWatcher creates a watcher for workDir. It returns nil, nil when the
// directory is not inside a git repository.
func NewWatcher(workDir string, bus *event.Bus) (*Watcher, error) {
	gitDir := findGitDir(workDir)
	if gitDir == "" {
		logging.Debug().Str("workDir", workDir).Msg("Not a git repository, branch watcher disabled")
		return nil, nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// HEAD is replaced rather than written on checkout; watch its directory.
	if err := fw.Add(gitDir); err != nil {
		fw.Close()
		return nil, err
	}

	branch := Branch(workDir)
	logging.Info().Str("branch", branch).Str("gitDir", gitDir).Msg("Branch watcher initialized")

	return &Watcher{
		watcher: fw,
		bus:     bus,
		workDir: workDir,
		gitDir:  gitDir,
		branch:  branch,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in the background.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 && filepath.Base(ev.Name) == "HEAD" {
				w.checkBranchChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error().Err(err).Msg("Branch watcher error")
		}
	}
}

func (w *Watcher) checkBranchChange() {
	next := Branch(w.workDir)

	w.mu.Lock()
	prev := w.branch
	changed := next != prev
	if changed {
		w.branch = next
	}
	w.mu.Unlock()

	if !changed {
		return
	}
	logging.Info().Str("from", prev).Str("to", next).Msg("Branch changed")
	if w.bus != nil {
		if err := w.bus.Publish(event.VCSBranchUpdated, event.VCSBranchData{Directory: w.workDir, Branch: next}); err != nil {
			logging.Warn().Err(err).Msg("Failed to publish branch change")
		}
	}
}

// CurrentBranch returns the last branch seen.
func (w *Watcher) CurrentBranch() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.branch
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return nil
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	if started {
		<-w.doneCh
	}
	return w.watcher.Close()
}

// findGitDir returns the absolute git directory for workDir, handling
// worktrees, or "" outside a repository.
func findGitDir(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}

	gitDir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(workDir, gitDir)
	}
	return gitDir
}

// Branch returns the checked-out branch of workDir, or "" outside a
// repository.
func Branch(workDir string) string {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = workDir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
