package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths are the per-user directories streamd keeps its files in.
type Paths struct {
	// Data holds the session database.
	Data string
	// Config holds the global config files Load reads first.
	Config string
	// State holds log files.
	State string
}

// GetPaths resolves Paths from the XDG base directory variables, falling back
// to the usual locations under $HOME (or %APPDATA% on Windows).
func GetPaths() *Paths {
	return &Paths{
		Data:   xdgDir("XDG_DATA_HOME", ".local", "share"),
		Config: xdgDir("XDG_CONFIG_HOME", ".config"),
		State:  xdgDir("XDG_STATE_HOME", ".local", "state"),
	}
}

// EnsurePaths creates the directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.State} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath is the default session database location.
func (p *Paths) DatabasePath() string {
	return filepath.Join(p.Data, "streamd.db")
}

// LogPath is the directory dated log files go to.
func (p *Paths) LogPath() string {
	return filepath.Join(p.State, "log")
}

func xdgDir(env string, homeRel ...string) string {
	base := os.Getenv(env)
	if base == "" {
		if runtime.GOOS == "windows" {
			base = os.Getenv("APPDATA")
		} else {
			base = filepath.Join(append([]string{os.Getenv("HOME")}, homeRel...)...)
		}
	}
	return filepath.Join(base, "streamd")
}
