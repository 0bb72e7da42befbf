// Package shell runs shell commands in their own process group, either in the
// foreground with a caller-controlled lifetime or in the background under a
// Manager that lets later tool calls poll and kill them.
package shell

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"time"
)

// SigkillTimeout is how long Kill waits after SIGTERM before sending SIGKILL.
const SigkillTimeout = 200 * time.Millisecond

// Detect returns the shell used to run commands.
func Detect() string {
	if s := os.Getenv("SHELL"); s != "" {
		// fish and nu do not accept POSIX syntax
		if s != "/bin/fish" && s != "/usr/bin/fish" &&
			s != "/bin/nu" && s != "/usr/bin/nu" {
			return s
		}
	}

	switch runtime.GOOS {
	case "darwin":
		return "/bin/zsh"
	case "windows":
		if comspec := os.Getenv("COMSPEC"); comspec != "" {
			return comspec
		}
		return "cmd.exe"
	}

	if bash, err := exec.LookPath("bash"); err == nil {
		return bash
	}
	return "/bin/sh"
}

// Buffer is a goroutine-safe output sink that remembers how much of its
// content has already been handed out by Unread.
type Buffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	read int
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// String returns everything written so far.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Unread returns the output written since the previous Unread call.
func (b *Buffer) Unread() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	data := b.buf.Bytes()
	out := string(data[b.read:])
	b.read = len(data)
	return out
}

// Process is a started shell command.
type Process struct {
	cmd  *exec.Cmd
	out  *Buffer
	done chan struct{}
	err  error
}

// Start runs command with shellPath in dir. Stdout and stderr are merged.
func Start(shellPath, command, dir string) (*Process, error) {
	cmd := exec.Command(shellPath, shellArgs(command)...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	setProcessGroup(cmd)

	out := &Buffer{}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{cmd: cmd, out: out, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Output returns the merged output written so far.
func (p *Process) Output() string {
	return p.out.String()
}

// Unread returns output written since the previous Unread call.
func (p *Process) Unread() string {
	return p.out.Unread()
}

// Exited reports whether the process has finished.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (p *Process) ExitCode() int {
	if !p.Exited() || p.cmd.ProcessState == nil {
		return -1
	}
	return p.cmd.ProcessState.ExitCode()
}

// Err returns the error from waiting on the process. Non-zero exits are not
// reported here; use ExitCode.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(p.err, &exitErr) {
		return nil
	}
	return p.err
}

// Kill terminates the process group and waits for the process to exit.
func (p *Process) Kill() {
	if p.Exited() {
		return
	}
	signalGroup(p.cmd, false)
	select {
	case <-p.done:
		return
	case <-time.After(SigkillTimeout):
	}
	signalGroup(p.cmd, true)
	<-p.done
}
