package tool

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/opencode-ai/streamd/internal/tool/shell"
)

const (
	DefaultBashTimeout = 2 * time.Minute
	MaxBashTimeout     = 10 * time.Minute
	MaxOutputLength    = 30000
)

const bashDescription = `Executes a shell command.

Usage:
- Command is required and must be valid bash syntax
- Optional timeout in milliseconds (default 120000, max 600000)
- Set run_in_background to start a long-running command without a timeout; the returned id can be polled with bash_output and stopped with bash_kill
- Provide a brief description of what the command does
- Output is captured from stdout and stderr`

const bashOutputDescription = `Retrieves new output from a background shell started with run_in_background.

Usage:
- Returns only output produced since the last call
- Optional filter is a regular expression; only matching lines are returned
- Reports whether the shell is still running and its exit code once finished`

const bashKillDescription = `Kills a background shell started with run_in_background.`

// TimeoutError is returned when a foreground command exceeds its timeout.
// Output holds whatever the command printed before it was killed.
type TimeoutError struct {
	Timeout time.Duration
	Output  string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("command timed out after %s", e.Timeout)
	if e.Output != "" {
		msg += "\n\n" + truncateOutput(e.Output)
	}
	return msg
}

type bashInput struct {
	Command         string `json:"command" validate:"required" jsonschema_description:"The command to execute"`
	Timeout         int    `json:"timeout,omitempty" validate:"gte=0,lte=600000" jsonschema_description:"Optional timeout in milliseconds (max 600000)"`
	Description     string `json:"description,omitempty" jsonschema_description:"Brief description of what this command does"`
	RunInBackground bool   `json:"run_in_background,omitempty" jsonschema_description:"Run the command in the background and return a shell id"`
}

type bashOutputInput struct {
	ShellID string `json:"shell_id" validate:"required" jsonschema_description:"The id of the background shell"`
	Filter  string `json:"filter,omitempty" jsonschema_description:"Optional regular expression to filter output lines"`
}

type bashKillInput struct {
	ShellID string `json:"shell_id" validate:"required" jsonschema_description:"The id of the background shell to kill"`
}

// NewBashTool creates the bash tool. Background commands are tracked by shells.
func NewBashTool(shells *shell.Manager, workDir string) Tool {
	return Define(BashToolName, bashDescription, func(ctx context.Context, call Call, in bashInput) (Result, error) {
		commands, err := parseShell(in.Command)
		if err != nil {
			return Result{}, err
		}
		dir := callDir(call, workDir)

		title := in.Description
		if title == "" {
			title = "Run command"
		}

		if in.RunInBackground {
			snap, err := shells.Start(in.Command, dir, in.Description)
			if err != nil {
				return Result{}, err
			}
			return Result{
				Title:  title,
				Output: fmt.Sprintf("Command running in background with id: %s", snap.ID),
				Metadata: map[string]any{
					"shellId":     snap.ID,
					"background":  true,
					"commands":    commandNames(commands),
					"description": in.Description,
				},
			}, nil
		}

		timeout := DefaultBashTimeout
		if in.Timeout > 0 {
			timeout = min(time.Duration(in.Timeout)*time.Millisecond, MaxBashTimeout)
		}

		proc, err := shell.Start(shells.Shell(), in.Command, dir)
		if err != nil {
			return Result{}, fmt.Errorf("start command: %w", err)
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-proc.Done():
		case <-timer.C:
			proc.Kill()
			return Result{}, &TimeoutError{Timeout: timeout, Output: proc.Output()}
		case <-call.StopCh:
			proc.Kill()
			return Result{}, fmt.Errorf("command stopped: shutting down")
		case <-ctx.Done():
			proc.Kill()
			return Result{}, ctx.Err()
		}

		if err := proc.Err(); err != nil {
			return Result{}, fmt.Errorf("run command: %w", err)
		}

		output := truncateOutput(proc.Output())
		exitCode := proc.ExitCode()
		if exitCode != 0 {
			output += fmt.Sprintf("\n\n(exit code %d)", exitCode)
		}

		return Result{
			Title:  title,
			Output: output,
			Metadata: map[string]any{
				"exit":        exitCode,
				"commands":    commandNames(commands),
				"description": in.Description,
			},
		}, nil
	})
}

// NewBashOutputTool creates the bash_output tool.
func NewBashOutputTool(shells *shell.Manager) Tool {
	return Define(BashOutputToolName, bashOutputDescription, func(ctx context.Context, call Call, in bashOutputInput) (Result, error) {
		var filter *regexp.Regexp
		if in.Filter != "" {
			re, err := regexp.Compile(in.Filter)
			if err != nil {
				return Result{}, fmt.Errorf("%w: filter: %s", ErrInvalidArguments, err)
			}
			filter = re
		}

		snap, err := shells.Poll(in.ShellID, filter)
		if err != nil {
			return Result{}, err
		}
		return shellResult(snap), nil
	})
}

// NewBashKillTool creates the bash_kill tool.
func NewBashKillTool(shells *shell.Manager) Tool {
	return Define(BashKillToolName, bashKillDescription, func(ctx context.Context, call Call, in bashKillInput) (Result, error) {
		snap, err := shells.Kill(in.ShellID)
		if err != nil {
			if errors.Is(err, shell.ErrShellNotFound) {
				return Result{}, fmt.Errorf("no background shell with id %s", in.ShellID)
			}
			return Result{}, err
		}
		return shellResult(snap), nil
	})
}

func shellResult(snap shell.Snapshot) Result {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<status>%s</status>\n", snap.Status)
	if snap.ExitCode != nil {
		fmt.Fprintf(&sb, "<exit_code>%d</exit_code>\n", *snap.ExitCode)
	}
	fmt.Fprintf(&sb, "<output>\n%s\n</output>", truncateOutput(snap.Output))

	meta := map[string]any{
		"shellId": snap.ID,
		"status":  string(snap.Status),
	}
	if snap.ExitCode != nil {
		meta["exit"] = *snap.ExitCode
	}
	return Result{
		Title:    fmt.Sprintf("Shell %s (%s)", shortID(snap.ID), snap.Status),
		Output:   sb.String(),
		Metadata: meta,
	}
}

func truncateOutput(s string) string {
	if len(s) > MaxOutputLength {
		return s[:MaxOutputLength] + "\n\n(Output truncated)"
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
