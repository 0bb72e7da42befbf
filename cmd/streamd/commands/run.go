package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamd/internal/provider"
	"github.com/opencode-ai/streamd/internal/session"
	"github.com/opencode-ai/streamd/pkg/types"
)

var (
	runModel    string
	runContinue bool
	runSession  string
	runFormat   string
	runFiles    []string
	runTitle    string
	runDir      string
)

var runCmd = &cobra.Command{
	Use:   "run [message...]",
	Short: "Run one turn and print the response",
	Long: `Send a message to a session and print the streamed response.

Examples:
  streamd run "Fix the bug in main.go"
  streamd run --model openai/gpt-4o "Explain this code"
  streamd run --continue "And now the tests"
  streamd run --file main.go "Review this file"`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Model to use (provider/model format)")
	runCmd.Flags().BoolVarP(&runContinue, "continue", "c", false, "Continue the most recent session")
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "Session ID to continue")
	runCmd.Flags().StringVar(&runFormat, "format", "default", "Output format (default|json)")
	runCmd.Flags().StringArrayVarP(&runFiles, "file", "f", nil, "File(s) to attach to the message")
	runCmd.Flags().StringVar(&runTitle, "title", "", "Title for a new session")
	runCmd.Flags().StringVar(&runDir, "directory", "", "Working directory")
}

func runOnce(cmd *cobra.Command, args []string) error {
	message := strings.Join(args, " ")
	if message == "" && len(runFiles) == 0 {
		return fmt.Errorf("message required. Usage: streamd run \"your message\"")
	}
	if runFormat != "default" && runFormat != "json" {
		return fmt.Errorf("unknown format %q", runFormat)
	}

	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(workDir, appOptions{Model: runModel, Asker: stdinAsker(cmd)})
	if err != nil {
		return err
	}
	defer a.close()

	sess, err := resolveSession(cmd, a, workDir)
	if err != nil {
		return err
	}

	ch, err := a.service.Send(ctx, session.StartRequest{
		SessionID:   sess.ID,
		Text:        message,
		Attachments: runFiles,
	})
	if err != nil {
		return err
	}

	// Ctrl-C aborts the turn; the stream still ends with its abort event.
	go func() {
		<-ctx.Done()
		a.service.Abort(sess.ID)
	}()

	out := cmd.OutOrStdout()
	var terminal types.StreamEvent
	for ev := range ch.Events() {
		if runFormat == "json" {
			if err := json.NewEncoder(out).Encode(ev); err != nil {
				return err
			}
		} else {
			printEvent(out, cmd.ErrOrStderr(), ev)
		}
		if ev.Type.Terminal() {
			terminal = ev
		}
	}

	switch terminal.Type {
	case types.EventError:
		return fmt.Errorf("stream failed: %s", terminal.Error)
	case types.EventAbort:
		return fmt.Errorf("stream aborted")
	}
	return nil
}

// resolveSession picks the session named by --session, the latest one for
// --continue, or a new one. --model switches an existing session's model.
func resolveSession(cmd *cobra.Command, a *app, workDir string) (*types.Session, error) {
	ctx := cmd.Context()

	var existing *types.Session
	switch {
	case runSession != "":
		sess, err := a.service.Get(ctx, runSession)
		if err != nil {
			return nil, err
		}
		existing = sess
	case runContinue:
		sessions, err := a.service.List(ctx)
		if err != nil {
			return nil, err
		}
		if len(sessions) > 0 {
			existing = sessions[0]
		}
	}

	if existing == nil {
		return a.service.Create(ctx, session.CreateParams{Directory: workDir, Title: runTitle})
	}
	if runModel != "" {
		providerID, modelID := provider.ParseModelString(runModel)
		return a.service.SetModel(ctx, existing.ID, types.ModelRef{ProviderID: providerID, ModelID: modelID})
	}
	return existing, nil
}

// printEvent writes text to out and tool activity to status.
func printEvent(out, status io.Writer, ev types.StreamEvent) {
	switch ev.Type {
	case types.EventTextDelta:
		fmt.Fprint(out, ev.Text)
	case types.EventTextEnd:
		fmt.Fprintln(out)
	case types.EventToolCall:
		fmt.Fprintf(status, "→ %s %s\n", ev.ToolName, ev.Args)
	case types.EventToolResult:
		title := ev.Title
		if title == "" {
			title = "done"
		}
		fmt.Fprintf(status, "✓ %s: %s\n", ev.ToolName, title)
	case types.EventToolError:
		fmt.Fprintf(status, "✗ %s: %s\n", ev.ToolName, ev.Error)
	case types.EventComplete:
		if ev.Usage != nil {
			fmt.Fprintf(status, "[%d prompt + %d completion tokens]\n", ev.Usage.PromptTokens, ev.Usage.CompletionTokens)
		}
	}
}
