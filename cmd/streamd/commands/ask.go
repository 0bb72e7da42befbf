package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/opencode-ai/streamd/internal/tool"
)

// terminalAsker answers the question tool from a line-oriented reader,
// typically the user's terminal.
type terminalAsker struct {
	out io.Writer

	mu    sync.Mutex
	once  sync.Once
	in    io.Reader
	lines chan string
}

func newTerminalAsker(in io.Reader, out io.Writer) *terminalAsker {
	return &terminalAsker{in: in, out: out}
}

// stdinAsker returns a terminal asker when stdin is a terminal. Otherwise the
// question tool fails with tool.ErrNoAsker instead of blocking on a pipe.
func stdinAsker(cmd *cobra.Command) tool.Asker {
	if f, ok := cmd.InOrStdin().(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return newTerminalAsker(f, cmd.ErrOrStderr())
	}
	return tool.AskerFunc(func(context.Context, tool.Call, []tool.Question) ([]string, error) {
		return nil, tool.ErrNoAsker
	})
}

// Ask prints each question with its numbered options and reads one answer
// line per question. Concurrent calls take turns.
func (a *terminalAsker) Ask(ctx context.Context, call tool.Call, questions []tool.Question) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.once.Do(a.scan)

	answers := make([]string, 0, len(questions))
	for _, q := range questions {
		fmt.Fprintf(a.out, "? %s\n", q.Question)
		for i, opt := range q.Options {
			fmt.Fprintf(a.out, "  %d) %s\n", i+1, opt)
		}
		fmt.Fprint(a.out, "> ")

		select {
		case line, ok := <-a.lines:
			if !ok {
				return nil, tool.ErrNoAsker
			}
			answers = append(answers, resolveAnswer(line, q.Options))
		case <-call.StopCh:
			return nil, fmt.Errorf("question abandoned: shutting down")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return answers, nil
}

// scan feeds input lines to Ask. The reader cannot be interrupted, so it
// lives in its own goroutine for the rest of the process.
func (a *terminalAsker) scan() {
	a.lines = make(chan string)
	go func() {
		defer close(a.lines)
		sc := bufio.NewScanner(a.in)
		for sc.Scan() {
			a.lines <- sc.Text()
		}
	}()
}

// resolveAnswer maps an option number to its text; anything else is taken
// as a free-form answer.
func resolveAnswer(line string, options []string) string {
	line = strings.TrimSpace(line)
	if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	return line
}
