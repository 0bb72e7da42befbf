// Command streamd serves and drives AI response streams for persistent
// sessions.
package main

import (
	"fmt"
	"os"

	"github.com/opencode-ai/streamd/cmd/streamd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
