package tool

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// shellCommand is one simple command found in a shell script.
type shellCommand struct {
	Name       string
	Args       []string
	Subcommand string
}

// parseShell validates command as bash syntax and extracts its simple commands.
func parseShell(command string) ([]shellCommand, error) {
	parser := syntax.NewParser(
		syntax.Variant(syntax.LangBash),
		syntax.KeepComments(false),
	)

	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}

	var commands []shellCommand
	syntax.Walk(file, func(node syntax.Node) bool {
		if call, ok := node.(*syntax.CallExpr); ok {
			if cmd, ok := extractCommand(call); ok {
				commands = append(commands, cmd)
			}
		}
		return true
	})
	return commands, nil
}

func extractCommand(call *syntax.CallExpr) (shellCommand, bool) {
	if len(call.Args) == 0 {
		return shellCommand{}, false
	}

	cmd := shellCommand{Name: wordString(call.Args[0])}
	if cmd.Name == "" {
		return shellCommand{}, false
	}

	for _, arg := range call.Args[1:] {
		s := wordString(arg)
		cmd.Args = append(cmd.Args, s)
		if cmd.Subcommand == "" && !strings.HasPrefix(s, "-") {
			cmd.Subcommand = s
		}
	}
	return cmd, true
}

func wordString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$()")
		}
	}
	return sb.String()
}

// commandNames returns the distinct command names in order of appearance.
func commandNames(commands []shellCommand) []string {
	seen := make(map[string]bool, len(commands))
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}
	return names
}
