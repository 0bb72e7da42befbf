package tool

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

const grepDescription = `Fast content search tool.

Usage:
- Supports full regex syntax (e.g., "log.*Error", "function\\s+\\w+")
- Filter files with the include parameter (e.g., "*.js", "**/*.{ts,tsx}")
- Files ignored by .gitignore and binary files are skipped
- Returns matching lines with file paths and line numbers`

const (
	maxGrepMatches  = 100
	maxGrepFileSize = 10 * 1024 * 1024
)

type grepInput struct {
	Pattern string `json:"pattern" validate:"required" jsonschema_description:"The regex pattern to search for in file contents"`
	Path    string `json:"path,omitempty" jsonschema_description:"The directory to search in. Defaults to the working directory."`
	Include string `json:"include,omitempty" jsonschema_description:"File pattern to include in the search (e.g. \"*.js\", \"*.{ts,tsx}\")"`
}

type grepMatch struct {
	File    string
	Line    int
	Content string
}

// NewGrepTool creates the grep tool.
func NewGrepTool(workDir string) Tool {
	return Define(GrepToolName, grepDescription, func(ctx context.Context, call Call, in grepInput) (Result, error) {
		re, err := regexp.Compile(in.Pattern)
		if err != nil {
			return Result{}, fmt.Errorf("%w: bad pattern: %s", ErrInvalidArguments, err)
		}
		if in.Include != "" && !doublestar.ValidatePattern(in.Include) {
			return Result{}, fmt.Errorf("%w: bad include pattern %q", ErrInvalidArguments, in.Include)
		}
		root := resolvePath(callDir(call, workDir), in.Path)

		var (
			mu      sync.Mutex
			matches []grepMatch
		)
		err = newWalker(root).walk(ctx, func(path, rel string, d fs.DirEntry) error {
			if in.Include != "" && !matchGlob(in.Include, rel) {
				return nil
			}
			found, err := searchFile(path, re)
			if err != nil || len(found) == 0 {
				return nil
			}
			mu.Lock()
			matches = append(matches, found...)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("search %s: %w", root, err)
		}

		if len(matches) == 0 {
			return Result{
				Title:    in.Pattern,
				Output:   "No matches found",
				Metadata: map[string]any{"pattern": in.Pattern, "count": 0, "truncated": false},
			}, nil
		}

		sort.Slice(matches, func(i, j int) bool {
			if matches[i].File != matches[j].File {
				return matches[i].File < matches[j].File
			}
			return matches[i].Line < matches[j].Line
		})

		truncated := len(matches) > maxGrepMatches
		if truncated {
			matches = matches[:maxGrepMatches]
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Found %d matches\n", len(matches))
		current := ""
		for _, m := range matches {
			if m.File != current {
				if current != "" {
					sb.WriteString("\n")
				}
				current = m.File
				fmt.Fprintf(&sb, "%s:\n", m.File)
			}
			fmt.Fprintf(&sb, "  Line %d: %s\n", m.Line, m.Content)
		}
		if truncated {
			sb.WriteString("\n(Results are truncated. Consider using a more specific path or pattern.)")
		}

		return Result{
			Title:  in.Pattern,
			Output: sb.String(),
			Metadata: map[string]any{
				"pattern":   in.Pattern,
				"count":     len(matches),
				"truncated": truncated,
			},
		}, nil
	})
}

func searchFile(path string, re *regexp.Regexp) ([]grepMatch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() > maxGrepFileSize {
		return nil, err
	}

	reader := bufio.NewReader(f)
	head, _ := reader.Peek(sniffLength)
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}

	var found []grepMatch
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if re.MatchString(text) {
			if len(text) > maxLineLength {
				text = text[:maxLineLength] + "..."
			}
			found = append(found, grepMatch{File: path, Line: line, Content: text})
		}
	}
	return found, nil
}
