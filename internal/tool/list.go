package tool

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
)

const listDescription = `Lists files and directories in a given path as a tree.

Usage:
- The path parameter defaults to the working directory
- Files ignored by .gitignore and common build or dependency directories are skipped
- Optional ignore is a list of glob patterns to skip
- Prefer the glob and grep tools when you know what you are looking for`

const maxListFiles = 100

type listInput struct {
	Path   string   `json:"path,omitempty" jsonschema_description:"The directory to list (default: working directory)"`
	Ignore []string `json:"ignore,omitempty" jsonschema_description:"List of glob patterns to ignore"`
}

// NewListTool creates the list tool.
func NewListTool(workDir string) Tool {
	return Define(ListToolName, listDescription, func(ctx context.Context, call Call, in listInput) (Result, error) {
		root := resolvePath(callDir(call, workDir), in.Path)

		var (
			mu    sync.Mutex
			files []string
		)
		err := newWalker(root, in.Ignore...).walk(ctx, func(_, rel string, _ fs.DirEntry) error {
			mu.Lock()
			files = append(files, rel)
			mu.Unlock()
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("list %s: %w", root, err)
		}

		sort.Strings(files)
		truncated := len(files) > maxListFiles
		if truncated {
			files = files[:maxListFiles]
		}

		output := strings.TrimSuffix(root, "/") + "/\n" + renderTree(files)
		if truncated {
			output += fmt.Sprintf("\n(Showing first %d files)", maxListFiles)
		}

		return Result{
			Title:  root,
			Output: output,
			Metadata: map[string]any{
				"path":      root,
				"count":     len(files),
				"truncated": truncated,
			},
		}, nil
	})
}

// renderTree renders sorted slash separated paths as an indented tree with
// directories listed before the files that share their parent.
func renderTree(files []string) string {
	children := map[string][]string{}
	isDir := map[string]bool{}

	add := func(parent, child string) {
		for _, c := range children[parent] {
			if c == child {
				return
			}
		}
		children[parent] = append(children[parent], child)
	}

	for _, f := range files {
		parent := "."
		parts := strings.Split(f, "/")
		for i := range parts {
			p := path.Join(parts[:i+1]...)
			add(parent, p)
			if i < len(parts)-1 {
				isDir[p] = true
			}
			parent = p
		}
	}

	var sb strings.Builder
	var render func(dir string, depth int)
	render = func(dir string, depth int) {
		entries := children[dir]
		sort.SliceStable(entries, func(i, j int) bool {
			if isDir[entries[i]] != isDir[entries[j]] {
				return isDir[entries[i]]
			}
			return entries[i] < entries[j]
		})
		for _, e := range entries {
			sb.WriteString(strings.Repeat("  ", depth+1))
			sb.WriteString(path.Base(e))
			if isDir[e] {
				sb.WriteString("/\n")
				render(e, depth+1)
				continue
			}
			sb.WriteString("\n")
		}
	}
	render(".", 0)
	return sb.String()
}
