package tool

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const globDescription = `Fast file pattern matching tool that works with any codebase size.

Usage:
- Supports glob patterns like "**/*.js" or "src/**/*.ts"
- Patterns without a slash match file names at any depth
- Files ignored by .gitignore are skipped
- Returns matching file paths sorted by modification time, newest first`

const maxGlobResults = 100

type globInput struct {
	Pattern string `json:"pattern" validate:"required" jsonschema_description:"The glob pattern to match files against"`
	Path    string `json:"path,omitempty" jsonschema_description:"Directory to search in (default: working directory)"`
}

type fileHit struct {
	path    string
	modTime time.Time
}

// NewGlobTool creates the glob tool.
func NewGlobTool(workDir string) Tool {
	return Define(GlobToolName, globDescription, func(ctx context.Context, call Call, in globInput) (Result, error) {
		if !doublestar.ValidatePattern(in.Pattern) {
			return Result{}, fmt.Errorf("%w: bad glob pattern %q", ErrInvalidArguments, in.Pattern)
		}
		root := resolvePath(callDir(call, workDir), in.Path)

		var (
			mu   sync.Mutex
			hits []fileHit
		)
		err := newWalker(root).walk(ctx, func(path, rel string, d fs.DirEntry) error {
			if !matchGlob(in.Pattern, rel) {
				return nil
			}
			var mod time.Time
			if info, err := d.Info(); err == nil {
				mod = info.ModTime()
			}
			mu.Lock()
			hits = append(hits, fileHit{path: path, modTime: mod})
			mu.Unlock()
			return nil
		})
		if err != nil {
			return Result{}, fmt.Errorf("search %s: %w", root, err)
		}

		if len(hits) == 0 {
			return Result{
				Title:    in.Pattern,
				Output:   "No files found",
				Metadata: map[string]any{"pattern": in.Pattern, "count": 0, "truncated": false},
			}, nil
		}

		sortNewestFirst(hits)
		truncated := len(hits) > maxGlobResults
		if truncated {
			hits = hits[:maxGlobResults]
		}

		paths := make([]string, len(hits))
		for i, h := range hits {
			paths[i] = h.path
		}
		output := strings.Join(paths, "\n")
		if truncated {
			output += "\n\n(Results are truncated. Consider using a more specific path or pattern.)"
		}

		return Result{
			Title:  in.Pattern,
			Output: output,
			Metadata: map[string]any{
				"pattern":   in.Pattern,
				"count":     len(paths),
				"truncated": truncated,
			},
		}, nil
	})
}

// sortNewestFirst orders hits by modification time, breaking ties by path so
// the output is stable across concurrent walks.
func sortNewestFirst(hits []fileHit) {
	sort.Slice(hits, func(i, j int) bool {
		if !hits[i].modTime.Equal(hits[j].modTime) {
			return hits[i].modTime.After(hits[j].modTime)
		}
		return hits[i].path < hits[j].path
	})
}
