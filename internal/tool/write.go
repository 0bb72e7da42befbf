package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const writeDescription = `Writes content to a file on the local filesystem.

Usage:
- This tool will overwrite existing files
- Parent directories will be created if they don't exist
- ALWAYS prefer editing existing files over creating new ones`

type writeInput struct {
	FilePath string `json:"filePath" validate:"required" jsonschema_description:"The path to the file to write"`
	Content  string `json:"content" jsonschema_description:"The content to write to the file"`
}

// NewWriteTool creates the write tool over fsys.
func NewWriteTool(fsys afero.Fs, workDir string) Tool {
	return Define(WriteToolName, writeDescription, func(ctx context.Context, call Call, in writeInput) (Result, error) {
		dir := callDir(call, workDir)
		path := resolvePath(dir, in.FilePath)

		before := ""
		exists, err := afero.Exists(fsys, path)
		if err != nil {
			return Result{}, fmt.Errorf("stat %s: %w", in.FilePath, err)
		}
		if exists {
			data, err := afero.ReadFile(fsys, path)
			if err != nil {
				return Result{}, fmt.Errorf("read existing file: %w", err)
			}
			before = string(data)
		}

		if err := fsys.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return Result{}, fmt.Errorf("create directory: %w", err)
		}
		if err := afero.WriteFile(fsys, path, []byte(in.Content), os.FileMode(0o644)); err != nil {
			return Result{}, fmt.Errorf("write file: %w", err)
		}

		diff, additions, deletions := buildDiff(path, before, in.Content, dir)

		output := fmt.Sprintf("Wrote %d bytes to %s", len(in.Content), path)
		if diff != "" {
			output += "\n\n" + diff
		}

		return Result{
			Title:  fmt.Sprintf("Wrote %s", filepath.Base(path)),
			Output: output,
			Metadata: map[string]any{
				"file":      path,
				"bytes":     len(in.Content),
				"exists":    exists,
				"diff":      diff,
				"additions": additions,
				"deletions": deletions,
			},
		}, nil
	})
}
