package tool

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// buildDiff returns a unified-style diff between before and after together
// with the number of added and deleted lines.
func buildDiff(path, before, after, baseDir string) (string, int, int) {
	if before == after {
		return "", 0, 0
	}

	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	additions, deletions := 0, 0
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			additions += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			deletions += countLines(d.Text)
		}
	}

	patches := dmp.PatchMake(before, diffs)
	text := dmp.PatchToText(patches)
	if text == "" {
		return "", additions, deletions
	}

	var sb strings.Builder
	if rel := relativePath(path, baseDir); rel != "" {
		fmt.Fprintf(&sb, "--- %s\n+++ %s\n", rel, rel)
	}
	sb.WriteString(text)
	return sb.String(), additions, deletions
}

func relativePath(path, baseDir string) string {
	if path == "" || baseDir == "" {
		return path
	}
	if rel, err := filepath.Rel(baseDir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	lines := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		lines++
	}
	return lines
}
