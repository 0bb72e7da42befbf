package tool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/spf13/afero"
)

const editDescription = `Performs exact string replacements in files.

Usage:
- The oldString must exist in the file
- The newString will replace oldString
- Use replaceAll to replace all occurrences
- The edit will FAIL if oldString is not unique (unless using replaceAll)
- When no exact match exists, whitespace-insensitive and close matches are tried`

// minSimilarity is the lowest normalized Levenshtein similarity accepted
// for a fuzzy block match.
const minSimilarity = 0.7

var errNoMatch = errors.New("oldString not found in file")

type editInput struct {
	FilePath   string `json:"filePath" validate:"required" jsonschema_description:"The path to the file to edit"`
	OldString  string `json:"oldString" validate:"required" jsonschema_description:"The text to replace"`
	NewString  string `json:"newString" jsonschema_description:"The text to replace it with"`
	ReplaceAll bool   `json:"replaceAll,omitempty" jsonschema_description:"Replace all occurrences (default: false)"`
}

// NewEditTool creates the edit tool over fsys.
func NewEditTool(fsys afero.Fs, workDir string) Tool {
	return Define(EditToolName, editDescription, func(ctx context.Context, call Call, in editInput) (Result, error) {
		if in.OldString == in.NewString {
			return Result{}, fmt.Errorf("oldString and newString must be different")
		}

		dir := callDir(call, workDir)
		path := resolvePath(dir, in.FilePath)

		data, err := afero.ReadFile(fsys, path)
		if err != nil {
			return Result{}, fmt.Errorf("read file: %w", err)
		}
		before := string(data)

		after, count, strategy, err := replace(before, in.OldString, in.NewString, in.ReplaceAll)
		if err != nil {
			return Result{}, err
		}

		info, err := fsys.Stat(path)
		if err != nil {
			return Result{}, fmt.Errorf("stat file: %w", err)
		}
		if err := afero.WriteFile(fsys, path, []byte(after), info.Mode().Perm()); err != nil {
			return Result{}, fmt.Errorf("write file: %w", err)
		}

		diff, additions, deletions := buildDiff(path, before, after, dir)

		title := fmt.Sprintf("Edited %s", filepath.Base(path))
		if strategy != "exact" {
			title += fmt.Sprintf(" (%s)", strategy)
		}

		return Result{
			Title:  title,
			Output: fmt.Sprintf("Replaced %d occurrence(s)\n\n%s", count, diff),
			Metadata: map[string]any{
				"file":         path,
				"replacements": count,
				"strategy":     strategy,
				"diff":         diff,
				"additions":    additions,
				"deletions":    deletions,
			},
		}, nil
	})
}

// replace applies the first strategy that finds oldString: exact, then line
// ending normalized, then whitespace-insensitive line blocks, then the most
// similar line block.
func replace(content, oldString, newString string, all bool) (string, int, string, error) {
	if count := strings.Count(content, oldString); count > 0 {
		if all {
			return strings.ReplaceAll(content, oldString, newString), count, "exact", nil
		}
		if count > 1 {
			return "", 0, "", fmt.Errorf("oldString appears %d times in file; use replaceAll or provide more context", count)
		}
		return strings.Replace(content, oldString, newString, 1), 1, "exact", nil
	}

	if strings.Contains(content, "\r\n") {
		normalized := strings.ReplaceAll(content, "\r\n", "\n")
		oldNorm := strings.ReplaceAll(oldString, "\r\n", "\n")
		if strings.Contains(normalized, oldNorm) {
			newNorm := strings.ReplaceAll(newString, "\r\n", "\n")
			n := 1
			if all {
				n = -1
			}
			count := strings.Count(normalized, oldNorm)
			if !all {
				count = 1
			}
			out := strings.Replace(normalized, oldNorm, newNorm, n)
			return strings.ReplaceAll(out, "\n", "\r\n"), count, "normalized", nil
		}
	}

	if block, ok := findTrimmedBlock(content, oldString); ok {
		return strings.Replace(content, block, newString, 1), 1, "whitespace", nil
	}

	if block, sim := findSimilarBlock(content, oldString); block != "" && sim >= minSimilarity {
		return strings.Replace(content, block, newString, 1), 1, fmt.Sprintf("fuzzy %.0f%%", sim*100), nil
	}

	return "", 0, "", errNoMatch
}

// findTrimmedBlock finds a run of lines equal to target's lines once leading
// and trailing whitespace is ignored. It returns the original text of the run.
func findTrimmedBlock(content, target string) (string, bool) {
	lines := strings.Split(content, "\n")
	want := strings.Split(strings.Trim(target, "\n"), "\n")
	if len(want) == 0 || len(want) > len(lines) {
		return "", false
	}

	for i := 0; i+len(want) <= len(lines); i++ {
		match := true
		for j, w := range want {
			if strings.TrimSpace(lines[i+j]) != strings.TrimSpace(w) {
				match = false
				break
			}
		}
		if match {
			return strings.Join(lines[i:i+len(want)], "\n"), true
		}
	}
	return "", false
}

// findSimilarBlock returns the run of lines, as long as target, most similar
// to target.
func findSimilarBlock(content, target string) (string, float64) {
	lines := strings.Split(content, "\n")
	targetLines := strings.Split(target, "\n")
	size := len(targetLines)

	best, bestSim := "", 0.0
	for i := 0; i+size <= len(lines); i++ {
		block := strings.Join(lines[i:i+size], "\n")
		if sim := similarity(block, target); sim > bestSim {
			best, bestSim = block, sim
		}
	}
	return best, bestSim
}

// similarity is 1 minus the Levenshtein distance normalized by the longer input.
func similarity(a, b string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	if len(a) > 10000 || len(b) > 10000 {
		return float64(min(len(a), len(b))) / float64(max(len(a), len(b)))
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(max(len(a), len(b)))
}
