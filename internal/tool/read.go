package tool

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

const readDescription = `Reads a file from the local filesystem.

Usage:
- The filePath parameter should be an absolute path; relative paths resolve against the working directory
- By default, reads up to 2000 lines from the beginning
- You can optionally specify offset and limit for pagination
- Returns file contents with line numbers
- Image files are returned as attachments`

const (
	defaultReadLimit = 2000
	maxLineLength    = 2000
	sniffLength      = 8000
)

type readInput struct {
	FilePath string `json:"filePath" validate:"required" jsonschema_description:"The path to the file to read"`
	Offset   int    `json:"offset,omitempty" validate:"gte=0" jsonschema_description:"Line number to start reading from (1-based)"`
	Limit    int    `json:"limit,omitempty" validate:"gte=0" jsonschema_description:"Number of lines to read (default: 2000)"`
}

// NewReadTool creates the read tool over fsys.
func NewReadTool(fsys afero.Fs, workDir string) Tool {
	return Define(ReadToolName, readDescription, func(ctx context.Context, call Call, in readInput) (Result, error) {
		path := resolvePath(callDir(call, workDir), in.FilePath)
		limit := in.Limit
		if limit <= 0 {
			limit = defaultReadLimit
		}

		if shouldBlockEnvFile(path) {
			return Result{}, fmt.Errorf("reading %s is blocked; do not make further attempts to read it", in.FilePath)
		}

		info, err := fsys.Stat(path)
		if err != nil {
			return Result{}, fmt.Errorf("file not found: %s", in.FilePath)
		}
		if info.IsDir() {
			return Result{}, fmt.Errorf("path is a directory, not a file: %s", in.FilePath)
		}

		f, err := fsys.Open(path)
		if err != nil {
			return Result{}, err
		}
		defer f.Close()

		head := make([]byte, sniffLength)
		n, err := io.ReadFull(f, head)
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return Result{}, fmt.Errorf("read %s: %w", in.FilePath, err)
		}
		head = head[:n]

		mime := mimetype.Detect(head)
		if isImage(mime) {
			return readImage(fsys, path, mime)
		}
		if isBinary(head) {
			return Result{}, fmt.Errorf("file appears to be binary: %s", in.FilePath)
		}

		scanner := bufio.NewScanner(io.MultiReader(bytes.NewReader(head), f))
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

		var lines []string
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			if in.Offset > 0 && lineNum < in.Offset {
				continue
			}
			if len(lines) >= limit {
				continue
			}
			line := scanner.Text()
			if len(line) > maxLineLength {
				line = line[:maxLineLength] + "..."
			}
			lines = append(lines, fmt.Sprintf("%05d| %s", lineNum, line))
		}
		if err := scanner.Err(); err != nil {
			return Result{}, fmt.Errorf("read %s: %w", in.FilePath, err)
		}

		var sb strings.Builder
		sb.WriteString("<file>\n")
		sb.WriteString(strings.Join(lines, "\n"))

		first := max(in.Offset, 1)
		lastRead := first - 1 + len(lines)
		if lineNum > lastRead {
			fmt.Fprintf(&sb, "\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastRead)
		} else {
			fmt.Fprintf(&sb, "\n\n(End of file - total %d lines)", lineNum)
		}
		sb.WriteString("\n</file>")

		return Result{
			Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
			Output: sb.String(),
			Metadata: map[string]any{
				"file":       path,
				"lines":      len(lines),
				"totalLines": lineNum,
			},
		}, nil
	})
}

func readImage(fsys afero.Fs, path string, mime *mimetype.MIME) (Result, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return Result{}, err
	}

	mediaType, _, _ := strings.Cut(mime.String(), ";")
	return Result{
		Title:  fmt.Sprintf("Read %s", filepath.Base(path)),
		Output: "(Image file)",
		Metadata: map[string]any{
			"file": path,
			"attachment": map[string]any{
				"filename":  filepath.Base(path),
				"mediaType": mediaType,
				"url":       fmt.Sprintf("data:%s;base64,%s", mediaType, base64.StdEncoding.EncodeToString(data)),
			},
		},
	}, nil
}

func isImage(m *mimetype.MIME) bool {
	return strings.HasPrefix(m.String(), "image/")
}

// isBinary reports whether head looks like binary content: any NUL byte, or
// mostly control characters.
func isBinary(head []byte) bool {
	if len(head) == 0 {
		return false
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	nonPrintable := 0
	for _, b := range head {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' && b != '\f' {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(head)) > 0.3
}

// shouldBlockEnvFile blocks .env files, allowing sample and example variants.
func shouldBlockEnvFile(path string) bool {
	base := filepath.Base(path)
	for _, allowed := range []string{".sample", ".example", ".template"} {
		if strings.HasSuffix(base, allowed) {
			return false
		}
	}
	return base == ".env" || strings.HasPrefix(base, ".env.")
}

func callDir(call Call, fallback string) string {
	if call.WorkDir != "" {
		return call.WorkDir
	}
	return fallback
}
