package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func editFixture(t *testing.T, content string) (afero.Fs, Tool) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/work/file.go", []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return fs, NewEditTool(fs, "/work")
}

func readBack(t *testing.T, fs afero.Fs) string {
	t.Helper()
	data, err := afero.ReadFile(fs, "/work/file.go")
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestEditTool_Exact(t *testing.T) {
	fs, tl := editFixture(t, "Hello World")

	result, err := tl.Execute(context.Background(), testCall(""), `{"filePath": "file.go", "oldString": "World", "newString": "Go"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := readBack(t, fs); got != "Hello Go" {
		t.Errorf("content = %q", got)
	}
	if result.Metadata["strategy"] != "exact" || result.Metadata["replacements"] != 1 {
		t.Errorf("metadata = %v", result.Metadata)
	}
}

func TestEditTool_AmbiguousWithoutReplaceAll(t *testing.T) {
	fs, tl := editFixture(t, "x x x")

	_, err := tl.Execute(context.Background(), testCall(""), `{"filePath": "file.go", "oldString": "x", "newString": "y"}`)
	if err == nil || !strings.Contains(err.Error(), "appears 3 times") {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
	if got := readBack(t, fs); got != "x x x" {
		t.Errorf("file should be unchanged, got %q", got)
	}
}

func TestEditTool_ReplaceAll(t *testing.T) {
	fs, tl := editFixture(t, "x x x")

	result, err := tl.Execute(context.Background(), testCall(""), `{"filePath": "file.go", "oldString": "x", "newString": "y", "replaceAll": true}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := readBack(t, fs); got != "y y y" {
		t.Errorf("content = %q", got)
	}
	if result.Metadata["replacements"] != 3 {
		t.Errorf("replacements = %v", result.Metadata["replacements"])
	}
}

func TestEditTool_WhitespaceInsensitive(t *testing.T) {
	fs, tl := editFixture(t, "if x {\n    foo()\n}\n")

	result, err := tl.Execute(context.Background(), testCall(""), `{"filePath": "file.go", "oldString": "if x {\n\tfoo()\n}", "newString": "if x {\n\tbar()\n}"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := readBack(t, fs); got != "if x {\n\tbar()\n}\n" {
		t.Errorf("content = %q", got)
	}
	if result.Metadata["strategy"] != "whitespace" {
		t.Errorf("strategy = %v", result.Metadata["strategy"])
	}
}

func TestEditTool_Fuzzy(t *testing.T) {
	fs, tl := editFixture(t, "func hello() {\n\treturn 1\n}\n")

	result, err := tl.Execute(context.Background(), testCall(""), `{"filePath": "file.go", "oldString": "func helo() {\n\treturn 1\n}", "newString": "func hello() {\n\treturn 2\n}"}`)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := readBack(t, fs); got != "func hello() {\n\treturn 2\n}\n" {
		t.Errorf("content = %q", got)
	}
	if s, _ := result.Metadata["strategy"].(string); !strings.HasPrefix(s, "fuzzy") {
		t.Errorf("strategy = %v", result.Metadata["strategy"])
	}
}

func TestEditTool_CRLF(t *testing.T) {
	fs, tl := editFixture(t, "one\r\ntwo\r\n")

	if _, err := tl.Execute(context.Background(), testCall(""), `{"filePath": "file.go", "oldString": "one\ntwo", "newString": "1\n2"}`); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := readBack(t, fs); got != "1\r\n2\r\n" {
		t.Errorf("content = %q", got)
	}
}

func TestEditTool_Failures(t *testing.T) {
	_, tl := editFixture(t, "alpha beta")
	ctx := context.Background()

	_, err := tl.Execute(ctx, testCall(""), `{"filePath": "file.go", "oldString": "zzzzzzzzzzzzzzzzzz", "newString": "q"}`)
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("expected not found, got %v", err)
	}

	_, err = tl.Execute(ctx, testCall(""), `{"filePath": "file.go", "oldString": "alpha", "newString": "alpha"}`)
	if err == nil || !strings.Contains(err.Error(), "must be different") {
		t.Errorf("expected identical strings error, got %v", err)
	}

	_, err = tl.Execute(ctx, testCall(""), `{"filePath": "nope.go", "oldString": "a", "newString": "b"}`)
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSimilarity(t *testing.T) {
	if similarity("", "") != 1.0 {
		t.Error("empty strings are identical")
	}
	if similarity("abc", "") != 0.0 {
		t.Error("empty vs non-empty is 0")
	}
	if s := similarity("kitten", "sitting"); s < 0.5 || s > 0.6 {
		t.Errorf("similarity(kitten, sitting) = %v", s)
	}
}
