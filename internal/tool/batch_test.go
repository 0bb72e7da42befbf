package tool

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoInput struct {
	Text string `json:"text" validate:"required"`
}

func batchRegistry(t *testing.T) *Registry {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/work/a.txt", []byte("alpha"), 0o644))

	r := NewRegistry()
	r.Register(NewReadTool(fs, "/work"))
	r.Register(NewEditTool(fs, "/work"))
	r.Register(Define("echo", "Echo text", func(ctx context.Context, call Call, in echoInput) (Result, error) {
		return Result{Title: "echo", Output: in.Text + " from " + call.CallID}, nil
	}))
	r.Register(NewBatchTool(r))
	return r
}

func TestBatchTool_MixedOutcomes(t *testing.T) {
	r := batchRegistry(t)

	result, err := r.Execute(context.Background(), BatchToolName, testCall(""), `{"tool_calls": [
		{"tool": "read", "parameters": {"filePath": "a.txt"}},
		{"tool": "echo", "parameters": {"text": "hi"}},
		{"tool": "edit", "parameters": {"filePath": "a.txt", "oldString": "alpha", "newString": "beta"}},
		{"tool": "missing", "parameters": {}}
	]}`)
	require.NoError(t, err)

	assert.Equal(t, "Batch execution (2/4 successful)", result.Title)
	assert.True(t, strings.HasPrefix(result.Output, "Executed 2/4 tools successfully. 2 failed."))
	assert.Contains(t, result.Output, "=== read (success) ===")
	assert.Contains(t, result.Output, "hi from test-call-batch-1")
	assert.Contains(t, result.Output, `=== edit (failed) ===`)
	assert.Contains(t, result.Output, `tool "edit" is not allowed in batch`)
	assert.Contains(t, result.Output, "=== missing (failed) ===")

	assert.Equal(t, []string{"read", "echo", "edit", "missing"}, result.Metadata["tools"])
	assert.Equal(t, 2, result.Metadata["failed"])
}

func TestBatchTool_AllSucceed(t *testing.T) {
	r := batchRegistry(t)

	result, err := r.Execute(context.Background(), BatchToolName, testCall(""), `{"tool_calls": [
		{"tool": "echo", "parameters": {"text": "one"}},
		{"tool": "echo", "parameters": {"text": "two"}}
	]}`)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.Output, "All 2 tools executed successfully."))
}

func TestBatchTool_DiscardsCallsBeyondLimit(t *testing.T) {
	r := batchRegistry(t)

	calls := make([]string, maxBatchSize+2)
	for i := range calls {
		calls[i] = fmt.Sprintf(`{"tool": "echo", "parameters": {"text": "%d"}}`, i)
	}
	result, err := r.Execute(context.Background(), BatchToolName, testCall(""),
		`{"tool_calls": [`+strings.Join(calls, ",")+`]}`)
	require.NoError(t, err)

	assert.Equal(t, maxBatchSize+2, result.Metadata["totalCalls"])
	assert.Equal(t, maxBatchSize, result.Metadata["successful"])
	assert.Contains(t, result.Output, "maximum of 10 tools allowed in batch")
}

func TestBatchTool_RequiresCalls(t *testing.T) {
	r := batchRegistry(t)

	_, err := r.Execute(context.Background(), BatchToolName, testCall(""), `{"tool_calls": []}`)
	require.ErrorIs(t, err, ErrInvalidArguments)
}
