package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCall(dir string) Call {
	return Call{
		SessionID: "test-session",
		MessageID: "test-message",
		CallID:    "test-call",
		WorkDir:   dir,
		StopCh:    make(chan struct{}),
	}
}

func TestToParams_RequiredAndTypes(t *testing.T) {
	params := toParams(reflector.Reflect(&readInput{}))

	require.Contains(t, params, "filePath")
	assert.Equal(t, schema.String, params["filePath"].Type)
	assert.True(t, params["filePath"].Required)
	assert.Equal(t, "The path to the file to read", params["filePath"].Desc)

	require.Contains(t, params, "offset")
	assert.Equal(t, schema.Integer, params["offset"].Type)
	assert.False(t, params["offset"].Required)
}

func TestToParams_NestedArrayWithEnum(t *testing.T) {
	params := toParams(reflector.Reflect(&todoWriteInput{}))

	todos := params["todos"]
	require.NotNil(t, todos)
	assert.Equal(t, schema.Array, todos.Type)
	require.NotNil(t, todos.ElemInfo)
	assert.Equal(t, schema.Object, todos.ElemInfo.Type)

	status := todos.ElemInfo.SubParams["status"]
	require.NotNil(t, status)
	assert.True(t, status.Required)
	assert.Equal(t, []string{"pending", "in_progress", "completed", "removed"}, status.Enum)
	assert.False(t, todos.ElemInfo.SubParams["id"].Required)
}

func TestDefine_Info(t *testing.T) {
	tl := Define("echo", "Echoes input", func(ctx context.Context, call Call, in struct {
		Text string `json:"text"`
	}) (Result, error) {
		return Result{Output: in.Text}, nil
	})

	assert.Equal(t, "echo", tl.Name())
	assert.Equal(t, "Echoes input", tl.Description())
	assert.Equal(t, "echo", tl.Info().Name)
	assert.NotNil(t, tl.Info().ParamsOneOf)

	res, err := tl.Execute(context.Background(), Call{}, `{"text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Output)
}

func TestDefine_InvalidJSON(t *testing.T) {
	tl := NewReadTool(nil, "/")
	_, err := tl.Execute(context.Background(), Call{}, `{not json`)
	assert.True(t, errors.Is(err, ErrInvalidArguments))
}

func TestDefine_ValidationFailure(t *testing.T) {
	tl := NewReadTool(nil, "/")
	_, err := tl.Execute(context.Background(), Call{}, `{"offset": 3}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArguments))
	assert.Contains(t, err.Error(), "filePath")

	_, err = tl.Execute(context.Background(), Call{}, `{"filePath": "x", "offset": -1}`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidArguments))
	assert.Contains(t, err.Error(), "gte")
}

func TestDefine_EmptyArgumentsDecodeAsObject(t *testing.T) {
	called := false
	tl := Define("noop", "", func(ctx context.Context, call Call, in struct{}) (Result, error) {
		called = true
		return Result{Output: "ok"}, nil
	})
	_, err := tl.Execute(context.Background(), Call{}, "  ")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestCall_Stopped(t *testing.T) {
	assert.False(t, Call{}.Stopped())

	ch := make(chan struct{})
	c := Call{StopCh: ch}
	assert.False(t, c.Stopped())
	close(ch)
	assert.True(t, c.Stopped())
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Execute(context.Background(), "missing", Call{}, "{}")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrToolNotFound))
	assert.Contains(t, err.Error(), "missing")
}

func TestDefaultRegistry_Tools(t *testing.T) {
	r := DefaultRegistry(Options{WorkDir: t.TempDir()})

	var names []string
	for _, tl := range r.List() {
		names = append(names, tl.Name())
	}
	assert.Equal(t, []string{
		BashToolName, BashKillToolName, BashOutputToolName, BatchToolName, EditToolName,
		GlobToolName, GrepToolName, ListToolName, QuestionToolName, ReadToolName,
		WebFetchToolName, WriteToolName,
	}, names)

	infos := r.ToolInfos()
	require.Len(t, infos, len(names))
	assert.Equal(t, BashToolName, infos[0].Name)
}

func TestDefaultRegistry_TodosAndDisabled(t *testing.T) {
	r := DefaultRegistry(Options{
		WorkDir:  t.TempDir(),
		Todos:    newMemTodos(),
		Disabled: map[string]bool{WebFetchToolName: true, BashToolName: false},
	})

	_, ok := r.Get(TodoWriteToolName)
	assert.True(t, ok)
	_, ok = r.Get(TodoReadToolName)
	assert.True(t, ok)
	_, ok = r.Get(WebFetchToolName)
	assert.False(t, ok)
	_, ok = r.Get(BashToolName)
	assert.True(t, ok)
}
