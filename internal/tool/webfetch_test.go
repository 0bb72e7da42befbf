package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title>T</title><script>var x = 1;</script></head>
<body><h1>Title</h1><p>Some <strong>bold</strong> text.</p></body></html>`

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, samplePage)
	})
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "just text")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestWebFetchTool_Formats(t *testing.T) {
	srv := newPageServer(t)
	tl := NewWebFetchTool(srv.Client())
	ctx := context.Background()

	markdown, err := tl.Execute(ctx, testCall(""), fmt.Sprintf(`{"url": "%s/page", "format": "markdown"}`, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, markdown.Output, "# Title")
	assert.Contains(t, markdown.Output, "**bold**")
	assert.NotContains(t, markdown.Output, "var x")

	text, err := tl.Execute(ctx, testCall(""), fmt.Sprintf(`{"url": "%s/page", "format": "text"}`, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, text.Output, "Some bold text.")
	assert.NotContains(t, text.Output, "<strong>")
	assert.NotContains(t, text.Output, "var x")

	html, err := tl.Execute(ctx, testCall(""), fmt.Sprintf(`{"url": "%s/page", "format": "html"}`, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, samplePage, html.Output)

	plain, err := tl.Execute(ctx, testCall(""), fmt.Sprintf(`{"url": "%s/plain", "format": "markdown"}`, srv.URL))
	require.NoError(t, err)
	assert.Equal(t, "just text", plain.Output)
}

func TestWebFetchTool_Errors(t *testing.T) {
	srv := newPageServer(t)
	tl := NewWebFetchTool(srv.Client())
	ctx := context.Background()

	_, err := tl.Execute(ctx, testCall(""), fmt.Sprintf(`{"url": "%s/missing", "format": "text"}`, srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = tl.Execute(ctx, testCall(""), fmt.Sprintf(`{"url": "%s/page", "format": "pdf"}`, srv.URL))
	require.ErrorIs(t, err, ErrInvalidArguments)

	_, err = tl.Execute(ctx, testCall(""), `{"url": "not a url", "format": "text"}`)
	require.ErrorIs(t, err, ErrInvalidArguments)
}
