package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/streamd/internal/session"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid input")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var result ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, ErrCodeInvalidRequest, result.Error.Code)
	assert.Equal(t, "Invalid input", result.Error.Message)
}

func TestWriteServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: s1", session.ErrSessionNotFound), http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("%w: s1", session.ErrSessionBusy), http.StatusConflict, ErrCodeBusy},
		{session.ErrMultipleInProgress, http.StatusBadRequest, ErrCodeInvalidRequest},
		{session.ErrServiceClosed, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeServiceError(w, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var result ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
			assert.Equal(t, tt.code, result.Error.Code)
			assert.Equal(t, tt.err.Error(), result.Error.Message)
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	writeSuccess(w)
	assert.JSONEq(t, `{"success":true}`, w.Body.String())
}
