//go:build unit || e2e

package httptest

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"event-voucher/internal/handler/httperr"

	"github.com/stretchr/testify/assert"
)

func AssertSuccessResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()

	if !assert.Equal(t, expectedStatus, w.Code, "response: %s", w.Body.String()) {
		return
	}
	if target != nil && expectedStatus >= 200 && expectedStatus < 300 {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "body: %s", w.Body.String())
	}
}

// AssertErrorResponse checks the status and the httperr envelope. The
// envelope's requestId must match the X-Request-ID header, both may be empty
// when the router runs without the logging middleware.
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, wantMsg string) httperr.Response {
	t.Helper()

	assert.Equal(t, expectedStatus, w.Code, "response: %s", w.Body.String())

	var got httperr.Response
	if !assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &got), "body: %s", w.Body.String()) {
		return got
	}
	got.Status = w.Code

	assert.NotEmpty(t, got.Error.Message, "error envelope without message")
	assert.Equal(t, w.Header().Get("X-Request-ID"), got.Error.RequestID)
	if wantMsg != "" {
		assert.Contains(t, got.Error.Message, wantMsg)
	}
	return got
}
