//go:build unit || e2e

package httptest

import (
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

// AssertLocation checks the Location header of a created resource.
func AssertLocation(t *testing.T, w *httptest.ResponseRecorder, want string) {
	t.Helper()
	assert.Equal(t, want, w.Header().Get("Location"))
}

// AssertRetryAfter checks that a throttled response tells the client to wait
// a whole, positive number of seconds.
func AssertRetryAfter(t *testing.T, w *httptest.ResponseRecorder) int {
	t.Helper()
	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	assert.NoError(t, err, "Retry-After %q", w.Header().Get("Retry-After"))
	assert.Positive(t, secs)
	return secs
}
