// internal/middleware/logging_test.go
package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMiddlewareRecordsStatus(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "HTTP request", entries[0].Message)
	assert.Equal(t, http.StatusNotFound, entries[0].Data["status"])
	assert.Equal(t, "/nope", entries[0].Data["path"])
	assert.Equal(t, http.MethodGet, entries[0].Data["method"])
}

func TestLogMiddlewareDefaultsToOK(t *testing.T) {
	logger, hook := test.NewNullLogger()
	h := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok")) // implicit 200, WriteHeader never called
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	entries := hook.AllEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, http.StatusOK, entries[0].Data["status"])
}

// hijackRecorder stands in for a connection-backed ResponseWriter.
type hijackRecorder struct {
	*httptest.ResponseRecorder
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

func TestStatusRecorderForwardsHijack(t *testing.T) {
	inner := &hijackRecorder{ResponseRecorder: httptest.NewRecorder()}
	var w http.ResponseWriter = &statusRecorder{ResponseWriter: inner, status: http.StatusOK}

	hj, ok := w.(http.Hijacker)
	require.True(t, ok)
	_, _, err := hj.Hijack()
	require.NoError(t, err)
	assert.True(t, inner.hijacked)

	// Without an underlying hijacker the call fails instead of panicking.
	plain := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	_, _, err = plain.Hijack()
	assert.Error(t, err)
}
