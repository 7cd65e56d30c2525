package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pm25forecast/pm25forecast/internal/api/middleware"
)

func serveRequestID(t *testing.T, header string) (ctxID, respID string) {
	t.Helper()
	handler := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	if header != "" {
		req.Header.Set(middleware.RequestIDHeader, header)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return ctxID, w.Header().Get(middleware.RequestIDHeader)
}

func TestRequestID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "missing", header: "", keep: false},
		{name: "client id", header: "sync-2026.10.14:01_a", keep: true},
		{name: "oversized", header: strings.Repeat("x", 200), keep: false},
		{name: "control characters", header: "abc\r\ninjected", keep: false},
		{name: "spaces", header: "two words", keep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctxID, respID := serveRequestID(t, tt.header)

			assert.Equal(t, ctxID, respID)
			if tt.keep {
				assert.Equal(t, tt.header, respID)
				return
			}
			assert.True(t, strings.HasPrefix(respID, "req_"), respID)
			assert.Len(t, respID, 26)
		})
	}
}

func TestRequestID_UniquePerRequest(t *testing.T) {
	seen := make(map[string]struct{})
	for range 50 {
		_, id := serveRequestID(t, "")
		_, dup := seen[id]
		assert.False(t, dup, "duplicate request id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGetRequestID_EmptyOutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/tables", nil)
	assert.Empty(t, middleware.GetRequestID(req.Context()))
}
