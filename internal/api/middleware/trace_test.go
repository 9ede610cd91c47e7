package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/terralens/terralens-api/internal/api/shared"
)

func TestTrace_SetsTraceID(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = shared.GetTraceID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	Trace(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/task", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, got)
}

func TestTrace_UniquePerRequest(t *testing.T) {
	seen := make(map[string]bool)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[shared.GetTraceID(r.Context())] = true
	})
	handler := Trace(next)

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/task", nil))
	}
	assert.Len(t, seen, 3)
}
