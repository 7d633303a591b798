package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCorrelationID_EchoesSuppliedID(t *testing.T) {
	var fromContext string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "client-supplied")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, "client-supplied", fromContext)
	assert.Equal(t, "client-supplied", rec.Header().Get("X-Correlation-ID"))
}

func TestCorrelationID_GeneratesWhenAbsent(t *testing.T) {
	var fromContext string

	handler := CorrelationID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromContext = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEmpty(t, fromContext)
	assert.Len(t, fromContext, correlationIDSize*2, "hex-encoded random bytes")
	assert.Equal(t, fromContext, rec.Header().Get("X-Correlation-ID"))
}

func TestGetCorrelationID_Missing(t *testing.T) {
	assert.Equal(t, "unknown", GetCorrelationID(context.Background()))
}
