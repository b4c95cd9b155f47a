package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diagnosis/luxsuv-confirmations/pkg/middleware"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte(middleware.RequestIDFrom(r.Context())))
})

func TestRequestID(t *testing.T) {
	h := middleware.RequestID(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	generated := rec.Header().Get("X-Request-ID")
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-42", rec.Body.String())
}

func TestHealth(t *testing.T) {
	healthy := middleware.Health(map[string]middleware.HealthCheck{
		"store": func(context.Context) error { return nil },
	})(okHandler)

	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, map[string]any{"store": "ok"}, body["checks"])

	broken := middleware.Health(map[string]middleware.HealthCheck{
		"store": func(context.Context) error { return errors.New("connection refused") },
		"nats":  func(context.Context) error { return nil },
	})(okHandler)

	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unavailable", body["status"])
	assert.Equal(t, map[string]any{"store": "connection refused", "nats": "ok"}, body["checks"])

	rec = httptest.NewRecorder()
	broken.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "other paths pass through")
}

func TestMetrics(t *testing.T) {
	h := middleware.Metrics(func() []middleware.Counter {
		return []middleware.Counter{{Name: "notify_confirmations_sent_total", Help: "Confirmation emails sent.", Value: 3}}
	})(okHandler)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# HELP notify_confirmations_sent_total Confirmation emails sent.\n"+
		"# TYPE notify_confirmations_sent_total counter\n"+
		"notify_confirmations_sent_total 3\n", rec.Body.String())
}
