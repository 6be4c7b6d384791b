package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) (*httptest.ResponseRecorder, ReadinessResponse) {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body ReadinessResponse
	if path == "/health/ready" {
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	}
	return rec, body
}

func TestReadinessAllUp(t *testing.T) {
	h := New("test")
	h.RegisterCheck("postgres", func(context.Context) error { return nil })
	h.RegisterCheck("kafka", func(context.Context) error { return nil })

	rec, body := serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body.Status)
	assert.Equal(t, map[string]string{"postgres": "up", "kafka": "up"}, body.Checks)
}

func TestReadinessReportsFailure(t *testing.T) {
	h := New("test")
	h.RegisterCheck("postgres", func(context.Context) error { return nil })
	h.RegisterCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	rec, body := serve(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body.Status)
	assert.Equal(t, "down: connection refused", body.Checks["redis"])
	assert.Equal(t, "up", body.Checks["postgres"])
}

func TestReadinessTimesOutSlowCheck(t *testing.T) {
	h := New("test")
	h.SetCheckTimeout(20 * time.Millisecond)
	h.RegisterCheck("extractor", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	results := h.Run(context.Background())
	assert.ErrorIs(t, results["extractor"], context.DeadlineExceeded)
}

func TestLivenessAndStatus(t *testing.T) {
	h := New("test")
	h.RegisterCheck("broken", func(context.Context) error { return errors.New("down") })

	rec, _ := serve(t, h, "/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = serve(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	var status StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "test", status.Environment)
	assert.Equal(t, Version, status.Version)
}
