package httpserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestServer(handlers Handlers, basePath string) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(":0", logger, nil, handlers, basePath)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(Handlers{}, "")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyzReportsFailingDependency(t *testing.T) {
	srv := newTestServer(Handlers{}, "")
	srv.SetDependencies(Dependencies{
		Database: pingFunc(func(context.Context) error { return nil }),
		Redis:    pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.JSONEq(t, `{"status":"unavailable","checks":{"database":"ok","redis":"down"}}`, rec.Body.String())
}

func TestReadyzSkipsMissingDependencies(t *testing.T) {
	srv := newTestServer(Handlers{}, "")
	srv.SetDependencies(Dependencies{Database: pingFunc(func(context.Context) error { return nil })})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok","checks":{"database":"ok"}}`, rec.Body.String())
}

func TestMountsAPIAndWebhookUnderBasePath(t *testing.T) {
	var apiPath string
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiPath = r.URL.Path
		w.WriteHeader(http.StatusTeapot)
	})
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	srv := newTestServer(Handlers{API: api, PaymentWebhook: webhook}, "/bot/")
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bot/api/v1/profiles/1", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)
	require.Equal(t, "/profiles/1", apiPath)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/bot/webhook/payments", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/profiles/1", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
