package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerEmitsCloudLoggingFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(Config{Component: "api", Level: "debug", Output: &buf})
	require.NoError(t, err)

	logger.Warn("slow store call", zap.String("op", "tenants.get"))
	require.NoError(t, logger.Sync())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "WARNING", line["severity"])
	require.Equal(t, "slow store call", line["message"])
	require.Equal(t, "bizdesk", line["service"])
	require.Equal(t, "api", line["component"])
	require.Equal(t, "tenants.get", line["op"])
}

func TestNewLoggerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := NewLogger(Config{Level: "loud"})
	require.Error(t, err)
	_, err = NewLogger(Config{Format: "xml"})
	require.Error(t, err)

	var buf bytes.Buffer
	logger, err := NewLogger(Config{Format: "console", Output: &buf})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Sync())
	require.Contains(t, buf.String(), "hello")
}

func TestRequestLoggerCompletionLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	base, err := NewLogger(Config{Output: &buf})
	require.NoError(t, err)

	handler := middleware.RequestID(RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// handlers enrich the logger and promote it to the completion line
		ctx := With(r.Context(), zap.String("tenant_id", "acme"))
		Promote(ctx)
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/links", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.NoError(t, base.Sync())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "health checks are not logged when they succeed")

	var ok, failed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &ok))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &failed))
	require.Equal(t, "INFO", ok["severity"])
	require.Equal(t, "acme", ok["tenant_id"])
	require.NotEmpty(t, ok["request_id"])
	require.Equal(t, "ERROR", failed["severity"])
	require.EqualValues(t, 500, failed["status"])
}
