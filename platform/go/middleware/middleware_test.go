package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS(t *testing.T) {
	t.Parallel()

	h := CORS([]string{"https://app.bizdesk.mx/"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.bizdesk.mx")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "https://app.bizdesk.mx", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	CORS(nil)(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	h := RateLimit(RateLimitConfig{Name: "auth", Requests: 2, Window: time.Minute})(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			require.Contains(t, rec.Body.String(), `"code":"rate_limited"`)
		}
	}
	require.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// disabled limiter never blocks
	disabled := RateLimit(RateLimitConfig{Requests: 0})(okHandler())
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		disabled.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

type recordingObserver struct {
	mu     sync.Mutex
	routes []string
	status []int
}

func (o *recordingObserver) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routes = append(o.routes, method+" "+route)
	o.status = append(o.status, status)
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	t.Parallel()

	obs := &recordingObserver{}
	r := chi.NewRouter()
	r.Use(Metrics(obs))
	r.Get("/links/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/plain", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/links/" + uuid.NewString(), "/plain"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, []string{"GET /links/{id}", "GET /plain"}, obs.routes)
	require.Equal(t, []int{http.StatusAccepted, http.StatusOK}, obs.status)
}

const testContract = `
openapi: 3.0.3
info: {title: test, version: "1"}
components:
  securitySchemes:
    bearerAuth: {type: http, scheme: bearer}
paths:
  /api/v1/links:
    post:
      security: [{bearerAuth: []}]
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              additionalProperties: false
              required: [title, url]
              properties:
                title: {type: string, minLength: 1}
                url: {type: string}
      responses:
        "201": {description: created}
`

func loadTestContract(t *testing.T) *openapi3.T {
	t.Helper()
	spec, err := openapi3.NewLoader().LoadFromData([]byte(testContract))
	require.NoError(t, err)
	require.NoError(t, spec.Validate(context.Background()))
	return spec
}

func TestSpecValidator(t *testing.T) {
	t.Parallel()

	validator := SpecValidator(loadTestContract(t), zaptest.NewLogger(t))
	h := validator(okHandler())

	authed := func(req *http.Request) *http.Request {
		p := platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleAdmin}
		return req.WithContext(platformauth.WithPrincipal(req.Context(), p))
	}

	tests := []struct {
		name   string
		req    *http.Request
		status int
		code   string
	}{
		{
			name:   "valid",
			req:    authed(jsonRequest(http.MethodPost, "/api/v1/links", `{"title":"Instagram","url":"https://instagram.com/acme"}`)),
			status: http.StatusOK,
		},
		{
			name:   "missing principal",
			req:    jsonRequest(http.MethodPost, "/api/v1/links", `{"title":"Instagram","url":"https://instagram.com/acme"}`),
			status: http.StatusUnauthorized,
			code:   "unauthenticated",
		},
		{
			name:   "schema violation",
			req:    authed(jsonRequest(http.MethodPost, "/api/v1/links", `{"title":"","url":"x","extra":true}`)),
			status: http.StatusBadRequest,
			code:   "validation_error",
		},
		{
			name:   "unknown route",
			req:    authed(jsonRequest(http.MethodPost, "/api/v1/nope", `{}`)),
			status: http.StatusNotFound,
			code:   "not_found",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req)
			require.Equal(t, tt.status, rec.Code)
			if tt.code != "" {
				require.Contains(t, rec.Body.String(), `"code":"`+tt.code+`"`)
			}
		})
	}
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}
