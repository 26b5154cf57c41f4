package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

func withPrincipal(p platformauth.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(platformauth.WithPrincipal(r.Context(), p)))
		})
	}
}

func TestRequestTraceWithPrincipal(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	id := uuid.New()

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(platformlogging.RequestLogger(zap.New(core)))
	r.Use(withPrincipal(platformauth.Principal{IdentityID: id, TenantID: "acme", Role: platformauth.RoleMember}))
	r.Use(RequestTrace)

	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		trace, ok := requesttrace.FromContext(req.Context())
		require.True(t, ok)
		require.Equal(t, requesttrace.ActorKindUser, trace.ActorKind)
		require.Equal(t, id.String(), trace.UserID)
		require.Equal(t, "acme", trace.TenantID)
		require.NotEmpty(t, trace.RequestID)
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	completed := logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	fields := completed[0].ContextMap()
	require.Equal(t, "user", fields["actor_kind"])
	require.Equal(t, id.String(), fields["user_id"])
	require.Equal(t, "acme", fields["tenant_id"])
}

func TestRequestTraceAnonymous(t *testing.T) {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(RequestTrace)

	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		trace, ok := requesttrace.FromContext(req.Context())
		require.True(t, ok)
		require.Equal(t, requesttrace.ActorKindAnonymous, trace.ActorKind)
		require.Empty(t, trace.UserID)
		require.Empty(t, trace.TenantID)
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRequestTraceAnonymousWithHostTenant(t *testing.T) {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(tenant.WithSpace(req.Context(), tenant.Space{TenantID: "acme", Domain: "acme.bizdesk.app"})))
		})
	})
	r.Use(RequestTrace)

	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		trace := requesttrace.FromContextOrAnonymous(req.Context())
		require.Equal(t, requesttrace.ActorKindAnonymous, trace.ActorKind)
		require.Equal(t, "acme", trace.TenantID)
		w.WriteHeader(http.StatusOK)
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestRequestTraceRejectsEmptyPrincipal(t *testing.T) {
	r := chi.NewRouter()
	r.Use(withPrincipal(platformauth.Principal{TenantID: "acme"}))
	r.Use(RequestTrace)
	r.Get("/test", func(w http.ResponseWriter, req *http.Request) {
		t.Fatal("handler must not run")
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Contains(t, resp.Body.String(), `"code":"unauthenticated"`)
}
