package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type stubResolver struct {
	calls int
	p     platformauth.Principal
	err   error
	// during runs inside the resolution, before the principal is returned.
	during func()
}

func (s *stubResolver) ResolvePrincipal(ctx context.Context, creds *platformauth.UserCredentials) (platformauth.Principal, error) {
	s.calls++
	if s.during != nil {
		s.during()
	}
	return s.p, s.err
}

func authenticated(token string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	ctx := platformauth.WithUserCredentials(req.Context(), &platformauth.UserCredentials{Id: "x", Provider: platformauth.ProviderSession})
	ctx = platformauth.WithRawToken(ctx, token)
	return req.WithContext(ctx)
}

func TestWithPrincipalCachesResolution(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{p: platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleAdmin}}
	mw := WithPrincipal(resolver, cache.NewMemory(cache.MemoryConfig{}), zaptest.NewLogger(t))

	var seen platformauth.Principal
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = platformauth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authenticated("token-1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	require.Equal(t, 1, resolver.calls)
	require.Equal(t, "acme", seen.TenantID)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authenticated("token-2"))
	require.Equal(t, 2, resolver.calls)
}

func TestWithPrincipalSkipsCachingWhenInvalidatedMidResolution(t *testing.T) {
	t.Parallel()

	principals := cache.NewMemory(cache.MemoryConfig{})
	resolver := &stubResolver{p: platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleAdmin}}
	resolver.during = func() {
		principals.InvalidateIdentity(context.Background(), resolver.p.IdentityID)
		resolver.during = nil
	}
	h := WithPrincipal(resolver, principals, zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authenticated("token-1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	// the first result was outdated before it was written; the second one sticks
	require.Equal(t, 2, resolver.calls)
}

func TestWithPrincipalAnonymousPassThrough(t *testing.T) {
	t.Parallel()

	resolver := &stubResolver{}
	h := WithPrincipal(resolver, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := platformauth.PrincipalFromContext(r.Context())
		require.False(t, ok)
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Zero(t, resolver.calls)
}

func TestWithPrincipalErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "revoked session", err: platformauth.ErrInvalidToken, status: http.StatusUnauthorized},
		{name: "store failure", err: errors.New("db down"), status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := WithPrincipal(&stubResolver{err: tt.err}, nil, zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler must not run")
			}))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, authenticated("tok"))
			require.Equal(t, tt.status, rec.Code)
		})
	}
}

type stubHosts struct {
	res tenant.Resolution
	err error
}

func (s stubHosts) ResolveTenantForHost(ctx context.Context, host string) (tenant.Resolution, error) {
	if s.err != nil {
		return tenant.Resolution{}, s.err
	}
	res := s.res
	res.Domain = host
	return res, nil
}

func TestWithHostTenant(t *testing.T) {
	t.Parallel()

	var got tenant.Space
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = tenant.FromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "http://internal/public/links", nil)
	req.Header.Set("X-Forwarded-Host", "Acme.bizdesk.app")
	WithHostTenant(stubHosts{res: tenant.Resolution{TenantID: "acme"}}, true, nil)(next).ServeHTTP(httptest.NewRecorder(), req)
	require.Equal(t, tenant.Space{TenantID: "acme", Domain: "acme.bizdesk.app"}, got)

	WithHostTenant(stubHosts{err: errors.New("db down")}, false, zaptest.NewLogger(t))(next).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://shop.example.com/", nil))
	require.Equal(t, tenant.Space{Domain: "shop.example.com"}, got)
}
