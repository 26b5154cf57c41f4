package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/bizdesk/domains/tenants/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

func newRouter(t *testing.T) http.Handler {
	t.Helper()

	authz, err := platformauth.NewAuthorizer()
	require.NoError(t, err)

	memory := repo.NewMemoryRepository()
	memory.Put(service.Tenant{ID: "acme", Name: "Acme"})
	static := tenant.NewStaticLookup(map[string]string{"citas.example.com": "acme"})
	resolver := tenant.NewHostResolver(static, tenant.NewDBLookup(memory))
	svc := service.New(memory, resolver, nil, nil, zaptest.NewLogger(t))
	h := New(svc, true, zaptest.NewLogger(t))

	r := chi.NewRouter()
	h.RegisterPublic(r)
	h.Register(r, authz)
	return r
}

func serve(router http.Handler, p *platformauth.Principal, req *http.Request) *httptest.ResponseRecorder {
	if p != nil {
		req = req.WithContext(platformauth.WithPrincipal(context.Background(), *p))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestResolveEndpoint(t *testing.T) {
	t.Parallel()

	router := newRouter(t)

	tests := []struct {
		name       string
		target     string
		forwarded  string
		wantTenant *string
		wantDomain string
	}{
		{name: "explicit static", target: "/tenants/resolve?host=Citas.Example.com:8443", wantTenant: ptr("acme"), wantDomain: "citas.example.com"},
		{name: "subdomain", target: "/tenants/resolve?host=demo.bizdesk.app", wantTenant: ptr("demo"), wantDomain: "demo.bizdesk.app"},
		{name: "www is null", target: "/tenants/resolve?host=www.bizdesk.app", wantDomain: "www.bizdesk.app"},
		{name: "bare host is null", target: "/tenants/resolve?host=localhost", wantDomain: "localhost"},
		{name: "forwarded host", target: "/tenants/resolve", forwarded: "citas.example.com, proxy.internal", wantTenant: ptr("acme"), wantDomain: "citas.example.com"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-Host", tt.forwarded)
			}
			rec := serve(router, nil, req)
			require.Equal(t, http.StatusOK, rec.Code)

			var body resolveResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.Equal(t, tt.wantTenant, body.TenantID)
			require.Equal(t, tt.wantDomain, body.Domain)
		})
	}
}

func TestCurrentTenantRoutes(t *testing.T) {
	t.Parallel()

	router := newRouter(t)
	admin := &platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleAdmin}
	member := &platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleMember}

	rec := serve(router, member, httptest.NewRequest(http.MethodGet, "/tenants/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Acme"`)

	rec = serve(router, member, httptest.NewRequest(http.MethodPatch, "/tenants/current", strings.NewReader(`{"name":"Nope"}`)))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, admin, httptest.NewRequest(http.MethodPatch, "/tenants/current", strings.NewReader(`{"name":"Acme Studio"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"name":"Acme Studio"`)

	rec = serve(router, admin, httptest.NewRequest(http.MethodPost, "/tenants/current/domains", strings.NewReader(`{"domain":"reservas.acme.mx"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(router, admin, httptest.NewRequest(http.MethodPost, "/tenants/current/slug", strings.NewReader(`{"slug":"api"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"slug"`)

	rec = serve(router, admin, httptest.NewRequest(http.MethodPost, "/tenants/current/slug", strings.NewReader(`{"slug":"acme"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"unchanged"`)

	rec = serve(router, admin, httptest.NewRequest(http.MethodPost, "/tenants/current/slug", strings.NewReader(`{"slug":"acme-studio"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"updated"`)
	require.Contains(t, rec.Body.String(), `"tenantId":"acme-studio"`)

	moved := *admin
	moved.TenantID = "acme-studio"
	rec = serve(router, &moved, httptest.NewRequest(http.MethodGet, "/tenants/current/domains", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "reservas.acme.mx")

	rec = serve(router, &moved, httptest.NewRequest(http.MethodDelete, "/tenants/current/domains/reservas.acme.mx", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAdminTenantsList(t *testing.T) {
	t.Parallel()

	router := newRouter(t)
	admin := &platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleAdmin}
	platform := &platformauth.Principal{IdentityID: uuid.New(), Role: platformauth.RoleSystemAdmin, IsPlatformAdmin: true}

	rec := serve(router, admin, httptest.NewRequest(http.MethodGet, "/admin/tenants", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(router, platform, httptest.NewRequest(http.MethodGet, "/admin/tenants?page=abc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(router, platform, httptest.NewRequest(http.MethodGet, "/admin/tenants?page=1&pageSize=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"totalItems":1`)
}

func ptr(s string) *string { return &s }
