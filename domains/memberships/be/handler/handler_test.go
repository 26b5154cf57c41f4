package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/bizdesk/domains/memberships/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
)

func newRouter(t *testing.T) (http.Handler, *repo.MemoryRepository) {
	t.Helper()

	authz, err := platformauth.NewAuthorizer()
	require.NoError(t, err)

	memory := repo.NewMemoryRepository()
	svc := service.New(memory, service.Config{}, nil)
	h := New(svc, zaptest.NewLogger(t))

	r := chi.NewRouter()
	h.Register(r, authz)
	return r, memory
}

func do(t *testing.T, router http.Handler, p *platformauth.Principal, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if p != nil {
		req = req.WithContext(platformauth.WithPrincipal(context.Background(), *p))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMembersRoutes(t *testing.T) {
	t.Parallel()

	router, memory := newRouter(t)
	admin := uuid.New()
	member := uuid.New()
	memory.PutIdentity(member, "member@example.com", nil)
	memory.PutMembership(service.Membership{TenantID: "acme", IdentityID: admin, Role: platformauth.RoleAdmin})
	memory.PutMembership(service.Membership{TenantID: "acme", IdentityID: member, Role: platformauth.RoleMember})

	adminPrincipal := &platformauth.Principal{IdentityID: admin, TenantID: "acme", Role: platformauth.RoleAdmin}
	memberPrincipal := &platformauth.Principal{IdentityID: member, TenantID: "acme", Role: platformauth.RoleMember}

	rec := do(t, router, nil, http.MethodGet, "/tenants/current/members", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, router, memberPrincipal, http.MethodGet, "/tenants/current/members", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"email":"member@example.com"`)

	rec = do(t, router, memberPrincipal, http.MethodPut, "/tenants/current/members/"+admin.String(), `{"role":"member"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, adminPrincipal, http.MethodPut, "/tenants/current/members/not-a-uuid", `{"role":"member"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, adminPrincipal, http.MethodPut, "/tenants/current/members/"+admin.String(), `{"role":"member"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"conflict"`)

	rec = do(t, router, adminPrincipal, http.MethodPut, "/tenants/current/members/"+member.String(), `{"role":"system_admin"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, router, adminPrincipal, http.MethodPut, "/tenants/current/members/"+member.String(), `{"role":"admin"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"role":"admin"`)

	rec = do(t, router, adminPrincipal, http.MethodDelete, "/tenants/current/members/"+member.String(), "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, router, adminPrincipal, http.MethodDelete, "/tenants/current/members/"+member.String(), "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}
