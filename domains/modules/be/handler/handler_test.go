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

	"github.com/zenGate-Global/bizdesk/domains/modules/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

func TestModulesRoutes(t *testing.T) {
	t.Parallel()

	authz, err := platformauth.NewAuthorizer()
	require.NoError(t, err)
	svc := service.New(repo.NewMemoryRepository("acme"), persistence.NewSchemaValidator())
	router := chi.NewRouter()
	New(svc, zaptest.NewLogger(t)).Register(router, authz)

	admin := platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleAdmin}
	member := admin
	member.Role = platformauth.RoleMember

	serve := func(p platformauth.Principal, method, path, body string) *httptest.ResponseRecorder {
		var req *http.Request
		if body == "" {
			req = httptest.NewRequest(method, path, nil)
		} else {
			req = httptest.NewRequest(method, path, strings.NewReader(body))
		}
		req = req.WithContext(platformauth.WithPrincipal(context.Background(), p))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	rec := serve(member, http.MethodGet, "/modules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"id":"appointments"`)
	require.Contains(t, rec.Body.String(), `"name":"Citas"`)

	rec = serve(member, http.MethodPut, "/modules/appointments", `{"enabled":true}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(admin, http.MethodPut, "/modules/appointments", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(admin, http.MethodPut, "/modules/appointments", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"enabled":true`)

	rec = serve(member, http.MethodGet, "/modules/appointments/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"moduleId":"appointments","enabled":true}`, rec.Body.String())

	rec = serve(member, http.MethodGet, "/modules/invoice/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"moduleId":"invoices","enabled":false}`, rec.Body.String())

	rec = serve(member, http.MethodGet, "/modules/crm/status", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(admin, http.MethodPut, "/modules/link-in-bio/settings", `{"theme":"neon"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"theme"`)

	rec = serve(admin, http.MethodPut, "/modules/link-in-bio/settings", `{"title":"Acme","theme":"dark"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(member, http.MethodGet, "/modules/link-in-bio/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"moduleId":"link-in-bio","settings":{"title":"Acme","theme":"dark"}}`, rec.Body.String())
}
