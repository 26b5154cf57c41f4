package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/bizdesk/domains/appointments/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/appointments/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type fakeGate struct {
	enabled map[string]bool
	err     error
}

func (g fakeGate) IsModuleEnabled(_ context.Context, tenantID, moduleID string) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	return g.enabled[tenantID+"/"+moduleID], nil
}

func newRouter(t *testing.T, gate ModuleGate) (chi.Router, *repo.MemoryRepository) {
	t.Helper()

	authz, err := platformauth.NewAuthorizer()
	require.NoError(t, err)

	memory := repo.NewMemoryRepository("acme", "closed")
	memory.PutSettings("acme", json.RawMessage(`{"timezone":"UTC","slotMinutes":60}`))
	h := New(service.New(memory, zaptest.NewLogger(t)), gate, zaptest.NewLogger(t))

	router := chi.NewRouter()
	h.RegisterPublic(router, nil)
	h.Register(router, authz)
	return router, memory
}

func publicRequest(method, path, tenantID, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	return req.WithContext(tenant.WithSpace(context.Background(), tenant.Space{TenantID: tenantID, Domain: tenantID + ".example.com"}))
}

func TestPublicRoutesSoftFail(t *testing.T) {
	t.Parallel()

	gate := fakeGate{enabled: map[string]bool{"acme/appointments": true}}
	router, _ := newRouter(t, gate)

	tests := []struct {
		name     string
		tenantID string
		method   string
		path     string
		body     string
		status   int
		contains string
	}{
		{name: "unknown host availability", method: http.MethodGet, path: "/public/availability", status: http.StatusOK, contains: `"availability":[]`},
		{name: "module disabled availability", tenantID: "closed", method: http.MethodGet, path: "/public/availability", status: http.StatusOK, contains: `"source":null`},
		{name: "enabled availability", tenantID: "acme", method: http.MethodGet, path: "/public/availability", status: http.StatusOK, contains: `"source":"table"`},
		{name: "module disabled slots", tenantID: "closed", method: http.MethodGet, path: "/public/slots?date=2030-01-07", status: http.StatusOK, contains: `"items":[]`},
		{name: "missing date", tenantID: "acme", method: http.MethodGet, path: "/public/slots", status: http.StatusBadRequest, contains: `"date"`},
		{name: "invalid date", tenantID: "acme", method: http.MethodGet, path: "/public/slots?date=07-01-2030", status: http.StatusBadRequest, contains: `"code":"validation_error"`},
		{name: "enabled slots", tenantID: "acme", method: http.MethodGet, path: "/public/slots?date=2030-01-07", status: http.StatusOK, contains: `"startsAt":"2030-01-07T09:00:00Z"`},
		{name: "booking disabled", tenantID: "closed", method: http.MethodPost, path: "/public/appointments", body: `{}`, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, publicRequest(tt.method, tt.path, tt.tenantID, tt.body))
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.contains != "" {
				require.Contains(t, rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestPublicRoutesGateFailureSoftFails(t *testing.T) {
	t.Parallel()

	router, _ := newRouter(t, fakeGate{err: errors.New("db down")})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, publicRequest(http.MethodGet, "/public/availability", "acme", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"availability":[]`)
}

func TestPublicBooking(t *testing.T) {
	t.Parallel()

	router, _ := newRouter(t, fakeGate{enabled: map[string]bool{"acme/appointments": true}})
	body := `{"startsAt":"2030-01-07T10:00:00Z","customerName":"Ana","customerEmail":"ana@example.com"}`

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, publicRequest(http.MethodPost, "/public/appointments", "acme", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"pending"`)
	require.Contains(t, rec.Body.String(), `"endsAt":"2030-01-07T11:00:00Z"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, publicRequest(http.MethodPost, "/public/appointments", "acme", body))
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, publicRequest(http.MethodPost, "/public/appointments", "acme", `{"startsAt":"2030-01-07T11:00:00Z","customerName":"Ana","customerEmail":"nope"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"customerEmail"`)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, publicRequest(http.MethodGet, "/public/slots?date=2030-01-07", "acme", ""))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), `"startsAt":"2030-01-07T10:00:00Z"`)
}

func TestTenantRoutes(t *testing.T) {
	t.Parallel()

	router, memory := newRouter(t, fakeGate{})
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

	rec := serve(member, http.MethodPut, "/appointments/business-hours", `{"items":[]}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(admin, http.MethodPut, "/appointments/business-hours", `{"items":[{"weekday":0,"start":"10:00","end":"09:00"}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), `"businessHours/0"`)

	rec = serve(admin, http.MethodPut, "/appointments/business-hours", `{"items":[{"weekday":0,"start":"10:00","end":"14:00"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(admin, http.MethodPut, "/appointments/breaks", `{"items":[{"weekday":0,"start":"12:00","end":"12:30"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(member, http.MethodGet, "/appointments/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{
		"availability": [{"weekday":0,"start":"10:00","end":"14:00"}],
		"breaks": [{"weekday":0,"start":"12:00","end":"12:30"}],
		"timeOff": [],
		"source": "table"
	}`, rec.Body.String())

	rec = serve(admin, http.MethodPost, "/appointments/time-off", `{"startsAt":"2030-02-01T00:00:00Z","endsAt":"2030-02-03T00:00:00Z","reason":"Vacaciones"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = serve(member, http.MethodGet, "/appointments/time-off", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"reason":"Vacaciones"`)

	rec = serve(admin, http.MethodDelete, "/appointments/time-off/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(admin, http.MethodDelete, "/appointments/time-off/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	id := uuid.New()
	memory.PutAppointment(service.Appointment{ID: id, TenantID: "acme", CustomerName: "Ana", CustomerEmail: "ana@example.com",
		StartsAt: mustTime(t, "2030-01-07T10:00:00Z"), EndsAt: mustTime(t, "2030-01-07T11:00:00Z"), Status: service.StatusPending})

	rec = serve(member, http.MethodGet, "/appointments?from=2030-01-01T00:00:00Z&to=2030-01-31T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), id.String())

	rec = serve(member, http.MethodGet, "/appointments?from=yesterday", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(admin, http.MethodPatch, "/appointments/"+id.String(), `{"status":"confirmed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"confirmed"`)

	rec = serve(admin, http.MethodPatch, "/appointments/"+id.String(), `{"status":"confirmed"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = serve(admin, http.MethodPatch, "/appointments/not-a-uuid", `{"status":"confirmed"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func mustTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return parsed
}
