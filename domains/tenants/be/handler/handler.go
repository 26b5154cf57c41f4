package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type operation string

const (
	resolveOperation      operation = "tenantsResolve"
	getOperation          operation = "tenantsGetCurrent"
	renameOperation       operation = "tenantsRename"
	reslugOperation       operation = "tenantsReslug"
	listOperation         operation = "tenantsList"
	listDomainsOperation  operation = "domainsList"
	addDomainOperation    operation = "domainsAdd"
	removeDomainOperation operation = "domainsRemove"
)

// Handler wires the tenants service to HTTP.
type Handler struct {
	svc        *service.Service
	trustProxy bool
	logger     *zap.Logger
}

// New constructs a Handler instance. trustProxy makes host resolution honor X-Forwarded-Host.
func New(svc *service.Service, trustProxy bool, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, trustProxy: trustProxy, logger: logger}
}

// RegisterPublic mounts the unauthenticated routes.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/tenants/resolve", h.Resolve)
}

// Register mounts the authenticated routes.
func (h *Handler) Register(r chi.Router, authz *platformauth.Authorizer) {
	read := platformauth.RequirePermission(authz, platformauth.PermTenantRead)
	write := platformauth.RequirePermission(authz, platformauth.PermTenantWrite)
	domains := platformauth.RequirePermission(authz, platformauth.PermDomainsWrite)

	r.With(read).Get("/tenants/current", h.GetCurrent)
	r.With(write).Patch("/tenants/current", h.Rename)
	r.With(write).Post("/tenants/current/slug", h.Reslug)
	r.With(read).Get("/tenants/current/domains", h.ListDomains)
	r.With(domains).Post("/tenants/current/domains", h.AddDomain)
	r.With(domains).Delete("/tenants/current/domains/{domain}", h.RemoveDomain)
	r.With(platformauth.RequirePermission(authz, platformauth.PermPlatformManage)).Get("/admin/tenants", h.List)
}

type tenantResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type domainResponse struct {
	Domain    string    `json:"domain"`
	TenantID  string    `json:"tenantId"`
	CreatedAt time.Time `json:"createdAt"`
}

type resolveResponse struct {
	TenantID *string `json:"tenantId"`
	Domain   string  `json:"domain"`
}

type reslugResponse struct {
	TenantID         string `json:"tenantId"`
	PreviousTenantID string `json:"previousTenantId"`
	Status           string `json:"status"`
}

type listResponse struct {
	Items      []tenantResponse `json:"items"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalItems int              `json:"totalItems"`
	TotalPages int              `json:"totalPages"`
}

// Resolve implements GET /tenants/resolve. Without ?host= the request host is used.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		host = tenant.EffectiveHost(r, h.trustProxy)
	}

	res, err := h.svc.Resolve(r.Context(), host)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, resolveOperation))
		return
	}

	out := resolveResponse{Domain: res.Domain}
	if res.Found() {
		id := res.TenantID
		out.TenantID = &id
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// GetCurrent implements GET /tenants/current.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), tenantOf(r.Context()))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, getOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTenantResponse(t))
}

// Rename implements PATCH /tenants/current.
func (h *Handler) Rename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, renameOperation))
		return
	}

	t, err := h.svc.Rename(r.Context(), tenantOf(r.Context()), body.Name)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, renameOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTenantResponse(t))
}

// Reslug implements POST /tenants/current/slug.
func (h *Handler) Reslug(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Slug string `json:"slug"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, reslugOperation))
		return
	}

	res, err := h.svc.Reslug(r.Context(), tenantOf(r.Context()), body.Slug)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, reslugOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, reslugResponse{
		TenantID:         res.TenantID,
		PreviousTenantID: res.PreviousID,
		Status:           string(res.Status),
	})
}

// List implements GET /admin/tenants.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var opts service.ListOptions
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &opts.Page); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"page": {"Debe ser un número entero."}}))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "pageSize", query, &opts.PageSize); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"pageSize": {"Debe ser un número entero."}}))
		return
	}

	res, err := h.svc.List(r.Context(), opts)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listOperation))
		return
	}

	items := make([]tenantResponse, 0, len(res.Tenants))
	for _, t := range res.Tenants {
		items = append(items, toTenantResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, listResponse{
		Items:      items,
		Page:       res.Page,
		PageSize:   res.PageSize,
		TotalItems: res.TotalItems,
		TotalPages: res.TotalPages,
	})
}

// ListDomains implements GET /tenants/current/domains.
func (h *Handler) ListDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := h.svc.ListDomains(r.Context(), tenantOf(r.Context()))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listDomainsOperation))
		return
	}
	items := make([]domainResponse, 0, len(domains))
	for _, d := range domains {
		items = append(items, toDomainResponse(d))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// AddDomain implements POST /tenants/current/domains.
func (h *Handler) AddDomain(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Domain string `json:"domain"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, addDomainOperation))
		return
	}

	d, err := h.svc.AddDomain(r.Context(), tenantOf(r.Context()), body.Domain)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, addDomainOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toDomainResponse(d))
}

// RemoveDomain implements DELETE /tenants/current/domains/{domain}.
func (h *Handler) RemoveDomain(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveDomain(r.Context(), tenantOf(r.Context()), chi.URLParam(r, "domain")); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, removeDomainOperation))
		return
	}
	httpx.NoContent(w)
}

func tenantOf(ctx context.Context) string {
	p, _ := platformauth.PrincipalFromContext(ctx)
	return p.TenantID
}

func toTenantResponse(t service.Tenant) tenantResponse {
	return tenantResponse{ID: t.ID, Name: t.Name, CreatedAt: t.CreatedAt, UpdatedAt: t.UpdatedAt}
}

func toDomainResponse(d service.Domain) domainResponse {
	return domainResponse{Domain: d.Domain, TenantID: d.TenantID, CreatedAt: d.CreatedAt}
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) httpx.Problem {
	problem := classifyError(err)

	logger := h.loggerFrom(ctx)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", problem.Status),
		zap.Error(err),
	}

	switch {
	case problem.Status >= http.StatusInternalServerError:
		logger.Error("tenants operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("tenants resource not found", fields...)
	default:
		logger.Warn("tenants request rejected", fields...)
	}

	return problem
}

func classifyError(err error) httpx.Problem {
	if p, ok := httpx.AsProblem(err); ok {
		return p
	}
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return httpx.Validation(validationErr.Fields)
	case errors.Is(err, service.ErrNotFound):
		return httpx.NotFound("No encontramos el negocio o dominio solicitado.")
	case errors.Is(err, service.ErrConflict):
		return httpx.Conflict("Ese identificador o dominio ya está en uso.")
	default:
		return httpx.Internal()
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
