package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/domains/linkinbio/be/service"
	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type operation string

const (
	publicProfileOperation operation = "linksPublicProfile"
	listOperation          operation = "linksList"
	createOperation        operation = "linksCreate"
	updateOperation        operation = "linksUpdate"
	deleteOperation        operation = "linksDelete"
)

// ModuleGate reports whether a tenant has a module enabled.
type ModuleGate interface {
	IsModuleEnabled(ctx context.Context, tenantID, moduleID string) (bool, error)
}

// Handler wires the link-in-bio service to HTTP.
type Handler struct {
	svc    *service.Service
	gate   ModuleGate
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, gate ModuleGate, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("link-in-bio service is required")
	}
	if gate == nil {
		panic("module gate is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, gate: gate, logger: logger}
}

// RegisterPublic mounts the unauthenticated profile route.
func (h *Handler) RegisterPublic(r chi.Router) {
	r.Get("/public/links", h.PublicProfile)
}

// Register mounts the tenant routes on r.
func (h *Handler) Register(r chi.Router, authz *platformauth.Authorizer) {
	read := platformauth.RequirePermission(authz, platformauth.PermLinksRead)
	write := platformauth.RequirePermission(authz, platformauth.PermLinksWrite)

	r.With(read).Get("/links", h.List)
	r.With(write).Post("/links", h.Create)
	r.With(write).Patch("/links/{linkId}", h.Update)
	r.With(write).Delete("/links/{linkId}", h.Delete)
}

type linkResponse struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Position  int       `json:"position"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type publicLink struct {
	ID    uuid.UUID `json:"id"`
	Title string    `json:"title"`
	URL   string    `json:"url"`
}

type profileResponse struct {
	Title     *string      `json:"title"`
	Bio       *string      `json:"bio"`
	Theme     string       `json:"theme"`
	AvatarURL *string      `json:"avatarUrl"`
	Links     []publicLink `json:"links"`
}

func emptyProfile() profileResponse {
	return profileResponse{Theme: modulesservice.DefaultTheme, Links: []publicLink{}}
}

// PublicProfile implements GET /public/links. Unknown tenants and tenants without the module
// get an empty profile.
func (h *Handler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := tenant.TenantIDFromContext(ctx)
	if tenantID == "" {
		httpx.WriteJSON(w, http.StatusOK, emptyProfile())
		return
	}

	enabled, err := h.gate.IsModuleEnabled(ctx, tenantID, modulesservice.ModuleLinkInBio)
	if err != nil {
		h.loggerFrom(ctx).Warn("check link-in-bio module", zap.String("tenant_id", tenantID), zap.Error(err))
	}
	if err != nil || !enabled {
		httpx.WriteJSON(w, http.StatusOK, emptyProfile())
		return
	}

	profile, err := h.svc.PublicProfile(ctx, tenantID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			httpx.WriteJSON(w, http.StatusOK, emptyProfile())
			return
		}
		httpx.WriteProblem(w, h.problemForError(ctx, err, publicProfileOperation))
		return
	}

	resp := profileResponse{
		Title:     optional(profile.Settings.Title),
		Bio:       optional(profile.Settings.Bio),
		Theme:     profile.Settings.Theme,
		AvatarURL: optional(profile.Settings.AvatarURL),
		Links:     make([]publicLink, 0, len(profile.Links)),
	}
	for _, l := range profile.Links {
		resp.Links = append(resp.Links, publicLink{ID: l.ID, Title: l.Title, URL: l.URL})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// List implements GET /links.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	links, err := h.svc.List(r.Context(), tenantOf(r.Context()))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listOperation))
		return
	}
	items := make([]linkResponse, 0, len(links))
	for _, l := range links {
		items = append(items, toLinkResponse(l))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Create implements POST /links.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title    string `json:"title"`
		URL      string `json:"url"`
		Position *int   `json:"position"`
		IsActive *bool  `json:"isActive"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, createOperation))
		return
	}

	link, err := h.svc.Create(r.Context(), tenantOf(r.Context()), service.CreateInput{
		Title:    body.Title,
		URL:      body.URL,
		Position: body.Position,
		IsActive: body.IsActive,
	})
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, createOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toLinkResponse(link))
}

// Update implements PATCH /links/{linkId}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "linkId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, updateOperation))
		return
	}

	var body struct {
		Title    *string `json:"title"`
		URL      *string `json:"url"`
		Position *int    `json:"position"`
		IsActive *bool   `json:"isActive"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, updateOperation))
		return
	}

	link, err := h.svc.Update(r.Context(), tenantOf(r.Context()), id, service.UpdateParams{
		Title:    body.Title,
		URL:      body.URL,
		Position: body.Position,
		IsActive: body.IsActive,
	})
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, updateOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toLinkResponse(link))
}

// Delete implements DELETE /links/{linkId}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "linkId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, deleteOperation))
		return
	}
	if err := h.svc.Delete(r.Context(), tenantOf(r.Context()), id); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, deleteOperation))
		return
	}
	httpx.NoContent(w)
}

func tenantOf(ctx context.Context) string {
	p, _ := platformauth.PrincipalFromContext(ctx)
	return p.TenantID
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func toLinkResponse(l service.Link) linkResponse {
	return linkResponse{
		ID:        l.ID,
		Title:     l.Title,
		URL:       l.URL,
		Position:  l.Position,
		IsActive:  l.IsActive,
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
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
		logger.Error("links operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("link not found", fields...)
	default:
		logger.Warn("links request rejected", fields...)
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
		return httpx.NotFound("No encontramos ese enlace.")
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
