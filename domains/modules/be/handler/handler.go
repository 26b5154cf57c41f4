package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
)

const maxSettingsBytes = 64 << 10

type operation string

const (
	listOperation           operation = "modulesList"
	statusOperation         operation = "modulesStatus"
	setEnabledOperation     operation = "modulesSetEnabled"
	getSettingsOperation    operation = "modulesGetSettings"
	updateSettingsOperation operation = "modulesUpdateSettings"
)

// Handler wires the modules service to HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("modules service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the module routes on r.
func (h *Handler) Register(r chi.Router, authz *platformauth.Authorizer) {
	read := platformauth.RequirePermission(authz, platformauth.PermModulesRead)
	write := platformauth.RequirePermission(authz, platformauth.PermModulesWrite)

	r.With(read).Get("/modules", h.List)
	r.With(read).Get("/modules/{moduleId}/status", h.Status)
	r.With(write).Put("/modules/{moduleId}", h.SetEnabled)
	r.With(read).Get("/modules/{moduleId}/settings", h.GetSettings)
	r.With(write).Put("/modules/{moduleId}/settings", h.UpdateSettings)
}

type moduleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsFree      bool   `json:"isFree"`
	Enabled     bool   `json:"enabled"`
}

type settingsResponse struct {
	ModuleID string `json:"moduleId"`
	Settings any    `json:"settings"`
}

// List implements GET /modules.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	modules, err := h.svc.ListModules(r.Context(), tenantOf(r.Context()))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listOperation))
		return
	}
	items := make([]moduleResponse, 0, len(modules))
	for _, m := range modules {
		items = append(items, toModuleResponse(m))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// Status implements GET /modules/{moduleId}/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	m, err := h.svc.Status(r.Context(), tenantOf(r.Context()), chi.URLParam(r, "moduleId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, statusOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"moduleId": m.ID, "enabled": m.Enabled})
}

// SetEnabled implements PUT /modules/{moduleId}.
func (h *Handler) SetEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, setEnabledOperation))
		return
	}
	if body.Enabled == nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"enabled": {"El campo es obligatorio."}}))
		return
	}

	m, err := h.svc.SetModuleEnabled(r.Context(), tenantOf(r.Context()), chi.URLParam(r, "moduleId"), *body.Enabled)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, setEnabledOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toModuleResponse(m))
}

// GetSettings implements GET /modules/{moduleId}/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	moduleID := chi.URLParam(r, "moduleId")
	settings, err := h.svc.Settings(r.Context(), tenantOf(r.Context()), moduleID)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, getSettingsOperation))
		return
	}
	id, _ := service.CanonicalModuleID(moduleID)
	httpx.WriteJSON(w, http.StatusOK, settingsResponse{ModuleID: id, Settings: settings})
}

// UpdateSettings implements PUT /modules/{moduleId}/settings. The body is the whole settings document.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBytes))
	if err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"body": {"No pudimos leer la solicitud."}}))
		return
	}

	moduleID := chi.URLParam(r, "moduleId")
	settings, err := h.svc.UpdateSettings(r.Context(), tenantOf(r.Context()), moduleID, payload)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, updateSettingsOperation))
		return
	}
	id, _ := service.CanonicalModuleID(moduleID)
	httpx.WriteJSON(w, http.StatusOK, settingsResponse{ModuleID: id, Settings: settings})
}

func tenantOf(ctx context.Context) string {
	p, _ := platformauth.PrincipalFromContext(ctx)
	return p.TenantID
}

func toModuleResponse(m service.ModuleStatus) moduleResponse {
	return moduleResponse{ID: m.ID, Name: m.Name, Description: m.Description, IsFree: m.IsFree, Enabled: m.Enabled}
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
		logger.Error("modules operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("module not found", fields...)
	default:
		logger.Warn("modules request rejected", fields...)
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
	case errors.Is(err, service.ErrUnknownModule):
		return httpx.NotFound("Ese módulo no existe.")
	case errors.Is(err, service.ErrNotFound):
		return httpx.NotFound("No encontramos tu negocio.")
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
