package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
)

type operation string

const (
	listOperation       operation = "membersList"
	changeRoleOperation operation = "membersChangeRole"
	removeOperation     operation = "membersRemove"
)

// Service is the subset of the memberships service used over HTTP.
type Service interface {
	ListMembers(ctx context.Context, tenantID string) ([]service.Member, error)
	ChangeRole(ctx context.Context, actor platformauth.Principal, identityID uuid.UUID, role string) (service.Membership, error)
	RemoveMember(ctx context.Context, actor platformauth.Principal, identityID uuid.UUID) error
}

// Handler exposes tenant member administration.
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("memberships service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the member routes on r.
func (h *Handler) Register(r chi.Router, authz *platformauth.Authorizer) {
	r.With(platformauth.RequirePermission(authz, platformauth.PermTenantRead)).Get("/tenants/current/members", h.List)
	r.With(platformauth.RequirePermission(authz, platformauth.PermMembersWrite)).Put("/tenants/current/members/{identityId}", h.ChangeRole)
	r.With(platformauth.RequirePermission(authz, platformauth.PermMembersWrite)).Delete("/tenants/current/members/{identityId}", h.Remove)
}

type memberResponse struct {
	IdentityID  uuid.UUID `json:"identityId"`
	TenantID    string    `json:"tenantId"`
	Email       string    `json:"email,omitempty"`
	DisplayName *string   `json:"displayName,omitempty"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	principal, ok := platformauth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, httpx.Unauthenticated())
		return
	}

	members, err := h.svc.ListMembers(r.Context(), principal.TenantID)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listOperation))
		return
	}

	items := make([]memberResponse, 0, len(members))
	for _, m := range members {
		resp := toMemberResponse(m.Membership)
		resp.Email = m.Email
		resp.DisplayName = m.DisplayName
		items = append(items, resp)
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	principal, identityID, ok := h.target(w, r)
	if !ok {
		return
	}

	var body changeRoleRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, changeRoleOperation))
		return
	}

	updated, err := h.svc.ChangeRole(r.Context(), principal, identityID, body.Role)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, changeRoleOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toMemberResponse(updated))
}

func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	principal, identityID, ok := h.target(w, r)
	if !ok {
		return
	}

	if err := h.svc.RemoveMember(r.Context(), principal, identityID); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, removeOperation))
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (platformauth.Principal, uuid.UUID, bool) {
	principal, ok := platformauth.PrincipalFromContext(r.Context())
	if !ok {
		httpx.WriteProblem(w, httpx.Unauthenticated())
		return platformauth.Principal{}, uuid.Nil, false
	}
	identityID, err := uuid.Parse(chi.URLParam(r, "identityId"))
	if err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"identityId": {"Identificador inválido."}}))
		return platformauth.Principal{}, uuid.Nil, false
	}
	return principal, identityID, true
}

func toMemberResponse(m service.Membership) memberResponse {
	return memberResponse{
		IdentityID: m.IdentityID,
		TenantID:   m.TenantID,
		Role:       m.Role.String(),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
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
		logger.Error("memberships operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("membership not found", fields...)
	default:
		logger.Warn("memberships request rejected", fields...)
	}

	return problem
}

func classifyError(err error) httpx.Problem {
	var validationErr *service.ValidationError
	if p, ok := httpx.AsProblem(err); ok {
		return p
	}
	switch {
	case errors.As(err, &validationErr):
		return httpx.Validation(validationErr.Fields)
	case errors.Is(err, service.ErrNotFound):
		return httpx.NotFound("No encontramos a ese miembro en tu negocio.")
	case errors.Is(err, service.ErrForbidden):
		return httpx.Forbidden()
	case errors.Is(err, service.ErrLastAdmin):
		return httpx.Conflict("Tu negocio debe conservar al menos un administrador.")
	case errors.Is(err, service.ErrConflict):
		return httpx.Conflict("")
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
