package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/domains/identity/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
)

type operation string

const (
	signupOperation         operation = "authSignup"
	loginOperation          operation = "authLogin"
	magicLinkOperation      operation = "authMagicLink"
	exchangeOperation       operation = "authExchange"
	refreshOperation        operation = "authRefresh"
	logoutOperation         operation = "authLogout"
	meOperation             operation = "me"
	listIdentitiesOperation operation = "identitiesList"
	createIdentityOperation operation = "identitiesCreate"
	deleteIdentityOperation operation = "identitiesDelete"
	grantAdminOperation     operation = "platformAdminsGrant"
)

// Handler wires the identity service to HTTP.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("identity service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterPublic mounts the sign-in routes. limit throttles them per client.
func (h *Handler) RegisterPublic(r chi.Router, limit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if limit != nil {
			r.Use(limit)
		}
		r.Post("/auth/signup", h.Signup)
		r.Post("/auth/login", h.Login)
		r.Post("/auth/magic-link", h.MagicLink)
		r.Post("/auth/session", h.Exchange)
		r.Post("/auth/refresh", h.Refresh)
		r.Post("/auth/logout", h.Logout)
	})
}

// Register mounts the authenticated routes on r.
func (h *Handler) Register(r chi.Router, authz *platformauth.Authorizer) {
	manage := platformauth.RequirePermission(authz, platformauth.PermPlatformManage)

	r.With(platformauth.RequireAuthenticated).Get("/me", h.Me)
	r.With(manage).Get("/admin/identities", h.ListIdentities)
	r.With(manage).Post("/admin/identities", h.CreateIdentity)
	r.With(manage).Delete("/admin/identities/{identityId}", h.DeleteIdentity)
	r.With(manage).Put("/admin/platform-admins/{identityId}", h.GrantPlatformAdmin)
}

type identityResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   *string   `json:"displayName"`
	AvatarURL     *string   `json:"avatarUrl"`
	EmailVerified bool      `json:"emailVerified"`
	HasPassword   bool      `json:"hasPassword"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type sessionResponse struct {
	AccessToken      string            `json:"accessToken"`
	TokenType        string            `json:"tokenType"`
	ExpiresIn        int64             `json:"expiresIn"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	RefreshToken     string            `json:"refreshToken"`
	RefreshExpiresAt time.Time         `json:"refreshExpiresAt"`
	RedirectTo       *string           `json:"redirectTo,omitempty"`
	Identity         identityResponse  `json:"identity"`
	TenantID         string            `json:"tenantId"`
	Role             platformauth.Role `json:"role"`
	IsPlatformAdmin  bool              `json:"isPlatformAdmin"`
}

type meResponse struct {
	Identity        identityResponse  `json:"identity"`
	TenantID        string            `json:"tenantId"`
	Role            platformauth.Role `json:"role"`
	IsPlatformAdmin bool              `json:"isPlatformAdmin"`
}

type credentialsBody struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshBody struct {
	RefreshToken string `json:"refreshToken"`
}

// Signup implements POST /auth/signup.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string  `json:"email"`
		Password     string  `json:"password"`
		DisplayName  *string `json:"displayName"`
		BusinessName *string `json:"businessName"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, signupOperation))
		return
	}

	tokens, err := h.svc.Signup(r.Context(), service.SignupInput{
		Email:        body.Email,
		Password:     body.Password,
		DisplayName:  body.DisplayName,
		BusinessName: body.BusinessName,
	})
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, signupOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, h.toSessionResponse(tokens))
}

// Login implements POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, loginOperation))
		return
	}

	tokens, err := h.svc.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, loginOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toSessionResponse(tokens))
}

// MagicLink implements POST /auth/magic-link. The answer is 202 whether or not the email is known.
func (h *Handler) MagicLink(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email      string `json:"email"`
		RedirectTo string `json:"redirectTo"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, magicLinkOperation))
		return
	}

	if err := h.svc.SendPasswordlessLink(r.Context(), body.Email, body.RedirectTo); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, magicLinkOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// Exchange implements POST /auth/session, trading a magic-link token for a session.
func (h *Handler) Exchange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, exchangeOperation))
		return
	}

	tokens, err := h.svc.ExchangeLink(r.Context(), body.Token)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, exchangeOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toSessionResponse(tokens))
}

// Refresh implements POST /auth/refresh.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, refreshOperation))
		return
	}

	tokens, err := h.svc.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, refreshOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, h.toSessionResponse(tokens))
}

// Logout implements POST /auth/logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	var body refreshBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, logoutOperation))
		return
	}
	if err := h.svc.SignOut(r.Context(), body.RefreshToken); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, logoutOperation))
		return
	}
	httpx.NoContent(w)
}

// Me implements GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	identity, principal, err := h.svc.CurrentIdentity(r.Context())
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, meOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, meResponse{
		Identity:        toIdentityResponse(identity),
		TenantID:        principal.TenantID,
		Role:            principal.Role,
		IsPlatformAdmin: principal.IsPlatformAdmin,
	})
}

// ListIdentities implements GET /admin/identities.
func (h *Handler) ListIdentities(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var opts service.ListOptions
	if err := runtime.BindQueryParameter("form", true, false, "page", query, &opts.Page); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"page": {"Debe ser un número entero."}}))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "pageSize", query, &opts.PageSize); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"pageSize": {"Debe ser un número entero."}}))
		return
	}
	if v := query.Get("email"); v != "" {
		opts.Email = &v
	}
	if v := query.Get("sort"); v != "" {
		opts.Sort = &v
	}

	result, err := h.svc.ListIdentities(r.Context(), opts)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listIdentitiesOperation))
		return
	}

	items := make([]identityResponse, 0, len(result.Identities))
	for _, identity := range result.Identities {
		items = append(items, toIdentityResponse(identity))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"page":       result.Page,
		"pageSize":   result.PageSize,
		"totalItems": result.TotalItems,
		"totalPages": result.TotalPages,
	})
}

// CreateIdentity implements POST /admin/identities.
func (h *Handler) CreateIdentity(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string  `json:"email"`
		DisplayName *string `json:"displayName"`
		Password    *string `json:"password"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, createIdentityOperation))
		return
	}

	identity, err := h.svc.CreateIdentity(r.Context(), service.CreateInput{
		Email:       body.Email,
		DisplayName: body.DisplayName,
		Password:    body.Password,
	})
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, createIdentityOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toIdentityResponse(identity))
}

// DeleteIdentity implements DELETE /admin/identities/{identityId}.
func (h *Handler) DeleteIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "identityId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, deleteIdentityOperation))
		return
	}
	actor, _ := platformauth.PrincipalFromContext(r.Context())
	if err := h.svc.DeleteIdentity(r.Context(), actor, id); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, deleteIdentityOperation))
		return
	}
	httpx.NoContent(w)
}

// GrantPlatformAdmin implements PUT /admin/platform-admins/{identityId}.
func (h *Handler) GrantPlatformAdmin(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "identityId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, grantAdminOperation))
		return
	}
	if err := h.svc.GrantPlatformAdmin(r.Context(), id); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, grantAdminOperation))
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) toSessionResponse(tokens service.Tokens) sessionResponse {
	resp := sessionResponse{
		AccessToken:      tokens.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        int64(time.Until(tokens.AccessExpiresAt).Seconds()),
		ExpiresAt:        tokens.AccessExpiresAt,
		RefreshToken:     tokens.RefreshToken,
		RefreshExpiresAt: tokens.RefreshExpiresAt,
		Identity:         toIdentityResponse(tokens.Identity),
		TenantID:         tokens.Membership.TenantID,
		Role:             tokens.Membership.Role,
		IsPlatformAdmin:  tokens.Membership.IsPlatformAdmin,
	}
	if tokens.RedirectTo != "" {
		redirect := tokens.RedirectTo
		resp.RedirectTo = &redirect
	}
	return resp
}

func toIdentityResponse(identity service.Identity) identityResponse {
	return identityResponse{
		ID:            identity.ID,
		Email:         identity.Email,
		DisplayName:   identity.DisplayName,
		AvatarURL:     identity.AvatarURL,
		EmailVerified: identity.EmailVerified,
		HasPassword:   identity.PasswordHash != nil,
		CreatedAt:     identity.CreatedAt,
		UpdatedAt:     identity.UpdatedAt,
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
		logger.Error("identity operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("identity not found", fields...)
	default:
		logger.Warn("identity request rejected", fields...)
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
	case errors.Is(err, service.ErrInvalidCredentials):
		return httpx.NewProblem(http.StatusUnauthorized, httpx.CodeUnauthenticated, "Correo o contraseña incorrectos.")
	case errors.Is(err, service.ErrInvalidToken):
		return httpx.NewProblem(http.StatusUnauthorized, httpx.CodeUnauthenticated, "El enlace o la sesión ya no es válido.")
	case errors.Is(err, service.ErrEmailTaken):
		return httpx.Conflict("Ya existe una cuenta con ese correo.")
	case errors.Is(err, service.ErrForbidden):
		return httpx.NewProblem(http.StatusForbidden, httpx.CodeForbidden, "No puedes eliminar tu propia cuenta.")
	case errors.Is(err, service.ErrNotFound):
		return httpx.NotFound("No encontramos esa cuenta.")
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
