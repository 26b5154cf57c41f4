package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	membershipsservice "github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/mailer"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Domain sentinel errors.
var (
	ErrNotFound           = errors.New("identity not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("operation not allowed")
	// ErrInvalidToken is shared with the auth middleware so unknown identities and revoked
	// sessions surface as 401.
	ErrInvalidToken = platformauth.ErrInvalidToken
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError is returned when the input payload is invalid.
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

// Identity is a person who can sign in.
type Identity struct {
	ID            uuid.UUID
	ExternalID    *string
	Email         string
	DisplayName   *string
	AvatarURL     *string
	PasswordHash  *string
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ExternalIdentity carries the claims of a token minted by an external provider.
type ExternalIdentity struct {
	ExternalID    string
	Email         string
	DisplayName   *string
	AvatarURL     *string
	EmailVerified bool
}

// UpdateParams holds optional identity changes; nil fields are left untouched.
type UpdateParams struct {
	DisplayName   *string
	PasswordHash  *string
	EmailVerified *bool
}

// LinkToken is a single-use passwordless sign-in token. Only the hash is stored.
type LinkToken struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	TokenHash  string
	RedirectTo string
	ExpiresAt  time.Time
}

// Session is a refresh session. Access tokens carry its id as jti.
type Session struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// ListOptions controls filtering and pagination of the identity listing.
type ListOptions struct {
	Email    *string
	Page     int
	PageSize int
	Sort     *string
}

// ListResult wraps a page of identities with pagination metadata.
type ListResult struct {
	Identities []Identity
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts persistence. Implementations return the persistence sentinels.
type Repository interface {
	Create(ctx context.Context, identity Identity) (Identity, error)
	Get(ctx context.Context, id uuid.UUID) (Identity, error)
	GetByEmail(ctx context.Context, email string) (Identity, error)
	UpsertExternal(ctx context.Context, ext ExternalIdentity) (Identity, error)
	Update(ctx context.Context, id uuid.UUID, params UpdateParams) (Identity, error)
	List(ctx context.Context, opts ListOptions) ([]Identity, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	ReplaceLinkToken(ctx context.Context, token LinkToken) error
	ConsumeLinkToken(ctx context.Context, tokenHash string) (LinkToken, error)

	CreateSession(ctx context.Context, session Session) (Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	GetSessionByHash(ctx context.Context, tokenHash string) (Session, error)
	RevokeSessionByHash(ctx context.Context, tokenHash string) (Session, error)
}

// MembershipResolver is satisfied by the memberships service.
type MembershipResolver interface {
	ResolvePrimaryMembership(ctx context.Context, identityID uuid.UUID, email, displayName string) (membershipsservice.Resolution, error)
	EffectiveMembership(ctx context.Context, identityID uuid.UUID) (membershipsservice.Resolution, bool, error)
	GrantPlatformAdmin(ctx context.Context, identityID uuid.UUID) error
}

// AttemptRecorder counts sign-in attempts. Satisfied by *metrics.Metrics.
type AttemptRecorder interface {
	AuthAttempt(method string, ok bool)
}

// Provider is the identity contract consumed by the HTTP layer and the CLI.
type Provider interface {
	CurrentIdentity(ctx context.Context) (Identity, platformauth.Principal, error)
	ListIdentities(ctx context.Context, opts ListOptions) (ListResult, error)
	CreateIdentity(ctx context.Context, input CreateInput) (Identity, error)
	DeleteIdentity(ctx context.Context, actor platformauth.Principal, id uuid.UUID) error
	SendPasswordlessLink(ctx context.Context, email, redirectTo string) error
	ExchangeLink(ctx context.Context, token string) (Tokens, error)
	Refresh(ctx context.Context, refreshToken string) (Tokens, error)
	SignOut(ctx context.Context, refreshToken string) error
}

var _ Provider = (*Service)(nil)

// Config carries the identity policy knobs.
type Config struct {
	RefreshTokenTTL time.Duration
	MagicLinkTTL    time.Duration
	// MagicLinkRedirectURL is where magic links land unless the caller picks an allowed origin.
	MagicLinkRedirectURL string
	// AllowedRedirectOrigins are scheme://host[:port] values callers may redirect to.
	AllowedRedirectOrigins []string
}

// Service owns identities, passwords, magic links and sessions.
type Service struct {
	repo        Repository
	memberships MembershipResolver
	issuer      *platformauth.TokenIssuer
	mailer      mailer.Mailer
	principals  cache.PrincipalCache
	attempts    AttemptRecorder
	logger      *zap.Logger
	cfg         Config
	origins     map[string]struct{}
	now         func() time.Time
}

// Deps groups the collaborators of the Service.
type Deps struct {
	Repo        Repository
	Memberships MembershipResolver
	Issuer      *platformauth.TokenIssuer
	Mailer      mailer.Mailer
	Principals  cache.PrincipalCache
	Attempts    AttemptRecorder
	Logger      *zap.Logger
}

type noopRecorder struct{}

func (noopRecorder) AuthAttempt(string, bool) {}

// New constructs a Service.
func New(deps Deps, cfg Config) *Service {
	if deps.Repo == nil {
		panic("identity repo is required")
	}
	if deps.Memberships == nil {
		panic("membership resolver is required")
	}
	if deps.Issuer == nil {
		panic("token issuer is required")
	}
	if deps.Mailer == nil {
		deps.Mailer = mailer.NewLogMailer(deps.Logger)
	}
	if deps.Principals == nil {
		deps.Principals = cache.Noop{}
	}
	if deps.Attempts == nil {
		deps.Attempts = noopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if cfg.MagicLinkTTL <= 0 {
		cfg.MagicLinkTTL = 15 * time.Minute
	}

	origins := make(map[string]struct{}, len(cfg.AllowedRedirectOrigins)+1)
	for _, raw := range cfg.AllowedRedirectOrigins {
		if origin, ok := originOf(raw); ok {
			origins[origin] = struct{}{}
		}
	}
	if origin, ok := originOf(cfg.MagicLinkRedirectURL); ok {
		origins[origin] = struct{}{}
	}

	return &Service{
		repo:        deps.Repo,
		memberships: deps.Memberships,
		issuer:      deps.Issuer,
		mailer:      deps.Mailer,
		principals:  deps.Principals,
		attempts:    deps.Attempts,
		logger:      deps.Logger,
		cfg:         cfg,
		origins:     origins,
		now:         time.Now,
	}
}

// originOf returns scheme://host of an absolute http(s) URL.
func originOf(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

func (s *Service) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return s.logger
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return ErrEmailTaken
	default:
		return err
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
