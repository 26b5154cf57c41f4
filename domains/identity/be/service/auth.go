package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	membershipsservice "github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/mailer"
)

const (
	methodPassword  = "password"
	methodMagicLink = "magic_link"
	methodRefresh   = "refresh"

	maxEmailLength       = 254
	maxDisplayNameLength = 120
)

// Tokens is the outcome of a successful sign-in.
type Tokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	Identity         Identity
	Membership       membershipsservice.Resolution
	// RedirectTo is set when the session came from a magic link.
	RedirectTo string
}

// SignupInput carries the fields of a password signup.
type SignupInput struct {
	Email        string
	Password     string
	DisplayName  *string
	BusinessName *string
}

// Signup registers a password identity, provisions its primary tenant and opens a session.
func (s *Service) Signup(ctx context.Context, input SignupInput) (Tokens, error) {
	email := normalizeEmail(input.Email)
	displayName := trimOptional(input.DisplayName)
	businessName := trimOptional(input.BusinessName)

	fields := FieldErrors{}
	validateEmail(fields, email)
	if displayName != nil && len(*displayName) > maxDisplayNameLength {
		fields.add("displayName", fmt.Sprintf("displayName must be at most %d characters", maxDisplayNameLength))
	}
	if businessName != nil && len(*businessName) > maxDisplayNameLength {
		fields.add("businessName", fmt.Sprintf("businessName must be at most %d characters", maxDisplayNameLength))
	}
	hash, err := platformauth.HashPassword(input.Password)
	if err != nil {
		if !errors.Is(err, platformauth.ErrPasswordTooShort) {
			return Tokens{}, err
		}
		fields.add("password", err.Error())
	}
	if len(fields) > 0 {
		return Tokens{}, &ValidationError{Fields: fields}
	}

	identity, err := s.repo.Create(ctx, Identity{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: &hash,
	})
	if err != nil {
		return Tokens{}, mapPersistenceError(err)
	}

	s.loggerFrom(ctx).Info("identity signed up", zap.String("identity_id", identity.ID.String()))

	tenantName := ""
	switch {
	case businessName != nil:
		tenantName = *businessName
	case displayName != nil:
		tenantName = *displayName
	}
	return s.openSession(ctx, identity, tenantName)
}

// Login verifies an email and password pair.
func (s *Service) Login(ctx context.Context, email, password string) (Tokens, error) {
	identity, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			s.attempts.AuthAttempt(methodPassword, false)
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}
	if identity.PasswordHash == nil {
		s.attempts.AuthAttempt(methodPassword, false)
		return Tokens{}, ErrInvalidCredentials
	}
	if err := platformauth.CheckPassword(*identity.PasswordHash, password); err != nil {
		s.attempts.AuthAttempt(methodPassword, false)
		if errors.Is(err, platformauth.ErrPasswordMismatch) {
			return Tokens{}, ErrInvalidCredentials
		}
		return Tokens{}, err
	}

	s.attempts.AuthAttempt(methodPassword, true)
	return s.openSession(ctx, identity, displayNameOf(identity))
}

// SendPasswordlessLink emails a single-use sign-in link. Unknown emails get an unverified
// identity so the response never reveals whether an account exists.
func (s *Service) SendPasswordlessLink(ctx context.Context, email, redirectTo string) error {
	email = normalizeEmail(email)
	fields := FieldErrors{}
	validateEmail(fields, email)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	identity, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(mapPersistenceError(err), ErrNotFound) {
		identity, err = s.repo.Create(ctx, Identity{ID: uuid.New(), Email: email})
		if errors.Is(mapPersistenceError(err), ErrEmailTaken) {
			identity, err = s.repo.GetByEmail(ctx, email)
		}
	}
	if err != nil {
		return fmt.Errorf("lookup identity: %w", err)
	}

	token, err := platformauth.GenerateOpaqueToken()
	if err != nil {
		return err
	}
	target := s.redirectTarget(redirectTo)
	expiresAt := s.now().Add(s.cfg.MagicLinkTTL)
	if err := s.repo.ReplaceLinkToken(ctx, LinkToken{
		ID:         uuid.New(),
		IdentityID: identity.ID,
		TokenHash:  platformauth.HashOpaqueToken(token),
		RedirectTo: target,
		ExpiresAt:  expiresAt,
	}); err != nil {
		return fmt.Errorf("store link token: %w", err)
	}

	link, err := linkURL(target, token)
	if err != nil {
		return err
	}
	if err := s.mailer.SendMagicLink(ctx, mailer.MagicLink{To: identity.Email, URL: link, ExpiresAt: expiresAt}); err != nil {
		s.loggerFrom(ctx).Error("send magic link failed", zap.String("identity_id", identity.ID.String()), zap.Error(err))
		return nil
	}
	return nil
}

// ExchangeLink consumes a magic-link token and opens a session. Unknown, expired and reused
// tokens fail with ErrInvalidToken.
func (s *Service) ExchangeLink(ctx context.Context, token string) (Tokens, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Tokens{}, &ValidationError{Fields: FieldErrors{"token": {"token is required"}}}
	}

	link, err := s.repo.ConsumeLinkToken(ctx, platformauth.HashOpaqueToken(token))
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			s.attempts.AuthAttempt(methodMagicLink, false)
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, err
	}

	identity, err := s.repo.Get(ctx, link.IdentityID)
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, err
	}
	if !identity.EmailVerified {
		verified := true
		if identity, err = s.repo.Update(ctx, identity.ID, UpdateParams{EmailVerified: &verified}); err != nil {
			return Tokens{}, mapPersistenceError(err)
		}
	}

	s.attempts.AuthAttempt(methodMagicLink, true)
	tokens, err := s.openSession(ctx, identity, displayNameOf(identity))
	if err != nil {
		return Tokens{}, err
	}
	tokens.RedirectTo = link.RedirectTo
	return tokens, nil
}

// Refresh issues a new access token for a live refresh session. The refresh token itself is
// not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, &ValidationError{Fields: FieldErrors{"refreshToken": {"refreshToken is required"}}}
	}

	session, err := s.repo.GetSessionByHash(ctx, platformauth.HashOpaqueToken(refreshToken))
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			s.attempts.AuthAttempt(methodRefresh, false)
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, err
	}
	if !s.sessionLive(session) {
		s.attempts.AuthAttempt(methodRefresh, false)
		return Tokens{}, ErrInvalidToken
	}

	identity, err := s.repo.Get(ctx, session.IdentityID)
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			return Tokens{}, ErrInvalidToken
		}
		return Tokens{}, err
	}

	res, err := s.membershipOf(ctx, identity, displayNameOf(identity))
	if err != nil {
		return Tokens{}, err
	}
	access, accessExp, err := s.issueAccess(identity, session.ID)
	if err != nil {
		return Tokens{}, err
	}

	s.attempts.AuthAttempt(methodRefresh, true)
	return Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: session.ExpiresAt,
		Identity:         identity,
		Membership:       res,
	}, nil
}

// SignOut revokes the refresh session and drops cached principals of its identity.
// Unknown tokens are ignored.
func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return &ValidationError{Fields: FieldErrors{"refreshToken": {"refreshToken is required"}}}
	}

	session, err := s.repo.RevokeSessionByHash(ctx, platformauth.HashOpaqueToken(refreshToken))
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			return nil
		}
		return err
	}

	s.principals.InvalidateIdentity(ctx, session.IdentityID)
	s.loggerFrom(ctx).Info("session revoked",
		zap.String("identity_id", session.IdentityID.String()),
		zap.String("session_id", session.ID.String()),
	)
	return nil
}

// openSession resolves the primary membership, stores a refresh session and signs an access token.
func (s *Service) openSession(ctx context.Context, identity Identity, tenantName string) (Tokens, error) {
	res, err := s.memberships.ResolvePrimaryMembership(ctx, identity.ID, identity.Email, tenantName)
	if err != nil {
		return Tokens{}, fmt.Errorf("resolve membership: %w", err)
	}

	refresh, err := platformauth.GenerateOpaqueToken()
	if err != nil {
		return Tokens{}, err
	}
	session, err := s.repo.CreateSession(ctx, Session{
		ID:         uuid.New(),
		IdentityID: identity.ID,
		TokenHash:  platformauth.HashOpaqueToken(refresh),
		ExpiresAt:  s.now().Add(s.cfg.RefreshTokenTTL),
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("create session: %w", err)
	}

	access, accessExp, err := s.issueAccess(identity, session.ID)
	if err != nil {
		return Tokens{}, err
	}

	return Tokens{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: session.ExpiresAt,
		Identity:         identity,
		Membership:       res,
	}, nil
}

func (s *Service) issueAccess(identity Identity, sessionID uuid.UUID) (string, time.Time, error) {
	return s.issuer.Issue(platformauth.AccessTokenInput{
		IdentityID:    identity.ID,
		SessionID:     sessionID,
		Email:         identity.Email,
		EmailVerified: identity.EmailVerified,
		Name:          displayNameOf(identity),
	})
}

func (s *Service) sessionLive(session Session) bool {
	return session.RevokedAt == nil && s.now().Before(session.ExpiresAt)
}

// redirectTarget keeps the caller's redirect only when its origin is allowed.
func (s *Service) redirectTarget(requested string) string {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return s.cfg.MagicLinkRedirectURL
	}
	origin, ok := originOf(requested)
	if !ok {
		return s.cfg.MagicLinkRedirectURL
	}
	if _, allowed := s.origins[origin]; !allowed {
		return s.cfg.MagicLinkRedirectURL
	}
	return requested
}

func linkURL(target, token string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse redirect: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func validateEmail(fields FieldErrors, email string) {
	if email == "" {
		fields.add("email", "email is required")
		return
	}
	if len(email) > maxEmailLength {
		fields.add("email", fmt.Sprintf("email must be at most %d characters", maxEmailLength))
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		fields.add("email", "email is not a valid address")
	}
}

func displayNameOf(identity Identity) string {
	if identity.DisplayName != nil {
		return *identity.DisplayName
	}
	return ""
}
