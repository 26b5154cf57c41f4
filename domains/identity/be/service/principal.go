package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	membershipsservice "github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
)

// ResolvePrincipal maps verified token credentials to the caller's identity and membership.
// Session tokens must belong to a live session; tokens from external providers upsert the
// identity on first sight. Unknown identities and revoked sessions yield ErrInvalidToken.
func (s *Service) ResolvePrincipal(ctx context.Context, creds *platformauth.UserCredentials) (platformauth.Principal, error) {
	if creds == nil {
		return platformauth.Principal{}, ErrInvalidToken
	}

	var (
		identity Identity
		err      error
	)
	switch creds.Provider {
	case platformauth.ProviderSession:
		identity, err = s.sessionIdentity(ctx, creds)
	default:
		identity, err = s.externalIdentity(ctx, creds)
	}
	if err != nil {
		return platformauth.Principal{}, err
	}

	res, err := s.membershipOf(ctx, identity, displayNameOf(identity))
	if err != nil {
		return platformauth.Principal{}, err
	}

	return platformauth.Principal{
		IdentityID:      identity.ID,
		Email:           identity.Email,
		DisplayName:     identity.DisplayName,
		TenantID:        res.TenantID,
		Role:            res.Role,
		IsPlatformAdmin: res.IsPlatformAdmin,
		SessionID:       creds.SessionID,
	}, nil
}

func (s *Service) sessionIdentity(ctx context.Context, creds *platformauth.UserCredentials) (Identity, error) {
	identityID, err := uuid.Parse(creds.Id)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	sessionID, err := uuid.Parse(creds.SessionID)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("load session: %w", err)
	}
	if session.IdentityID != identityID || !s.sessionLive(session) {
		return Identity{}, ErrInvalidToken
	}

	identity, err := s.repo.Get(ctx, identityID)
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrNotFound) {
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("load identity: %w", err)
	}
	return identity, nil
}

func (s *Service) externalIdentity(ctx context.Context, creds *platformauth.UserCredentials) (Identity, error) {
	if creds.Id == "" || creds.Email == "" {
		return Identity{}, ErrInvalidToken
	}
	identity, err := s.repo.UpsertExternal(ctx, ExternalIdentity{
		ExternalID:    creds.Id,
		Email:         normalizeEmail(creds.Email),
		DisplayName:   trimOptional(creds.Name),
		AvatarURL:     trimOptional(creds.PictureURL),
		EmailVerified: creds.EmailVerified,
	})
	if err != nil {
		if errors.Is(mapPersistenceError(err), ErrEmailTaken) {
			// the email already belongs to an identity linked to another provider uid
			s.loggerFrom(ctx).Warn("external identity email clash", zap.String("provider", string(creds.Provider)))
			return Identity{}, ErrInvalidToken
		}
		return Identity{}, fmt.Errorf("upsert external identity: %w", err)
	}
	return identity, nil
}

// membershipOf returns the effective membership, provisioning a primary tenant when the
// identity has none.
func (s *Service) membershipOf(ctx context.Context, identity Identity, tenantName string) (membershipsservice.Resolution, error) {
	res, ok, err := s.memberships.EffectiveMembership(ctx, identity.ID)
	if err != nil {
		return membershipsservice.Resolution{}, fmt.Errorf("effective membership: %w", err)
	}
	if ok {
		return res, nil
	}
	res, err = s.memberships.ResolvePrimaryMembership(ctx, identity.ID, identity.Email, tenantName)
	if err != nil {
		return membershipsservice.Resolution{}, fmt.Errorf("resolve membership: %w", err)
	}
	return res, nil
}

// CurrentIdentity returns the identity behind the request principal.
func (s *Service) CurrentIdentity(ctx context.Context) (Identity, platformauth.Principal, error) {
	principal, ok := platformauth.PrincipalFromContext(ctx)
	if !ok {
		return Identity{}, platformauth.Principal{}, ErrInvalidToken
	}
	identity, err := s.repo.Get(ctx, principal.IdentityID)
	if err != nil {
		return Identity{}, platformauth.Principal{}, mapPersistenceError(err)
	}
	return identity, principal, nil
}
