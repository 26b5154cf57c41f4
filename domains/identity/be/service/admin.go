package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

var allowedSortFields = map[string]struct{}{
	"email":       {},
	"displayName": {},
	"createdAt":   {},
	"updatedAt":   {},
}

// CreateInput carries the fields of an identity created by a platform admin.
type CreateInput struct {
	Email       string
	DisplayName *string
	// Password is optional; identities without one sign in with magic links.
	Password *string
}

// ListIdentities returns a page of identities.
func (s *Service) ListIdentities(ctx context.Context, opts ListOptions) (ListResult, error) {
	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.PageSize > maxPageSize {
		opts.PageSize = maxPageSize
	}

	sort, err := sanitizeSort(opts.Sort)
	if err != nil {
		return ListResult{}, err
	}
	opts.Sort = sort
	opts.Email = trimOptional(opts.Email)

	identities, total, err := s.repo.List(ctx, opts)
	if err != nil {
		return ListResult{}, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(opts.PageSize)))
	}
	return ListResult{
		Identities: identities,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
		TotalItems: total,
		TotalPages: totalPages,
	}, nil
}

func sanitizeSort(sort *string) (*string, error) {
	if sort == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*sort)
	if trimmed == "" {
		return nil, nil
	}
	for _, part := range strings.Split(trimmed, ",") {
		field := strings.TrimPrefix(strings.TrimSpace(part), "-")
		if _, ok := allowedSortFields[field]; !ok {
			return nil, &ValidationError{Fields: FieldErrors{"sort": {fmt.Sprintf("unsupported sort field %q", field)}}}
		}
	}
	return &trimmed, nil
}

// CreateIdentity registers an identity on behalf of a platform admin. No tenant is
// provisioned until the identity first signs in.
func (s *Service) CreateIdentity(ctx context.Context, input CreateInput) (Identity, error) {
	email := normalizeEmail(input.Email)
	displayName := trimOptional(input.DisplayName)

	fields := FieldErrors{}
	validateEmail(fields, email)
	if displayName != nil && len(*displayName) > maxDisplayNameLength {
		fields.add("displayName", fmt.Sprintf("displayName must be at most %d characters", maxDisplayNameLength))
	}

	var hash *string
	if input.Password != nil {
		hashed, err := platformauth.HashPassword(*input.Password)
		switch {
		case errors.Is(err, platformauth.ErrPasswordTooShort):
			fields.add("password", err.Error())
		case err != nil:
			return Identity{}, err
		default:
			hash = &hashed
		}
	}
	if len(fields) > 0 {
		return Identity{}, &ValidationError{Fields: fields}
	}

	identity, err := s.repo.Create(ctx, Identity{
		ID:           uuid.New(),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hash,
	})
	if err != nil {
		return Identity{}, mapPersistenceError(err)
	}

	s.loggerFrom(ctx).Info("identity created", zap.String("identity_id", identity.ID.String()))
	return identity, nil
}

// DeleteIdentity removes an identity with its memberships and sessions. Callers cannot delete
// themselves.
func (s *Service) DeleteIdentity(ctx context.Context, actor platformauth.Principal, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrNotFound
	}
	if actor.IdentityID == id {
		return ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapPersistenceError(err)
	}

	s.principals.InvalidateIdentity(ctx, id)
	s.loggerFrom(ctx).Info("identity deleted",
		zap.String("identity_id", id.String()),
		zap.String("actor_id", actor.IdentityID.String()),
	)
	return nil
}

// GrantPlatformAdmin flags an existing identity as platform admin.
func (s *Service) GrantPlatformAdmin(ctx context.Context, id uuid.UUID) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return mapPersistenceError(err)
	}
	if err := s.memberships.GrantPlatformAdmin(ctx, id); err != nil {
		return err
	}
	s.loggerFrom(ctx).Info("platform admin granted", zap.String("identity_id", id.String()))
	return nil
}

// GrantPlatformAdminByEmail is the CLI flavour of GrantPlatformAdmin.
func (s *Service) GrantPlatformAdminByEmail(ctx context.Context, email string) (Identity, error) {
	identity, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Identity{}, mapPersistenceError(err)
	}
	if err := s.GrantPlatformAdmin(ctx, identity.ID); err != nil {
		return Identity{}, err
	}
	return identity, nil
}

// IssueToken opens a session for an existing identity without a credential check. Operator
// tooling only.
func (s *Service) IssueToken(ctx context.Context, email string) (Tokens, error) {
	identity, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Tokens{}, mapPersistenceError(err)
	}
	return s.openSession(ctx, identity, displayNameOf(identity))
}
