package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Errors returned by the service layer.
var (
	ErrNotFound  = errors.New("membership not found")
	ErrConflict  = errors.New("membership conflict")
	ErrForbidden = errors.New("operation not allowed for caller")
	ErrLastAdmin = errors.New("tenant must keep at least one admin")
)

// maxSlugAttempts bounds the number of tenant ids tried when provisioning a first membership.
const maxSlugAttempts = 5

// FieldErrors captures validation messages per field.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError reports invalid input.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// Membership links an identity to a tenant with a role.
type Membership struct {
	TenantID   string
	IdentityID uuid.UUID
	Role       platformauth.Role
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Member is a membership enriched with identity details for listings.
type Member struct {
	Membership
	Email       string
	DisplayName *string
}

// Resolution is the outcome of resolving the membership an identity acts with.
type Resolution struct {
	TenantID        string
	Role            platformauth.Role
	IsPlatformAdmin bool
	// Created is true when the call provisioned a new tenant.
	Created bool
}

// Repository abstracts persistence. Implementations return the persistence sentinels
// (ErrNotFound, ErrConflict, ErrLastAdmin).
type Repository interface {
	ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]Membership, error)
	Get(ctx context.Context, tenantID string, identityID uuid.UUID) (Membership, error)
	Upsert(ctx context.Context, m Membership) (Membership, error)
	UpdateRole(ctx context.Context, tenantID string, identityID uuid.UUID, role platformauth.Role) (Membership, error)
	ChangeRoleKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID, role platformauth.Role) (Membership, error)
	DeleteKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID) error
	ListByTenant(ctx context.Context, tenantID string) ([]Member, error)
	CreateTenantWithMembership(ctx context.Context, tenantID, tenantName string, m Membership) (Membership, error)
	IsPlatformAdmin(ctx context.Context, identityID uuid.UUID) (bool, error)
	UpsertPlatformAdmin(ctx context.Context, identityID uuid.UUID) error
}

// Config carries the membership policy knobs.
type Config struct {
	// PlatformAdminEmails are lower-cased emails that always resolve to system_admin.
	PlatformAdminEmails []string
}

// Service resolves and administers memberships.
type Service struct {
	repo        Repository
	principals  cache.PrincipalCache
	adminEmails map[string]struct{}
	suffix      func() (string, error)
}

// New constructs a Service. A nil cache disables invalidation.
func New(repo Repository, cfg Config, principals cache.PrincipalCache) *Service {
	if repo == nil {
		panic("memberships repo is required")
	}
	if principals == nil {
		principals = cache.Noop{}
	}

	emails := make(map[string]struct{}, len(cfg.PlatformAdminEmails))
	for _, email := range cfg.PlatformAdminEmails {
		if e := strings.ToLower(strings.TrimSpace(email)); e != "" {
			emails[e] = struct{}{}
		}
	}

	return &Service{repo: repo, principals: principals, adminEmails: emails, suffix: randomSuffix}
}

// TargetRole is the role an identity should hold on its primary tenant.
func (s *Service) TargetRole(email string) platformauth.Role {
	if _, ok := s.adminEmails[strings.ToLower(strings.TrimSpace(email))]; ok {
		return platformauth.RoleSystemAdmin
	}
	return platformauth.RoleAdmin
}

// ResolvePrimaryMembership makes sure the identity has a primary membership with the target role,
// provisioning a tenant on first sight. Store errors are returned as is.
func (s *Service) ResolvePrimaryMembership(ctx context.Context, identityID uuid.UUID, email, displayName string) (Resolution, error) {
	if identityID == uuid.Nil {
		return Resolution{}, &ValidationError{Fields: FieldErrors{"identityId": {"identityId is required"}}}
	}

	target := s.TargetRole(email)

	memberships, err := s.repo.ListByIdentity(ctx, identityID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list memberships: %w", err)
	}

	var (
		current Membership
		created bool
	)
	if primary, ok := pickPrimary(memberships); ok {
		current = primary
		if current.Role != target {
			if current, err = s.repo.UpdateRole(ctx, current.TenantID, identityID, target); err != nil {
				return Resolution{}, fmt.Errorf("update role: %w", err)
			}
		}
	} else {
		if current, err = s.provision(ctx, identityID, email, displayName, target); err != nil {
			return Resolution{}, err
		}
		created = true
	}

	if err := s.verify(ctx, current.TenantID, identityID, target); err != nil {
		return Resolution{}, err
	}

	isPlatformAdmin := false
	if target == platformauth.RoleSystemAdmin {
		if err := s.repo.UpsertPlatformAdmin(ctx, identityID); err != nil {
			return Resolution{}, fmt.Errorf("upsert platform admin: %w", err)
		}
		isPlatformAdmin = true
	}

	return Resolution{TenantID: current.TenantID, Role: target, IsPlatformAdmin: isPlatformAdmin, Created: created}, nil
}

// provision creates a tenant named after the identity together with its first membership.
func (s *Service) provision(ctx context.Context, identityID uuid.UUID, email, displayName string, role platformauth.Role) (Membership, error) {
	localPart := email
	if at := strings.Index(email, "@"); at >= 0 {
		localPart = email[:at]
	}
	base := persistence.SlugFrom(localPart, identityID.String())

	name := strings.TrimSpace(displayName)
	if name == "" {
		name = localPart
	}
	if name == "" {
		name = base
	}

	candidate := base
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		if attempt > 0 {
			suffix, err := s.suffix()
			if err != nil {
				return Membership{}, err
			}
			candidate = trimSlug(base, len(suffix)+1) + "-" + suffix
		}

		m, err := s.repo.CreateTenantWithMembership(ctx, candidate, name, Membership{
			TenantID:   candidate,
			IdentityID: identityID,
			Role:       role,
		})
		if errors.Is(err, persistence.ErrConflict) {
			continue
		}
		if err != nil {
			return Membership{}, fmt.Errorf("provision tenant %s: %w", candidate, err)
		}
		return m, nil
	}

	return Membership{}, fmt.Errorf("provision tenant for %s: %w", identityID, ErrConflict)
}

// verify re-reads the membership and repairs a missing row or a mismatched role.
func (s *Service) verify(ctx context.Context, tenantID string, identityID uuid.UUID, target platformauth.Role) error {
	got, err := s.repo.Get(ctx, tenantID, identityID)
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		if _, err := s.repo.Upsert(ctx, Membership{TenantID: tenantID, IdentityID: identityID, Role: target}); err != nil {
			return fmt.Errorf("recreate membership: %w", err)
		}
	case err != nil:
		return fmt.Errorf("verify membership: %w", err)
	case got.Role != target:
		if _, err := s.repo.UpdateRole(ctx, tenantID, identityID, target); err != nil {
			return fmt.Errorf("repair membership role: %w", err)
		}
	}
	return nil
}

// EffectiveMembership is the read-only resolution used on every authenticated request.
// found is false when the identity has no membership and is not a platform admin.
func (s *Service) EffectiveMembership(ctx context.Context, identityID uuid.UUID) (Resolution, bool, error) {
	memberships, err := s.repo.ListByIdentity(ctx, identityID)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("list memberships: %w", err)
	}
	isAdmin, err := s.repo.IsPlatformAdmin(ctx, identityID)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("platform admin flag: %w", err)
	}

	primary, ok := pickPrimary(memberships)
	if !ok && !isAdmin {
		return Resolution{}, false, nil
	}

	res := Resolution{TenantID: primary.TenantID, Role: primary.Role, IsPlatformAdmin: isAdmin}
	if isAdmin {
		res.Role = platformauth.RoleSystemAdmin
	}
	return res, true, nil
}

// GrantPlatformAdmin sets the platform admin flag of an identity.
func (s *Service) GrantPlatformAdmin(ctx context.Context, identityID uuid.UUID) error {
	if identityID == uuid.Nil {
		return ErrNotFound
	}
	if err := s.repo.UpsertPlatformAdmin(ctx, identityID); err != nil {
		return mapPersistenceError(err)
	}
	s.principals.InvalidateIdentity(ctx, identityID)
	return nil
}

// ListMembers returns the members of a tenant.
func (s *Service) ListMembers(ctx context.Context, tenantID string) ([]Member, error) {
	if tenantID == "" {
		return nil, ErrNotFound
	}
	members, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return members, nil
}

// ChangeRole updates the role of a member of the caller's tenant. Only platform admins may
// grant or touch system_admin, and the last admin cannot be demoted.
func (s *Service) ChangeRole(ctx context.Context, actor platformauth.Principal, identityID uuid.UUID, rawRole string) (Membership, error) {
	role, err := platformauth.ParseRole(rawRole)
	if err != nil {
		return Membership{}, &ValidationError{Fields: FieldErrors{"role": {"role must be one of member, admin, system_admin"}}}
	}
	if err := s.authorizeChange(ctx, actor, identityID, role); err != nil {
		return Membership{}, err
	}

	updated, err := s.repo.ChangeRoleKeepingAdmin(ctx, actor.TenantID, identityID, role)
	if err != nil {
		return Membership{}, mapPersistenceError(err)
	}

	s.principals.InvalidateIdentity(ctx, identityID)
	return updated, nil
}

// RemoveMember unlinks an identity from the caller's tenant.
func (s *Service) RemoveMember(ctx context.Context, actor platformauth.Principal, identityID uuid.UUID) error {
	if err := s.authorizeChange(ctx, actor, identityID, platformauth.RoleUnknown); err != nil {
		return err
	}
	if err := s.repo.DeleteKeepingAdmin(ctx, actor.TenantID, identityID); err != nil {
		return mapPersistenceError(err)
	}

	s.principals.InvalidateIdentity(ctx, identityID)
	return nil
}

func (s *Service) authorizeChange(ctx context.Context, actor platformauth.Principal, identityID uuid.UUID, next platformauth.Role) error {
	if actor.TenantID == "" || identityID == uuid.Nil {
		return ErrNotFound
	}
	if actor.IsPlatformAdmin {
		return nil
	}
	if next == platformauth.RoleSystemAdmin {
		return ErrForbidden
	}

	current, err := s.repo.Get(ctx, actor.TenantID, identityID)
	if err != nil {
		return mapPersistenceError(err)
	}
	if current.Role == platformauth.RoleSystemAdmin {
		return ErrForbidden
	}
	return nil
}

// pickPrimary returns the highest ranked membership; ties go to the most recently created.
func pickPrimary(memberships []Membership) (Membership, bool) {
	var (
		best  Membership
		found bool
	)
	for _, m := range memberships {
		if !m.Role.Valid() {
			continue
		}
		if !found || m.Role > best.Role || (m.Role == best.Role && m.CreatedAt.After(best.CreatedAt)) {
			best = m
			found = true
		}
	}
	return best, found
}

func trimSlug(base string, reserve int) string {
	limit := persistence.MaxSlugLength - reserve
	if len(base) > limit {
		return strings.Trim(base[:limit], "-")
	}
	return base
}

func randomSuffix() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("slug suffix: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return ErrConflict
	case errors.Is(err, persistence.ErrLastAdmin):
		return ErrLastAdmin
	default:
		return err
	}
}
