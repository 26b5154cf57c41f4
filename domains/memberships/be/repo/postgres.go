package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type postgresRepository struct {
	store *persistence.MembershipStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.MembershipStore) service.Repository {
	if store == nil {
		panic("membership store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]service.Membership, error) {
	records, err := r.store.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	out := make([]service.Membership, 0, len(records))
	for _, rec := range records {
		m, err := toMembership(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *postgresRepository) Get(ctx context.Context, tenantID string, identityID uuid.UUID) (service.Membership, error) {
	rec, err := r.store.Get(ctx, tenantID, identityID)
	if err != nil {
		return service.Membership{}, err
	}
	return toMembership(rec)
}

func (r *postgresRepository) Upsert(ctx context.Context, m service.Membership) (service.Membership, error) {
	rec, err := r.store.Upsert(ctx, persistence.MembershipRecord{
		TenantID:   m.TenantID,
		IdentityID: m.IdentityID,
		Role:       m.Role.String(),
	})
	if err != nil {
		return service.Membership{}, err
	}
	return toMembership(rec)
}

func (r *postgresRepository) UpdateRole(ctx context.Context, tenantID string, identityID uuid.UUID, role platformauth.Role) (service.Membership, error) {
	rec, err := r.store.UpdateRole(ctx, tenantID, identityID, role.String())
	if err != nil {
		return service.Membership{}, err
	}
	return toMembership(rec)
}

func (r *postgresRepository) ChangeRoleKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID, role platformauth.Role) (service.Membership, error) {
	rec, err := r.store.ChangeRoleKeepingAdmin(ctx, tenantID, identityID, role.String(), platformauth.IsAdminRole)
	if err != nil {
		return service.Membership{}, err
	}
	return toMembership(rec)
}

func (r *postgresRepository) DeleteKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID) error {
	return r.store.DeleteKeepingAdmin(ctx, tenantID, identityID, platformauth.IsAdminRole)
}

func (r *postgresRepository) ListByTenant(ctx context.Context, tenantID string) ([]service.Member, error) {
	records, err := r.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]service.Member, 0, len(records))
	for _, rec := range records {
		m, err := toMembership(rec.MembershipRecord)
		if err != nil {
			return nil, err
		}
		out = append(out, service.Member{Membership: m, Email: rec.Email, DisplayName: rec.DisplayName})
	}
	return out, nil
}

func (r *postgresRepository) CreateTenantWithMembership(ctx context.Context, tenantID, tenantName string, m service.Membership) (service.Membership, error) {
	_, rec, err := r.store.CreateTenantWithMembership(ctx,
		persistence.TenantRecord{ID: tenantID, Name: tenantName},
		persistence.MembershipRecord{TenantID: tenantID, IdentityID: m.IdentityID, Role: m.Role.String()},
	)
	if err != nil {
		return service.Membership{}, err
	}
	return toMembership(rec)
}

func (r *postgresRepository) IsPlatformAdmin(ctx context.Context, identityID uuid.UUID) (bool, error) {
	return r.store.IsPlatformAdmin(ctx, identityID)
}

func (r *postgresRepository) UpsertPlatformAdmin(ctx context.Context, identityID uuid.UUID) error {
	return r.store.UpsertPlatformAdmin(ctx, identityID)
}

func toMembership(rec persistence.MembershipRecord) (service.Membership, error) {
	role, err := platformauth.ParseRole(rec.Role)
	if err != nil {
		return service.Membership{}, fmt.Errorf("membership %s/%s: %w", rec.TenantID, rec.IdentityID, err)
	}
	return service.Membership{
		TenantID:   rec.TenantID,
		IdentityID: rec.IdentityID,
		Role:       role,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}, nil
}
