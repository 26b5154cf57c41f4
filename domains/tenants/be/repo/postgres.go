package repo

import (
	"context"

	"github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type postgresRepository struct {
	store *persistence.TenantStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.TenantStore) service.Repository {
	if store == nil {
		panic("tenant store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Get(ctx context.Context, id string) (service.Tenant, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Tenant{}, err
	}
	return toTenant(rec), nil
}

func (r *postgresRepository) List(ctx context.Context, limit, offset int) ([]service.Tenant, int, error) {
	records, total, err := r.store.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]service.Tenant, 0, len(records))
	for _, rec := range records {
		out = append(out, toTenant(rec))
	}
	return out, total, nil
}

func (r *postgresRepository) Rename(ctx context.Context, id, name string) (service.Tenant, error) {
	rec, err := r.store.Rename(ctx, id, name)
	if err != nil {
		return service.Tenant{}, err
	}
	return toTenant(rec), nil
}

func (r *postgresRepository) Reslug(ctx context.Context, oldID, newID string) (service.Tenant, error) {
	rec, err := r.store.Reslug(ctx, oldID, newID)
	if err != nil {
		return service.Tenant{}, err
	}
	return toTenant(rec), nil
}

func (r *postgresRepository) ListDomains(ctx context.Context, tenantID string) ([]service.Domain, error) {
	records, err := r.store.ListDomains(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]service.Domain, 0, len(records))
	for _, rec := range records {
		out = append(out, toDomain(rec))
	}
	return out, nil
}

func (r *postgresRepository) AddDomain(ctx context.Context, tenantID, domain string) (service.Domain, error) {
	rec, err := r.store.AddDomain(ctx, tenantID, domain)
	if err != nil {
		return service.Domain{}, err
	}
	return toDomain(rec), nil
}

func (r *postgresRepository) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	return r.store.RemoveDomain(ctx, tenantID, domain)
}

func toTenant(rec persistence.TenantRecord) service.Tenant {
	return service.Tenant{ID: rec.ID, Name: rec.Name, CreatedAt: rec.CreatedAt, UpdatedAt: rec.UpdatedAt}
}

func toDomain(rec persistence.DomainRecord) service.Domain {
	return service.Domain{Domain: rec.Domain, TenantID: rec.TenantID, CreatedAt: rec.CreatedAt}
}
