package repo

import (
	"context"
	"encoding/json"

	"github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type postgresRepository struct {
	store *persistence.ModuleStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.ModuleStore) service.Repository {
	if store == nil {
		panic("module store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) ListByTenant(ctx context.Context, tenantID string) ([]service.TenantModule, error) {
	records, err := r.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]service.TenantModule, 0, len(records))
	for _, rec := range records {
		out = append(out, toTenantModule(rec))
	}
	return out, nil
}

func (r *postgresRepository) Get(ctx context.Context, tenantID, moduleID string) (service.TenantModule, error) {
	rec, err := r.store.Get(ctx, tenantID, moduleID)
	if err != nil {
		return service.TenantModule{}, err
	}
	return toTenantModule(rec), nil
}

func (r *postgresRepository) IsEnabled(ctx context.Context, tenantID, moduleID string) (bool, error) {
	return r.store.IsEnabled(ctx, tenantID, moduleID)
}

func (r *postgresRepository) SetEnabled(ctx context.Context, tenantID, moduleID string, enabled bool) (service.TenantModule, error) {
	rec, err := r.store.SetEnabled(ctx, tenantID, moduleID, enabled)
	if err != nil {
		return service.TenantModule{}, err
	}
	return toTenantModule(rec), nil
}

func (r *postgresRepository) UpdateSettings(ctx context.Context, tenantID, moduleID string, mutate func(current json.RawMessage) (json.RawMessage, error)) (service.TenantModule, error) {
	rec, err := r.store.UpdateSettings(ctx, tenantID, moduleID, mutate)
	if err != nil {
		return service.TenantModule{}, err
	}
	return toTenantModule(rec), nil
}

func toTenantModule(rec persistence.TenantModuleRecord) service.TenantModule {
	return service.TenantModule{
		TenantID:  rec.TenantID,
		ModuleID:  rec.ModuleID,
		Enabled:   rec.Enabled,
		Settings:  rec.Settings,
		UpdatedAt: rec.UpdatedAt,
	}
}
