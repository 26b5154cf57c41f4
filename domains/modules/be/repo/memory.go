package repo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type moduleKey struct {
	tenantID string
	moduleID string
}

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
// Only tenants registered with AddTenant accept writes.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]struct{}
	rows    map[moduleKey]service.TenantModule
}

// NewMemoryRepository constructs a MemoryRepository with the given tenants.
func NewMemoryRepository(tenantIDs ...string) *MemoryRepository {
	r := &MemoryRepository{tenants: make(map[string]struct{}), rows: make(map[moduleKey]service.TenantModule)}
	for _, id := range tenantIDs {
		r.tenants[id] = struct{}{}
	}
	return r
}

// AddTenant registers a tenant.
func (r *MemoryRepository) AddTenant(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[id] = struct{}{}
}

func (r *MemoryRepository) ListByTenant(ctx context.Context, tenantID string) ([]service.TenantModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []service.TenantModule{}
	for key, row := range r.rows {
		if key.tenantID == tenantID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID, moduleID string) (service.TenantModule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[moduleKey{tenantID, moduleID}]
	if !ok {
		return service.TenantModule{}, persistence.ErrNotFound
	}
	return row, nil
}

func (r *MemoryRepository) IsEnabled(ctx context.Context, tenantID, moduleID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rows[moduleKey{tenantID, moduleID}].Enabled, nil
}

func (r *MemoryRepository) SetEnabled(ctx context.Context, tenantID, moduleID string, enabled bool) (service.TenantModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.ensure(tenantID, moduleID)
	if err != nil {
		return service.TenantModule{}, err
	}
	row.Enabled = enabled
	row.UpdatedAt = time.Now().UTC()
	r.rows[moduleKey{tenantID, moduleID}] = row
	return row, nil
}

func (r *MemoryRepository) UpdateSettings(ctx context.Context, tenantID, moduleID string, mutate func(current json.RawMessage) (json.RawMessage, error)) (service.TenantModule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, err := r.ensure(tenantID, moduleID)
	if err != nil {
		return service.TenantModule{}, err
	}
	next, err := mutate(row.Settings)
	if err != nil {
		return service.TenantModule{}, err
	}
	row.Settings = append(json.RawMessage(nil), next...)
	row.UpdatedAt = time.Now().UTC()
	r.rows[moduleKey{tenantID, moduleID}] = row
	return row, nil
}

func (r *MemoryRepository) ensure(tenantID, moduleID string) (service.TenantModule, error) {
	if _, ok := r.tenants[tenantID]; !ok {
		return service.TenantModule{}, persistence.ErrNotFound
	}
	row, ok := r.rows[moduleKey{tenantID, moduleID}]
	if !ok {
		row = service.TenantModule{TenantID: tenantID, ModuleID: moduleID, Settings: json.RawMessage(`{}`)}
	}
	return row, nil
}
