package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
// It also satisfies tenant.DomainResolver so a host resolver can be built on top of it.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]service.Tenant
	domains map[string]service.Domain
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]service.Tenant), domains: make(map[string]service.Domain)}
}

// Put stores a tenant as is.
func (r *MemoryRepository) Put(t service.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
		t.UpdatedAt = t.CreatedAt
	}
	r.byID[t.ID] = t
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (service.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, persistence.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) List(ctx context.Context, limit, offset int) ([]service.Tenant, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Tenant, 0, len(r.byID))
	for _, t := range r.byID {
		items = append(items, t)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], len(items), nil
}

func (r *MemoryRepository) Rename(ctx context.Context, id, name string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return service.Tenant{}, persistence.ErrNotFound
	}
	t.Name = name
	t.UpdatedAt = time.Now().UTC()
	r.byID[id] = t
	return t, nil
}

func (r *MemoryRepository) Reslug(ctx context.Context, oldID, newID string) (service.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[oldID]
	if !ok {
		return service.Tenant{}, persistence.ErrNotFound
	}
	if _, taken := r.byID[newID]; taken {
		return service.Tenant{}, persistence.ErrConflict
	}

	next := current
	next.ID = newID
	next.UpdatedAt = time.Now().UTC()
	r.byID[newID] = next
	delete(r.byID, oldID)

	for host, d := range r.domains {
		if d.TenantID == oldID {
			d.TenantID = newID
			r.domains[host] = d
		}
	}
	return next, nil
}

func (r *MemoryRepository) ListDomains(ctx context.Context, tenantID string) ([]service.Domain, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []service.Domain{}
	for _, d := range r.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Domain < out[j].Domain })
	return out, nil
}

func (r *MemoryRepository) AddDomain(ctx context.Context, tenantID, domain string) (service.Domain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[tenantID]; !ok {
		return service.Domain{}, persistence.ErrNotFound
	}
	if _, taken := r.domains[domain]; taken {
		return service.Domain{}, persistence.ErrConflict
	}
	d := service.Domain{Domain: domain, TenantID: tenantID, CreatedAt: time.Now().UTC()}
	r.domains[domain] = d
	return d, nil
}

func (r *MemoryRepository) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.domains[domain]
	if !ok || d.TenantID != tenantID {
		return persistence.ErrNotFound
	}
	delete(r.domains, domain)
	return nil
}

// ResolveDomain implements tenant.DomainResolver.
func (r *MemoryRepository) ResolveDomain(ctx context.Context, domain string) (persistence.DomainRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.domains[domain]
	if !ok {
		return persistence.DomainRecord{}, persistence.ErrNotFound
	}
	return persistence.DomainRecord{Domain: d.Domain, TenantID: d.TenantID, CreatedAt: d.CreatedAt}, nil
}
