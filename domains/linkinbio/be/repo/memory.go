package repo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/linkinbio/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu       sync.RWMutex
	tenants  map[string]struct{}
	settings map[string]json.RawMessage
	links    map[uuid.UUID]service.Link
}

// NewMemoryRepository constructs a MemoryRepository with the given tenants.
func NewMemoryRepository(tenantIDs ...string) *MemoryRepository {
	r := &MemoryRepository{
		tenants:  make(map[string]struct{}),
		settings: make(map[string]json.RawMessage),
		links:    make(map[uuid.UUID]service.Link),
	}
	for _, id := range tenantIDs {
		r.tenants[id] = struct{}{}
	}
	return r
}

// PutSettings stores the raw link-in-bio settings of a tenant.
func (r *MemoryRepository) PutSettings(tenantID string, raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[tenantID] = append(json.RawMessage(nil), raw...)
}

func (r *MemoryRepository) Settings(ctx context.Context, tenantID string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append(json.RawMessage(nil), r.settings[tenantID]...), nil
}

func (r *MemoryRepository) List(ctx context.Context, tenantID string, activeOnly bool) ([]service.Link, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []service.Link{}
	for _, link := range r.links {
		if link.TenantID != tenantID || (activeOnly && !link.IsActive) {
			continue
		}
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Create(ctx context.Context, link service.Link) (service.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[link.TenantID]; !ok {
		return service.Link{}, persistence.ErrNotFound
	}
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	now := time.Now().UTC()
	link.CreatedAt, link.UpdatedAt = now, now
	r.links[link.ID] = link
	return link, nil
}

func (r *MemoryRepository) Update(ctx context.Context, tenantID string, id uuid.UUID, params service.UpdateParams) (service.Link, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[id]
	if !ok || link.TenantID != tenantID {
		return service.Link{}, persistence.ErrNotFound
	}
	if params.Title != nil {
		link.Title = *params.Title
	}
	if params.URL != nil {
		link.URL = *params.URL
	}
	if params.Position != nil {
		link.Position = *params.Position
	}
	if params.IsActive != nil {
		link.IsActive = *params.IsActive
	}
	link.UpdatedAt = time.Now().UTC()
	r.links[id] = link
	return link, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	link, ok := r.links[id]
	if !ok || link.TenantID != tenantID {
		return persistence.ErrNotFound
	}
	delete(r.links, id)
	return nil
}
