package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type membershipKey struct {
	tenantID   string
	identityID uuid.UUID
}

type memoryIdentity struct {
	email       string
	displayName *string
}

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu             sync.RWMutex
	tenants        map[string]string
	memberships    map[membershipKey]service.Membership
	identities     map[uuid.UUID]memoryIdentity
	platformAdmins map[uuid.UUID]struct{}
	now            func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tenants:        make(map[string]string),
		memberships:    make(map[membershipKey]service.Membership),
		identities:     make(map[uuid.UUID]memoryIdentity),
		platformAdmins: make(map[uuid.UUID]struct{}),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// PutTenant registers a tenant row.
func (r *MemoryRepository) PutTenant(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenants[id] = name
}

// PutIdentity registers identity details used by ListByTenant.
func (r *MemoryRepository) PutIdentity(id uuid.UUID, email string, displayName *string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities[id] = memoryIdentity{email: email, displayName: displayName}
}

// PutMembership stores m as is, creating its tenant when missing.
func (r *MemoryRepository) PutMembership(m service.Membership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[m.TenantID]; !ok {
		r.tenants[m.TenantID] = m.TenantID
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now()
	}
	r.memberships[membershipKey{m.TenantID, m.IdentityID}] = m
}

// TenantName returns the stored name of a tenant.
func (r *MemoryRepository) TenantName(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.tenants[id]
	return name, ok
}

// Count returns the number of memberships of an identity.
func (r *MemoryRepository) Count(identityID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for key := range r.memberships {
		if key.identityID == identityID {
			n++
		}
	}
	return n
}

func (r *MemoryRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]service.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []service.Membership{}
	for key, m := range r.memberships {
		if key.identityID == identityID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, tenantID string, identityID uuid.UUID) (service.Membership, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.memberships[membershipKey{tenantID, identityID}]
	if !ok {
		return service.Membership{}, persistence.ErrNotFound
	}
	return m, nil
}

func (r *MemoryRepository) Upsert(ctx context.Context, m service.Membership) (service.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tenants[m.TenantID]; !ok {
		return service.Membership{}, persistence.ErrNotFound
	}
	key := membershipKey{m.TenantID, m.IdentityID}
	now := r.now()
	if existing, ok := r.memberships[key]; ok {
		existing.Role = m.Role
		existing.UpdatedAt = now
		r.memberships[key] = existing
		return existing, nil
	}
	m.CreatedAt, m.UpdatedAt = now, now
	r.memberships[key] = m
	return m, nil
}

func (r *MemoryRepository) UpdateRole(ctx context.Context, tenantID string, identityID uuid.UUID, role platformauth.Role) (service.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setRole(tenantID, identityID, role)
}

func (r *MemoryRepository) ChangeRoleKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID, role platformauth.Role) (service.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.memberships[membershipKey{tenantID, identityID}]
	if !ok {
		return service.Membership{}, persistence.ErrNotFound
	}
	if current.Role.IsAdmin() && !role.IsAdmin() && r.adminCount(tenantID) <= 1 {
		return service.Membership{}, persistence.ErrLastAdmin
	}
	return r.setRole(tenantID, identityID, role)
}

func (r *MemoryRepository) DeleteKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := membershipKey{tenantID, identityID}
	current, ok := r.memberships[key]
	if !ok {
		return persistence.ErrNotFound
	}
	if current.Role.IsAdmin() && r.adminCount(tenantID) <= 1 {
		return persistence.ErrLastAdmin
	}
	delete(r.memberships, key)
	return nil
}

func (r *MemoryRepository) ListByTenant(ctx context.Context, tenantID string) ([]service.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []service.Member{}
	for key, m := range r.memberships {
		if key.tenantID != tenantID {
			continue
		}
		ident := r.identities[key.identityID]
		out = append(out, service.Member{Membership: m, Email: ident.email, DisplayName: ident.displayName})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateTenantWithMembership(ctx context.Context, tenantID, tenantName string, m service.Membership) (service.Membership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.tenants[tenantID]; taken {
		return service.Membership{}, persistence.ErrConflict
	}
	r.tenants[tenantID] = tenantName

	now := r.now()
	m.TenantID = tenantID
	m.CreatedAt, m.UpdatedAt = now, now
	r.memberships[membershipKey{tenantID, m.IdentityID}] = m
	return m, nil
}

func (r *MemoryRepository) IsPlatformAdmin(ctx context.Context, identityID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.platformAdmins[identityID]
	return ok, nil
}

func (r *MemoryRepository) UpsertPlatformAdmin(ctx context.Context, identityID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.platformAdmins[identityID] = struct{}{}
	return nil
}

func (r *MemoryRepository) setRole(tenantID string, identityID uuid.UUID, role platformauth.Role) (service.Membership, error) {
	key := membershipKey{tenantID, identityID}
	m, ok := r.memberships[key]
	if !ok {
		return service.Membership{}, persistence.ErrNotFound
	}
	m.Role = role
	m.UpdatedAt = r.now()
	r.memberships[key] = m
	return m, nil
}

func (r *MemoryRepository) adminCount(tenantID string) int {
	n := 0
	for key, m := range r.memberships {
		if key.tenantID == tenantID && m.Role.IsAdmin() {
			n++
		}
	}
	return n
}
