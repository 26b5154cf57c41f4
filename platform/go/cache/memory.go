package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/platform/go/auth"
)

// MemoryConfig sizes the in-process cache.
type MemoryConfig struct {
	TTL        time.Duration
	MaxEntries int
	// OnLookup, when set, is told about every hit and miss (metrics).
	OnLookup func(hit bool)
}

// Memory is a bounded TTL cache. Entries share one TTL, so insertion order is expiry
// order and eviction always takes the front of the list.
//
// Every invalidation advances an epoch and records it as a mark on the tenant or
// identity. An entry is current while its stamp is not older than the marks of its
// tenant and identity. A mark only matters to entries written before it, so it is
// dropped once those have expired and the floor is raised to its epoch instead.
type Memory struct {
	mu    sync.Mutex
	cfg   MemoryConfig
	now   func() time.Time
	items map[string]*list.Element
	order *list.List

	epoch     uint64
	floor     uint64
	marks     map[string]uint64
	markOrder *list.List
}

type memoryEntry struct {
	key       string
	principal auth.Principal
	expiresAt time.Time
	stamp     uint64
}

type invalidation struct {
	key       string
	epoch     uint64
	expiresAt time.Time
}

// NewMemory builds a memory cache. TTL defaults to one minute and MaxEntries to 10000.
func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10000
	}
	return &Memory{
		cfg:       cfg,
		now:       time.Now,
		items:     make(map[string]*list.Element),
		order:     list.New(),
		marks:     make(map[string]uint64),
		markOrder: list.New(),
	}
}

func (m *Memory) Get(_ context.Context, key string) (auth.Principal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.getLocked(key)
	if m.cfg.OnLookup != nil {
		m.cfg.OnLookup(ok)
	}
	return p, ok
}

func (m *Memory) getLocked(key string) (auth.Principal, bool) {
	el, ok := m.items[key]
	if !ok {
		return auth.Principal{}, false
	}
	entry := el.Value.(*memoryEntry)
	if !m.now().Before(entry.expiresAt) || !m.freshLocked(entry.principal, entry.stamp) {
		m.removeLocked(el)
		return auth.Principal{}, false
	}
	return entry.principal, true
}

func (m *Memory) Stamp(context.Context) Stamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stamp(m.epoch)
}

func (m *Memory) Set(_ context.Context, key string, p auth.Principal, stamp Stamp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.pruneLocked(now)

	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}
	if !m.freshLocked(p, uint64(stamp)) {
		return
	}
	for m.order.Len() >= m.cfg.MaxEntries {
		m.removeLocked(m.order.Front())
	}

	entry := &memoryEntry{
		key:       key,
		principal: p,
		expiresAt: now.Add(m.cfg.TTL),
		stamp:     uint64(stamp),
	}
	m.items[key] = m.order.PushBack(entry)
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.items[key]; ok {
		m.removeLocked(el)
	}
}

func (m *Memory) InvalidateTenant(_ context.Context, tenantID string) {
	if tenantID == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markLocked(tenantMark(tenantID))
}

func (m *Memory) InvalidateIdentity(_ context.Context, identityID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markLocked(identityMark(identityID))
}

// Len reports the number of stored entries, stale ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}

// Marks reports how many invalidation marks are still tracked.
func (m *Memory) Marks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marks)
}

func (m *Memory) markLocked(key string) {
	now := m.now()
	m.pruneLocked(now)

	m.epoch++
	m.marks[key] = m.epoch
	m.markOrder.PushBack(&invalidation{key: key, epoch: m.epoch, expiresAt: now.Add(m.cfg.TTL)})
}

func (m *Memory) freshLocked(p auth.Principal, stamp uint64) bool {
	if stamp < m.floor {
		return false
	}
	return stamp >= m.marks[tenantMark(p.TenantID)] && stamp >= m.marks[identityMark(p.IdentityID)]
}

// pruneLocked drops expired entries and the marks that no live entry predates. Both
// lists are in expiry order, so it stops at the first element still alive.
func (m *Memory) pruneLocked(now time.Time) {
	for el := m.order.Front(); el != nil; el = m.order.Front() {
		if now.Before(el.Value.(*memoryEntry).expiresAt) {
			break
		}
		m.removeLocked(el)
	}
	for el := m.markOrder.Front(); el != nil; el = m.markOrder.Front() {
		mark := el.Value.(*invalidation)
		if now.Before(mark.expiresAt) {
			break
		}
		if m.marks[mark.key] == mark.epoch {
			delete(m.marks, mark.key)
		}
		if mark.epoch > m.floor {
			m.floor = mark.epoch
		}
		m.markOrder.Remove(el)
	}
}

func (m *Memory) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	delete(m.items, entry.key)
	m.order.Remove(el)
}

func tenantMark(tenantID string) string { return "t:" + tenantID }

func identityMark(identityID uuid.UUID) string { return "i:" + identityID.String() }
