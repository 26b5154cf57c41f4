package repo

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/appointments/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type tenantData struct {
	settings     json.RawMessage
	availability []service.Window
	timeOff      []service.TimeOff
	appointments []service.Appointment
}

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
// Only tenants registered with AddTenant exist.
type MemoryRepository struct {
	mu      sync.RWMutex
	tenants map[string]*tenantData
	now     func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository with the given tenants.
func NewMemoryRepository(tenantIDs ...string) *MemoryRepository {
	r := &MemoryRepository{tenants: make(map[string]*tenantData), now: time.Now}
	for _, id := range tenantIDs {
		r.tenants[id] = &tenantData{}
	}
	return r
}

// AddTenant registers a tenant.
func (r *MemoryRepository) AddTenant(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[id]; !ok {
		r.tenants[id] = &tenantData{}
	}
}

// PutSettings stores the raw appointments settings document of a tenant.
func (r *MemoryRepository) PutSettings(tenantID string, raw json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant(tenantID).settings = append(json.RawMessage(nil), raw...)
}

// PutAvailability stores canonical windows without the default seeding path.
func (r *MemoryRepository) PutAvailability(tenantID string, windows []service.Window) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tenant(tenantID).availability = append([]service.Window(nil), windows...)
}

// PutAppointment stores an appointment without overlap checks.
func (r *MemoryRepository) PutAppointment(a service.Appointment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	t := r.tenant(a.TenantID)
	t.appointments = append(t.appointments, a)
}

func (r *MemoryRepository) tenant(id string) *tenantData {
	t, ok := r.tenants[id]
	if !ok {
		t = &tenantData{}
		r.tenants[id] = t
	}
	return t
}

func (r *MemoryRepository) lookup(id string) (*tenantData, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, persistence.ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepository) Settings(ctx context.Context, tenantID string) (json.RawMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, nil
	}
	return append(json.RawMessage(nil), t.settings...), nil
}

func (r *MemoryRepository) UpdateSettings(ctx context.Context, tenantID string, mutate func(current json.RawMessage) (json.RawMessage, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return err
	}
	current := t.settings
	if len(current) == 0 {
		current = json.RawMessage(`{}`)
	}
	next, err := mutate(current)
	if err != nil {
		return err
	}
	t.settings = next
	return nil
}

func (r *MemoryRepository) TenantsWithLegacyHours(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := []string{}
	for id, t := range r.tenants {
		doc := map[string]json.RawMessage{}
		if len(t.settings) == 0 || json.Unmarshal(t.settings, &doc) != nil {
			continue
		}
		if _, ok := doc["businessHours"]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *MemoryRepository) ListAvailability(ctx context.Context, tenantID string) ([]service.Window, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	return append([]service.Window{}, t.availability...), nil
}

func (r *MemoryRepository) EnsureDefaultAvailability(ctx context.Context, tenantID string, defaults []service.Window) ([]service.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	if len(t.availability) == 0 {
		t.availability = append([]service.Window(nil), defaults...)
	}
	return append([]service.Window{}, t.availability...), nil
}

func (r *MemoryRepository) ReplaceAvailability(ctx context.Context, tenantID string, windows []service.Window) ([]service.Window, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	t.availability = append([]service.Window(nil), windows...)
	t.settings = withoutKey(t.settings, "businessHours")
	return append([]service.Window{}, t.availability...), nil
}

func (r *MemoryRepository) ConsolidateAvailability(ctx context.Context, tenantID string, convert func(settings json.RawMessage) ([]service.Window, bool, error)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return false, err
	}
	windows, ok, err := convert(t.settings)
	if err != nil || !ok {
		return false, err
	}
	t.availability = append([]service.Window(nil), windows...)
	t.settings = withoutKey(t.settings, "businessHours")
	return true, nil
}

func withoutKey(raw json.RawMessage, key string) json.RawMessage {
	doc := map[string]json.RawMessage{}
	if len(raw) == 0 || json.Unmarshal(raw, &doc) != nil {
		return raw
	}
	delete(doc, key)
	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}

func (r *MemoryRepository) ListUpcomingTimeOff(ctx context.Context, tenantID string, now time.Time) ([]service.TimeOff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	out := []service.TimeOff{}
	for _, item := range t.timeOff {
		if !item.EndsAt.Before(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryRepository) ListTimeOffOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]service.TimeOff, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	out := []service.TimeOff{}
	for _, item := range t.timeOff {
		if item.StartsAt.Before(to) && item.EndsAt.After(from) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CreateTimeOff(ctx context.Context, item service.TimeOff) (service.TimeOff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(item.TenantID)
	if err != nil {
		return service.TimeOff{}, err
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	item.CreatedAt = r.now().UTC()
	t.timeOff = append(t.timeOff, item)
	return item, nil
}

func (r *MemoryRepository) DeleteTimeOff(ctx context.Context, tenantID string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return err
	}
	for i, item := range t.timeOff {
		if item.ID == id {
			t.timeOff = append(t.timeOff[:i], t.timeOff[i+1:]...)
			return nil
		}
	}
	return persistence.ErrNotFound
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, tenantID string, opts service.ListOptions) ([]service.Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return nil, err
	}
	out := []service.Appointment{}
	for _, a := range t.appointments {
		if !opts.From.IsZero() && !a.EndsAt.After(opts.From) {
			continue
		}
		if !opts.To.IsZero() && !a.StartsAt.Before(opts.To) {
			continue
		}
		if opts.Status != "" && a.Status != opts.Status {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (r *MemoryRepository) Book(ctx context.Context, a service.Appointment, buffer time.Duration) (service.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(a.TenantID)
	if err != nil {
		return service.Appointment{}, err
	}
	for _, existing := range t.appointments {
		if existing.Status != service.StatusCancelled && existing.StartsAt.Before(a.EndsAt.Add(buffer)) && existing.EndsAt.After(a.StartsAt.Add(-buffer)) {
			return service.Appointment{}, persistence.ErrConflict
		}
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = service.StatusPending
	}
	now := r.now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	t.appointments = append(t.appointments, a)
	return a, nil
}

func (r *MemoryRepository) TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []string, next string) (service.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.lookup(tenantID)
	if err != nil {
		return service.Appointment{}, err
	}
	for i, a := range t.appointments {
		if a.ID != id {
			continue
		}
		for _, st := range from {
			if st == a.Status {
				a.Status = next
				a.UpdatedAt = r.now().UTC()
				t.appointments[i] = a
				return a, nil
			}
		}
		return service.Appointment{}, persistence.ErrConflict
	}
	return service.Appointment{}, persistence.ErrNotFound
}
