package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/appointments/be/service"
	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// listLimit caps a single appointment listing.
const listLimit = 500

type postgresRepository struct {
	availability *persistence.AvailabilityStore
	appointments *persistence.AppointmentStore
	modules      *persistence.ModuleStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(availability *persistence.AvailabilityStore, appointments *persistence.AppointmentStore, modules *persistence.ModuleStore) service.Repository {
	if availability == nil || appointments == nil || modules == nil {
		panic("availability, appointment and module stores are required")
	}
	return &postgresRepository{availability: availability, appointments: appointments, modules: modules}
}

func (r *postgresRepository) Settings(ctx context.Context, tenantID string) (json.RawMessage, error) {
	rec, err := r.modules.Get(ctx, tenantID, modulesservice.ModuleAppointments)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec.Settings, nil
}

func (r *postgresRepository) UpdateSettings(ctx context.Context, tenantID string, mutate func(current json.RawMessage) (json.RawMessage, error)) error {
	_, err := r.modules.UpdateSettings(ctx, tenantID, modulesservice.ModuleAppointments, mutate)
	return err
}

func (r *postgresRepository) TenantsWithLegacyHours(ctx context.Context) ([]string, error) {
	return r.modules.TenantsWithSetting(ctx, modulesservice.ModuleAppointments, "businessHours")
}

func (r *postgresRepository) ListAvailability(ctx context.Context, tenantID string) ([]service.Window, error) {
	records, err := r.availability.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return toWindows(records), nil
}

func (r *postgresRepository) EnsureDefaultAvailability(ctx context.Context, tenantID string, defaults []service.Window) ([]service.Window, error) {
	records, _, err := r.availability.EnsureDefault(ctx, tenantID, toRecords(defaults))
	if err != nil {
		return nil, err
	}
	return toWindows(records), nil
}

func (r *postgresRepository) ReplaceAvailability(ctx context.Context, tenantID string, windows []service.Window) ([]service.Window, error) {
	records, err := r.availability.Replace(ctx, tenantID, toRecords(windows))
	if err != nil {
		return nil, err
	}
	return toWindows(records), nil
}

func (r *postgresRepository) ConsolidateAvailability(ctx context.Context, tenantID string, convert func(settings json.RawMessage) ([]service.Window, bool, error)) (bool, error) {
	return r.availability.Consolidate(ctx, tenantID, func(settings json.RawMessage) ([]persistence.AvailabilityRecord, bool, error) {
		windows, ok, err := convert(settings)
		if err != nil || !ok {
			return nil, ok, err
		}
		return toRecords(windows), true, nil
	})
}

func (r *postgresRepository) ListUpcomingTimeOff(ctx context.Context, tenantID string, now time.Time) ([]service.TimeOff, error) {
	records, err := r.availability.ListUpcomingTimeOff(ctx, tenantID, now)
	if err != nil {
		return nil, err
	}
	return toTimeOffs(records), nil
}

func (r *postgresRepository) ListTimeOffOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]service.TimeOff, error) {
	records, err := r.availability.ListTimeOffOverlapping(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	return toTimeOffs(records), nil
}

func (r *postgresRepository) CreateTimeOff(ctx context.Context, t service.TimeOff) (service.TimeOff, error) {
	rec, err := r.availability.CreateTimeOff(ctx, persistence.TimeOffRecord{
		ID:       t.ID,
		TenantID: t.TenantID,
		StartsAt: t.StartsAt,
		EndsAt:   t.EndsAt,
		Reason:   t.Reason,
	})
	if err != nil {
		return service.TimeOff{}, err
	}
	return toTimeOff(rec), nil
}

func (r *postgresRepository) DeleteTimeOff(ctx context.Context, tenantID string, id uuid.UUID) error {
	return r.availability.DeleteTimeOff(ctx, tenantID, id)
}

func (r *postgresRepository) ListAppointments(ctx context.Context, tenantID string, opts service.ListOptions) ([]service.Appointment, error) {
	records, err := r.appointments.List(ctx, tenantID, persistence.ListAppointmentsParams{
		From:   opts.From,
		To:     opts.To,
		Status: opts.Status,
		Limit:  listLimit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]service.Appointment, 0, len(records))
	for _, rec := range records {
		out = append(out, toAppointment(rec))
	}
	return out, nil
}

func (r *postgresRepository) Book(ctx context.Context, a service.Appointment, buffer time.Duration) (service.Appointment, error) {
	rec, err := r.appointments.Book(ctx, persistence.AppointmentRecord{
		ID:            a.ID,
		TenantID:      a.TenantID,
		CustomerName:  a.CustomerName,
		CustomerEmail: a.CustomerEmail,
		CustomerPhone: a.CustomerPhone,
		StartsAt:      a.StartsAt,
		EndsAt:        a.EndsAt,
		Status:        a.Status,
		Notes:         a.Notes,
	}, buffer)
	if err != nil {
		return service.Appointment{}, err
	}
	return toAppointment(rec), nil
}

func (r *postgresRepository) TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []string, next string) (service.Appointment, error) {
	rec, err := r.appointments.TransitionStatus(ctx, tenantID, id, from, next)
	if err != nil {
		return service.Appointment{}, err
	}
	return toAppointment(rec), nil
}

func toWindows(records []persistence.AvailabilityRecord) []service.Window {
	out := make([]service.Window, 0, len(records))
	for _, rec := range records {
		out = append(out, service.Window{Weekday: rec.Weekday, Start: rec.StartTime, End: rec.EndTime})
	}
	return out
}

func toRecords(windows []service.Window) []persistence.AvailabilityRecord {
	out := make([]persistence.AvailabilityRecord, 0, len(windows))
	for _, w := range windows {
		out = append(out, persistence.AvailabilityRecord{Weekday: w.Weekday, StartTime: w.Start, EndTime: w.End})
	}
	return out
}

func toTimeOffs(records []persistence.TimeOffRecord) []service.TimeOff {
	out := make([]service.TimeOff, 0, len(records))
	for _, rec := range records {
		out = append(out, toTimeOff(rec))
	}
	return out
}

func toTimeOff(rec persistence.TimeOffRecord) service.TimeOff {
	return service.TimeOff{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		StartsAt:  rec.StartsAt,
		EndsAt:    rec.EndsAt,
		Reason:    rec.Reason,
		CreatedAt: rec.CreatedAt,
	}
}

func toAppointment(rec persistence.AppointmentRecord) service.Appointment {
	return service.Appointment{
		ID:            rec.ID,
		TenantID:      rec.TenantID,
		CustomerName:  rec.CustomerName,
		CustomerEmail: rec.CustomerEmail,
		CustomerPhone: rec.CustomerPhone,
		StartsAt:      rec.StartsAt,
		EndsAt:        rec.EndsAt,
		Status:        rec.Status,
		Notes:         rec.Notes,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}
