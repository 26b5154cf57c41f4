package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

const (
	dateLayout         = "2006-01-02"
	maxNameLength      = 120
	maxPhoneLength     = 32
	maxNotesLength     = 1000
	maxListWindowDays  = 92
	defaultListPastDay = 1
)

// Slot is a bookable range.
type Slot struct {
	StartsAt time.Time
	EndsAt   time.Time
}

type interval struct {
	start time.Time
	end   time.Time
}

func (i interval) overlaps(start, end time.Time) bool {
	return start.Before(i.end) && i.start.Before(end)
}

// allowedFrom lists, for each target status, the statuses it can be reached from.
var allowedFrom = map[string][]string{
	StatusConfirmed: {StatusPending},
	StatusCancelled: {StatusPending, StatusConfirmed},
}

// Slots returns the bookable slots of date ("YYYY-MM-DD", in the tenant timezone). Windows of
// that weekday are stepped by slotMinutes; slots touching a break, a time off range or an
// existing appointment (widened by bufferMinutes) are dropped, and so are slots already started.
func (s *Service) Slots(ctx context.Context, tenantID, date string) ([]Slot, error) {
	if tenantID == "" {
		return nil, ErrNotFound
	}

	settings, err := s.settings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	loc := settings.Location()

	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return nil, &ValidationError{Fields: FieldErrors{"date": {"date must use YYYY-MM-DD"}}}
	}
	dayEnd := day.AddDate(0, 0, 1)
	weekday := weekdayOf(day)

	windows, _, err := s.schedule(ctx, tenantID, settings)
	if err != nil {
		return nil, err
	}

	var blocked []interval
	for _, b := range fromSettings(settings.Breaks) {
		if b.Weekday != weekday {
			continue
		}
		if span, ok := clockInterval(day, b); ok {
			blocked = append(blocked, span)
		}
	}

	timeOff, err := s.repo.ListTimeOffOverlapping(ctx, tenantID, day, dayEnd)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	for _, t := range timeOff {
		blocked = append(blocked, interval{start: t.StartsAt, end: t.EndsAt})
	}

	buffer := time.Duration(settings.BufferMinutes) * time.Minute
	booked, err := s.repo.ListAppointments(ctx, tenantID, ListOptions{From: day.Add(-buffer), To: dayEnd.Add(buffer)})
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	for _, a := range booked {
		if a.Status == StatusCancelled {
			continue
		}
		blocked = append(blocked, interval{start: a.StartsAt.Add(-buffer), end: a.EndsAt.Add(buffer)})
	}

	step := time.Duration(settings.SlotMinutes) * time.Minute
	now := s.now()
	slots := []Slot{}
	for _, w := range windows {
		if w.Weekday != weekday {
			continue
		}
		span, ok := clockInterval(day, w)
		if !ok {
			continue
		}
		for start := span.start; !start.Add(step).After(span.end); start = start.Add(step) {
			end := start.Add(step)
			if start.Before(now) || isBlocked(blocked, start, end) {
				continue
			}
			slots = append(slots, Slot{StartsAt: start, EndsAt: end})
		}
	}
	return slots, nil
}

func isBlocked(blocked []interval, start, end time.Time) bool {
	for _, b := range blocked {
		if b.overlaps(start, end) {
			return true
		}
	}
	return false
}

// clockInterval places a window on day using the wall clock of the day's location.
func clockInterval(day time.Time, w Window) (interval, bool) {
	start, err := parseClock(w.Start)
	if err != nil {
		return interval{}, false
	}
	end, err := parseClock(w.End)
	if err != nil || end <= start {
		return interval{}, false
	}
	y, m, d := day.Date()
	loc := day.Location()
	return interval{
		start: time.Date(y, m, d, start/60, start%60, 0, 0, loc),
		end:   time.Date(y, m, d, end/60, end%60, 0, 0, loc),
	}, true
}

// BookInput carries a public booking request.
type BookInput struct {
	StartsAt      time.Time
	CustomerName  string
	CustomerEmail string
	CustomerPhone *string
	Notes         *string
}

// Book reserves one of the slots returned by Slots. The repository re-checks overlap under a
// tenant lock, so a lost race surfaces as ErrSlotUnavailable.
func (s *Service) Book(ctx context.Context, tenantID string, input BookInput) (Appointment, error) {
	if tenantID == "" {
		return Appointment{}, ErrNotFound
	}

	name := strings.TrimSpace(input.CustomerName)
	email := strings.ToLower(strings.TrimSpace(input.CustomerEmail))
	phone := trimOptional(input.CustomerPhone)
	notes := trimOptional(input.Notes)

	fields := FieldErrors{}
	if name == "" {
		fields.add("customerName", "customerName is required")
	} else if len([]rune(name)) > maxNameLength {
		fields.add("customerName", fmt.Sprintf("customerName must be at most %d characters", maxNameLength))
	}
	if !validEmail(email) {
		fields.add("customerEmail", "customerEmail must be a valid email address")
	}
	if phone != nil && len([]rune(*phone)) > maxPhoneLength {
		fields.add("customerPhone", fmt.Sprintf("customerPhone must be at most %d characters", maxPhoneLength))
	}
	if notes != nil && len([]rune(*notes)) > maxNotesLength {
		fields.add("notes", fmt.Sprintf("notes must be at most %d characters", maxNotesLength))
	}
	if input.StartsAt.IsZero() {
		fields.add("startsAt", "startsAt is required")
	}
	if len(fields) > 0 {
		return Appointment{}, &ValidationError{Fields: fields}
	}

	settings, err := s.settings(ctx, tenantID)
	if err != nil {
		return Appointment{}, err
	}
	date := input.StartsAt.In(settings.Location()).Format(dateLayout)

	slots, err := s.Slots(ctx, tenantID, date)
	if err != nil {
		return Appointment{}, err
	}
	var chosen *Slot
	for i := range slots {
		if slots[i].StartsAt.Equal(input.StartsAt) {
			chosen = &slots[i]
			break
		}
	}
	if chosen == nil {
		return Appointment{}, ErrSlotUnavailable
	}

	booked, err := s.repo.Book(ctx, Appointment{
		ID:            uuid.New(),
		TenantID:      tenantID,
		CustomerName:  name,
		CustomerEmail: email,
		CustomerPhone: phone,
		StartsAt:      chosen.StartsAt.UTC(),
		EndsAt:        chosen.EndsAt.UTC(),
		Status:        StatusPending,
		Notes:         notes,
	}, time.Duration(settings.BufferMinutes)*time.Minute)
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return Appointment{}, ErrSlotUnavailable
		}
		return Appointment{}, mapPersistenceError(err)
	}

	s.loggerFrom(ctx).Info("appointment booked",
		zap.String("tenant_id", tenantID),
		zap.String("appointment_id", booked.ID.String()),
		zap.Time("starts_at", booked.StartsAt),
	)
	return booked, nil
}

func validEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// List returns the appointments of a tenant. Without bounds it lists from yesterday on.
func (s *Service) List(ctx context.Context, tenantID string, opts ListOptions) ([]Appointment, error) {
	fields := FieldErrors{}
	if opts.Status != "" {
		if _, ok := allowedFrom[opts.Status]; !ok && opts.Status != StatusPending {
			fields.add("status", "status must be one of pending, confirmed, cancelled")
		}
	}
	if opts.From.IsZero() && opts.To.IsZero() {
		opts.From = s.now().AddDate(0, 0, -defaultListPastDay)
	}
	if !opts.From.IsZero() && !opts.To.IsZero() {
		if !opts.To.After(opts.From) {
			fields.add("to", "to must be after from")
		} else if opts.To.Sub(opts.From) > maxListWindowDays*24*time.Hour {
			fields.add("to", fmt.Sprintf("range must be at most %d days", maxListWindowDays))
		}
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	items, err := s.repo.ListAppointments(ctx, tenantID, opts)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return items, nil
}

// UpdateStatus moves an appointment to status. Allowed: pending to confirmed or cancelled, and
// confirmed to cancelled.
func (s *Service) UpdateStatus(ctx context.Context, tenantID string, id uuid.UUID, status string) (Appointment, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	from, ok := allowedFrom[status]
	if !ok {
		return Appointment{}, &ValidationError{Fields: FieldErrors{"status": {"status must be confirmed or cancelled"}}}
	}

	updated, err := s.repo.TransitionStatus(ctx, tenantID, id, from, status)
	if err != nil {
		if errors.Is(err, persistence.ErrConflict) {
			return Appointment{}, ErrInvalidTransition
		}
		return Appointment{}, mapPersistenceError(err)
	}

	s.loggerFrom(ctx).Info("appointment status changed",
		zap.String("tenant_id", tenantID),
		zap.String("appointment_id", id.String()),
		zap.String("status", status),
	)
	return updated, nil
}

func trimOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
