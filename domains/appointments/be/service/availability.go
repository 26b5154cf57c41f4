package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
)

// Source tells where the weekly schedule of an Availability was read from.
type Source string

const (
	SourceSettings Source = "settings"
	SourceTable    Source = "table"
)

const (
	businessHoursKey = "businessHours"
	breaksKey        = "breaks"
	maxReasonLength  = 500
)

// DefaultSchedule is seeded for tenants without any stored availability: Monday to Friday, 09:00-17:00.
func DefaultSchedule() []Window {
	windows := make([]Window, 0, 5)
	for day := 0; day < 5; day++ {
		windows = append(windows, Window{Weekday: day, Start: "09:00", End: "17:00"})
	}
	return windows
}

// Availability is the aggregated booking calendar of a tenant.
type Availability struct {
	Availability []Window
	Breaks       []Window
	TimeOff      []TimeOff
	Source       Source
}

// CanonicalWeekday converts a Sunday-first weekday (0 = Sunday) to the canonical Monday-first one.
// src must be in 0..6.
func CanonicalWeekday(src int) int {
	if src == 0 {
		return 6
	}
	return src - 1
}

// SettingsWeekday converts a canonical weekday back to the Sunday-first numbering of the settings document.
func SettingsWeekday(canonical int) int {
	return (canonical + 1) % 7
}

// weekdayOf returns the canonical weekday of t.
func weekdayOf(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// fromSettings converts settings windows, keeping only complete rows with a weekday in 0..6.
func fromSettings(windows []modulesservice.Window) []Window {
	out := make([]Window, 0, len(windows))
	for _, w := range windows {
		if w.Start == "" || w.End == "" || w.Weekday < 0 || w.Weekday > 6 {
			continue
		}
		out = append(out, Window{Weekday: CanonicalWeekday(w.Weekday), Start: w.Start, End: w.End})
	}
	sortWindows(out)
	return out
}

func toSettings(windows []Window) []modulesservice.Window {
	out := make([]modulesservice.Window, 0, len(windows))
	for _, w := range windows {
		out = append(out, modulesservice.Window{Weekday: SettingsWeekday(w.Weekday), Start: w.Start, End: w.End})
	}
	return out
}

func sortWindows(windows []Window) {
	sort.SliceStable(windows, func(i, j int) bool {
		if windows[i].Weekday != windows[j].Weekday {
			return windows[i].Weekday < windows[j].Weekday
		}
		return windows[i].Start < windows[j].Start
	})
}

func (s *Service) settings(ctx context.Context, tenantID string) (modulesservice.AppointmentsSettings, error) {
	raw, err := s.repo.Settings(ctx, tenantID)
	if err != nil {
		return modulesservice.AppointmentsSettings{}, fmt.Errorf("load appointments settings: %w", err)
	}
	settings, err := modulesservice.DecodeAppointmentsSettings(raw)
	if err != nil {
		return modulesservice.AppointmentsSettings{}, fmt.Errorf("decode appointments settings: %w", err)
	}
	if len(settings.Ignored) > 0 {
		s.loggerFrom(ctx).Warn("appointments settings keys ignored, defaults applied",
			zap.String("tenant_id", tenantID),
			zap.Strings("keys", settings.Ignored),
		)
	}
	return settings, nil
}

// GetAvailability aggregates the weekly schedule, breaks and upcoming time off of a tenant.
// Non-empty business hours in the settings document win over the availability table; otherwise
// the table is read and seeded with DefaultSchedule when the tenant has no rows.
func (s *Service) GetAvailability(ctx context.Context, tenantID string) (Availability, error) {
	if tenantID == "" {
		return Availability{}, ErrNotFound
	}

	settings, err := s.settings(ctx, tenantID)
	if err != nil {
		return Availability{}, err
	}

	windows, source, err := s.schedule(ctx, tenantID, settings)
	if err != nil {
		return Availability{}, err
	}
	result := Availability{
		Availability: windows,
		Breaks:       fromSettings(settings.Breaks),
		Source:       source,
	}

	timeOff, err := s.repo.ListUpcomingTimeOff(ctx, tenantID, s.now())
	if err != nil {
		return Availability{}, mapPersistenceError(err)
	}
	result.TimeOff = timeOff

	return result, nil
}

func (s *Service) schedule(ctx context.Context, tenantID string, settings modulesservice.AppointmentsSettings) ([]Window, Source, error) {
	if windows := fromSettings(settings.BusinessHours); len(windows) > 0 {
		return windows, SourceSettings, nil
	}
	windows, err := s.repo.EnsureDefaultAvailability(ctx, tenantID, DefaultSchedule())
	if err != nil {
		return nil, "", mapPersistenceError(err)
	}
	return windows, SourceTable, nil
}

// ReplaceBusinessHours stores the weekly schedule in the availability table. Any legacy copy in
// the settings document is dropped by the repository in the same transaction.
func (s *Service) ReplaceBusinessHours(ctx context.Context, tenantID string, windows []Window) ([]Window, error) {
	if fields := validateWindows("businessHours", windows); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	normalized := append([]Window(nil), windows...)
	sortWindows(normalized)

	stored, err := s.repo.ReplaceAvailability(ctx, tenantID, normalized)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	s.loggerFrom(ctx).Info("business hours replaced",
		zap.String("tenant_id", tenantID),
		zap.Int("windows", len(stored)),
	)
	return stored, nil
}

// ReplaceBreaks stores the breaks in the appointments settings document, Sunday-first.
func (s *Service) ReplaceBreaks(ctx context.Context, tenantID string, windows []Window) ([]Window, error) {
	if fields := validateWindows("breaks", windows); len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	normalized := append([]Window(nil), windows...)
	sortWindows(normalized)

	encoded, err := json.Marshal(toSettings(normalized))
	if err != nil {
		return nil, fmt.Errorf("encode breaks: %w", err)
	}

	err = s.repo.UpdateSettings(ctx, tenantID, func(current json.RawMessage) (json.RawMessage, error) {
		doc, err := settingsObject(current)
		if err != nil {
			return nil, err
		}
		if len(normalized) == 0 {
			delete(doc, breaksKey)
		} else {
			doc[breaksKey] = encoded
		}
		return json.Marshal(doc)
	})
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return normalized, nil
}

func settingsObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	doc := map[string]json.RawMessage{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode settings document: %w", err)
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

// validateWindows checks weekday range, time format, ordering and that no two windows of the
// same weekday overlap.
func validateWindows(field string, windows []Window) FieldErrors {
	fields := FieldErrors{}
	type span struct{ start, end int }
	byDay := map[int][]span{}

	for i, w := range windows {
		key := fmt.Sprintf("%s/%d", field, i)
		if w.Weekday < 0 || w.Weekday > 6 {
			fields.add(key, "weekday must be between 0 (Monday) and 6 (Sunday)")
		}
		start, errStart := parseClock(w.Start)
		end, errEnd := parseClock(w.End)
		if errStart != nil {
			fields.add(key, "start must use HH:MM")
		}
		if errEnd != nil {
			fields.add(key, "end must use HH:MM")
		}
		if errStart != nil || errEnd != nil || w.Weekday < 0 || w.Weekday > 6 {
			continue
		}
		if start >= end {
			fields.add(key, "start must be before end")
			continue
		}
		for _, other := range byDay[w.Weekday] {
			if start < other.end && other.start < end {
				fields.add(key, "window overlaps another window of the same weekday")
				break
			}
		}
		byDay[w.Weekday] = append(byDay[w.Weekday], span{start, end})
	}

	if len(fields) == 0 {
		return nil
	}
	return fields
}

// parseClock returns the minutes since midnight of an "HH:MM" value.
func parseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil || len(value) != 5 {
		return 0, fmt.Errorf("invalid clock value %q", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ListTimeOff returns the upcoming time off of a tenant.
func (s *Service) ListTimeOff(ctx context.Context, tenantID string) ([]TimeOff, error) {
	items, err := s.repo.ListUpcomingTimeOff(ctx, tenantID, s.now())
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return items, nil
}

// CreateTimeOffInput carries a new time off range.
type CreateTimeOffInput struct {
	StartsAt time.Time
	EndsAt   time.Time
	Reason   *string
}

// CreateTimeOff stores a time off range.
func (s *Service) CreateTimeOff(ctx context.Context, tenantID string, input CreateTimeOffInput) (TimeOff, error) {
	fields := FieldErrors{}
	if input.StartsAt.IsZero() {
		fields.add("startsAt", "startsAt is required")
	}
	if input.EndsAt.IsZero() {
		fields.add("endsAt", "endsAt is required")
	}
	if !input.StartsAt.IsZero() && !input.EndsAt.IsZero() && !input.EndsAt.After(input.StartsAt) {
		fields.add("endsAt", "endsAt must be after startsAt")
	}
	reason := trimOptional(input.Reason)
	if reason != nil && len([]rune(*reason)) > maxReasonLength {
		fields.add("reason", fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}
	if len(fields) > 0 {
		return TimeOff{}, &ValidationError{Fields: fields}
	}

	created, err := s.repo.CreateTimeOff(ctx, TimeOff{
		ID:       uuid.New(),
		TenantID: tenantID,
		StartsAt: input.StartsAt.UTC(),
		EndsAt:   input.EndsAt.UTC(),
		Reason:   reason,
	})
	if err != nil {
		return TimeOff{}, mapPersistenceError(err)
	}
	return created, nil
}

// DeleteTimeOff removes a time off range.
func (s *Service) DeleteTimeOff(ctx context.Context, tenantID string, id uuid.UUID) error {
	if err := s.repo.DeleteTimeOff(ctx, tenantID, id); err != nil {
		return mapPersistenceError(err)
	}
	return nil
}

// Consolidate moves legacy business hours of one tenant from the settings document into the
// availability table. It reports whether anything was migrated.
func (s *Service) Consolidate(ctx context.Context, tenantID string) (bool, error) {
	migrated, err := s.repo.ConsolidateAvailability(ctx, tenantID, legacyHours)
	if err != nil {
		return false, mapPersistenceError(err)
	}
	if migrated {
		s.loggerFrom(ctx).Info("legacy business hours consolidated", zap.String("tenant_id", tenantID))
	}
	return migrated, nil
}

// ConsolidateReport summarizes a ConsolidateAll run.
type ConsolidateReport struct {
	Migrated []string
	Skipped  []string
	Failed   map[string]error
}

// ConsolidateAll runs Consolidate for every tenant still carrying legacy business hours.
// Failures are collected per tenant so one broken document does not stop the run.
func (s *Service) ConsolidateAll(ctx context.Context) (ConsolidateReport, error) {
	tenants, err := s.repo.TenantsWithLegacyHours(ctx)
	if err != nil {
		return ConsolidateReport{}, mapPersistenceError(err)
	}

	report := ConsolidateReport{Failed: map[string]error{}}
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		migrated, err := s.Consolidate(ctx, tenantID)
		switch {
		case err != nil:
			report.Failed[tenantID] = err
			s.loggerFrom(ctx).Warn("consolidate business hours failed", zap.String("tenant_id", tenantID), zap.Error(err))
		case migrated:
			report.Migrated = append(report.Migrated, tenantID)
		default:
			report.Skipped = append(report.Skipped, tenantID)
		}
	}
	return report, nil
}

// legacyHours converts the businessHours of a settings document to canonical windows.
// Documents without complete rows report ok=false and are left untouched.
func legacyHours(raw json.RawMessage) ([]Window, bool, error) {
	settings, err := modulesservice.DecodeAppointmentsSettings(raw)
	if err != nil {
		return nil, false, err
	}
	windows := fromSettings(settings.BusinessHours)
	if len(windows) == 0 {
		return nil, false, nil
	}
	if fields := validateWindows(businessHoursKey, windows); len(fields) > 0 {
		return nil, false, &ValidationError{Fields: fields}
	}
	return windows, true, nil
}
