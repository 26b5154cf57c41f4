package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// Errors returned by the service layer.
var (
	ErrNotFound          = errors.New("appointment resource not found")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrInvalidTransition = errors.New("appointment status transition not allowed")
)

// Appointment statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// FieldErrors captures validation messages per field.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	f[field] = append(f[field], message)
}

// ValidationError reports invalid input.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// Window is a canonical weekly range: weekday 0 = Monday, times "HH:MM".
type Window struct {
	Weekday int    `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

// TimeOff is a range during which nothing can be booked.
type TimeOff struct {
	ID        uuid.UUID
	TenantID  string
	StartsAt  time.Time
	EndsAt    time.Time
	Reason    *string
	CreatedAt time.Time
}

// Appointment is a booking.
type Appointment struct {
	ID            uuid.UUID
	TenantID      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone *string
	StartsAt      time.Time
	EndsAt        time.Time
	Status        string
	Notes         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListOptions filters appointment listings. Zero values disable a filter.
type ListOptions struct {
	From   time.Time
	To     time.Time
	Status string
}

// Repository abstracts persistence. Implementations return the persistence sentinels.
type Repository interface {
	// Settings returns the appointments module settings document; nil when none is stored.
	Settings(ctx context.Context, tenantID string) (json.RawMessage, error)
	UpdateSettings(ctx context.Context, tenantID string, mutate func(current json.RawMessage) (json.RawMessage, error)) error
	TenantsWithLegacyHours(ctx context.Context) ([]string, error)

	ListAvailability(ctx context.Context, tenantID string) ([]Window, error)
	EnsureDefaultAvailability(ctx context.Context, tenantID string, defaults []Window) ([]Window, error)
	ReplaceAvailability(ctx context.Context, tenantID string, windows []Window) ([]Window, error)
	ConsolidateAvailability(ctx context.Context, tenantID string, convert func(settings json.RawMessage) ([]Window, bool, error)) (bool, error)

	ListUpcomingTimeOff(ctx context.Context, tenantID string, now time.Time) ([]TimeOff, error)
	ListTimeOffOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]TimeOff, error)
	CreateTimeOff(ctx context.Context, t TimeOff) (TimeOff, error)
	DeleteTimeOff(ctx context.Context, tenantID string, id uuid.UUID) error

	ListAppointments(ctx context.Context, tenantID string, opts ListOptions) ([]Appointment, error)
	// Book re-checks overlap, widened by buffer on both sides, before inserting.
	Book(ctx context.Context, a Appointment, buffer time.Duration) (Appointment, error)
	TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []string, next string) (Appointment, error)
}

// Service owns availability, slots and bookings.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// New constructs a Service.
func New(repo Repository, logger *zap.Logger) *Service {
	if repo == nil {
		panic("appointments repo is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

func (s *Service) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return s.logger
}

func mapPersistenceError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
