package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AppointmentRecord represents a row of the appointments table.
type AppointmentRecord struct {
	ID            uuid.UUID `db:"id"`
	TenantID      string    `db:"tenant_id"`
	CustomerName  string    `db:"customer_name"`
	CustomerEmail string    `db:"customer_email"`
	CustomerPhone *string   `db:"customer_phone"`
	StartsAt      time.Time `db:"starts_at"`
	EndsAt        time.Time `db:"ends_at"`
	Status        string    `db:"status"`
	Notes         *string   `db:"notes"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// ListAppointmentsParams filters an appointment listing. Zero values disable a filter.
type ListAppointmentsParams struct {
	From   time.Time
	To     time.Time
	Status string
	Limit  int
}

const appointmentColumns = "id, tenant_id, customer_name, customer_email, customer_phone, starts_at, ends_at, status, notes, created_at, updated_at"

// AppointmentStore provides access to the appointments table.
type AppointmentStore struct {
	db *DB
}

// NewAppointmentStore creates a store; assumes migrations already created the table.
func NewAppointmentStore(db *DB) *AppointmentStore {
	if db == nil {
		panic("appointment store: db is required")
	}
	return &AppointmentStore{db: db}
}

// List returns the tenant appointments ordered by start time.
func (s *AppointmentStore) List(ctx context.Context, tenantID string, params ListAppointmentsParams) ([]AppointmentRecord, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}
	if !params.From.IsZero() {
		args = append(args, params.From)
		conds = append(conds, fmt.Sprintf("ends_at > $%d", len(args)))
	}
	if !params.To.IsZero() {
		args = append(args, params.To)
		conds = append(conds, fmt.Sprintf("starts_at < $%d", len(args)))
	}
	if params.Status != "" {
		args = append(args, params.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM appointments WHERE %s ORDER BY starts_at ASC LIMIT $%d`,
		appointmentColumns, strings.Join(conds, " AND "), len(args))

	records := []AppointmentRecord{}
	err := s.db.Read(ctx, "appointments.list", func(ctx context.Context, q Querier) error {
		var err error
		records, err = queryAppointments(ctx, q, query, args...)
		return err
	})
	return records, err
}

// Get fetches an appointment owned by the tenant.
func (s *AppointmentStore) Get(ctx context.Context, tenantID string, id uuid.UUID) (AppointmentRecord, error) {
	var rec AppointmentRecord
	err := s.db.Read(ctx, "appointments.get", func(ctx context.Context, q Querier) error {
		var err error
		rec, err = scanAppointmentRecord(q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments
            WHERE tenant_id = $1 AND id = $2`, tenantID, id))
		return err
	})
	return rec, err
}

// Book inserts an appointment unless a non-cancelled one overlaps [StartsAt-buffer, EndsAt+buffer).
// The tenant schedule lock serializes concurrent bookings so two overlapping requests cannot
// both win. An unknown tenant yields ErrNotFound.
func (s *AppointmentStore) Book(ctx context.Context, rec AppointmentRecord, buffer time.Duration) (AppointmentRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}

	var out AppointmentRecord
	err := s.db.Tx(ctx, "appointments.book", func(ctx context.Context, tx pgx.Tx) error {
		if err := lockTenantSchedule(ctx, tx, rec.TenantID); err != nil {
			return err
		}

		var overlaps bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (
            SELECT 1 FROM appointments
            WHERE tenant_id = $1 AND status <> 'cancelled' AND starts_at < $3 AND ends_at > $2
        )`, rec.TenantID, rec.StartsAt.Add(-buffer), rec.EndsAt.Add(buffer)).Scan(&overlaps); err != nil {
			return err
		}
		if overlaps {
			return ErrConflict
		}

		var err error
		out, err = scanAppointmentRecord(tx.QueryRow(ctx, `
            INSERT INTO appointments (id, tenant_id, customer_name, customer_email, customer_phone, starts_at, ends_at, status, notes)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
            RETURNING `+appointmentColumns,
			rec.ID, rec.TenantID, rec.CustomerName, rec.CustomerEmail, rec.CustomerPhone,
			rec.StartsAt, rec.EndsAt, rec.Status, rec.Notes))
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	})
	return out, err
}

// TransitionStatus moves an appointment from one of the allowed statuses to next.
// A row in any other status yields ErrConflict; a missing row yields ErrNotFound.
func (s *AppointmentStore) TransitionStatus(ctx context.Context, tenantID string, id uuid.UUID, from []string, next string) (AppointmentRecord, error) {
	var out AppointmentRecord
	err := s.db.Tx(ctx, "appointments.transition", func(ctx context.Context, tx pgx.Tx) error {
		var current string
		if err := tx.QueryRow(ctx, `SELECT status FROM appointments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`,
			tenantID, id).Scan(&current); err != nil {
			return mapRowErr(err)
		}

		allowed := false
		for _, st := range from {
			if st == current {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrConflict
		}

		var err error
		out, err = scanAppointmentRecord(tx.QueryRow(ctx, `
            UPDATE appointments SET status = $3, updated_at = NOW()
            WHERE tenant_id = $1 AND id = $2
            RETURNING `+appointmentColumns, tenantID, id, next))
		return err
	})
	return out, err
}

func queryAppointments(ctx context.Context, q Querier, query string, args ...any) ([]AppointmentRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []AppointmentRecord{}
	for rows.Next() {
		rec, err := scanAppointmentRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func scanAppointmentRecord(row pgx.Row) (AppointmentRecord, error) {
	var rec AppointmentRecord
	if err := row.Scan(
		&rec.ID,
		&rec.TenantID,
		&rec.CustomerName,
		&rec.CustomerEmail,
		&rec.CustomerPhone,
		&rec.StartsAt,
		&rec.EndsAt,
		&rec.Status,
		&rec.Notes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return AppointmentRecord{}, mapRowErr(err)
	}
	return rec, nil
}
