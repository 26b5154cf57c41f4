package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AvailabilityRecord is a canonical weekly window (weekday 0 = Monday, times "HH:MM").
type AvailabilityRecord struct {
	ID        uuid.UUID `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Weekday   int       `db:"weekday"`
	StartTime string    `db:"start_time"`
	EndTime   string    `db:"end_time"`
	CreatedAt time.Time `db:"created_at"`
}

// TimeOffRecord is a date range during which the tenant takes no appointments.
type TimeOffRecord struct {
	ID        uuid.UUID `db:"id"`
	TenantID  string    `db:"tenant_id"`
	StartsAt  time.Time `db:"starts_at"`
	EndsAt    time.Time `db:"ends_at"`
	Reason    *string   `db:"reason"`
	CreatedAt time.Time `db:"created_at"`
}

const (
	availabilityColumns = "id, tenant_id, weekday, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), created_at"
	timeOffColumns      = "id, tenant_id, starts_at, ends_at, reason, created_at"

	appointmentsModuleID = "appointments"
	businessHoursKey     = "businessHours"
)

// AvailabilityStore provides access to the availability and time_off tables.
type AvailabilityStore struct {
	db *DB
}

// NewAvailabilityStore creates a store; assumes migrations already created the tables.
func NewAvailabilityStore(db *DB) *AvailabilityStore {
	if db == nil {
		panic("availability store: db is required")
	}
	return &AvailabilityStore{db: db}
}

// List returns the canonical weekly windows of a tenant ordered by weekday and start.
func (s *AvailabilityStore) List(ctx context.Context, tenantID string) ([]AvailabilityRecord, error) {
	var records []AvailabilityRecord
	err := s.db.Read(ctx, "availability.list", func(ctx context.Context, q Querier) error {
		var err error
		records, err = listAvailability(ctx, q, tenantID)
		return err
	})
	return records, err
}

// EnsureDefault seeds defaults when the tenant has no rows yet and returns the stored windows.
// The tenant schedule lock makes concurrent callers seed at most once; inserts also ignore
// duplicates on (tenant_id, weekday, start_time). It runs on the restricted public tier, so it
// never touches the tenants table: an unknown tenant surfaces as a foreign key violation.
func (s *AvailabilityStore) EnsureDefault(ctx context.Context, tenantID string, defaults []AvailabilityRecord) ([]AvailabilityRecord, bool, error) {
	var (
		records []AvailabilityRecord
		seeded  bool
	)
	err := s.db.Tx(ctx, "availability.ensure_default", func(ctx context.Context, tx pgx.Tx) error {
		if err := lockTenantSchedule(ctx, tx, tenantID); err != nil {
			return err
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM availability WHERE tenant_id = $1)`, tenantID).Scan(&exists); err != nil {
			return err
		}

		if !exists {
			if err := insertAvailability(ctx, tx, tenantID, defaults); err != nil {
				return err
			}
			seeded = len(defaults) > 0
		}

		var err error
		records, err = listAvailability(ctx, tx, tenantID)
		return err
	})
	return records, seeded, err
}

// Replace swaps the weekly schedule of a tenant and drops the legacy businessHours copy
// from the appointments settings in the same transaction, so only one representation remains.
func (s *AvailabilityStore) Replace(ctx context.Context, tenantID string, windows []AvailabilityRecord) ([]AvailabilityRecord, error) {
	var records []AvailabilityRecord
	err := s.db.Tx(ctx, "availability.replace", func(ctx context.Context, tx pgx.Tx) error {
		if err := requireTenant(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := lockTenantSchedule(ctx, tx, tenantID); err != nil {
			return err
		}
		if err := replaceAvailability(ctx, tx, tenantID, windows); err != nil {
			return err
		}
		var err error
		records, err = listAvailability(ctx, tx, tenantID)
		return err
	})
	return records, err
}

// Consolidate moves legacy schedule data from the appointments settings into the table.
// convert receives the locked settings document and returns the canonical windows; ok=false
// means there is nothing to migrate and the transaction is left without changes.
func (s *AvailabilityStore) Consolidate(ctx context.Context, tenantID string, convert func(settings json.RawMessage) (windows []AvailabilityRecord, ok bool, err error)) (bool, error) {
	migrated := false
	err := s.db.Tx(ctx, "availability.consolidate", func(ctx context.Context, tx pgx.Tx) error {
		current, err := lockTenantModule(ctx, tx, tenantID, appointmentsModuleID)
		if err != nil {
			return err
		}

		windows, ok, err := convert(current.Settings)
		if err != nil || !ok {
			return err
		}

		if err := replaceAvailability(ctx, tx, tenantID, windows); err != nil {
			return err
		}
		migrated = true
		return nil
	})
	return migrated, err
}

func replaceAvailability(ctx context.Context, tx pgx.Tx, tenantID string, windows []AvailabilityRecord) error {
	if _, err := tx.Exec(ctx, `DELETE FROM availability WHERE tenant_id = $1`, tenantID); err != nil {
		return err
	}
	if err := insertAvailability(ctx, tx, tenantID, windows); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `
        UPDATE tenant_modules SET settings = settings - $3, updated_at = NOW()
        WHERE tenant_id = $1 AND module_id = $2 AND settings ? $3`, tenantID, appointmentsModuleID, businessHoursKey)
	return err
}

func insertAvailability(ctx context.Context, q Querier, tenantID string, windows []AvailabilityRecord) error {
	for _, w := range windows {
		id := w.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := q.Exec(ctx, `
            INSERT INTO availability (id, tenant_id, weekday, start_time, end_time)
            VALUES ($1, $2, $3, $4::text::time, $5::text::time)
            ON CONFLICT ON CONSTRAINT availability_tenant_weekday_start_key DO NOTHING`,
			id, tenantID, w.Weekday, w.StartTime, w.EndTime); err != nil {
			if isForeignKeyViolation(err) {
				return ErrNotFound
			}
			return err
		}
	}
	return nil
}

func listAvailability(ctx context.Context, q Querier, tenantID string) ([]AvailabilityRecord, error) {
	rows, err := q.Query(ctx, `SELECT `+availabilityColumns+` FROM availability
        WHERE tenant_id = $1 ORDER BY weekday, start_time`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []AvailabilityRecord{}
	for rows.Next() {
		var rec AvailabilityRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Weekday, &rec.StartTime, &rec.EndTime, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// lockTenantSchedule serializes schedule seeding and bookings of one tenant for the rest of
// the transaction. A transaction-scoped advisory lock needs no privilege on tenants, so the
// restricted public role can take it too.
func lockTenantSchedule(ctx context.Context, tx pgx.Tx, tenantID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext('tenant-schedule:' || $1))`, tenantID)
	return err
}

func requireTenant(ctx context.Context, tx pgx.Tx, tenantID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, tenantID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

// ListUpcomingTimeOff returns entries ending at or after now, ordered by start ascending.
func (s *AvailabilityStore) ListUpcomingTimeOff(ctx context.Context, tenantID string, now time.Time) ([]TimeOffRecord, error) {
	return s.queryTimeOff(ctx, "time_off.list_upcoming", `SELECT `+timeOffColumns+` FROM time_off
        WHERE tenant_id = $1 AND ends_at >= $2 ORDER BY starts_at ASC`, tenantID, now)
}

// ListTimeOffOverlapping returns entries intersecting [from, to).
func (s *AvailabilityStore) ListTimeOffOverlapping(ctx context.Context, tenantID string, from, to time.Time) ([]TimeOffRecord, error) {
	return s.queryTimeOff(ctx, "time_off.list_overlapping", `SELECT `+timeOffColumns+` FROM time_off
        WHERE tenant_id = $1 AND starts_at < $3 AND ends_at > $2 ORDER BY starts_at ASC`, tenantID, from, to)
}

func (s *AvailabilityStore) queryTimeOff(ctx context.Context, op, query string, args ...any) ([]TimeOffRecord, error) {
	records := []TimeOffRecord{}
	err := s.db.Read(ctx, op, func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanTimeOffRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// CreateTimeOff inserts a time off entry.
func (s *AvailabilityStore) CreateTimeOff(ctx context.Context, rec TimeOffRecord) (TimeOffRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var out TimeOffRecord
	err := s.db.Write(ctx, "time_off.create", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanTimeOffRecord(q.QueryRow(ctx, `
            INSERT INTO time_off (id, tenant_id, starts_at, ends_at, reason)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING `+timeOffColumns, rec.ID, rec.TenantID, rec.StartsAt, rec.EndsAt, rec.Reason))
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	})
	return out, err
}

// DeleteTimeOff removes an entry owned by the tenant.
func (s *AvailabilityStore) DeleteTimeOff(ctx context.Context, tenantID string, id uuid.UUID) error {
	return s.db.Write(ctx, "time_off.delete", func(ctx context.Context, q Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM time_off WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanTimeOffRecord(row pgx.Row) (TimeOffRecord, error) {
	var rec TimeOffRecord
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.StartsAt, &rec.EndsAt, &rec.Reason, &rec.CreatedAt); err != nil {
		return TimeOffRecord{}, mapRowErr(err)
	}
	return rec, nil
}
