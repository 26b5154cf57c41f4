package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// TenantRecord represents a row of the tenants table. The id is the public slug.
type TenantRecord struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DomainRecord maps an explicit hostname to a tenant.
type DomainRecord struct {
	Domain    string    `db:"domain"`
	TenantID  string    `db:"tenant_id"`
	CreatedAt time.Time `db:"created_at"`
}

// tenantChildTables lists every table holding a tenant_id foreign key.
// Re-slugging moves all of them inside one transaction.
var tenantChildTables = []string{
	"tenant_domains",
	"memberships",
	"tenant_modules",
	"availability",
	"time_off",
	"appointments",
	"bio_links",
}

const tenantColumns = "id, name, created_at, updated_at"

// TenantStore provides access to the tenants and tenant_domains tables.
type TenantStore struct {
	db *DB
}

// NewTenantStore creates a store; assumes migrations already created the tables.
func NewTenantStore(db *DB) *TenantStore {
	if db == nil {
		panic("tenant store: db is required")
	}
	return &TenantStore{db: db}
}

// Get fetches a tenant by id.
func (s *TenantStore) Get(ctx context.Context, id string) (TenantRecord, error) {
	var rec TenantRecord
	err := s.db.Read(ctx, "tenants.get", func(ctx context.Context, q Querier) error {
		var err error
		rec, err = scanTenantRecord(q.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
		return err
	})
	return rec, err
}

// Exists reports whether a tenant id is already taken.
func (s *TenantStore) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.db.Read(ctx, "tenants.exists", func(ctx context.Context, q Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)`, id).Scan(&exists)
	})
	return exists, err
}

// Create inserts a tenant. A duplicated id yields ErrConflict.
func (s *TenantStore) Create(ctx context.Context, rec TenantRecord) (TenantRecord, error) {
	if rec.ID == "" {
		return TenantRecord{}, errors.New("tenant id is required")
	}
	var out TenantRecord
	err := s.db.Write(ctx, "tenants.create", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanTenantRecord(q.QueryRow(ctx, `
            INSERT INTO tenants (id, name)
            VALUES ($1, $2)
            RETURNING `+tenantColumns, rec.ID, strings.TrimSpace(rec.Name)))
		return err
	})
	return out, err
}

// Rename updates the display name.
func (s *TenantStore) Rename(ctx context.Context, id, name string) (TenantRecord, error) {
	var out TenantRecord
	err := s.db.Write(ctx, "tenants.rename", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanTenantRecord(q.QueryRow(ctx, `
            UPDATE tenants SET name = $1, updated_at = NOW()
            WHERE id = $2
            RETURNING `+tenantColumns, strings.TrimSpace(name), id))
		return err
	})
	return out, err
}

// List returns tenants ordered by creation date, newest first, plus the total count.
func (s *TenantStore) List(ctx context.Context, limit, offset int) ([]TenantRecord, int, error) {
	var (
		records []TenantRecord
		total   int
	)
	err := s.db.Read(ctx, "tenants.list", func(ctx context.Context, q Querier) error {
		if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM tenants`).Scan(&total); err != nil {
			return err
		}

		rows, err := q.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanTenantRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// Reslug moves a tenant to a new id atomically: the new tenant row is inserted, every
// dependent row is re-pointed and the old row is deleted in the same transaction.
// A taken target id yields ErrConflict and nothing is changed.
func (s *TenantStore) Reslug(ctx context.Context, oldID, newID string) (TenantRecord, error) {
	var out TenantRecord
	err := s.db.Tx(ctx, "tenants.reslug", func(ctx context.Context, tx pgx.Tx) error {
		current, err := scanTenantRecord(tx.QueryRow(ctx,
			`SELECT `+tenantColumns+` FROM tenants WHERE id = $1 FOR UPDATE`, oldID))
		if err != nil {
			return err
		}

		out, err = scanTenantRecord(tx.QueryRow(ctx, `
            INSERT INTO tenants (id, name, created_at, updated_at)
            VALUES ($1, $2, $3, NOW())
            RETURNING `+tenantColumns, newID, current.Name, current.CreatedAt))
		if err != nil {
			return err
		}

		for _, table := range tenantChildTables {
			if _, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET tenant_id = $1 WHERE tenant_id = $2`, table), newID, oldID); err != nil {
				return fmt.Errorf("move %s: %w", table, err)
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, oldID)
		if err != nil {
			return fmt.Errorf("delete old tenant: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return ErrNotFound
		}
		return nil
	})
	return out, err
}

// ResolveDomain looks up an explicit hostname mapping.
func (s *TenantStore) ResolveDomain(ctx context.Context, domain string) (DomainRecord, error) {
	var rec DomainRecord
	err := s.db.Read(ctx, "tenant_domains.resolve", func(ctx context.Context, q Querier) error {
		err := q.QueryRow(ctx, `SELECT domain, tenant_id, created_at FROM tenant_domains WHERE domain = $1`, domain).
			Scan(&rec.Domain, &rec.TenantID, &rec.CreatedAt)
		return mapRowErr(err)
	})
	return rec, err
}

// ListDomains returns every explicit hostname of a tenant.
func (s *TenantStore) ListDomains(ctx context.Context, tenantID string) ([]DomainRecord, error) {
	records := []DomainRecord{}
	err := s.db.Read(ctx, "tenant_domains.list", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `SELECT domain, tenant_id, created_at FROM tenant_domains WHERE tenant_id = $1 ORDER BY domain`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var rec DomainRecord
			if err := rows.Scan(&rec.Domain, &rec.TenantID, &rec.CreatedAt); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// AddDomain maps a hostname to the tenant. A hostname already mapped yields ErrConflict.
func (s *TenantStore) AddDomain(ctx context.Context, tenantID, domain string) (DomainRecord, error) {
	var rec DomainRecord
	err := s.db.Write(ctx, "tenant_domains.add", func(ctx context.Context, q Querier) error {
		err := q.QueryRow(ctx, `
            INSERT INTO tenant_domains (domain, tenant_id) VALUES ($1, $2)
            RETURNING domain, tenant_id, created_at`, domain, tenantID).
			Scan(&rec.Domain, &rec.TenantID, &rec.CreatedAt)
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return mapRowErr(err)
	})
	return rec, err
}

// RemoveDomain deletes a hostname mapping owned by the tenant.
func (s *TenantStore) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	return s.db.Write(ctx, "tenant_domains.remove", func(ctx context.Context, q Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM tenant_domains WHERE tenant_id = $1 AND domain = $2`, tenantID, domain)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanTenantRecord(row pgx.Row) (TenantRecord, error) {
	var rec TenantRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return TenantRecord{}, mapRowErr(err)
	}
	return rec, nil
}
