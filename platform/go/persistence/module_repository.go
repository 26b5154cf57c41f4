package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// TenantModuleRecord represents a row of tenant_modules.
type TenantModuleRecord struct {
	TenantID  string          `db:"tenant_id"`
	ModuleID  string          `db:"module_id"`
	Enabled   bool            `db:"enabled"`
	Settings  json.RawMessage `db:"settings"`
	UpdatedAt time.Time       `db:"updated_at"`
}

const tenantModuleColumns = "tenant_id, module_id, enabled, settings, updated_at"

// ModuleStore provides access to tenant_modules.
type ModuleStore struct {
	db *DB
}

// NewModuleStore creates a store; assumes migrations already created the table.
func NewModuleStore(db *DB) *ModuleStore {
	if db == nil {
		panic("module store: db is required")
	}
	return &ModuleStore{db: db}
}

// ListByTenant returns every module row stored for the tenant. Modules without a row are not returned.
func (s *ModuleStore) ListByTenant(ctx context.Context, tenantID string) ([]TenantModuleRecord, error) {
	records := []TenantModuleRecord{}
	err := s.db.Read(ctx, "tenant_modules.list", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `SELECT `+tenantModuleColumns+` FROM tenant_modules WHERE tenant_id = $1`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanTenantModuleRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// Get fetches a single module row; a missing row yields ErrNotFound.
func (s *ModuleStore) Get(ctx context.Context, tenantID, moduleID string) (TenantModuleRecord, error) {
	var rec TenantModuleRecord
	err := s.db.Read(ctx, "tenant_modules.get", func(ctx context.Context, q Querier) error {
		var err error
		rec, err = scanTenantModuleRecord(q.QueryRow(ctx, `SELECT `+tenantModuleColumns+` FROM tenant_modules
            WHERE tenant_id = $1 AND module_id = $2`, tenantID, moduleID))
		return err
	})
	return rec, err
}

// IsEnabled is true only when an explicit row exists with enabled = true.
func (s *ModuleStore) IsEnabled(ctx context.Context, tenantID, moduleID string) (bool, error) {
	var enabled bool
	err := s.db.Read(ctx, "tenant_modules.is_enabled", func(ctx context.Context, q Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (
            SELECT 1 FROM tenant_modules WHERE tenant_id = $1 AND module_id = $2 AND enabled
        )`, tenantID, moduleID).Scan(&enabled)
	})
	return enabled, err
}

// SetEnabled creates or updates the enablement flag, keeping existing settings.
func (s *ModuleStore) SetEnabled(ctx context.Context, tenantID, moduleID string, enabled bool) (TenantModuleRecord, error) {
	var rec TenantModuleRecord
	err := s.db.Write(ctx, "tenant_modules.set_enabled", func(ctx context.Context, q Querier) error {
		var err error
		rec, err = scanTenantModuleRecord(q.QueryRow(ctx, `
            INSERT INTO tenant_modules (tenant_id, module_id, enabled)
            VALUES ($1, $2, $3)
            ON CONFLICT (tenant_id, module_id)
            DO UPDATE SET enabled = EXCLUDED.enabled, updated_at = NOW()
            RETURNING `+tenantModuleColumns, tenantID, moduleID, enabled))
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	})
	return rec, err
}

// UpdateSettings rewrites the settings document under a row lock so concurrent writers
// serialize instead of clobbering each other. mutate receives the stored document
// ("{}" when the row is new) and returns the replacement.
func (s *ModuleStore) UpdateSettings(ctx context.Context, tenantID, moduleID string, mutate func(current json.RawMessage) (json.RawMessage, error)) (TenantModuleRecord, error) {
	if mutate == nil {
		return TenantModuleRecord{}, errors.New("mutate func is required")
	}

	var rec TenantModuleRecord
	err := s.db.Tx(ctx, "tenant_modules.update_settings", func(ctx context.Context, tx pgx.Tx) error {
		current, err := lockTenantModule(ctx, tx, tenantID, moduleID)
		if err != nil {
			return err
		}

		next, err := mutate(current.Settings)
		if err != nil {
			return err
		}

		rec, err = scanTenantModuleRecord(tx.QueryRow(ctx, `
            UPDATE tenant_modules SET settings = $3, updated_at = NOW()
            WHERE tenant_id = $1 AND module_id = $2
            RETURNING `+tenantModuleColumns, tenantID, moduleID, []byte(next)))
		return err
	})
	return rec, err
}

// TenantsWithSetting lists the tenants whose settings for moduleID carry the given top-level key.
func (s *ModuleStore) TenantsWithSetting(ctx context.Context, moduleID, key string) ([]string, error) {
	ids := []string{}
	err := s.db.Read(ctx, "tenant_modules.tenants_with_setting", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `SELECT tenant_id FROM tenant_modules WHERE module_id = $1 AND settings ? $2 ORDER BY tenant_id`, moduleID, key)
		if err != nil {
			return err
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	return ids, err
}

// lockTenantModule makes sure the row exists and locks it for the rest of the transaction.
func lockTenantModule(ctx context.Context, tx pgx.Tx, tenantID, moduleID string) (TenantModuleRecord, error) {
	if _, err := tx.Exec(ctx, `
        INSERT INTO tenant_modules (tenant_id, module_id) VALUES ($1, $2)
        ON CONFLICT (tenant_id, module_id) DO NOTHING`, tenantID, moduleID); err != nil {
		if isForeignKeyViolation(err) {
			return TenantModuleRecord{}, ErrNotFound
		}
		return TenantModuleRecord{}, err
	}

	return scanTenantModuleRecord(tx.QueryRow(ctx, `SELECT `+tenantModuleColumns+` FROM tenant_modules
        WHERE tenant_id = $1 AND module_id = $2 FOR UPDATE`, tenantID, moduleID))
}

func scanTenantModuleRecord(row pgx.Row) (TenantModuleRecord, error) {
	var (
		rec      TenantModuleRecord
		settings []byte
	)
	if err := row.Scan(&rec.TenantID, &rec.ModuleID, &rec.Enabled, &settings, &rec.UpdatedAt); err != nil {
		return TenantModuleRecord{}, mapRowErr(err)
	}
	if len(settings) == 0 {
		settings = []byte("{}")
	}
	rec.Settings = settings
	return rec, nil
}
