package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrLastAdmin is returned when a change would leave a tenant without any admin.
var ErrLastAdmin = errors.New("tenant must keep at least one admin")

// MembershipRecord represents a row of the memberships table.
type MembershipRecord struct {
	ID         uuid.UUID `db:"id"`
	TenantID   string    `db:"tenant_id"`
	IdentityID uuid.UUID `db:"identity_id"`
	Role       string    `db:"role"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// MemberRecord is a membership joined with its identity, used for member listings.
type MemberRecord struct {
	MembershipRecord
	Email       string  `db:"email"`
	DisplayName *string `db:"display_name"`
}

const membershipColumns = "id, tenant_id, identity_id, role, created_at, updated_at"

// MembershipStore provides access to memberships and platform_admins.
type MembershipStore struct {
	db *DB
}

// NewMembershipStore creates a store; assumes migrations already created the tables.
func NewMembershipStore(db *DB) *MembershipStore {
	if db == nil {
		panic("membership store: db is required")
	}
	return &MembershipStore{db: db}
}

// ListByIdentity returns every membership of an identity, most recently created first.
func (s *MembershipStore) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]MembershipRecord, error) {
	records := []MembershipRecord{}
	err := s.db.Read(ctx, "memberships.list_by_identity", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `SELECT `+membershipColumns+` FROM memberships
            WHERE identity_id = $1 ORDER BY created_at DESC, id`, identityID)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanMembershipRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// Get fetches the membership of an identity in a tenant.
func (s *MembershipStore) Get(ctx context.Context, tenantID string, identityID uuid.UUID) (MembershipRecord, error) {
	var rec MembershipRecord
	err := s.db.Read(ctx, "memberships.get", func(ctx context.Context, q Querier) error {
		var err error
		rec, err = scanMembershipRecord(q.QueryRow(ctx, `SELECT `+membershipColumns+` FROM memberships
            WHERE tenant_id = $1 AND identity_id = $2`, tenantID, identityID))
		return err
	})
	return rec, err
}

// Upsert inserts the membership or, when (tenant, identity) already exists, overwrites its role.
func (s *MembershipStore) Upsert(ctx context.Context, rec MembershipRecord) (MembershipRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var out MembershipRecord
	err := s.db.Write(ctx, "memberships.upsert", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanMembershipRecord(q.QueryRow(ctx, `
            INSERT INTO memberships (id, tenant_id, identity_id, role)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT ON CONSTRAINT memberships_tenant_identity_key
            DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()
            RETURNING `+membershipColumns, rec.ID, rec.TenantID, rec.IdentityID, rec.Role))
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	})
	return out, err
}

// UpdateRole changes the role of an existing membership in place.
func (s *MembershipStore) UpdateRole(ctx context.Context, tenantID string, identityID uuid.UUID, role string) (MembershipRecord, error) {
	var out MembershipRecord
	err := s.db.Write(ctx, "memberships.update_role", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanMembershipRecord(q.QueryRow(ctx, `
            UPDATE memberships SET role = $1, updated_at = NOW()
            WHERE tenant_id = $2 AND identity_id = $3
            RETURNING `+membershipColumns, role, tenantID, identityID))
		return err
	})
	return out, err
}

// ChangeRoleKeepingAdmin updates a member role but refuses to demote the last admin of the tenant.
func (s *MembershipStore) ChangeRoleKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID, role string, isAdminRole func(string) bool) (MembershipRecord, error) {
	var out MembershipRecord
	err := s.db.Tx(ctx, "memberships.change_role", func(ctx context.Context, tx pgx.Tx) error {
		if err := guardLastAdmin(ctx, tx, tenantID, identityID, isAdminRole, !isAdminRole(role)); err != nil {
			return err
		}
		var err error
		out, err = scanMembershipRecord(tx.QueryRow(ctx, `
            UPDATE memberships SET role = $1, updated_at = NOW()
            WHERE tenant_id = $2 AND identity_id = $3
            RETURNING `+membershipColumns, role, tenantID, identityID))
		return err
	})
	return out, err
}

// DeleteKeepingAdmin unlinks an identity from a tenant unless it is the last admin.
func (s *MembershipStore) DeleteKeepingAdmin(ctx context.Context, tenantID string, identityID uuid.UUID, isAdminRole func(string) bool) error {
	return s.db.Tx(ctx, "memberships.delete", func(ctx context.Context, tx pgx.Tx) error {
		if err := guardLastAdmin(ctx, tx, tenantID, identityID, isAdminRole, true); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM memberships WHERE tenant_id = $1 AND identity_id = $2`, tenantID, identityID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// guardLastAdmin locks the tenant memberships and fails with ErrLastAdmin when removing
// the admin rights of identityID would leave the tenant without admins.
func guardLastAdmin(ctx context.Context, tx pgx.Tx, tenantID string, identityID uuid.UUID, isAdminRole func(string) bool, losesAdmin bool) error {
	rows, err := tx.Query(ctx, `SELECT identity_id, role FROM memberships WHERE tenant_id = $1 FOR UPDATE`, tenantID)
	if err != nil {
		return err
	}
	defer rows.Close()

	found := false
	otherAdmins := 0
	for rows.Next() {
		var (
			id   uuid.UUID
			role string
		)
		if err := rows.Scan(&id, &role); err != nil {
			return err
		}
		if id == identityID {
			found = true
			continue
		}
		if isAdminRole(role) {
			otherAdmins++
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if !found {
		return ErrNotFound
	}
	if losesAdmin && otherAdmins == 0 {
		return ErrLastAdmin
	}
	return nil
}

// ListByTenant returns the members of a tenant with their identity details.
func (s *MembershipStore) ListByTenant(ctx context.Context, tenantID string) ([]MemberRecord, error) {
	records := []MemberRecord{}
	err := s.db.Read(ctx, "memberships.list_by_tenant", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `
            SELECT m.id, m.tenant_id, m.identity_id, m.role, m.created_at, m.updated_at, i.email, i.display_name
            FROM memberships m
            JOIN identities i ON i.id = m.identity_id
            WHERE m.tenant_id = $1
            ORDER BY m.created_at`, tenantID)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var rec MemberRecord
			if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.IdentityID, &rec.Role, &rec.CreatedAt, &rec.UpdatedAt, &rec.Email, &rec.DisplayName); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// CreateTenantWithMembership provisions a tenant together with its first membership.
// Both rows are written in one transaction; a taken tenant id yields ErrConflict.
func (s *MembershipStore) CreateTenantWithMembership(ctx context.Context, tenant TenantRecord, rec MembershipRecord) (TenantRecord, MembershipRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var (
		outTenant     TenantRecord
		outMembership MembershipRecord
	)
	err := s.db.Tx(ctx, "memberships.provision", func(ctx context.Context, tx pgx.Tx) error {
		var err error
		outTenant, err = scanTenantRecord(tx.QueryRow(ctx, `
            INSERT INTO tenants (id, name) VALUES ($1, $2)
            RETURNING `+tenantColumns, tenant.ID, tenant.Name))
		if err != nil {
			return err
		}

		outMembership, err = scanMembershipRecord(tx.QueryRow(ctx, `
            INSERT INTO memberships (id, tenant_id, identity_id, role)
            VALUES ($1, $2, $3, $4)
            RETURNING `+membershipColumns, rec.ID, outTenant.ID, rec.IdentityID, rec.Role))
		if isForeignKeyViolation(err) {
			return fmt.Errorf("identity %s: %w", rec.IdentityID, ErrNotFound)
		}
		return err
	})
	return outTenant, outMembership, err
}

// IsPlatformAdmin reports whether the identity carries the platform admin flag.
func (s *MembershipStore) IsPlatformAdmin(ctx context.Context, identityID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.Read(ctx, "platform_admins.get", func(ctx context.Context, q Querier) error {
		return q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM platform_admins WHERE identity_id = $1)`, identityID).Scan(&ok)
	})
	return ok, err
}

// UpsertPlatformAdmin sets the platform admin flag; setting it twice is a no-op.
func (s *MembershipStore) UpsertPlatformAdmin(ctx context.Context, identityID uuid.UUID) error {
	return s.db.Write(ctx, "platform_admins.upsert", func(ctx context.Context, q Querier) error {
		_, err := q.Exec(ctx, `INSERT INTO platform_admins (identity_id) VALUES ($1) ON CONFLICT (identity_id) DO NOTHING`, identityID)
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	})
}

func scanMembershipRecord(row pgx.Row) (MembershipRecord, error) {
	var rec MembershipRecord
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.IdentityID, &rec.Role, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return MembershipRecord{}, mapRowErr(err)
	}
	return rec, nil
}
