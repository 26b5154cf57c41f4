package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BioLinkRecord represents a row of the bio_links table.
type BioLinkRecord struct {
	ID        uuid.UUID `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Title     string    `db:"title"`
	URL       string    `db:"url"`
	Position  int       `db:"position"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UpdateBioLinkParams carries optional updates; nil fields are left untouched.
type UpdateBioLinkParams struct {
	Title    *string
	URL      *string
	Position *int
	IsActive *bool
}

const bioLinkColumns = "id, tenant_id, title, url, position, is_active, created_at, updated_at"

// BioLinkStore provides access to the bio_links table.
type BioLinkStore struct {
	db *DB
}

// NewBioLinkStore creates a store; assumes migrations already created the table.
func NewBioLinkStore(db *DB) *BioLinkStore {
	if db == nil {
		panic("bio link store: db is required")
	}
	return &BioLinkStore{db: db}
}

// List returns the tenant links ordered by position. activeOnly hides disabled links.
func (s *BioLinkStore) List(ctx context.Context, tenantID string, activeOnly bool) ([]BioLinkRecord, error) {
	records := []BioLinkRecord{}
	err := s.db.Read(ctx, "bio_links.list", func(ctx context.Context, q Querier) error {
		rows, err := q.Query(ctx, `SELECT `+bioLinkColumns+` FROM bio_links
            WHERE tenant_id = $1 AND ($2 = FALSE OR is_active)
            ORDER BY position, created_at`, tenantID, activeOnly)
		if err != nil {
			return err
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			rec, err := scanBioLinkRecord(rows)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// Create inserts a link.
func (s *BioLinkStore) Create(ctx context.Context, rec BioLinkRecord) (BioLinkRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var out BioLinkRecord
	err := s.db.Write(ctx, "bio_links.create", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanBioLinkRecord(q.QueryRow(ctx, `
            INSERT INTO bio_links (id, tenant_id, title, url, position, is_active)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING `+bioLinkColumns, rec.ID, rec.TenantID, rec.Title, rec.URL, rec.Position, rec.IsActive))
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return err
	})
	return out, err
}

// Update applies the non-nil fields of params to a link owned by the tenant.
func (s *BioLinkStore) Update(ctx context.Context, tenantID string, id uuid.UUID, params UpdateBioLinkParams) (BioLinkRecord, error) {
	var out BioLinkRecord
	err := s.db.Write(ctx, "bio_links.update", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanBioLinkRecord(q.QueryRow(ctx, `
            UPDATE bio_links SET
                title = COALESCE($3, title),
                url = COALESCE($4, url),
                position = COALESCE($5, position),
                is_active = COALESCE($6, is_active),
                updated_at = NOW()
            WHERE tenant_id = $1 AND id = $2
            RETURNING `+bioLinkColumns, tenantID, id, params.Title, params.URL, params.Position, params.IsActive))
		return err
	})
	return out, err
}

// Delete removes a link owned by the tenant.
func (s *BioLinkStore) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	return s.db.Write(ctx, "bio_links.delete", func(ctx context.Context, q Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM bio_links WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func scanBioLinkRecord(row pgx.Row) (BioLinkRecord, error) {
	var rec BioLinkRecord
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.Title, &rec.URL, &rec.Position, &rec.IsActive, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return BioLinkRecord{}, mapRowErr(err)
	}
	return rec, nil
}
