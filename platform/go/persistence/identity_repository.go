package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// IdentityRecord represents a row in the identities table.
type IdentityRecord struct {
	ID            uuid.UUID `db:"id"`
	ExternalID    *string   `db:"external_id"`
	Email         string    `db:"email"`
	DisplayName   *string   `db:"display_name"`
	AvatarURL     *string   `db:"avatar_url"`
	PasswordHash  *string   `db:"password_hash"`
	EmailVerified bool      `db:"email_verified"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// LinkTokenRecord is a single-use passwordless sign-in token (hash only).
type LinkTokenRecord struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	TokenHash  string
	RedirectTo string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// SessionRecord is a refresh session (hash only).
type SessionRecord struct {
	ID         uuid.UUID
	IdentityID uuid.UUID
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

const identityColumns = "id, external_id, email, display_name, avatar_url, password_hash, email_verified, created_at, updated_at"

// IdentityStore exposes persistence helpers for identities, link tokens and sessions.
type IdentityStore struct {
	db *DB
}

// NewIdentityStore creates a store; assumes migrations already created the tables.
func NewIdentityStore(db *DB) *IdentityStore {
	if db == nil {
		panic("identity store: db is required")
	}
	return &IdentityStore{db: db}
}

// ListIdentitiesParams captures filters and pagination for List.
type ListIdentitiesParams struct {
	Page     int
	PageSize int
	Sort     *string
	Email    *string
}

// ListIdentitiesResult includes the rows and the total count for pagination metadata.
type ListIdentitiesResult struct {
	Identities []IdentityRecord
	TotalItems int
}

// Create inserts a new identity. A duplicated email yields ErrConflict.
func (s *IdentityStore) Create(ctx context.Context, rec IdentityRecord) (IdentityRecord, error) {
	if rec.ID == uuid.Nil {
		return IdentityRecord{}, errors.New("identity id is required")
	}

	var out IdentityRecord
	err := s.db.Write(ctx, "identities.create", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanIdentityRecord(q.QueryRow(ctx, `
            INSERT INTO identities (id, external_id, email, display_name, avatar_url, password_hash, email_verified)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING `+identityColumns,
			rec.ID, rec.ExternalID, normalizeEmail(rec.Email), rec.DisplayName, rec.AvatarURL, rec.PasswordHash, rec.EmailVerified,
		))
		return err
	})
	return out, err
}

// Get returns a single identity by id.
func (s *IdentityStore) Get(ctx context.Context, id uuid.UUID) (IdentityRecord, error) {
	var out IdentityRecord
	err := s.db.Read(ctx, "identities.get", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanIdentityRecord(q.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id))
		return err
	})
	return out, err
}

// GetByEmail returns a single identity by case-insensitive email.
func (s *IdentityStore) GetByEmail(ctx context.Context, email string) (IdentityRecord, error) {
	var out IdentityRecord
	err := s.db.Read(ctx, "identities.get_by_email", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanIdentityRecord(q.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE LOWER(email) = $1`, normalizeEmail(email)))
		return err
	})
	return out, err
}

// UpsertExternal records an identity minted by an external provider. An existing row with the
// same external id is refreshed; otherwise a row with the same email is linked; otherwise a new
// row is inserted.
func (s *IdentityStore) UpsertExternal(ctx context.Context, rec IdentityRecord) (IdentityRecord, error) {
	if rec.ExternalID == nil || *rec.ExternalID == "" {
		return IdentityRecord{}, errors.New("external id is required")
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	var out IdentityRecord
	err := s.db.Tx(ctx, "identities.upsert_external", func(ctx context.Context, tx pgx.Tx) error {
		var err error
		out, err = scanIdentityRecord(tx.QueryRow(ctx, `
            UPDATE identities
            SET email = $2, display_name = COALESCE($3, display_name), avatar_url = COALESCE($4, avatar_url),
                email_verified = $5, updated_at = NOW()
            WHERE external_id = $1
            RETURNING `+identityColumns,
			*rec.ExternalID, normalizeEmail(rec.Email), rec.DisplayName, rec.AvatarURL, rec.EmailVerified))
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		out, err = scanIdentityRecord(tx.QueryRow(ctx, `
            UPDATE identities
            SET external_id = $1, display_name = COALESCE(display_name, $3), avatar_url = COALESCE(avatar_url, $4),
                email_verified = email_verified OR $5, updated_at = NOW()
            WHERE LOWER(email) = $2 AND external_id IS NULL
            RETURNING `+identityColumns,
			*rec.ExternalID, normalizeEmail(rec.Email), rec.DisplayName, rec.AvatarURL, rec.EmailVerified))
		if !errors.Is(err, ErrNotFound) {
			return err
		}

		out, err = scanIdentityRecord(tx.QueryRow(ctx, `
            INSERT INTO identities (id, external_id, email, display_name, avatar_url, email_verified)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING `+identityColumns,
			rec.ID, *rec.ExternalID, normalizeEmail(rec.Email), rec.DisplayName, rec.AvatarURL, rec.EmailVerified))
		return err
	})
	return out, err
}

// UpdateIdentityParams represents the editable fields; nil fields are left untouched.
type UpdateIdentityParams struct {
	DisplayName   *string
	AvatarURL     *string
	PasswordHash  *string
	EmailVerified *bool
}

// Update applies the provided fields and returns the updated record.
func (s *IdentityStore) Update(ctx context.Context, id uuid.UUID, params UpdateIdentityParams) (IdentityRecord, error) {
	setParts := []string{}
	var args []any

	if params.DisplayName != nil {
		args = append(args, strings.TrimSpace(*params.DisplayName))
		setParts = append(setParts, fmt.Sprintf("display_name = $%d", len(args)))
	}
	if params.AvatarURL != nil {
		args = append(args, strings.TrimSpace(*params.AvatarURL))
		setParts = append(setParts, fmt.Sprintf("avatar_url = $%d", len(args)))
	}
	if params.PasswordHash != nil {
		args = append(args, *params.PasswordHash)
		setParts = append(setParts, fmt.Sprintf("password_hash = $%d", len(args)))
	}
	if params.EmailVerified != nil {
		args = append(args, *params.EmailVerified)
		setParts = append(setParts, fmt.Sprintf("email_verified = $%d", len(args)))
	}

	if len(setParts) == 0 {
		return IdentityRecord{}, errors.New("no fields to update")
	}

	args = append(args, id)
	query := fmt.Sprintf(`
        UPDATE identities
        SET %s, updated_at = NOW()
        WHERE id = $%d
        RETURNING %s
    `, strings.Join(setParts, ", "), len(args), identityColumns)

	var out IdentityRecord
	err := s.db.Write(ctx, "identities.update", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanIdentityRecord(q.QueryRow(ctx, query, args...))
		return err
	})
	return out, err
}

// List returns identities matching the filters with pagination applied.
func (s *IdentityStore) List(ctx context.Context, params ListIdentitiesParams) (ListIdentitiesResult, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = 20
	}
	if params.PageSize > 100 {
		params.PageSize = 100
	}

	whereParts := []string{"1=1"}
	var args []any

	if params.Email != nil && strings.TrimSpace(*params.Email) != "" {
		args = append(args, "%"+normalizeEmail(*params.Email)+"%")
		whereParts = append(whereParts, fmt.Sprintf("LOWER(email) LIKE $%d", len(args)))
	}
	whereSQL := strings.Join(whereParts, " AND ")

	orderSQL, err := buildIdentityOrderBy(params.Sort)
	if err != nil {
		return ListIdentitiesResult{}, err
	}

	dataArgs := append([]any{}, args...)
	dataArgs = append(dataArgs, params.PageSize, (params.Page-1)*params.PageSize)
	query := fmt.Sprintf(`
        SELECT %s
        FROM identities
        WHERE %s
        %s
        LIMIT $%d OFFSET $%d
    `, identityColumns, whereSQL, orderSQL, len(dataArgs)-1, len(dataArgs))

	result := ListIdentitiesResult{Identities: []IdentityRecord{}}
	err = s.db.Read(ctx, "identities.list", func(ctx context.Context, q Querier) error {
		if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM identities WHERE "+whereSQL, args...).Scan(&result.TotalItems); err != nil {
			return fmt.Errorf("count identities: %w", err)
		}
		if result.TotalItems == 0 {
			return nil
		}

		rows, err := q.Query(ctx, query, dataArgs...)
		if err != nil {
			return fmt.Errorf("list identities: %w", err)
		}
		defer rows.Close()

		result.Identities = result.Identities[:0]
		for rows.Next() {
			rec, scanErr := scanIdentityRecord(rows)
			if scanErr != nil {
				return fmt.Errorf("scan identity: %w", scanErr)
			}
			result.Identities = append(result.Identities, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return ListIdentitiesResult{}, err
	}
	return result, nil
}

func buildIdentityOrderBy(sort *string) (string, error) {
	const defaultOrder = "ORDER BY created_at DESC"
	if sort == nil || strings.TrimSpace(*sort) == "" {
		return defaultOrder, nil
	}

	mapping := map[string]string{
		"email":       "email",
		"displayName": "display_name",
		"createdAt":   "created_at",
		"updatedAt":   "updated_at",
	}

	fields := strings.Split(strings.TrimSpace(*sort), ",")
	orderClauses := make([]string, 0, len(fields))
	for _, raw := range fields {
		f := strings.TrimSpace(raw)
		if f == "" {
			continue
		}

		direction := "ASC"
		if strings.HasPrefix(f, "-") {
			direction = "DESC"
			f = strings.TrimPrefix(f, "-")
		}

		column, ok := mapping[f]
		if !ok {
			return "", fmt.Errorf("unsupported sort field %q", f)
		}
		orderClauses = append(orderClauses, fmt.Sprintf("%s %s", column, direction))
	}

	if len(orderClauses) == 0 {
		return defaultOrder, nil
	}
	return "ORDER BY " + strings.Join(orderClauses, ", "), nil
}

// Delete removes an identity. Memberships, sessions and tokens go with it (ON DELETE CASCADE).
func (s *IdentityStore) Delete(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrNotFound
	}
	return s.db.Write(ctx, "identities.delete", func(ctx context.Context, q Querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete identity: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ReplaceLinkToken revokes every outstanding link token of the identity and stores a new one.
func (s *IdentityStore) ReplaceLinkToken(ctx context.Context, rec LinkTokenRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return s.db.Tx(ctx, "identity_link_tokens.replace", func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
            UPDATE identity_link_tokens SET consumed_at = NOW()
            WHERE identity_id = $1 AND consumed_at IS NULL`, rec.IdentityID); err != nil {
			return fmt.Errorf("revoke link tokens: %w", err)
		}
		_, err := tx.Exec(ctx, `
            INSERT INTO identity_link_tokens (id, identity_id, token_hash, redirect_to, expires_at)
            VALUES ($1, $2, $3, $4, $5)`, rec.ID, rec.IdentityID, rec.TokenHash, rec.RedirectTo, rec.ExpiresAt)
		return mapRowErr(err)
	})
}

// ConsumeLinkToken marks an unexpired, unused token as consumed and returns it.
// Unknown, expired or already consumed tokens yield ErrNotFound.
func (s *IdentityStore) ConsumeLinkToken(ctx context.Context, tokenHash string) (LinkTokenRecord, error) {
	var rec LinkTokenRecord
	err := s.db.Write(ctx, "identity_link_tokens.consume", func(ctx context.Context, q Querier) error {
		err := q.QueryRow(ctx, `
            UPDATE identity_link_tokens SET consumed_at = NOW()
            WHERE token_hash = $1 AND consumed_at IS NULL AND expires_at > NOW()
            RETURNING id, identity_id, token_hash, redirect_to, expires_at, consumed_at, created_at`, tokenHash).
			Scan(&rec.ID, &rec.IdentityID, &rec.TokenHash, &rec.RedirectTo, &rec.ExpiresAt, &rec.ConsumedAt, &rec.CreatedAt)
		return mapRowErr(err)
	})
	return rec, err
}

// CreateSession stores a refresh session.
func (s *IdentityStore) CreateSession(ctx context.Context, rec SessionRecord) (SessionRecord, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	var out SessionRecord
	err := s.db.Write(ctx, "sessions.create", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanSessionRecord(q.QueryRow(ctx, `
            INSERT INTO sessions (id, identity_id, token_hash, expires_at)
            VALUES ($1, $2, $3, $4)
            RETURNING id, identity_id, token_hash, created_at, expires_at, revoked_at`,
			rec.ID, rec.IdentityID, rec.TokenHash, rec.ExpiresAt))
		return err
	})
	return out, err
}

// GetSession looks up a refresh session by id (the jti of the access tokens it issued).
func (s *IdentityStore) GetSession(ctx context.Context, id uuid.UUID) (SessionRecord, error) {
	var out SessionRecord
	err := s.db.Read(ctx, "sessions.get", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanSessionRecord(q.QueryRow(ctx, `
            SELECT id, identity_id, token_hash, created_at, expires_at, revoked_at
            FROM sessions WHERE id = $1`, id))
		return err
	})
	return out, err
}

// GetSessionByHash looks up a refresh session by token hash.
func (s *IdentityStore) GetSessionByHash(ctx context.Context, tokenHash string) (SessionRecord, error) {
	var out SessionRecord
	err := s.db.Read(ctx, "sessions.get_by_hash", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanSessionRecord(q.QueryRow(ctx, `
            SELECT id, identity_id, token_hash, created_at, expires_at, revoked_at
            FROM sessions WHERE token_hash = $1`, tokenHash))
		return err
	})
	return out, err
}

// RevokeSessionByHash revokes a refresh session; revoking twice is a no-op.
func (s *IdentityStore) RevokeSessionByHash(ctx context.Context, tokenHash string) (SessionRecord, error) {
	var out SessionRecord
	err := s.db.Write(ctx, "sessions.revoke", func(ctx context.Context, q Querier) error {
		var err error
		out, err = scanSessionRecord(q.QueryRow(ctx, `
            UPDATE sessions SET revoked_at = COALESCE(revoked_at, NOW())
            WHERE token_hash = $1
            RETURNING id, identity_id, token_hash, created_at, expires_at, revoked_at`, tokenHash))
		return err
	})
	return out, err
}

func scanIdentityRecord(row pgx.Row) (IdentityRecord, error) {
	var rec IdentityRecord
	if err := row.Scan(&rec.ID, &rec.ExternalID, &rec.Email, &rec.DisplayName, &rec.AvatarURL, &rec.PasswordHash, &rec.EmailVerified, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return IdentityRecord{}, mapRowErr(err)
	}
	return rec, nil
}

func scanSessionRecord(row pgx.Row) (SessionRecord, error) {
	var rec SessionRecord
	if err := row.Scan(&rec.ID, &rec.IdentityID, &rec.TokenHash, &rec.CreatedAt, &rec.ExpiresAt, &rec.RevokedAt); err != nil {
		return SessionRecord{}, mapRowErr(err)
	}
	return rec, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
