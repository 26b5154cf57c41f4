package repo

import (
	"context"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/identity/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type postgresRepository struct {
	store *persistence.IdentityStore
}

// NewPostgresRepository constructs a repository backed by the shared persistence layer.
func NewPostgresRepository(store *persistence.IdentityStore) service.Repository {
	if store == nil {
		panic("identity store is required")
	}
	return &postgresRepository{store: store}
}

func (r *postgresRepository) Create(ctx context.Context, identity service.Identity) (service.Identity, error) {
	rec, err := r.store.Create(ctx, persistence.IdentityRecord{
		ID:            identity.ID,
		ExternalID:    identity.ExternalID,
		Email:         identity.Email,
		DisplayName:   identity.DisplayName,
		AvatarURL:     identity.AvatarURL,
		PasswordHash:  identity.PasswordHash,
		EmailVerified: identity.EmailVerified,
	})
	if err != nil {
		return service.Identity{}, err
	}
	return toIdentity(rec), nil
}

func (r *postgresRepository) Get(ctx context.Context, id uuid.UUID) (service.Identity, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		return service.Identity{}, err
	}
	return toIdentity(rec), nil
}

func (r *postgresRepository) GetByEmail(ctx context.Context, email string) (service.Identity, error) {
	rec, err := r.store.GetByEmail(ctx, email)
	if err != nil {
		return service.Identity{}, err
	}
	return toIdentity(rec), nil
}

func (r *postgresRepository) UpsertExternal(ctx context.Context, ext service.ExternalIdentity) (service.Identity, error) {
	externalID := ext.ExternalID
	rec, err := r.store.UpsertExternal(ctx, persistence.IdentityRecord{
		ID:            uuid.New(),
		ExternalID:    &externalID,
		Email:         ext.Email,
		DisplayName:   ext.DisplayName,
		AvatarURL:     ext.AvatarURL,
		EmailVerified: ext.EmailVerified,
	})
	if err != nil {
		return service.Identity{}, err
	}
	return toIdentity(rec), nil
}

func (r *postgresRepository) Update(ctx context.Context, id uuid.UUID, params service.UpdateParams) (service.Identity, error) {
	rec, err := r.store.Update(ctx, id, persistence.UpdateIdentityParams{
		DisplayName:   params.DisplayName,
		PasswordHash:  params.PasswordHash,
		EmailVerified: params.EmailVerified,
	})
	if err != nil {
		return service.Identity{}, err
	}
	return toIdentity(rec), nil
}

func (r *postgresRepository) List(ctx context.Context, opts service.ListOptions) ([]service.Identity, int, error) {
	res, err := r.store.List(ctx, persistence.ListIdentitiesParams{
		Page:     opts.Page,
		PageSize: opts.PageSize,
		Sort:     opts.Sort,
		Email:    opts.Email,
	})
	if err != nil {
		return nil, 0, err
	}
	out := make([]service.Identity, 0, len(res.Identities))
	for _, rec := range res.Identities {
		out = append(out, toIdentity(rec))
	}
	return out, res.TotalItems, nil
}

func (r *postgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.Delete(ctx, id)
}

func (r *postgresRepository) ReplaceLinkToken(ctx context.Context, token service.LinkToken) error {
	return r.store.ReplaceLinkToken(ctx, persistence.LinkTokenRecord{
		ID:         token.ID,
		IdentityID: token.IdentityID,
		TokenHash:  token.TokenHash,
		RedirectTo: token.RedirectTo,
		ExpiresAt:  token.ExpiresAt,
	})
}

func (r *postgresRepository) ConsumeLinkToken(ctx context.Context, tokenHash string) (service.LinkToken, error) {
	rec, err := r.store.ConsumeLinkToken(ctx, tokenHash)
	if err != nil {
		return service.LinkToken{}, err
	}
	return service.LinkToken{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		TokenHash:  rec.TokenHash,
		RedirectTo: rec.RedirectTo,
		ExpiresAt:  rec.ExpiresAt,
	}, nil
}

func (r *postgresRepository) CreateSession(ctx context.Context, session service.Session) (service.Session, error) {
	rec, err := r.store.CreateSession(ctx, persistence.SessionRecord{
		ID:         session.ID,
		IdentityID: session.IdentityID,
		TokenHash:  session.TokenHash,
		ExpiresAt:  session.ExpiresAt,
	})
	if err != nil {
		return service.Session{}, err
	}
	return toSession(rec), nil
}

func (r *postgresRepository) GetSession(ctx context.Context, id uuid.UUID) (service.Session, error) {
	rec, err := r.store.GetSession(ctx, id)
	if err != nil {
		return service.Session{}, err
	}
	return toSession(rec), nil
}

func (r *postgresRepository) GetSessionByHash(ctx context.Context, tokenHash string) (service.Session, error) {
	rec, err := r.store.GetSessionByHash(ctx, tokenHash)
	if err != nil {
		return service.Session{}, err
	}
	return toSession(rec), nil
}

func (r *postgresRepository) RevokeSessionByHash(ctx context.Context, tokenHash string) (service.Session, error) {
	rec, err := r.store.RevokeSessionByHash(ctx, tokenHash)
	if err != nil {
		return service.Session{}, err
	}
	return toSession(rec), nil
}

func toIdentity(rec persistence.IdentityRecord) service.Identity {
	return service.Identity{
		ID:            rec.ID,
		ExternalID:    rec.ExternalID,
		Email:         rec.Email,
		DisplayName:   rec.DisplayName,
		AvatarURL:     rec.AvatarURL,
		PasswordHash:  rec.PasswordHash,
		EmailVerified: rec.EmailVerified,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func toSession(rec persistence.SessionRecord) service.Session {
	return service.Session{
		ID:         rec.ID,
		IdentityID: rec.IdentityID,
		TokenHash:  rec.TokenHash,
		CreatedAt:  rec.CreatedAt,
		ExpiresAt:  rec.ExpiresAt,
		RevokedAt:  rec.RevokedAt,
	}
}
