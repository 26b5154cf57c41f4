package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/domains/identity/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

type memoryLinkToken struct {
	service.LinkToken
	consumed bool
}

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu         sync.RWMutex
	identities map[uuid.UUID]service.Identity
	tokens     map[string]*memoryLinkToken
	sessions   map[uuid.UUID]service.Session
	now        func() time.Time
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		identities: make(map[uuid.UUID]service.Identity),
		tokens:     make(map[string]*memoryLinkToken),
		sessions:   make(map[uuid.UUID]service.Session),
		now:        time.Now,
	}
}

// SetClock overrides the clock used for link token expiry.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) Create(ctx context.Context, identity service.Identity) (service.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity.Email = strings.ToLower(strings.TrimSpace(identity.Email))
	if _, ok := r.byEmailLocked(identity.Email); ok {
		return service.Identity{}, persistence.ErrConflict
	}
	now := r.now()
	identity.CreatedAt, identity.UpdatedAt = now, now
	r.identities[identity.ID] = identity
	return identity, nil
}

func (r *MemoryRepository) Get(ctx context.Context, id uuid.UUID) (service.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.identities[id]
	if !ok {
		return service.Identity{}, persistence.ErrNotFound
	}
	return identity, nil
}

func (r *MemoryRepository) GetByEmail(ctx context.Context, email string) (service.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byEmailLocked(strings.ToLower(strings.TrimSpace(email)))
	if !ok {
		return service.Identity{}, persistence.ErrNotFound
	}
	return identity, nil
}

func (r *MemoryRepository) byEmailLocked(email string) (service.Identity, bool) {
	for _, identity := range r.identities {
		if identity.Email == email {
			return identity, true
		}
	}
	return service.Identity{}, false
}

func (r *MemoryRepository) UpsertExternal(ctx context.Context, ext service.ExternalIdentity) (service.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(ext.Email))
	for id, identity := range r.identities {
		if identity.ExternalID != nil && *identity.ExternalID == ext.ExternalID {
			identity.Email = email
			if ext.DisplayName != nil {
				identity.DisplayName = ext.DisplayName
			}
			if ext.AvatarURL != nil {
				identity.AvatarURL = ext.AvatarURL
			}
			identity.EmailVerified = ext.EmailVerified
			identity.UpdatedAt = r.now()
			r.identities[id] = identity
			return identity, nil
		}
	}

	externalID := ext.ExternalID
	if identity, ok := r.byEmailLocked(email); ok {
		if identity.ExternalID != nil {
			return service.Identity{}, persistence.ErrConflict
		}
		identity.ExternalID = &externalID
		if identity.DisplayName == nil {
			identity.DisplayName = ext.DisplayName
		}
		if identity.AvatarURL == nil {
			identity.AvatarURL = ext.AvatarURL
		}
		identity.EmailVerified = identity.EmailVerified || ext.EmailVerified
		identity.UpdatedAt = r.now()
		r.identities[identity.ID] = identity
		return identity, nil
	}

	now := r.now()
	identity := service.Identity{
		ID:            uuid.New(),
		ExternalID:    &externalID,
		Email:         email,
		DisplayName:   ext.DisplayName,
		AvatarURL:     ext.AvatarURL,
		EmailVerified: ext.EmailVerified,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.identities[identity.ID] = identity
	return identity, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id uuid.UUID, params service.UpdateParams) (service.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.identities[id]
	if !ok {
		return service.Identity{}, persistence.ErrNotFound
	}
	if params.DisplayName != nil {
		name := strings.TrimSpace(*params.DisplayName)
		identity.DisplayName = &name
	}
	if params.PasswordHash != nil {
		hash := *params.PasswordHash
		identity.PasswordHash = &hash
	}
	if params.EmailVerified != nil {
		identity.EmailVerified = *params.EmailVerified
	}
	identity.UpdatedAt = r.now()
	r.identities[id] = identity
	return identity, nil
}

func (r *MemoryRepository) List(ctx context.Context, opts service.ListOptions) ([]service.Identity, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]service.Identity, 0, len(r.identities))
	for _, identity := range r.identities {
		if opts.Email != nil && !strings.Contains(identity.Email, strings.ToLower(*opts.Email)) {
			continue
		}
		matches = append(matches, identity)
	}
	byEmail := opts.Sort != nil && strings.TrimPrefix(*opts.Sort, "-") == "email"
	sort.SliceStable(matches, func(i, j int) bool {
		if byEmail {
			if strings.HasPrefix(*opts.Sort, "-") {
				return matches[i].Email > matches[j].Email
			}
			return matches[i].Email < matches[j].Email
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	total := len(matches)
	start := (opts.Page - 1) * opts.PageSize
	if start >= total {
		return []service.Identity{}, total, nil
	}
	end := start + opts.PageSize
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[id]; !ok {
		return persistence.ErrNotFound
	}
	delete(r.identities, id)
	for sid, session := range r.sessions {
		if session.IdentityID == id {
			delete(r.sessions, sid)
		}
	}
	for hash, token := range r.tokens {
		if token.IdentityID == id {
			delete(r.tokens, hash)
		}
	}
	return nil
}

func (r *MemoryRepository) ReplaceLinkToken(ctx context.Context, token service.LinkToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[token.IdentityID]; !ok {
		return persistence.ErrNotFound
	}
	for _, existing := range r.tokens {
		if existing.IdentityID == token.IdentityID {
			existing.consumed = true
		}
	}
	r.tokens[token.TokenHash] = &memoryLinkToken{LinkToken: token}
	return nil
}

func (r *MemoryRepository) ConsumeLinkToken(ctx context.Context, tokenHash string) (service.LinkToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	token, ok := r.tokens[tokenHash]
	if !ok || token.consumed || !r.now().Before(token.ExpiresAt) {
		return service.LinkToken{}, persistence.ErrNotFound
	}
	token.consumed = true
	return token.LinkToken, nil
}

func (r *MemoryRepository) CreateSession(ctx context.Context, session service.Session) (service.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.identities[session.IdentityID]; !ok {
		return service.Session{}, persistence.ErrNotFound
	}
	session.CreatedAt = r.now()
	r.sessions[session.ID] = session
	return session, nil
}

func (r *MemoryRepository) GetSession(ctx context.Context, id uuid.UUID) (service.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return service.Session{}, persistence.ErrNotFound
	}
	return session, nil
}

func (r *MemoryRepository) GetSessionByHash(ctx context.Context, tokenHash string) (service.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, session := range r.sessions {
		if session.TokenHash == tokenHash {
			return session, nil
		}
	}
	return service.Session{}, persistence.ErrNotFound
}

func (r *MemoryRepository) RevokeSessionByHash(ctx context.Context, tokenHash string) (service.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, session := range r.sessions {
		if session.TokenHash != tokenHash {
			continue
		}
		if session.RevokedAt == nil {
			now := r.now()
			session.RevokedAt = &now
			r.sessions[id] = session
		}
		return session, nil
	}
	return service.Session{}, persistence.ErrNotFound
}
