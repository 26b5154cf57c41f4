package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
)

// ErrNotFound is returned when a link does not exist for the tenant.
var ErrNotFound = errors.New("link not found")

const (
	maxTitleLength = 100
	maxURLLength   = 2048
	maxLinks       = 100
)

var allowedSchemes = map[string]bool{"http": true, "https": true, "mailto": true, "tel": true}

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

// Link is one entry of the public link page.
type Link struct {
	ID        uuid.UUID
	TenantID  string
	Title     string
	URL       string
	Position  int
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdateParams carries optional changes; nil fields are left untouched.
type UpdateParams struct {
	Title    *string
	URL      *string
	Position *int
	IsActive *bool
}

// Profile is the public page of a tenant.
type Profile struct {
	Settings modulesservice.LinkInBioSettings
	Links    []Link
}

// Repository abstracts persistence. Implementations return the persistence sentinels.
type Repository interface {
	// Settings returns the link-in-bio settings document; nil when none is stored.
	Settings(ctx context.Context, tenantID string) (json.RawMessage, error)
	List(ctx context.Context, tenantID string, activeOnly bool) ([]Link, error)
	Create(ctx context.Context, link Link) (Link, error)
	Update(ctx context.Context, tenantID string, id uuid.UUID, params UpdateParams) (Link, error)
	Delete(ctx context.Context, tenantID string, id uuid.UUID) error
}

// Service manages the links of the link-in-bio module.
type Service struct {
	repo Repository
}

// New constructs a Service.
func New(repo Repository) *Service {
	if repo == nil {
		panic("link-in-bio repo is required")
	}
	return &Service{repo: repo}
}

// PublicProfile returns the settings and the active links of a tenant.
func (s *Service) PublicProfile(ctx context.Context, tenantID string) (Profile, error) {
	if tenantID == "" {
		return Profile{}, ErrNotFound
	}

	raw, err := s.repo.Settings(ctx, tenantID)
	if err != nil {
		return Profile{}, mapPersistenceError(err)
	}
	settings, err := modulesservice.DecodeLinkInBioSettings(raw)
	if err != nil {
		return Profile{}, fmt.Errorf("decode link-in-bio settings: %w", err)
	}

	links, err := s.repo.List(ctx, tenantID, true)
	if err != nil {
		return Profile{}, mapPersistenceError(err)
	}
	return Profile{Settings: settings, Links: links}, nil
}

// List returns every link of a tenant, active or not.
func (s *Service) List(ctx context.Context, tenantID string) ([]Link, error) {
	links, err := s.repo.List(ctx, tenantID, false)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return links, nil
}

// CreateInput carries a new link. A nil Position appends at the end; a nil IsActive means active.
type CreateInput struct {
	Title    string
	URL      string
	Position *int
	IsActive *bool
}

// Create adds a link.
func (s *Service) Create(ctx context.Context, tenantID string, input CreateInput) (Link, error) {
	title := strings.TrimSpace(input.Title)
	link := strings.TrimSpace(input.URL)

	fields := FieldErrors{}
	validateTitle(fields, title)
	validateURL(fields, link)
	if input.Position != nil && *input.Position < 0 {
		fields.add("position", "position must be zero or greater")
	}
	if len(fields) > 0 {
		return Link{}, &ValidationError{Fields: fields}
	}

	existing, err := s.repo.List(ctx, tenantID, false)
	if err != nil {
		return Link{}, mapPersistenceError(err)
	}
	if len(existing) >= maxLinks {
		return Link{}, &ValidationError{Fields: FieldErrors{"links": {fmt.Sprintf("a page can hold at most %d links", maxLinks)}}}
	}

	position := len(existing)
	if input.Position != nil {
		position = *input.Position
	}
	active := true
	if input.IsActive != nil {
		active = *input.IsActive
	}

	created, err := s.repo.Create(ctx, Link{
		ID:       uuid.New(),
		TenantID: tenantID,
		Title:    title,
		URL:      link,
		Position: position,
		IsActive: active,
	})
	if err != nil {
		return Link{}, mapPersistenceError(err)
	}
	return created, nil
}

// Update applies the non-nil fields of params.
func (s *Service) Update(ctx context.Context, tenantID string, id uuid.UUID, params UpdateParams) (Link, error) {
	fields := FieldErrors{}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		validateTitle(fields, title)
		params.Title = &title
	}
	if params.URL != nil {
		link := strings.TrimSpace(*params.URL)
		validateURL(fields, link)
		params.URL = &link
	}
	if params.Position != nil && *params.Position < 0 {
		fields.add("position", "position must be zero or greater")
	}
	if len(fields) > 0 {
		return Link{}, &ValidationError{Fields: fields}
	}

	updated, err := s.repo.Update(ctx, tenantID, id, params)
	if err != nil {
		return Link{}, mapPersistenceError(err)
	}
	return updated, nil
}

// Delete removes a link.
func (s *Service) Delete(ctx context.Context, tenantID string, id uuid.UUID) error {
	return mapPersistenceError(s.repo.Delete(ctx, tenantID, id))
}

func validateTitle(fields FieldErrors, title string) {
	switch {
	case title == "":
		fields.add("title", "title is required")
	case len([]rune(title)) > maxTitleLength:
		fields.add("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
}

func validateURL(fields FieldErrors, raw string) {
	if raw == "" {
		fields.add("url", "url is required")
		return
	}
	if len(raw) > maxURLLength {
		fields.add("url", fmt.Sprintf("url must be at most %d characters", maxURLLength))
		return
	}
	parsed, err := url.Parse(raw)
	if err != nil || !allowedSchemes[strings.ToLower(parsed.Scheme)] {
		fields.add("url", "url must be an http, https, mailto or tel address")
		return
	}
	if (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host == "" {
		fields.add("url", "url must include a host")
	}
	if (parsed.Scheme == "mailto" || parsed.Scheme == "tel") && parsed.Opaque == "" {
		fields.add("url", "url must include a target")
	}
}

func mapPersistenceError(err error) error {
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
