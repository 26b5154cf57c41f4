package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/domainsync"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

// Errors returned by the service layer.
var (
	ErrNotFound = errors.New("tenant not found")
	ErrConflict = errors.New("tenant conflict")
)

const (
	maxNameLength    = 120
	defaultPageSize  = 20
	maxPageSize      = 100
	domainSyncBudget = 5 * time.Second
)

var hostnamePattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// FieldErrors captures validation messages per field.
type FieldErrors map[string][]string

// ValidationError reports invalid input.
type ValidationError struct {
	Fields FieldErrors
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

func newValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: FieldErrors{field: {message}}}
}

// Tenant is a business account. The id is its public slug.
type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Domain is an explicit hostname mapped to a tenant.
type Domain struct {
	Domain    string
	TenantID  string
	CreatedAt time.Time
}

// ReslugStatus tells whether a re-slug changed anything.
type ReslugStatus string

const (
	ReslugUnchanged ReslugStatus = "unchanged"
	ReslugUpdated   ReslugStatus = "updated"
)

// ReslugResult is the outcome of Reslug.
type ReslugResult struct {
	TenantID   string
	PreviousID string
	Status     ReslugStatus
}

// ListOptions captures pagination for the platform tenant listing.
type ListOptions struct {
	Page     int
	PageSize int
}

// ListResult wraps paginated tenants.
type ListResult struct {
	Tenants    []Tenant
	Page       int
	PageSize   int
	TotalItems int
	TotalPages int
}

// Repository abstracts persistence. Implementations return the persistence sentinels.
type Repository interface {
	Get(ctx context.Context, id string) (Tenant, error)
	List(ctx context.Context, limit, offset int) ([]Tenant, int, error)
	Rename(ctx context.Context, id, name string) (Tenant, error)
	Reslug(ctx context.Context, oldID, newID string) (Tenant, error)
	ListDomains(ctx context.Context, tenantID string) ([]Domain, error)
	AddDomain(ctx context.Context, tenantID, domain string) (Domain, error)
	RemoveDomain(ctx context.Context, tenantID, domain string) error
}

// HostResolver maps a hostname to a tenant.
type HostResolver interface {
	ResolveTenantForHost(ctx context.Context, host string) (tenant.Resolution, error)
}

// Service provides tenant operations.
type Service struct {
	repo       Repository
	resolver   HostResolver
	principals cache.PrincipalCache
	syncer     domainsync.Syncer
	logger     *zap.Logger
}

// New constructs a Service. Nil cache and syncer fall back to no-ops.
func New(repo Repository, resolver HostResolver, principals cache.PrincipalCache, syncer domainsync.Syncer, logger *zap.Logger) *Service {
	if repo == nil {
		panic("tenants repo is required")
	}
	if resolver == nil {
		panic("host resolver is required")
	}
	if principals == nil {
		principals = cache.Noop{}
	}
	if syncer == nil {
		syncer = domainsync.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, resolver: resolver, principals: principals, syncer: syncer, logger: logger}
}

// Resolve maps a raw host to its tenant. A host that maps to nothing yields an empty TenantID.
func (s *Service) Resolve(ctx context.Context, host string) (tenant.Resolution, error) {
	return s.resolver.ResolveTenantForHost(ctx, tenant.NormalizeHost(host))
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	if id == "" {
		return Tenant{}, ErrNotFound
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return t, nil
}

// List returns every tenant, paginated. Platform admins only.
func (s *Service) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	tenants, total, err := s.repo.List(ctx, pageSize, (page-1)*pageSize)
	if err != nil {
		return ListResult{}, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	return ListResult{Tenants: tenants, Page: page, PageSize: pageSize, TotalItems: total, TotalPages: totalPages}, nil
}

// Rename changes the display name of a tenant.
func (s *Service) Rename(ctx context.Context, id, name string) (Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Tenant{}, newValidationError("name", "name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return Tenant{}, newValidationError("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if id == "" {
		return Tenant{}, ErrNotFound
	}

	t, err := s.repo.Rename(ctx, id, name)
	if err != nil {
		return Tenant{}, mapPersistenceError(err)
	}
	return t, nil
}

// Reslug atomically renames the tenant id and moves every dependent row.
// Cached principals of the old id are dropped on success.
func (s *Service) Reslug(ctx context.Context, oldID, newSlug string) (ReslugResult, error) {
	newID, err := persistence.NormalizeSlug(newSlug)
	if err != nil {
		return ReslugResult{}, newValidationError("slug", err.Error())
	}
	if newID == oldID {
		return ReslugResult{TenantID: oldID, PreviousID: oldID, Status: ReslugUnchanged}, nil
	}
	if oldID == "" {
		return ReslugResult{}, ErrNotFound
	}

	t, err := s.repo.Reslug(ctx, oldID, newID)
	if err != nil {
		return ReslugResult{}, mapPersistenceError(err)
	}

	s.principals.InvalidateTenant(ctx, oldID)
	s.loggerFrom(ctx).Info("tenant re-slugged", zap.String("from", oldID), zap.String("to", t.ID))
	return ReslugResult{TenantID: t.ID, PreviousID: oldID, Status: ReslugUpdated}, nil
}

// ListDomains returns the explicit hostnames of a tenant.
func (s *Service) ListDomains(ctx context.Context, tenantID string) ([]Domain, error) {
	domains, err := s.repo.ListDomains(ctx, tenantID)
	if err != nil {
		return nil, mapPersistenceError(err)
	}
	return domains, nil
}

// AddDomain maps a hostname to the tenant and notifies the domain syncer.
func (s *Service) AddDomain(ctx context.Context, tenantID, domain string) (Domain, error) {
	normalized := tenant.NormalizeHost(domain)
	if !hostnamePattern.MatchString(normalized) || len(normalized) > 253 {
		return Domain{}, newValidationError("domain", "domain must be a fully qualified hostname")
	}

	d, err := s.repo.AddDomain(ctx, tenantID, normalized)
	if err != nil {
		return Domain{}, mapPersistenceError(err)
	}

	s.sync(ctx, domainsync.ActionAdded, tenantID, normalized)
	return d, nil
}

// RemoveDomain deletes a hostname mapping of the tenant and notifies the domain syncer.
func (s *Service) RemoveDomain(ctx context.Context, tenantID, domain string) error {
	normalized := tenant.NormalizeHost(domain)
	if err := s.repo.RemoveDomain(ctx, tenantID, normalized); err != nil {
		return mapPersistenceError(err)
	}

	s.sync(ctx, domainsync.ActionRemoved, tenantID, normalized)
	return nil
}

// sync is best effort: failures are logged and never reach the caller.
func (s *Service) sync(ctx context.Context, action domainsync.Action, tenantID, domain string) {
	syncCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), domainSyncBudget)
	defer cancel()

	ev := domainsync.Event{Action: action, TenantID: tenantID, Domain: domain, OccurredAt: time.Now().UTC()}
	if err := s.syncer.Sync(syncCtx, ev); err != nil {
		s.loggerFrom(ctx).Warn("domain sync failed",
			zap.String("action", string(action)),
			zap.String("domain", domain),
			zap.Error(err),
		)
	}
}

func (s *Service) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return s.logger
}

func mapPersistenceError(err error) error {
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, persistence.ErrConflict):
		return ErrConflict
	default:
		return err
	}
}
