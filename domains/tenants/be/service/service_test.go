package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/zenGate-Global/bizdesk/domains/tenants/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/domainsync"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type recordingSyncer struct {
	mu     sync.Mutex
	events []domainsync.Event
	err    error
}

func (s *recordingSyncer) Sync(_ context.Context, ev domainsync.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

type recordingCache struct {
	cache.Noop
	tenants []string
}

func (c *recordingCache) InvalidateTenant(_ context.Context, tenantID string) {
	c.tenants = append(c.tenants, tenantID)
}

type fixture struct {
	svc    *service.Service
	repo   *repo.MemoryRepository
	cache  *recordingCache
	syncer *recordingSyncer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	memory := repo.NewMemoryRepository()
	memory.Put(service.Tenant{ID: "acme", Name: "Acme"})
	c := &recordingCache{}
	syncer := &recordingSyncer{}
	resolver := tenant.NewHostResolver(tenant.NewDBLookup(memory))
	svc := service.New(memory, resolver, c, syncer, zaptest.NewLogger(t))
	return fixture{svc: svc, repo: memory, cache: c, syncer: syncer}
}

func TestReslug(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	f.repo.Put(service.Tenant{ID: "taken", Name: "Taken"})

	_, err := f.svc.Reslug(ctx, "acme", "Not A Slug")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "slug")

	_, err = f.svc.Reslug(ctx, "acme", "www")
	require.ErrorAs(t, err, &validationErr)

	res, err := f.svc.Reslug(ctx, "acme", " ACME ")
	require.NoError(t, err)
	require.Equal(t, service.ReslugUnchanged, res.Status)
	require.Empty(t, f.cache.tenants)

	_, err = f.svc.Reslug(ctx, "ghost", "ghost-new")
	require.ErrorIs(t, err, service.ErrNotFound)

	_, err = f.svc.Reslug(ctx, "acme", "taken")
	require.ErrorIs(t, err, service.ErrConflict)
	_, err = f.repo.Get(ctx, "acme")
	require.NoError(t, err)

	_, err = f.svc.AddDomain(ctx, "acme", "shop.acme.com")
	require.NoError(t, err)

	res, err = f.svc.Reslug(ctx, "acme", "acme-studio")
	require.NoError(t, err)
	require.Equal(t, service.ReslugUpdated, res.Status)
	require.Equal(t, "acme-studio", res.TenantID)
	require.Equal(t, "acme", res.PreviousID)
	require.Equal(t, []string{"acme"}, f.cache.tenants)

	_, err = f.svc.Get(ctx, "acme")
	require.ErrorIs(t, err, service.ErrNotFound)
	domains, err := f.svc.ListDomains(ctx, "acme-studio")
	require.NoError(t, err)
	require.Len(t, domains, 1)
}

func TestRename(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Rename(ctx, "acme", "   ")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)

	updated, err := f.svc.Rename(ctx, "acme", "  Acme Studio ")
	require.NoError(t, err)
	require.Equal(t, "Acme Studio", updated.Name)

	_, err = f.svc.Rename(ctx, "ghost", "Ghost")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestDomains(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.AddDomain(ctx, "acme", "localhost")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)

	d, err := f.svc.AddDomain(ctx, "acme", "Citas.Acme.MX:443")
	require.NoError(t, err)
	require.Equal(t, "citas.acme.mx", d.Domain)

	_, err = f.svc.AddDomain(ctx, "acme", "citas.acme.mx")
	require.ErrorIs(t, err, service.ErrConflict)

	res, err := f.svc.Resolve(ctx, "CITAS.acme.mx")
	require.NoError(t, err)
	require.Equal(t, "acme", res.TenantID)

	f.syncer.err = errors.New("webhook down")
	require.NoError(t, f.svc.RemoveDomain(ctx, "acme", "citas.acme.mx"))
	require.ErrorIs(t, f.svc.RemoveDomain(ctx, "acme", "citas.acme.mx"), service.ErrNotFound)

	require.Len(t, f.syncer.events, 2)
	require.Equal(t, domainsync.ActionAdded, f.syncer.events[0].Action)
	require.Equal(t, domainsync.ActionRemoved, f.syncer.events[1].Action)
	require.Equal(t, "citas.acme.mx", f.syncer.events[1].Domain)
}

func TestResolveFallsBackToSubdomain(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	res, err := f.svc.Resolve(context.Background(), "acme.bizdesk.app")
	require.NoError(t, err)
	require.Equal(t, "acme", res.TenantID)

	res, err = f.svc.Resolve(context.Background(), "www.bizdesk.app")
	require.NoError(t, err)
	require.False(t, res.Found())
}

func TestList(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.repo.Put(service.Tenant{ID: "beta", Name: "Beta"})
	f.repo.Put(service.Tenant{ID: "gamma", Name: "Gamma"})

	res, err := f.svc.List(context.Background(), service.ListOptions{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Equal(t, 3, res.TotalItems)
	require.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Tenants, 1)
}
