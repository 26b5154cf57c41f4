package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/bizdesk/domains/memberships/be/repo"
	"github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
)

type recordingCache struct {
	cache.Noop
	identities []uuid.UUID
}

func (c *recordingCache) InvalidateIdentity(_ context.Context, id uuid.UUID) {
	c.identities = append(c.identities, id)
}

func newService(t *testing.T, adminEmails ...string) (*service.Service, *repo.MemoryRepository, *recordingCache) {
	t.Helper()
	r := repo.NewMemoryRepository()
	c := &recordingCache{}
	svc := service.New(r, service.Config{PlatformAdminEmails: adminEmails}, c)
	return svc, r, c
}

func TestResolvePrimaryMembershipProvisionsTenant(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t)
	id := uuid.New()

	res, err := svc.ResolvePrimaryMembership(context.Background(), id, "Ana@Example.com", "Ana López")
	require.NoError(t, err)
	require.True(t, res.Created)
	require.Equal(t, "ana", res.TenantID)
	require.Equal(t, platformauth.RoleAdmin, res.Role)
	require.False(t, res.IsPlatformAdmin)

	name, ok := r.TenantName("ana")
	require.True(t, ok)
	require.Equal(t, "Ana López", name)
	require.Equal(t, 1, r.Count(id))

	again, err := svc.ResolvePrimaryMembership(context.Background(), id, "ana@example.com", "")
	require.NoError(t, err)
	require.False(t, again.Created)
	require.Equal(t, "ana", again.TenantID)
	require.Equal(t, 1, r.Count(id))
}

func TestResolvePrimaryMembershipRetriesTakenSlug(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t)
	svc.SetSuffixFunc(func() (string, error) { return "a1b2c3", nil })
	r.PutTenant("ana", "Someone else")

	res, err := svc.ResolvePrimaryMembership(context.Background(), uuid.New(), "ana@example.com", "")
	require.NoError(t, err)
	require.Equal(t, "ana-a1b2c3", res.TenantID)
}

func TestResolvePrimaryMembershipGivesUpAfterBoundedAttempts(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t)
	svc.SetSuffixFunc(func() (string, error) { return "ffffff", nil })
	r.PutTenant("ana", "taken")
	r.PutTenant("ana-ffffff", "taken")

	_, err := svc.ResolvePrimaryMembership(context.Background(), uuid.New(), "ana@example.com", "")
	require.ErrorIs(t, err, service.ErrConflict)
}

func TestResolvePrimaryMembershipWithoutEmailUsesIdentityID(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	id := uuid.MustParse("0b7c1e52-5a0e-4a8e-9f55-3a1f4c1d2e3f")

	res, err := svc.ResolvePrimaryMembership(context.Background(), id, "", "")
	require.NoError(t, err)
	require.Equal(t, id.String(), res.TenantID)
}

func TestResolvePrimaryMembershipPlatformAdmin(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t, " Boss@Example.com ")
	id := uuid.New()

	res, err := svc.ResolvePrimaryMembership(context.Background(), id, "boss@example.com", "")
	require.NoError(t, err)
	require.Equal(t, platformauth.RoleSystemAdmin, res.Role)
	require.True(t, res.IsPlatformAdmin)

	isAdmin, err := r.IsPlatformAdmin(context.Background(), id)
	require.NoError(t, err)
	require.True(t, isAdmin)

	m, err := r.Get(context.Background(), res.TenantID, id)
	require.NoError(t, err)
	require.Equal(t, platformauth.RoleSystemAdmin, m.Role)
}

func TestResolvePrimaryMembershipPicksHighestRankThenNewest(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t)
	id := uuid.New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r.PutMembership(service.Membership{TenantID: "member-new", IdentityID: id, Role: platformauth.RoleMember, CreatedAt: base.Add(3 * time.Hour)})
	r.PutMembership(service.Membership{TenantID: "admin-old", IdentityID: id, Role: platformauth.RoleAdmin, CreatedAt: base})
	r.PutMembership(service.Membership{TenantID: "admin-new", IdentityID: id, Role: platformauth.RoleAdmin, CreatedAt: base.Add(time.Hour)})

	res, err := svc.ResolvePrimaryMembership(context.Background(), id, "x@example.com", "")
	require.NoError(t, err)
	require.Equal(t, "admin-new", res.TenantID)
	require.False(t, res.Created)
	require.Equal(t, 3, r.Count(id))
}

func TestResolvePrimaryMembershipUpdatesRoleInPlace(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t)
	id := uuid.New()
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: id, Role: platformauth.RoleSystemAdmin})

	res, err := svc.ResolvePrimaryMembership(context.Background(), id, "former@example.com", "")
	require.NoError(t, err)
	require.Equal(t, "acme", res.TenantID)
	require.Equal(t, platformauth.RoleAdmin, res.Role)

	m, err := r.Get(context.Background(), "acme", id)
	require.NoError(t, err)
	require.Equal(t, platformauth.RoleAdmin, m.Role)
	require.Equal(t, 1, r.Count(id))
}

func TestResolvePrimaryMembershipRequiresIdentity(t *testing.T) {
	t.Parallel()

	svc, _, _ := newService(t)
	_, err := svc.ResolvePrimaryMembership(context.Background(), uuid.Nil, "a@example.com", "")

	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)
	require.Contains(t, validationErr.Fields, "identityId")
}

func TestEffectiveMembership(t *testing.T) {
	t.Parallel()

	svc, r, _ := newService(t)
	ctx := context.Background()

	_, found, err := svc.EffectiveMembership(ctx, uuid.New())
	require.NoError(t, err)
	require.False(t, found)

	member := uuid.New()
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: member, Role: platformauth.RoleMember})
	res, found, err := svc.EffectiveMembership(ctx, member)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "acme", res.TenantID)
	require.Equal(t, platformauth.RoleMember, res.Role)

	require.NoError(t, r.UpsertPlatformAdmin(ctx, member))
	res, found, err = svc.EffectiveMembership(ctx, member)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, platformauth.RoleSystemAdmin, res.Role)
	require.True(t, res.IsPlatformAdmin)
}

func TestChangeRole(t *testing.T) {
	t.Parallel()

	svc, r, c := newService(t)
	ctx := context.Background()
	admin := uuid.New()
	member := uuid.New()
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: admin, Role: platformauth.RoleAdmin})
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: member, Role: platformauth.RoleMember})

	actor := platformauth.Principal{IdentityID: admin, TenantID: "acme", Role: platformauth.RoleAdmin}

	_, err := svc.ChangeRole(ctx, actor, member, "owner")
	var validationErr *service.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = svc.ChangeRole(ctx, actor, member, "system_admin")
	require.ErrorIs(t, err, service.ErrForbidden)

	_, err = svc.ChangeRole(ctx, actor, admin, "member")
	require.ErrorIs(t, err, service.ErrLastAdmin)

	updated, err := svc.ChangeRole(ctx, actor, member, "admin")
	require.NoError(t, err)
	require.Equal(t, platformauth.RoleAdmin, updated.Role)
	require.Equal(t, []uuid.UUID{member}, c.identities)

	_, err = svc.ChangeRole(ctx, actor, uuid.New(), "member")
	require.ErrorIs(t, err, service.ErrNotFound)

	platform := platformauth.Principal{IdentityID: uuid.New(), TenantID: "acme", Role: platformauth.RoleSystemAdmin, IsPlatformAdmin: true}
	granted, err := svc.ChangeRole(ctx, platform, member, "system_admin")
	require.NoError(t, err)
	require.Equal(t, platformauth.RoleSystemAdmin, granted.Role)
}

func TestRemoveMember(t *testing.T) {
	t.Parallel()

	svc, r, c := newService(t)
	ctx := context.Background()
	admin := uuid.New()
	member := uuid.New()
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: admin, Role: platformauth.RoleAdmin})
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: member, Role: platformauth.RoleMember})
	actor := platformauth.Principal{IdentityID: admin, TenantID: "acme", Role: platformauth.RoleAdmin}

	require.ErrorIs(t, svc.RemoveMember(ctx, actor, admin), service.ErrLastAdmin)
	require.NoError(t, svc.RemoveMember(ctx, actor, member))
	require.Equal(t, []uuid.UUID{member}, c.identities)
	require.ErrorIs(t, svc.RemoveMember(ctx, actor, member), service.ErrNotFound)

	members, err := svc.ListMembers(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestGrantPlatformAdmin(t *testing.T) {
	t.Parallel()

	svc, r, c := newService(t)
	ctx := context.Background()
	id := uuid.New()
	r.PutMembership(service.Membership{TenantID: "acme", IdentityID: id, Role: platformauth.RoleMember})

	require.NoError(t, svc.GrantPlatformAdmin(ctx, id))
	require.Equal(t, []uuid.UUID{id}, c.identities)

	res, found, err := svc.EffectiveMembership(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, res.IsPlatformAdmin)
	require.Equal(t, platformauth.RoleSystemAdmin, res.Role)

	require.ErrorIs(t, svc.GrantPlatformAdmin(ctx, uuid.Nil), service.ErrNotFound)
}
