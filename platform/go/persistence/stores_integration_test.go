package persistence

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	sqlassets "github.com/zenGate-Global/bizdesk/database"
)

// startPostgres runs a throwaway Postgres and returns its superuser connection string.
// beforeMigrate runs against the empty database, before the embedded migrations are applied.
func startPostgres(t *testing.T, beforeMigrate ...string) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("bizdesk"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp").WithStartupTimeout(2*time.Minute)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connString, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sqlassets.Open(connString)
	require.NoError(t, err)
	for _, stmt := range beforeMigrate {
		_, err := sqlDB.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}
	require.NoError(t, sqlassets.Up(sqlDB))
	require.NoError(t, sqlDB.Close())

	return connString
}

func openIntegrationDB(t *testing.T, connString string) *DB {
	t.Helper()

	pool, err := NewPool(context.Background(), PoolConfig{ConnString: connString})
	require.NoError(t, err)
	t.Cleanup(func() { ClosePool(pool) })

	return NewDB(pool, CallConfig{Timeout: 10 * time.Second, ReadRetries: 2})
}

// newIntegrationDB starts a throwaway Postgres, applies the embedded migrations and returns a DB.
func newIntegrationDB(t *testing.T) *DB {
	t.Helper()
	return openIntegrationDB(t, startPostgres(t))
}

func isAdmin(role string) bool { return role == "admin" || role == "system_admin" }

func TestStoresTenantLifecycle(t *testing.T) {
	t.Parallel()

	db := newIntegrationDB(t)
	ctx := context.Background()

	identities := NewIdentityStore(db)
	memberships := NewMembershipStore(db)
	tenants := NewTenantStore(db)
	modules := NewModuleStore(db)
	availability := NewAvailabilityStore(db)
	appointments := NewAppointmentStore(db)
	links := NewBioLinkStore(db)

	owner, err := identities.Create(ctx, IdentityRecord{ID: uuid.New(), Email: "Owner@Example.com"})
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", owner.Email)

	_, err = identities.Create(ctx, IdentityRecord{ID: uuid.New(), Email: "owner@example.com"})
	require.ErrorIs(t, err, ErrConflict)

	tenant, membership, err := memberships.CreateTenantWithMembership(ctx,
		TenantRecord{ID: "salon-rosa", Name: "Salon Rosa"},
		MembershipRecord{IdentityID: owner.ID, Role: "admin"})
	require.NoError(t, err)
	require.Equal(t, "salon-rosa", tenant.ID)
	require.Equal(t, "admin", membership.Role)

	// Provisioning with a taken id leaves nothing behind.
	_, _, err = memberships.CreateTenantWithMembership(ctx,
		TenantRecord{ID: "salon-rosa", Name: "Other"},
		MembershipRecord{IdentityID: owner.ID, Role: "admin"})
	require.ErrorIs(t, err, ErrConflict)

	// The last admin cannot be demoted.
	_, err = memberships.ChangeRoleKeepingAdmin(ctx, tenant.ID, owner.ID, "member", isAdmin)
	require.ErrorIs(t, err, ErrLastAdmin)

	// Seed children in every tenant table.
	_, err = tenants.AddDomain(ctx, tenant.ID, "citas.salonrosa.mx")
	require.NoError(t, err)
	_, err = modules.SetEnabled(ctx, tenant.ID, "appointments", true)
	require.NoError(t, err)
	seeded, ok, err := availability.EnsureDefault(ctx, tenant.ID, []AvailabilityRecord{
		{Weekday: 0, StartTime: "09:00", EndTime: "17:00"},
		{Weekday: 1, StartTime: "09:00", EndTime: "17:00"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, seeded, 2)
	require.Equal(t, "09:00", seeded[0].StartTime)

	start := time.Now().Add(48 * time.Hour).Truncate(time.Hour).UTC()
	_, err = availability.CreateTimeOff(ctx, TimeOffRecord{TenantID: tenant.ID, StartsAt: start, EndsAt: start.Add(time.Hour)})
	require.NoError(t, err)
	booked, err := appointments.Book(ctx, AppointmentRecord{
		TenantID:      tenant.ID,
		CustomerName:  "Ana",
		CustomerEmail: "ana@example.com",
		StartsAt:      start.Add(2 * time.Hour),
		EndsAt:        start.Add(150 * time.Minute),
	}, 0)
	require.NoError(t, err)
	_, err = links.Create(ctx, BioLinkRecord{TenantID: tenant.ID, Title: "Instagram", URL: "https://instagram.com/salonrosa", IsActive: true})
	require.NoError(t, err)

	// Re-slug to a taken id fails and mutates nothing.
	_, err = tenants.Create(ctx, TenantRecord{ID: "taken-slug", Name: "Taken"})
	require.NoError(t, err)
	_, err = tenants.Reslug(ctx, tenant.ID, "taken-slug")
	require.ErrorIs(t, err, ErrConflict)
	domain, err := tenants.ResolveDomain(ctx, "citas.salonrosa.mx")
	require.NoError(t, err)
	require.Equal(t, tenant.ID, domain.TenantID)

	// Re-slug moves every dependent row.
	moved, err := tenants.Reslug(ctx, tenant.ID, "rosa-studio")
	require.NoError(t, err)
	require.Equal(t, "rosa-studio", moved.ID)
	require.Equal(t, "Salon Rosa", moved.Name)

	exists, err := tenants.Exists(ctx, tenant.ID)
	require.NoError(t, err)
	require.False(t, exists)

	domain, err = tenants.ResolveDomain(ctx, "citas.salonrosa.mx")
	require.NoError(t, err)
	require.Equal(t, "rosa-studio", domain.TenantID)

	m, err := memberships.Get(ctx, "rosa-studio", owner.ID)
	require.NoError(t, err)
	require.Equal(t, "admin", m.Role)

	enabled, err := modules.IsEnabled(ctx, "rosa-studio", "appointments")
	require.NoError(t, err)
	require.True(t, enabled)

	windows, err := availability.List(ctx, "rosa-studio")
	require.NoError(t, err)
	require.Len(t, windows, 2)

	got, err := appointments.Get(ctx, "rosa-studio", booked.ID)
	require.NoError(t, err)
	require.Equal(t, "pending", got.Status)

	active, err := links.List(ctx, "rosa-studio", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestStoresEnsureDefaultSeedsOnce(t *testing.T) {
	t.Parallel()

	db := newIntegrationDB(t)
	ctx := context.Background()

	tenants := NewTenantStore(db)
	availability := NewAvailabilityStore(db)

	_, err := tenants.Create(ctx, TenantRecord{ID: "barberia-sol", Name: "Barberia Sol"})
	require.NoError(t, err)

	defaults := []AvailabilityRecord{
		{Weekday: 0, StartTime: "09:00", EndTime: "17:00"},
		{Weekday: 4, StartTime: "09:00", EndTime: "17:00"},
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		seeded int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := availability.EnsureDefault(ctx, "barberia-sol", defaults)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				seeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, seeded)
	windows, err := availability.List(ctx, "barberia-sol")
	require.NoError(t, err)
	require.Len(t, windows, 2)
}

func TestStoresReplaceAvailabilityStripsSettings(t *testing.T) {
	t.Parallel()

	db := newIntegrationDB(t)
	ctx := context.Background()

	tenants := NewTenantStore(db)
	modules := NewModuleStore(db)
	availability := NewAvailabilityStore(db)

	_, err := tenants.Create(ctx, TenantRecord{ID: "spa-luna", Name: "Spa Luna"})
	require.NoError(t, err)

	_, err = modules.UpdateSettings(ctx, "spa-luna", "appointments", func(current json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"businessHours":[{"weekday":1,"start":"10:00","end":"14:00"}],"slotMinutes":45}`), nil
	})
	require.NoError(t, err)

	ids, err := modules.TenantsWithSetting(ctx, "appointments", "businessHours")
	require.NoError(t, err)
	require.Equal(t, []string{"spa-luna"}, ids)

	windows, err := availability.Replace(ctx, "spa-luna", []AvailabilityRecord{{Weekday: 2, StartTime: "08:30", EndTime: "12:00"}})
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, "08:30", windows[0].StartTime)

	rec, err := modules.Get(ctx, "spa-luna", "appointments")
	require.NoError(t, err)
	require.JSONEq(t, `{"slotMinutes":45}`, string(rec.Settings))

	ids, err = modules.TenantsWithSetting(ctx, "appointments", "businessHours")
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestStoresBookingRejectsOverlap(t *testing.T) {
	t.Parallel()

	db := newIntegrationDB(t)
	ctx := context.Background()

	tenants := NewTenantStore(db)
	appointments := NewAppointmentStore(db)

	_, err := tenants.Create(ctx, TenantRecord{ID: "dental-norte", Name: "Dental Norte"})
	require.NoError(t, err)

	start := time.Date(2030, 1, 7, 15, 0, 0, 0, time.UTC)
	first, err := appointments.Book(ctx, AppointmentRecord{
		TenantID: "dental-norte", CustomerName: "Luis", CustomerEmail: "luis@example.com",
		StartsAt: start, EndsAt: start.Add(30 * time.Minute),
	}, 0)
	require.NoError(t, err)

	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "dental-norte", CustomerName: "Eva", CustomerEmail: "eva@example.com",
		StartsAt: start.Add(15 * time.Minute), EndsAt: start.Add(45 * time.Minute),
	}, 0)
	require.ErrorIs(t, err, ErrConflict)

	cancelled, err := appointments.TransitionStatus(ctx, "dental-norte", first.ID, []string{"pending", "confirmed"}, "cancelled")
	require.NoError(t, err)
	require.Equal(t, "cancelled", cancelled.Status)

	_, err = appointments.TransitionStatus(ctx, "dental-norte", first.ID, []string{"pending"}, "confirmed")
	require.ErrorIs(t, err, ErrConflict)

	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "dental-norte", CustomerName: "Eva", CustomerEmail: "eva@example.com",
		StartsAt: start.Add(15 * time.Minute), EndsAt: start.Add(45 * time.Minute),
	}, 0)
	require.NoError(t, err)

	_, err = appointments.TransitionStatus(ctx, "dental-norte", uuid.New(), []string{"pending"}, "confirmed")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStoresSessionsAndLinkTokens(t *testing.T) {
	t.Parallel()

	db := newIntegrationDB(t)
	ctx := context.Background()

	identities := NewIdentityStore(db)
	ident, err := identities.Create(ctx, IdentityRecord{ID: uuid.New(), Email: "ines@example.com"})
	require.NoError(t, err)

	expires := time.Now().Add(15 * time.Minute)
	require.NoError(t, identities.ReplaceLinkToken(ctx, LinkTokenRecord{IdentityID: ident.ID, TokenHash: "first", RedirectTo: "https://app.example.com", ExpiresAt: expires}))
	require.NoError(t, identities.ReplaceLinkToken(ctx, LinkTokenRecord{IdentityID: ident.ID, TokenHash: "second", RedirectTo: "https://app.example.com", ExpiresAt: expires}))

	_, err = identities.ConsumeLinkToken(ctx, "first")
	require.ErrorIs(t, err, ErrNotFound)

	tok, err := identities.ConsumeLinkToken(ctx, "second")
	require.NoError(t, err)
	require.Equal(t, ident.ID, tok.IdentityID)

	_, err = identities.ConsumeLinkToken(ctx, "second")
	require.ErrorIs(t, err, ErrNotFound)

	sess, err := identities.CreateSession(ctx, SessionRecord{IdentityID: ident.ID, TokenHash: "refresh", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	revoked, err := identities.RevokeSessionByHash(ctx, "refresh")
	require.NoError(t, err)
	require.Equal(t, sess.ID, revoked.ID)
	require.NotNil(t, revoked.RevokedAt)
}

func TestStoresBookingHonoursBuffer(t *testing.T) {
	t.Parallel()

	db := newIntegrationDB(t)
	ctx := context.Background()

	_, err := NewTenantStore(db).Create(ctx, TenantRecord{ID: "barberia-sur", Name: "Barberia Sur"})
	require.NoError(t, err)
	appointments := NewAppointmentStore(db)

	start := time.Date(2030, 1, 8, 15, 0, 0, 0, time.UTC)
	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "barberia-sur", CustomerName: "Luis", CustomerEmail: "luis@example.com",
		StartsAt: start, EndsAt: start.Add(30 * time.Minute),
	}, 15*time.Minute)
	require.NoError(t, err)

	// Adjacent slot falls inside the 15 minute buffer.
	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "barberia-sur", CustomerName: "Eva", CustomerEmail: "eva@example.com",
		StartsAt: start.Add(30 * time.Minute), EndsAt: start.Add(time.Hour),
	}, 15*time.Minute)
	require.ErrorIs(t, err, ErrConflict)

	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "barberia-sur", CustomerName: "Eva", CustomerEmail: "eva@example.com",
		StartsAt: start.Add(45 * time.Minute), EndsAt: start.Add(75 * time.Minute),
	}, 15*time.Minute)
	require.NoError(t, err)

	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "no-such-tenant", CustomerName: "Eva", CustomerEmail: "eva@example.com",
		StartsAt: start, EndsAt: start.Add(30 * time.Minute),
	}, 0)
	require.ErrorIs(t, err, ErrNotFound)
}

// The public pages run on a pool logged in as bizdesk_anon, which only holds the grants of
// the anon migration.
func TestStoresPublicRoleServesPublicPages(t *testing.T) {
	t.Parallel()

	connString := startPostgres(t,
		`CREATE ROLE bizdesk_anon LOGIN PASSWORD 'anon'`,
	)
	serviceDB := openIntegrationDB(t, connString)
	ctx := context.Background()

	_, err := NewTenantStore(serviceDB).Create(ctx, TenantRecord{ID: "spa-luna", Name: "Spa Luna"})
	require.NoError(t, err)
	_, err = NewModuleStore(serviceDB).SetEnabled(ctx, "spa-luna", "appointments", true)
	require.NoError(t, err)
	start := time.Now().Add(72 * time.Hour).Truncate(time.Hour).UTC()
	_, err = NewAvailabilityStore(serviceDB).CreateTimeOff(ctx, TimeOffRecord{
		TenantID: "spa-luna", StartsAt: start, EndsAt: start.Add(time.Hour),
	})
	require.NoError(t, err)

	anonURL, err := url.Parse(connString)
	require.NoError(t, err)
	anonURL.User = url.UserPassword("bizdesk_anon", "anon")
	anonDB := openIntegrationDB(t, anonURL.String())

	modules := NewModuleStore(anonDB)
	enabled, err := modules.IsEnabled(ctx, "spa-luna", "appointments")
	require.NoError(t, err)
	require.True(t, enabled)
	rec, err := modules.Get(ctx, "spa-luna", "appointments")
	require.NoError(t, err)
	require.True(t, rec.Enabled)

	availability := NewAvailabilityStore(anonDB)
	seeded, ok, err := availability.EnsureDefault(ctx, "spa-luna", []AvailabilityRecord{
		{Weekday: 0, StartTime: "09:00", EndTime: "17:00"},
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, seeded, 1)

	again, ok, err := availability.EnsureDefault(ctx, "spa-luna", []AvailabilityRecord{
		{Weekday: 0, StartTime: "09:00", EndTime: "17:00"},
	})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, seeded, again)

	_, _, err = availability.EnsureDefault(ctx, "ghost", []AvailabilityRecord{
		{Weekday: 0, StartTime: "09:00", EndTime: "17:00"},
	})
	require.ErrorIs(t, err, ErrNotFound)

	timeOff, err := availability.ListUpcomingTimeOff(ctx, "spa-luna", time.Now())
	require.NoError(t, err)
	require.Len(t, timeOff, 1)

	appointments := NewAppointmentStore(anonDB)
	booked, err := appointments.Book(ctx, AppointmentRecord{
		TenantID: "spa-luna", CustomerName: "Ana", CustomerEmail: "ana@example.com",
		StartsAt: start.Add(2 * time.Hour), EndsAt: start.Add(150 * time.Minute),
	}, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, "pending", booked.Status)

	_, err = appointments.Book(ctx, AppointmentRecord{
		TenantID: "spa-luna", CustomerName: "Eva", CustomerEmail: "eva@example.com",
		StartsAt: start.Add(150 * time.Minute), EndsAt: start.Add(3 * time.Hour),
	}, 10*time.Minute)
	require.ErrorIs(t, err, ErrConflict)

	// The restricted role still cannot read tenant ownership data.
	_, err = NewTenantStore(anonDB).Get(ctx, "spa-luna")
	require.Error(t, err)
}
