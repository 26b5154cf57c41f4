package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	sqlassets "github.com/zenGate-Global/bizdesk/database"
	appointmentshandler "github.com/zenGate-Global/bizdesk/domains/appointments/be/handler"
	appointmentsrepo "github.com/zenGate-Global/bizdesk/domains/appointments/be/repo"
	appointmentsservice "github.com/zenGate-Global/bizdesk/domains/appointments/be/service"
	identityhandler "github.com/zenGate-Global/bizdesk/domains/identity/be/handler"
	identityrepo "github.com/zenGate-Global/bizdesk/domains/identity/be/repo"
	identityservice "github.com/zenGate-Global/bizdesk/domains/identity/be/service"
	linkinbiohandler "github.com/zenGate-Global/bizdesk/domains/linkinbio/be/handler"
	linkinbiorepo "github.com/zenGate-Global/bizdesk/domains/linkinbio/be/repo"
	linkinbioservice "github.com/zenGate-Global/bizdesk/domains/linkinbio/be/service"
	membershipshandler "github.com/zenGate-Global/bizdesk/domains/memberships/be/handler"
	membershipsrepo "github.com/zenGate-Global/bizdesk/domains/memberships/be/repo"
	membershipsservice "github.com/zenGate-Global/bizdesk/domains/memberships/be/service"
	moduleshandler "github.com/zenGate-Global/bizdesk/domains/modules/be/handler"
	modulesrepo "github.com/zenGate-Global/bizdesk/domains/modules/be/repo"
	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	tenantshandler "github.com/zenGate-Global/bizdesk/domains/tenants/be/handler"
	tenantsrepo "github.com/zenGate-Global/bizdesk/domains/tenants/be/repo"
	tenantsservice "github.com/zenGate-Global/bizdesk/domains/tenants/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/domainsync"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/mailer"
	"github.com/zenGate-Global/bizdesk/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/bizdesk/platform/go/middleware"
	"github.com/zenGate-Global/bizdesk/platform/go/persistence"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"json"` // json | console
	CORSOrigins     []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	DatabaseURL      string        `env:"DATABASE_URL,required"`
	DatabaseAnonURL  string        `env:"DATABASE_ANON_URL"` // defaults to DATABASE_URL
	StoreTimeout     time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	StoreReadRetries uint64        `env:"STORE_READ_RETRIES" envDefault:"2"`
	DatabaseMaxConns int32         `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	StatementTimeout time.Duration `env:"DATABASE_STATEMENT_TIMEOUT" envDefault:"30s"`
	MigrateOnStart   bool          `env:"MIGRATE_ON_START" envDefault:"false"`

	AuthProvider            string        `env:"AUTH_PROVIDER" envDefault:"session"` // session | firebase | dev
	JWTSecret               string        `env:"JWT_SECRET,required"`
	AccessTokenTTL          time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL         time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"720h"`
	MagicLinkTTL            time.Duration `env:"MAGIC_LINK_TTL" envDefault:"15m"`
	MagicLinkRedirectURL    string        `env:"MAGIC_LINK_REDIRECT_URL" envDefault:"http://localhost:5173/auth/callback"`
	AllowedRedirectOrigins  []string      `env:"ALLOWED_REDIRECT_ORIGINS" envSeparator:","`
	PlatformAdminEmails     []string      `env:"PLATFORM_ADMIN_EMAILS" envSeparator:","`
	FirebaseCredentialsFile string        `env:"FIREBASE_CREDENTIALS_FILE"`
	FirebaseProjectID       string        `env:"FIREBASE_PROJECT_ID"`

	TrustProxy  bool   `env:"TRUST_PROXY" envDefault:"false"`
	TenantsPath string `env:"TENANTS_PATH"`

	CacheBackend    string        `env:"CACHE_BACKEND" envDefault:"memory"` // memory | redis
	CacheTTL        time.Duration `env:"CACHE_TTL" envDefault:"60s"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"10000"`
	RedisAddr       string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword   string        `env:"REDIS_PASSWORD"`
	RedisDB         int           `env:"REDIS_DB" envDefault:"0"`

	RateLimitAuthPerMinute    int `env:"RATE_LIMIT_AUTH_PER_MINUTE" envDefault:"20"`
	RateLimitBookingPerMinute int `env:"RATE_LIMIT_BOOKING_PER_MINUTE" envDefault:"10"`

	Mailer       string `env:"MAILER" envDefault:"log"` // log | smtp
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME" envDefault:"Bizdesk"`

	DomainSyncWebhookURL string `env:"DOMAIN_SYNC_WEBHOOK_URL"`
}

func main() {
	ctx := context.Background()

	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.DatabaseAnonURL == "" {
		cfg.DatabaseAnonURL = cfg.DatabaseURL
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if cfg.MigrateOnStart {
		if err := migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
		logger.Info("migrations applied")
	}

	m := metrics.New("bizdesk")

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{
		ConnString:       cfg.DatabaseURL,
		ApplicationName:  "bizdesk-api",
		StatementTimeout: cfg.StatementTimeout,
		MaxConns:         cfg.DatabaseMaxConns,
	})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	anonPool := pool
	if cfg.DatabaseAnonURL != cfg.DatabaseURL {
		anonPool, err = persistence.NewPool(ctx, persistence.PoolConfig{
			ConnString:       cfg.DatabaseAnonURL,
			ApplicationName:  "bizdesk-anon",
			StatementTimeout: cfg.StatementTimeout,
			MaxConns:         cfg.DatabaseMaxConns,
		})
		if err != nil {
			logger.Fatal("init anon postgres pool", zap.Error(err))
		}
		defer persistence.ClosePool(anonPool)
	}

	callCfg := persistence.CallConfig{
		Timeout:     cfg.StoreTimeout,
		ReadRetries: cfg.StoreReadRetries,
		Observe:     m.ObserveStore,
	}
	db := persistence.NewDB(pool, callCfg)
	anonDB := persistence.NewDB(anonPool, callCfg)

	principals, closeCache := buildPrincipalCache(ctx, cfg, m, logger)
	defer closeCache()

	tenantStore := persistence.NewTenantStore(db)
	hosts, err := buildHostResolver(cfg, tenantStore, logger)
	if err != nil {
		logger.Fatal("init host resolver", zap.Error(err))
	}

	authz, err := platformauth.NewAuthorizer()
	if err != nil {
		logger.Fatal("init authorizer", zap.Error(err))
	}

	issuer, err := platformauth.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	if err != nil {
		logger.Fatal("init token issuer", zap.Error(err))
	}

	mail, err := buildMailer(cfg, logger)
	if err != nil {
		logger.Fatal("init mailer", zap.Error(err))
	}

	moduleStore := persistence.NewModuleStore(db)
	anonModuleStore := persistence.NewModuleStore(anonDB)

	modulesService := modulesservice.New(modulesrepo.NewPostgresRepository(moduleStore), persistence.NewSchemaValidator())
	publicModulesService := modulesservice.New(modulesrepo.NewPostgresRepository(anonModuleStore), persistence.NewSchemaValidator())

	tenantService := tenantsservice.New(
		tenantsrepo.NewPostgresRepository(tenantStore),
		hosts,
		principals,
		buildDomainSync(cfg, logger),
		logger,
	)

	membershipService := membershipsservice.New(
		membershipsrepo.NewPostgresRepository(persistence.NewMembershipStore(db)),
		membershipsservice.Config{PlatformAdminEmails: cfg.PlatformAdminEmails},
		principals,
	)

	identityService := identityservice.New(identityservice.Deps{
		Repo:        identityrepo.NewPostgresRepository(persistence.NewIdentityStore(db)),
		Memberships: membershipService,
		Issuer:      issuer,
		Mailer:      mail,
		Principals:  principals,
		Attempts:    m,
		Logger:      logger,
	}, identityservice.Config{
		RefreshTokenTTL:        cfg.RefreshTokenTTL,
		MagicLinkTTL:           cfg.MagicLinkTTL,
		MagicLinkRedirectURL:   cfg.MagicLinkRedirectURL,
		AllowedRedirectOrigins: cfg.AllowedRedirectOrigins,
	})

	// Public pages read through the anon pool; authenticated dashboards use the service pool.
	appointmentService := appointmentsservice.New(appointmentsrepo.NewPostgresRepository(
		persistence.NewAvailabilityStore(db),
		persistence.NewAppointmentStore(db),
		moduleStore,
	), logger)
	publicAppointmentService := appointmentsservice.New(appointmentsrepo.NewPostgresRepository(
		persistence.NewAvailabilityStore(anonDB),
		persistence.NewAppointmentStore(anonDB),
		anonModuleStore,
	), logger)

	linkService := linkinbioservice.New(linkinbiorepo.NewPostgresRepository(persistence.NewBioLinkStore(db), moduleStore))
	publicLinkService := linkinbioservice.New(linkinbiorepo.NewPostgresRepository(persistence.NewBioLinkStore(anonDB), anonModuleStore))

	authenticate, err := buildAuthMiddleware(ctx, cfg, issuer, logger)
	if err != nil {
		logger.Fatal("init auth middleware", zap.Error(err))
	}

	contract, err := loadContract(ctx)
	if err != nil {
		logger.Fatal("load openapi contract", zap.Error(err))
	}

	router := newRouter(routerDeps{
		Logger:         logger,
		Metrics:        m,
		Contract:       contract,
		Authorizer:     authz,
		Authenticate:   authenticate,
		Principals:     identityService,
		PrincipalCache: principals,
		Hosts:          hosts,
		Ready:          db.Ping,
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: cfg.RequestTimeout,
		TrustProxy:     cfg.TrustProxy,
		AuthLimit: platformmiddleware.RateLimit(platformmiddleware.RateLimitConfig{
			Name:     "auth",
			Requests: cfg.RateLimitAuthPerMinute,
			Window:   time.Minute,
		}),
		BookingLimit: platformmiddleware.RateLimit(platformmiddleware.RateLimitConfig{
			Name:     "booking",
			Requests: cfg.RateLimitBookingPerMinute,
			Window:   time.Minute,
		}),
		Identity:     identityhandler.New(identityService, logger),
		Tenants:      tenantshandler.New(tenantService, cfg.TrustProxy, logger),
		Memberships:  membershipshandler.New(membershipService, logger),
		Modules:      moduleshandler.New(modulesService, logger),
		Appointments: appointmentshandler.New(appointmentService, modulesService, logger),
		Links:        linkinbiohandler.New(linkService, modulesService, logger),

		PublicAppointments: appointmentshandler.New(publicAppointmentService, publicModulesService, logger),
		PublicLinks:        linkinbiohandler.New(publicLinkService, publicModulesService, logger),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server",
			zap.String("port", cfg.Port),
			zap.String("auth_provider", cfg.AuthProvider),
			zap.String("cache_backend", cfg.CacheBackend),
		)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func migrate(databaseURL string) error {
	sqlDB, err := sqlassets.Open(databaseURL)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return sqlassets.Up(sqlDB)
}

func buildPrincipalCache(ctx context.Context, cfg config, m *metrics.Metrics, logger *zap.Logger) (cache.PrincipalCache, func()) {
	switch cfg.CacheBackend {
	case "memory":
		return cache.NewMemory(cache.MemoryConfig{
			TTL:        cfg.CacheTTL,
			MaxEntries: cfg.CacheMaxEntries,
			OnLookup:   func(hit bool) { m.CacheLookup("memory", hit) },
		}), func() {}
	case "redis":
		rc := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
			OnLookup: func(hit bool) { m.CacheLookup("redis", hit) },
		}, logger)
		if err := rc.Ping(ctx); err != nil {
			logger.Fatal("connect redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		return rc, func() { _ = rc.Close() }
	case "none":
		return cache.Noop{}, func() {}
	default:
		logger.Fatal("invalid CACHE_BACKEND (use memory, redis or none)", zap.String("backend", cfg.CacheBackend))
		return nil, nil
	}
}

func buildHostResolver(cfg config, store *persistence.TenantStore, logger *zap.Logger) (*tenant.HostResolver, error) {
	var static tenant.Lookup
	if cfg.TenantsPath != "" {
		lookup, err := tenant.LoadStaticLookup(cfg.TenantsPath)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded static tenant hosts", zap.String("path", cfg.TenantsPath), zap.Int("hosts", lookup.Len()))
		static = lookup
	}
	return tenant.NewHostResolver(static, tenant.NewDBLookup(store)), nil
}

func buildMailer(cfg config, logger *zap.Logger) (mailer.Mailer, error) {
	switch cfg.Mailer {
	case "log":
		return mailer.NewLogMailer(logger), nil
	case "smtp":
		return mailer.NewSMTPMailer(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		})
	default:
		return nil, errors.New("invalid MAILER (use log or smtp)")
	}
}

func buildDomainSync(cfg config, logger *zap.Logger) domainsync.Syncer {
	if cfg.DomainSyncWebhookURL == "" {
		return domainsync.Noop{}
	}
	logger.Info("domain sync webhook enabled")
	return domainsync.NewWebhook(cfg.DomainSyncWebhookURL, &http.Client{Timeout: 10 * time.Second})
}
