package main

import (
	"context"
	"net/http"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	appointmentshandler "github.com/zenGate-Global/bizdesk/domains/appointments/be/handler"
	identityhandler "github.com/zenGate-Global/bizdesk/domains/identity/be/handler"
	linkinbiohandler "github.com/zenGate-Global/bizdesk/domains/linkinbio/be/handler"
	membershipshandler "github.com/zenGate-Global/bizdesk/domains/memberships/be/handler"
	moduleshandler "github.com/zenGate-Global/bizdesk/domains/modules/be/handler"
	tenantshandler "github.com/zenGate-Global/bizdesk/domains/tenants/be/handler"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/metrics"
	platformmiddleware "github.com/zenGate-Global/bizdesk/platform/go/middleware"
	tenantmiddleware "github.com/zenGate-Global/bizdesk/platform/go/tenant/middleware"
)

// routerDeps is everything the HTTP surface needs. main builds it from Postgres stores;
// tests build it from the in-memory repositories.
type routerDeps struct {
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
	Contract       *openapi3.T
	Authorizer     *platformauth.Authorizer
	Authenticate   func(http.Handler) http.Handler
	Principals     tenantmiddleware.PrincipalResolver
	PrincipalCache cache.PrincipalCache
	Hosts          tenantmiddleware.HostResolver
	Ready          func(ctx context.Context) error

	CORSOrigins    []string
	RequestTimeout time.Duration
	TrustProxy     bool
	AuthLimit      func(http.Handler) http.Handler
	BookingLimit   func(http.Handler) http.Handler

	Identity     *identityhandler.Handler
	Tenants      *tenantshandler.Handler
	Memberships  *membershipshandler.Handler
	Modules      *moduleshandler.Handler
	Appointments *appointmentshandler.Handler
	Links        *linkinbiohandler.Handler

	// Public handlers may be backed by a restricted database role. They default to the
	// authenticated handlers.
	PublicAppointments *appointmentshandler.Handler
	PublicLinks        *linkinbiohandler.Handler
}

func newRouter(d routerDeps) http.Handler {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 15 * time.Second
	}
	if d.PublicAppointments == nil {
		d.PublicAppointments = d.Appointments
	}
	if d.PublicLinks == nil {
		d.PublicLinks = d.Links
	}
	if d.AuthLimit == nil {
		d.AuthLimit = platformmiddleware.NoRateLimit()
	}
	if d.BookingLimit == nil {
		d.BookingLimit = platformmiddleware.NoRateLimit()
	}

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(d.RequestTimeout),
		platformmiddleware.CORS(d.CORSOrigins),
	)
	rootRouter.Use(platformlogging.RequestLogger(d.Logger))
	rootRouter.Use(platformmiddleware.Metrics(d.Metrics))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				platformlogging.FromRequest(r, d.Logger).Warn("readiness check failed", zap.Error(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", d.Metrics.Handler())

	registerDocsRoutes(rootRouter, d.Contract, d.Logger)

	apiRouter := chi.NewRouter()
	apiRouter.Use(d.Authenticate)
	apiRouter.Use(tenantmiddleware.WithPrincipal(d.Principals, d.PrincipalCache, d.Logger))
	apiRouter.Use(tenantmiddleware.WithHostTenant(d.Hosts, d.TrustProxy, d.Logger))
	apiRouter.Use(platformmiddleware.RequestTrace)
	apiRouter.Use(platformmiddleware.SpecValidator(d.Contract, d.Logger))

	d.Identity.RegisterPublic(apiRouter, d.AuthLimit)
	d.Tenants.RegisterPublic(apiRouter)
	d.PublicAppointments.RegisterPublic(apiRouter, d.BookingLimit)
	d.PublicLinks.RegisterPublic(apiRouter)

	d.Identity.Register(apiRouter, d.Authorizer)
	d.Tenants.Register(apiRouter, d.Authorizer)
	d.Memberships.Register(apiRouter, d.Authorizer)
	d.Modules.Register(apiRouter, d.Authorizer)
	d.Appointments.Register(apiRouter, d.Authorizer)
	d.Links.Register(apiRouter, d.Authorizer)

	rootRouter.Mount("/api/v1", apiRouter)
	return rootRouter
}
