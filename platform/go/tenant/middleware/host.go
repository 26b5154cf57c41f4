package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

// HostResolver is satisfied by *tenant.HostResolver.
type HostResolver interface {
	ResolveTenantForHost(ctx context.Context, host string) (tenant.Resolution, error)
}

// WithHostTenant resolves the tenant of public requests from the Host header (or
// X-Forwarded-Host when trustProxy is set) and attaches a tenant.Space. Lookup failures
// are logged and the request continues without a tenant, so public pages soft-fail.
func WithHostTenant(resolver HostResolver, trustProxy bool, logger *zap.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("host tenant middleware: resolver is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			host := tenant.EffectiveHost(r, trustProxy)
			res, err := resolver.ResolveTenantForHost(r.Context(), host)
			if err != nil {
				platformlogging.FromRequest(r, logger).Warn("resolve tenant from host", zap.String("host", host), zap.Error(err))
				res = tenant.Resolution{Domain: host}
			}

			ctx := tenant.WithSpace(r.Context(), tenant.Space{TenantID: res.TenantID, Domain: res.Domain})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
