package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/requesttrace"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

// RequestTrace stores the request actor on the context and adds its fields to the request
// logger. It runs after the principal and host tenant middleware.
func RequestTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := platformlogging.FromRequest(r, nil)
		requestID := middleware.GetReqID(r.Context())

		var trace requesttrace.Trace
		if p, ok := platformauth.PrincipalFromContext(r.Context()); ok {
			var err error
			trace, err = requesttrace.FromPrincipal(p, requestID)
			if err != nil {
				if logger != nil {
					logger.Error("trace principal", zap.Error(err))
				}
				httpx.WriteProblem(w, httpx.Unauthenticated())
				return
			}
		} else {
			trace = requesttrace.Anonymous(requestID).WithTenant(tenant.TenantIDFromContext(r.Context()))
		}

		ctx := requesttrace.IntoContext(r.Context(), trace)
		if logger != nil {
			ctx = platformlogging.WithLogger(ctx, logger.With(trace.LogFields()...))
			platformlogging.Promote(ctx)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
