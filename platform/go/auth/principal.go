package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
)

const ctxPrincipal ctxKey = "BIZDESK_PRINCIPAL"

// Principal is the resolved caller of an authenticated request: who they are,
// which tenant they act on and with which role.
type Principal struct {
	IdentityID      uuid.UUID `json:"identityId"`
	Email           string    `json:"email"`
	DisplayName     *string   `json:"displayName,omitempty"`
	TenantID        string    `json:"tenantId"`
	Role            Role      `json:"role"`
	IsPlatformAdmin bool      `json:"isPlatformAdmin"`
	SessionID       string    `json:"sessionId,omitempty"`
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipal, p)
}

// PrincipalFromContext returns the caller resolved for this request.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxPrincipal).(Principal)
	return p, ok
}

// RequireAuthenticated rejects requests without a resolved principal.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := PrincipalFromContext(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
			httpx.WriteProblem(w, httpx.Unauthenticated())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole gates a route on a minimum tenant role.
func RequireRole(min Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.WriteProblem(w, httpx.Unauthenticated())
				return
			}
			if !p.Role.AtLeast(min) {
				httpx.WriteProblem(w, httpx.Forbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePermission gates a route on a permission checked by the authorizer.
func RequirePermission(authz *Authorizer, perm Permission) func(http.Handler) http.Handler {
	if authz == nil {
		panic("auth.RequirePermission: authorizer must not be nil")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				httpx.WriteProblem(w, httpx.Unauthenticated())
				return
			}
			if !authz.Can(p, perm) {
				httpx.WriteProblem(w, httpx.Forbidden())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
