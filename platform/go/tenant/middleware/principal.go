package middleware

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/cache"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
)

// PrincipalResolver turns verified token credentials into the caller's identity, tenant and role.
// Implemented by the identity service. Unknown identities and revoked sessions must be reported
// as platformauth.ErrInvalidToken.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, creds *platformauth.UserCredentials) (platformauth.Principal, error)
}

// WithPrincipal resolves the authenticated caller and attaches an auth.Principal to the context.
// Anonymous requests pass through untouched. Resolutions are cached by token hash.
func WithPrincipal(resolver PrincipalResolver, principals cache.PrincipalCache, logger *zap.Logger) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("principal middleware: resolver is required")
	}
	if principals == nil {
		principals = cache.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			creds, ok := platformauth.UserFromContext(r.Context())
			if !ok || creds == nil {
				next.ServeHTTP(w, r)
				return
			}

			token, _ := platformauth.RawTokenFromContext(r.Context())
			key := cache.TokenKey(string(creds.Provider) + ":" + token)

			if p, hit := principals.Get(r.Context(), key); hit {
				next.ServeHTTP(w, r.WithContext(platformauth.WithPrincipal(r.Context(), p)))
				return
			}

			stamp := principals.Stamp(r.Context())
			p, err := resolver.ResolvePrincipal(r.Context(), creds)
			if err != nil {
				if errors.Is(err, platformauth.ErrInvalidToken) {
					w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
					httpx.WriteProblem(w, httpx.Unauthenticated())
					return
				}
				platformlogging.FromRequest(r, logger).Error("resolve principal", zap.Error(err))
				httpx.WriteProblem(w, httpx.Internal())
				return
			}

			principals.Set(r.Context(), key, p, stamp)
			next.ServeHTTP(w, r.WithContext(platformauth.WithPrincipal(r.Context(), p)))
		})
	}
}
