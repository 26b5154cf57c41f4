package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/gcp"
)

// buildAuthMiddleware constructs the bearer token middleware for the configured provider.
// Session tokens are always accepted. Firebase and dev tokens are accepted in addition
// when selected; the resolved principal is produced later by the identity service.
func buildAuthMiddleware(ctx context.Context, cfg config, issuer *platformauth.TokenIssuer, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	session := platformauth.SessionTokenVerifier(issuer)

	switch cfg.AuthProvider {
	case "session":
		return platformauth.JWT(session, nil, platformauth.ProviderSession), nil
	case "firebase":
		fbAuth, err := gcp.InitFirebaseAuth(ctx, gcp.FirebaseConfig{
			CredentialsFile: cfg.FirebaseCredentialsFile,
			ProjectID:       cfg.FirebaseProjectID,
		})
		if err != nil {
			return nil, fmt.Errorf("init firebase auth: %w", err)
		}
		return chainVerifiers(session, platformauth.FirebaseTokenVerifier(fbAuth), platformauth.ProviderFirebase), nil
	case "dev":
		logger.Warn("using dev auth middleware; do not use in production")
		return chainVerifiers(session, platformauth.UnsignedTokenVerifier(), platformauth.ProviderDev), nil
	default:
		return nil, fmt.Errorf("unsupported auth provider %q", cfg.AuthProvider)
	}
}

// chainVerifiers tries the session verifier first and falls back to the external one,
// tagging the credentials with the provider that accepted the token.
func chainVerifiers(session, external platformauth.VerifyFunc, provider platformauth.Provider) func(http.Handler) http.Handler {
	sessionMW := platformauth.JWT(session, nil, platformauth.ProviderSession)
	externalMW := platformauth.JWT(external, nil, provider)

	return func(next http.Handler) http.Handler {
		viaSession := sessionMW(next)
		viaExternal := externalMW(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, found := platformauth.ExtractJWTToken(r)
			if found && token != "" {
				if _, err := session(r.Context(), token); err != nil {
					viaExternal.ServeHTTP(w, r)
					return
				}
			}
			viaSession.ServeHTTP(w, r)
		})
	}
}
