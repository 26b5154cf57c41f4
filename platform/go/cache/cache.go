// Package cache keeps resolved principals keyed by access token so the per-request
// middleware does not hit the store on every call.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"

	"github.com/zenGate-Global/bizdesk/platform/go/auth"
)

// Stamp orders a cache write against invalidations. Take it before resolving the
// principal and hand it to Set; an invalidation in between makes the write stale.
type Stamp uint64

// PrincipalCache is implemented by the memory and redis backends. Caching is best
// effort: backends swallow their own failures and report a miss.
type PrincipalCache interface {
	Get(ctx context.Context, key string) (auth.Principal, bool)
	Stamp(ctx context.Context) Stamp
	// Set stores p unless its tenant or identity was invalidated after stamp was taken.
	Set(ctx context.Context, key string, p auth.Principal, stamp Stamp)
	Delete(ctx context.Context, key string)
	// InvalidateTenant drops every entry whose principal acts on tenantID.
	InvalidateTenant(ctx context.Context, tenantID string)
	// InvalidateIdentity drops every entry of the identity.
	InvalidateIdentity(ctx context.Context, identityID uuid.UUID)
}

// TokenKey derives the cache key of a bearer token. Raw tokens are never stored.
func TokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Noop never stores anything. Used when caching is disabled.
type Noop struct{}

func (Noop) Get(context.Context, string) (auth.Principal, bool) { return auth.Principal{}, false }
func (Noop) Stamp(context.Context) Stamp                         { return 0 }
func (Noop) Set(context.Context, string, auth.Principal, Stamp) {}
func (Noop) Delete(context.Context, string)                     {}
func (Noop) InvalidateTenant(context.Context, string)           {}
func (Noop) InvalidateIdentity(context.Context, uuid.UUID)      {}
