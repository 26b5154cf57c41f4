// Package requesttrace records who is behind a unit of work: an HTTP request or a CLI job.
package requesttrace

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
)

type traceKey struct{}

// ActorKind represents who initiated a request.
type ActorKind string

const (
	ActorKindUser      ActorKind = "user"
	ActorKindAnonymous ActorKind = "anonymous"
	ActorKindSystem    ActorKind = "system"
)

// Trace is the actor of the current unit of work. UserID and Role are only set for users.
// TenantID is the membership tenant of a user, or the tenant a public request was resolved
// to from its Host header. Empty strings mean unknown.
type Trace struct {
	ActorKind     ActorKind
	UserID        string
	TenantID      string
	Role          string
	PlatformAdmin bool
	RequestID     string
}

// IntoContext stores t on ctx.
func IntoContext(ctx context.Context, t Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// FromContext returns the trace stored on ctx.
func FromContext(ctx context.Context) (Trace, bool) {
	if ctx == nil {
		return Trace{}, false
	}
	t, ok := ctx.Value(traceKey{}).(Trace)
	return t, ok
}

// FromContextOrAnonymous never fails; callers outside the HTTP chain get an anonymous actor.
func FromContextOrAnonymous(ctx context.Context) Trace {
	if t, ok := FromContext(ctx); ok {
		return t
	}
	return Anonymous("")
}

// FromPrincipal builds the trace of an authenticated caller.
func FromPrincipal(p platformauth.Principal, requestID string) (Trace, error) {
	if p.IdentityID == uuid.Nil {
		return Trace{}, errors.New("principal has no identity id")
	}
	return Trace{
		ActorKind:     ActorKindUser,
		UserID:        p.IdentityID.String(),
		TenantID:      p.TenantID,
		Role:          p.Role.String(),
		PlatformAdmin: p.IsPlatformAdmin,
		RequestID:     requestID,
	}, nil
}

// WithTenant scopes t to tenantID. An empty id keeps the current tenant.
func (t Trace) WithTenant(tenantID string) Trace {
	if tenantID != "" {
		t.TenantID = tenantID
	}
	return t
}

// LogFields are the zap fields every log line of the unit of work carries.
func (t Trace) LogFields() []zap.Field {
	fields := []zap.Field{zap.String("actor_kind", string(t.ActorKind))}
	if t.UserID != "" {
		fields = append(fields, zap.String("user_id", t.UserID))
	}
	if t.TenantID != "" {
		fields = append(fields, zap.String("tenant_id", t.TenantID))
	}
	if t.PlatformAdmin {
		fields = append(fields, zap.Bool("platform_admin", true))
	}
	return fields
}

// Anonymous is the actor of signup, login and public page requests.
func Anonymous(requestID string) Trace {
	return Trace{ActorKind: ActorKindAnonymous, RequestID: requestID}
}

// System is the actor of CLI jobs and other background work; job names the run.
func System(job string) Trace {
	return Trace{ActorKind: ActorKindSystem, RequestID: job}
}
