package requesttrace

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
)

func TestContextRoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)
	require.Equal(t, ActorKindAnonymous, FromContextOrAnonymous(context.Background()).ActorKind)

	tr := Trace{ActorKind: ActorKindUser, UserID: "user-123", RequestID: "req-abc"}
	got, ok := FromContext(IntoContext(context.Background(), tr))
	require.True(t, ok)
	require.Equal(t, tr, got)
}

func TestFromPrincipal(t *testing.T) {
	id := uuid.New()

	tr, err := FromPrincipal(platformauth.Principal{
		IdentityID:      id,
		TenantID:        "acme",
		Role:            platformauth.RoleAdmin,
		IsPlatformAdmin: true,
	}, "req-xyz")
	require.NoError(t, err)
	require.Equal(t, Trace{
		ActorKind:     ActorKindUser,
		UserID:        id.String(),
		TenantID:      "acme",
		Role:          "admin",
		PlatformAdmin: true,
		RequestID:     "req-xyz",
	}, tr)

	_, err = FromPrincipal(platformauth.Principal{TenantID: "acme"}, "req-1")
	require.Error(t, err)
}

func TestWithTenant(t *testing.T) {
	require.Equal(t, "acme", Anonymous("req").WithTenant("acme").TenantID)
	require.Equal(t, "acme", Anonymous("req").WithTenant("acme").WithTenant("").TenantID)
}

func TestLogFields(t *testing.T) {
	tests := []struct {
		name  string
		trace Trace
		want  map[string]interface{}
	}{
		{
			name:  "anonymous",
			trace: Anonymous("req"),
			want:  map[string]interface{}{"actor_kind": "anonymous"},
		},
		{
			name:  "public tenant",
			trace: Anonymous("req").WithTenant("acme"),
			want:  map[string]interface{}{"actor_kind": "anonymous", "tenant_id": "acme"},
		},
		{
			name:  "platform admin",
			trace: Trace{ActorKind: ActorKindUser, UserID: "u1", TenantID: "acme", PlatformAdmin: true},
			want: map[string]interface{}{
				"actor_kind": "user", "user_id": "u1", "tenant_id": "acme", "platform_admin": true,
			},
		},
		{
			name:  "system job",
			trace: System("consolidate"),
			want:  map[string]interface{}{"actor_kind": "system"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			zap.New(core).Info("line", tt.trace.LogFields()...)
			require.Equal(t, tt.want, logs.All()[0].ContextMap())
		})
	}
}
