package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    Role
		wantErr bool
	}{
		{raw: "member", want: RoleMember},
		{raw: "admin", want: RoleAdmin},
		{raw: "system_admin", want: RoleSystemAdmin},
		{raw: "owner", wantErr: true},
		{raw: "Admin", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()

			got, err := ParseRole(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, RoleUnknown, got)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.raw, got.String())
		})
	}
}

func TestRoleOrdering(t *testing.T) {
	t.Parallel()

	require.True(t, RoleSystemAdmin.AtLeast(RoleAdmin))
	require.True(t, RoleAdmin.AtLeast(RoleMember))
	require.False(t, RoleMember.AtLeast(RoleAdmin))
	require.False(t, RoleUnknown.AtLeast(RoleUnknown))

	require.True(t, RoleAdmin.IsAdmin())
	require.True(t, RoleSystemAdmin.IsAdmin())
	require.False(t, RoleMember.IsAdmin())

	require.True(t, IsAdminRole("system_admin"))
	require.False(t, IsAdminRole("member"))
	require.False(t, IsAdminRole("root"))
}

func TestRoleJSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(struct {
		Role Role `json:"role"`
	}{Role: RoleAdmin})
	require.NoError(t, err)
	require.JSONEq(t, `{"role":"admin"}`, string(out))

	var in struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"role":"system_admin"}`), &in))
	require.Equal(t, RoleSystemAdmin, in.Role)

	require.Error(t, json.Unmarshal([]byte(`{"role":"owner"}`), &in))

	_, err = json.Marshal(RoleUnknown)
	require.Error(t, err)
}
