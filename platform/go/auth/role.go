package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of tenant roles. The numeric value is the rank: a higher
// rank includes every capability of the lower ones.
type Role int

const (
	RoleUnknown Role = iota
	RoleMember
	RoleAdmin
	RoleSystemAdmin
)

var roleNames = map[Role]string{
	RoleMember:      "member",
	RoleAdmin:       "admin",
	RoleSystemAdmin: "system_admin",
}

// ParseRole converts the stored representation into a Role. Anything outside the enumeration fails.
func ParseRole(raw string) (Role, error) {
	switch strings.TrimSpace(raw) {
	case "member":
		return RoleMember, nil
	case "admin":
		return RoleAdmin, nil
	case "system_admin":
		return RoleSystemAdmin, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role %q", raw)
	}
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether r belongs to the enumeration.
func (r Role) Valid() bool {
	_, ok := roleNames[r]
	return ok
}

// AtLeast reports whether r ranks equal to or above min.
func (r Role) AtLeast(min Role) bool {
	return r.Valid() && r >= min
}

// IsAdmin is true for admin and system_admin.
func (r Role) IsAdmin() bool {
	return r.AtLeast(RoleAdmin)
}

// IsAdminRole reports whether a stored role string carries admin rights.
func IsAdminRole(raw string) bool {
	role, err := ParseRole(raw)
	return err == nil && role.IsAdmin()
}

func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("marshal role: invalid value %d", int(r))
	}
	return json.Marshal(r.String())
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRole(raw)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
