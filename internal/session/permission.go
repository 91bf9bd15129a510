package session

import "encoding/json"

// Permission is a user's effective access level on a document, resolved once
// at connection time and cached on the Session.
type Permission int

const (
	None Permission = iota
	Read
	Edit
	Admin
)

var permissionNames = map[Permission]string{
	None:  "none",
	Read:  "read",
	Edit:  "edit",
	Admin: "admin",
}

var permissionFromName = map[string]Permission{
	"none":  None,
	"read":  Read,
	"edit":  Edit,
	"admin": Admin,
}

func (p Permission) String() string {
	if s, ok := permissionNames[p]; ok {
		return s
	}
	return "none"
}

// ParsePermission maps a stored level string to a Permission. Unknown values
// resolve to None so a corrupt grant can never widen access.
func ParsePermission(s string) Permission {
	if p, ok := permissionFromName[s]; ok {
		return p
	}
	return None
}

// CanEdit reports whether the level allows document mutations.
func (p Permission) CanEdit() bool {
	return p >= Edit
}

func (p Permission) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Permission) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParsePermission(s)
	return nil
}
