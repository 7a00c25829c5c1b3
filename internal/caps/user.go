package caps

import (
	"context"
	"strings"
)

// User is the resolved view of an account as seen by policy evaluation: an
// identifier, an optional handle, and the ordered list of assigned roles.
type User struct {
	ID     string   `json:"id"`
	Handle string   `json:"handle,omitempty"`
	Roles  []string `json:"roles"`
}

// HasAnyRole reports whether the user holds at least one of the given roles.
// Blank role names are ignored; an empty query never matches.
func (u *User) HasAnyRole(roles ...string) bool {
	if u == nil || len(u.Roles) == 0 {
		return false
	}
	for _, want := range roles {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, have := range u.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// UserResolver looks up a user record by id or handle. Implementations return
// an error wrapping ErrNotFound when no such user exists; the engine treats
// any resolution failure as "no roles, no match".
type UserResolver interface {
	ResolveUser(ctx context.Context, ref string) (*User, error)
}
