package auth

import "context"

type userContextKey struct{}

type contextUser struct {
	id    string
	roles []string
}

// ContextWithUser attaches the authenticated user identity to the context.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	return context.WithValue(ctx, userContextKey{}, contextUser{
		id:    userID,
		roles: dedupeRoles(roles),
	})
}

// UserIDFromContext extracts the authenticated user id from the context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	u, ok := ctx.Value(userContextKey{}).(contextUser)
	if !ok || u.id == "" {
		return "", false
	}
	return u.id, true
}

// RolesFromContext returns the deduplicated roles attached to the context.
func RolesFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	u, ok := ctx.Value(userContextKey{}).(contextUser)
	if !ok {
		return nil
	}
	return append([]string(nil), u.roles...)
}

// HasRole reports whether the authenticated user carries the given role.
func HasRole(ctx context.Context, role string) bool {
	for _, have := range RolesFromContext(ctx) {
		if have == role {
			return true
		}
	}
	return false
}
