package auth

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

// userKey is the context key for the authenticated user identity
const userKey contextKey = "user-id"

// Anonymous is the actor recorded on audit fields when no identity
// was resolved for the request.
const Anonymous = "anonymous"

// WithUser adds a resolved user identity to the context
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// User retrieves the user identity from context.
// Returns the identity and true if found, empty string and false otherwise.
func User(ctx context.Context) (string, bool) {
	user, ok := ctx.Value(userKey).(string)
	return user, ok && user != ""
}

// UserOrAnonymous retrieves the user identity from context, falling back
// to Anonymous when identity resolution did not happen for this request.
func UserOrAnonymous(ctx context.Context) string {
	if user, ok := User(ctx); ok {
		return user
	}
	return Anonymous
}
