package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned when an operation needs a user and none is present.
var ErrUnauthenticated = errors.New("unauthenticated: no user session")

// User is the identity supplied by the auth provider. Only ID scopes data.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type contextKey string

const userKey contextKey = "authUser"

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user from context.
func UserFromContext(ctx context.Context) (*User, bool) {
	if ctx == nil {
		return nil, false
	}
	if user, ok := ctx.Value(userKey).(*User); ok && user != nil && user.ID != "" {
		return user, true
	}
	return nil, false
}

// RequireUser is UserFromContext returning ErrUnauthenticated on a miss.
func RequireUser(ctx context.Context) (*User, error) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return nil, ErrUnauthenticated
	}
	return user, nil
}
