package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity is returned when a request did not pass RequireAccessToken.
var ErrNoIdentity = errors.New("auth: no identity in context")

// Identity is the verified caller of an operator API request.
type Identity struct {
	UserID string
	Role   string
}

type identityKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller identity, or the zero Identity for
// unauthenticated requests such as webhooks and CDR intake.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	return id
}

func UserID(ctx context.Context) (string, error) {
	if id := IdentityFrom(ctx); id.UserID != "" {
		return id.UserID, nil
	}
	return "", ErrNoIdentity
}

func Role(ctx context.Context) (string, error) {
	if id := IdentityFrom(ctx); id.Role != "" {
		return id.Role, nil
	}
	return "", ErrNoIdentity
}
