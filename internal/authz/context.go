package authz

import (
	"context"
	"errors"
)

// ErrMissingAccess is returned when no AccessContext is present in a
// request context. Fail closed - absence is an error, not match-all.
var ErrMissingAccess = errors.New("access context missing from request context")

type accessContextKey struct{}

// ContextWithAccess attaches an AccessContext to a request context.
func ContextWithAccess(ctx context.Context, access AccessContext) context.Context {
	return context.WithValue(ctx, accessContextKey{}, access)
}

// AccessFromContext extracts the AccessContext from a request context.
// Returns ErrMissingAccess if not present.
func AccessFromContext(ctx context.Context) (AccessContext, error) {
	val := ctx.Value(accessContextKey{})
	if val == nil {
		return AccessContext{}, ErrMissingAccess
	}
	access, ok := val.(AccessContext)
	if !ok {
		return AccessContext{}, ErrMissingAccess
	}
	return access, nil
}
