// Package auth carries the authenticated caller through a request context.
package auth

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoCaller         = errors.New("no authenticated caller")
	ErrIdentityMismatch = errors.New("caller does not match identity")
)

type callerKey struct{}

// WithCaller 把已认证的调用方写入 context（HTTP 层取自 JWT sub）
func WithCaller(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, callerKey{}, identity)
}

func CallerFromContext(ctx context.Context) (string, bool) {
	identity, ok := ctx.Value(callerKey{}).(string)
	return identity, ok && identity != ""
}

// ContextAuthenticator 要求 context 中的调用方与声明的身份一致
type ContextAuthenticator struct{}

func (ContextAuthenticator) RequireAuthenticated(ctx context.Context, identity string) error {
	caller, ok := CallerFromContext(ctx)
	if !ok {
		return ErrNoCaller
	}
	if caller != identity {
		return fmt.Errorf("%w: %s is not %s", ErrIdentityMismatch, caller, identity)
	}
	return nil
}
