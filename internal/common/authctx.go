package common

import "context"

type adminIDKey struct{}

// WithAdminID stores the authenticated admin identifier on the context.
func WithAdminID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, adminIDKey{}, id)
}

// AdminID extracts the authenticated admin identifier from the context.
func AdminID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(adminIDKey{}).(string)
	return id, ok && id != ""
}

type sessionIDKey struct{}

// WithSessionID stores the server-side session identifier on the context.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionID extracts the server-side session identifier from the context.
func SessionID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionIDKey{}).(string)
	return id, ok && id != ""
}
