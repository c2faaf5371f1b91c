package server

import "context"

type bodyContextKey struct{}

// contextWithBody stashes the captured request body so downstream
// middleware (the signature verifier) can read it without consuming
// r.Body a second time.
func contextWithBody(ctx context.Context, body []byte) context.Context {
	return context.WithValue(ctx, bodyContextKey{}, body)
}

func bodyFromContext(ctx context.Context) ([]byte, bool) {
	b, ok := ctx.Value(bodyContextKey{}).([]byte)
	return b, ok
}
