package gate

import "context"

type idKey struct{}

// WithID tags ctx with the gate device a request comes from.
func WithID(ctx context.Context, gateID string) context.Context {
	return context.WithValue(ctx, idKey{}, gateID)
}

// IDFrom returns the gate id set by WithID, or "".
func IDFrom(ctx context.Context) string {
	id, _ := ctx.Value(idKey{}).(string)
	return id
}
