package auth

import (
	"context"
	"errors"
)

type ctxKey int

const ctxUID ctxKey = iota

func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxUID, uid)
}

func UID(ctx context.Context) (string, error) {
	v := ctx.Value(ctxUID)
	if s, ok := v.(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("uid not in context")
}
