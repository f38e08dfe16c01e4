package clog

import (
	"context"
	"maps"
	"sync"
)

type ctxSlog struct {
	mu         sync.RWMutex
	attributes map[string]any
}

type ctxSlogKey struct{}

// ContextWithSlog returns a context carrying a fresh attribute set. Any
// attributes already attached to ctx are copied, so a nested scope (one
// action inside a firing) starts from its parent's attributes without
// leaking its own back to the parent.
func ContextWithSlog(ctx context.Context) context.Context {
	attrs := make(map[string]any)
	if parent, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog); ok {
		attrs = parent.getAttributes()
	}
	return context.WithValue(ctx, ctxSlogKey{}, &ctxSlog{attributes: attrs})
}

// WithAttributes is ContextWithSlog followed by AddAttributes.
func WithAttributes(ctx context.Context, attributes map[string]any) context.Context {
	ctx = ContextWithSlog(ctx)
	AddAttributes(ctx, attributes)
	return ctx
}

func AddAttribute(ctx context.Context, key string, value any) {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attributes[key] = value
}

func AddAttributes(ctx context.Context, attributes map[string]any) {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	mergeMaps(l.attributes, attributes)
}

func GetAttribute[T any](ctx context.Context, key string) T {
	var zero T
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return zero
	}
	l.mu.RLock()
	iVal, ok := l.attributes[key]
	l.mu.RUnlock()
	if !ok {
		return zero
	}
	v, ok := iVal.(T)
	if !ok {
		return zero
	}
	return v
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		vMap, ok := v.(map[string]any)
		if !ok {
			dst[k] = v
			continue
		}
		if dstMap, ok := dst[k].(map[string]any); ok {
			mergeMaps(dstMap, vMap)
		} else {
			dst[k] = maps.Clone(vMap)
		}
	}
}

const (
	ErrorAttributeKey = "error.message"
	StackAttributeKey = "error.stack"
)

func AddError(ctx context.Context, err error) {
	AddAttribute(ctx, ErrorAttributeKey, err)
}

func GetError(ctx context.Context) error {
	return GetAttribute[error](ctx, ErrorAttributeKey)
}

func AddStack(ctx context.Context, stack string) {
	AddAttribute(ctx, StackAttributeKey, stack)
}

func GetStack(ctx context.Context) string {
	return GetAttribute[string](ctx, StackAttributeKey)
}

func (c *ctxSlog) getAttributes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.attributes)
}

func GetAttributes(ctx context.Context) map[string]any {
	l, ok := ctx.Value(ctxSlogKey{}).(*ctxSlog)
	if !ok {
		return nil
	}
	return l.getAttributes()
}
