// Package middleware implements the client-side interceptor chain the
// pipeline traverses on its way to the transport.
package middleware

import (
	"context"
	"sync"

	x402 "github.com/driftpay/x402"
)

// Next is the continuation an Interceptor invokes to proceed to the
// remainder of the chain. The terminal Next is bound to the transport.
type Next func(ctx context.Context, req *x402.Request) (*x402.Response, error)

// Interceptor may inspect or mutate the Request, then either call next to
// continue the chain or return its own Response to short-circuit it.
// Short-circuiting skips the transport and the payment step entirely.
type Interceptor interface {
	Intercept(ctx context.Context, req *x402.Request, next Next) (*x402.Response, error)
}

// InterceptorFunc adapts a function to an Interceptor.
type InterceptorFunc func(ctx context.Context, req *x402.Request, next Next) (*x402.Response, error)

// Intercept implements Interceptor.
func (f InterceptorFunc) Intercept(ctx context.Context, req *x402.Request, next Next) (*x402.Response, error) {
	return f(ctx, req, next)
}

// Chain is an ordered, concurrency-safe sequence of interceptors. Additions
// never tear an in-flight traversal: Traverse snapshots the chain at entry.
type Chain struct {
	mu           sync.RWMutex
	interceptors []Interceptor
}

// New builds an empty Chain.
func New() *Chain {
	return &Chain{}
}

// Use appends an interceptor to the chain, to run after every interceptor
// already registered.
func (c *Chain) Use(i Interceptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interceptors = append(c.interceptors, i)
}

// Len reports the number of registered interceptors.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.interceptors)
}

// Traverse runs the chain in registration order against req, with terminal
// stepping into the transport once every interceptor has been invoked.
// Response-side processing unwinds in reverse (LIFO) order as each
// interceptor's own continuation call returns.
func (c *Chain) Traverse(ctx context.Context, req *x402.Request, terminal Next) (*x402.Response, error) {
	c.mu.RLock()
	snapshot := make([]Interceptor, len(c.interceptors))
	copy(snapshot, c.interceptors)
	c.mu.RUnlock()

	var step func(idx int) Next
	step = func(idx int) Next {
		return func(ctx context.Context, req *x402.Request) (*x402.Response, error) {
			if idx >= len(snapshot) {
				return terminal(ctx, req)
			}
			return snapshot[idx].Intercept(ctx, req, step(idx+1))
		}
	}

	return step(0)(ctx, req)
}
