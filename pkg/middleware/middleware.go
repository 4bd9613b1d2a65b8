package middleware

import (
	"context"

	"tracing-gateway/pkg/types"
)

// Chain represents a chain of middleware functions
type Chain struct {
	middlewares []types.Middleware
}

// NewChain creates a new middleware chain
func NewChain(middlewares ...types.Middleware) *Chain {
	return &Chain{
		middlewares: middlewares,
	}
}

// Add appends middleware to the chain
func (c *Chain) Add(middleware types.Middleware) *Chain {
	c.middlewares = append(c.middlewares, middleware)
	return c
}

// Execute executes the middleware chain with the final handler
func (c *Chain) Execute(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, finalHandler types.Handler) error {
	if len(c.middlewares) == 0 {
		return finalHandler(ctx, scope, receive, send)
	}

	return c.executeMiddleware(0, ctx, scope, receive, send, finalHandler)
}

// executeMiddleware recursively executes middleware in the chain
func (c *Chain) executeMiddleware(index int, ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc, finalHandler types.Handler) error {
	if index >= len(c.middlewares) {
		return finalHandler(ctx, scope, receive, send)
	}

	currentMiddleware := c.middlewares[index]
	nextHandler := func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return c.executeMiddleware(index+1, ctx, scope, receive, send, finalHandler)
	}

	return currentMiddleware(ctx, scope, receive, send, nextHandler)
}

// Then binds the chain to a final handler, producing a plain Handler
func (c *Chain) Then(finalHandler types.Handler) types.Handler {
	return func(ctx context.Context, scope *types.Scope, receive types.ReceiveFunc, send types.SendFunc) error {
		return c.Execute(ctx, scope, receive, send, finalHandler)
	}
}
