package tools

import (
	"context"
	"log"
	"runtime/debug"
	"time"
)

// Executor runs one step against the registry. Unknown capabilities,
// panics and timeouts all come back as failed results, never as errors.
type Executor struct {
	registry *Registry
	Timeout  time.Duration
}

func NewExecutor(registry *Registry, timeout time.Duration) *Executor {
	return &Executor{registry: registry, Timeout: timeout}
}

func (e *Executor) Registry() *Registry {
	return e.registry
}

func (e *Executor) Execute(ctx context.Context, capability, operation string, params map[string]any) StepResult {
	if _, err := e.registry.Lookup(capability, operation); err != nil {
		return Fail("%v", err)
	}
	c, _ := e.registry.Get(capability)

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	done := make(chan StepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[Executor] %s.%s panicked: %v\n%s", capability, operation, r, debug.Stack())
				done <- Fail("%s.%s panicked: %v", capability, operation, r)
			}
		}()
		done <- c.Execute(ctx, operation, params)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Fail("%s.%s timed out after %s", capability, operation, e.Timeout)
		}
		return Fail("%s.%s cancelled: %v", capability, operation, ctx.Err())
	}
}
