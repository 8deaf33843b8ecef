// Package authz provides a pass-through authorization middleware: it
// occupies pipelinekit.PriorityAuthorization in the chain so a pipeline's
// ordering is realistic, but the authorization decision itself is left
// to the caller's CheckFunc — actual policy logic is out of scope here.
package authz

import (
	"context"

	"github.com/pipelinekit/pipelinekit"
)

// CheckFunc decides whether cmd is authorized under cc. Returning a
// non-nil error short-circuits the chain before Next is ever called.
type CheckFunc[C any] func(ctx context.Context, cmd C, cc *pipelinekit.CommandContext) error

// Middleware runs Check at PriorityAuthorization and rejects the command
// with a KindAuthorization error if it returns non-nil.
type Middleware[C any, R any] struct {
	Check CheckFunc[C]
}

// New builds an authorization middleware from a CheckFunc. A nil check
// is equivalent to always-allow, useful as a wiring placeholder.
func New[C any, R any](check CheckFunc[C]) Middleware[C, R] {
	return Middleware[C, R]{Check: check}
}

// Execute implements pipelinekit.Middleware.
func (m Middleware[C, R]) Execute(ctx context.Context, cmd C, cc *pipelinekit.CommandContext, next pipelinekit.Next[C, R]) (R, error) {
	if m.Check != nil {
		if err := m.Check(ctx, cmd, cc); err != nil {
			var zero R
			return zero, pipelinekit.WrapError(pipelinekit.KindAuthorization, err, "command not authorized", cc)
		}
	}
	return next(ctx, cmd, cc)
}

// Priority implements pipelinekit.Middleware.
func (m Middleware[C, R]) Priority() pipelinekit.ExecutionPriority {
	return pipelinekit.PriorityAuthorization
}
