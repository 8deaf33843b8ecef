// Package sanitize provides a pass-through sanitization middleware: it
// occupies pipelinekit.PrioritySanitization in the chain so a pipeline's
// ordering is realistic, but the sanitization transform itself is left
// to the caller's TransformFunc — actual scrubbing logic is out of scope
// here.
package sanitize

import (
	"context"

	"github.com/pipelinekit/pipelinekit"
)

// TransformFunc returns a sanitized copy of cmd (or cmd unchanged, if no
// transform is needed).
type TransformFunc[C any] func(ctx context.Context, cmd C, cc *pipelinekit.CommandContext) (C, error)

// Middleware runs Transform at PrioritySanitization before passing the
// (possibly rewritten) command to the rest of the chain.
type Middleware[C any, R any] struct {
	Transform TransformFunc[C]
}

// New builds a sanitization middleware from a TransformFunc. A nil
// transform is equivalent to identity, useful as a wiring placeholder.
func New[C any, R any](transform TransformFunc[C]) Middleware[C, R] {
	return Middleware[C, R]{Transform: transform}
}

// Execute implements pipelinekit.Middleware.
func (m Middleware[C, R]) Execute(ctx context.Context, cmd C, cc *pipelinekit.CommandContext, next pipelinekit.Next[C, R]) (R, error) {
	if m.Transform != nil {
		sanitized, err := m.Transform(ctx, cmd, cc)
		if err != nil {
			var zero R
			return zero, pipelinekit.WrapError(pipelinekit.KindValidation, err, "sanitization failed", cc)
		}
		cmd = sanitized
	}
	return next(ctx, cmd, cc)
}

// Priority implements pipelinekit.Middleware.
func (m Middleware[C, R]) Priority() pipelinekit.ExecutionPriority {
	return pipelinekit.PrioritySanitization
}
