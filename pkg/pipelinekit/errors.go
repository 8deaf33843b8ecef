package pipelinekit

import (
	"context"
	"fmt"
	"log/slog"
)

// Kind classifies an Error so callers can branch on failure category
// without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindRateLimitExceeded
	KindTimeout
	KindBackPressure
	KindCircuitOpen
	KindHandlerNotFound
	KindEncryption
	KindNextAlreadyCalled
	KindNextCurrentlyExecuting
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindRateLimitExceeded:
		return "rate_limit_exceeded"
	case KindTimeout:
		return "timeout"
	case KindBackPressure:
		return "back_pressure"
	case KindCircuitOpen:
		return "circuit_open"
	case KindHandlerNotFound:
		return "handler_not_found"
	case KindEncryption:
		return "encryption"
	case KindNextAlreadyCalled:
		return "next_already_called"
	case KindNextCurrentlyExecuting:
		return "next_currently_executing"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the structured error type returned by every pipelinekit
// component. It carries a Kind for programmatic branching, a causal chain
// (Unwrap), and correlation/command identifiers pulled from the command
// context so a caller never has to thread them through manually.
type Error struct {
	kind          Kind
	msg           string
	cause         error
	correlationID string
	commandID     string
	attrs         []slog.Attr
}

// NewError builds a fresh Error of the given Kind. If cc is non-nil its
// CommandMetadata is used to populate the correlation/command identifiers.
func NewError(kind Kind, msg string, cc *CommandContext) *Error {
	e := &Error{kind: kind, msg: msg}
	if cc != nil {
		e.correlationID = cc.metadata.CorrelationID
		e.commandID = cc.metadata.CommandID.String()
	}
	return e
}

// WrapError is NewError plus a causal error, matching the teacher's
// WrapErr/NewErr pairing.
func WrapError(kind Kind, cause error, msg string, cc *CommandContext) *Error {
	e := NewError(kind, msg, cc)
	e.cause = cause
	return e
}

// Tag appends a structured attribute and returns the same *Error for
// fluent chaining.
func (e *Error) Tag(attr slog.Attr) *Error {
	e.attrs = append(e.attrs, attr)
	return e
}

// Tags appends multiple attributes at once.
func (e *Error) Tags(attrs ...slog.Attr) *Error {
	e.attrs = append(e.attrs, attrs...)
	return e
}

// Kind reports the error's category.
func (e *Error) Kind() Kind { return e.kind }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

// Unwrap exposes the causal chain to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }

// CorrelationID returns the correlation identifier captured at creation,
// if any.
func (e *Error) CorrelationID() string { return e.correlationID }

// CommandID returns the command identifier captured at creation, if any.
func (e *Error) CommandID() string { return e.commandID }

// LogAttrs assembles the slog attribute list: kind, correlation/command
// IDs, then any custom tags, in that fixed order.
func (e *Error) LogAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, len(e.attrs)+3)
	attrs = append(attrs, slog.String("error_kind", e.kind.String()))
	if e.correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", e.correlationID))
	}
	if e.commandID != "" {
		attrs = append(attrs, slog.String("command_id", e.commandID))
	}
	attrs = append(attrs, e.attrs...)
	return attrs
}

// Log emits the error at the given level through the logger stashed in ctx
// (see logging.go), falling back to slog.Default.
func (e *Error) Log(ctx context.Context, level slog.Level) {
	logger := loggerFromContext(ctx)
	args := make([]any, 0, len(e.LogAttrs()))
	for _, a := range e.LogAttrs() {
		args = append(args, a)
	}
	logger.Log(ctx, level, e.msg, args...)
}

// Is supports errors.Is by matching Kind and message; two *Error values
// with the same kind and message are considered equivalent regardless of
// their attribute sets or causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.kind == t.kind && e.msg == t.msg
}
