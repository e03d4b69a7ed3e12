package domain

import (
	"context"
	"errors"
	"fmt"
)

// Category sentinels. Wrap these with NewDomainError to add operation
// context; match with errors.Is.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrLimitReached     = fmt.Errorf("limit reached")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrDisabled         = fmt.Errorf("disabled")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Sentinel errors for the orchestration domain.
var (
	ErrProviderNotFound   = fmt.Errorf("llm provider: %w", ErrNotFound)
	ErrAllProvidersFailed = fmt.Errorf("all llm providers failed")
	ErrModelNotFound      = fmt.Errorf("model: %w", ErrNotFound)
	ErrToolNotFound       = fmt.Errorf("tool: %w", ErrNotFound)
	ErrMaxToolRounds      = fmt.Errorf("agent reached max tool rounds")
	ErrNoAgentAvailable   = fmt.Errorf("no agent available")
	ErrAgentNotFound      = fmt.Errorf("agent: %w", ErrNotFound)
	ErrBlueprintNotFound  = fmt.Errorf("blueprint: %w", ErrNotFound)
	ErrSessionNotFound    = fmt.Errorf("session: %w", ErrNotFound)
	ErrKnowledgeStore     = fmt.Errorf("knowledge store failure")
	ErrStreamCancelled    = fmt.Errorf("stream cancelled")
	ErrRateLimit          = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid        = fmt.Errorf("authentication failed")

	// RPC errors surfaced on the wire.
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "gateway.Chat")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorCode is a stable machine-readable error identifier for the wire.
type ErrorCode string

const (
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeInvalidInput    ErrorCode = "INVALID_INPUT"
	CodeTimeout         ErrorCode = "TIMEOUT"
	CodeCancelled       ErrorCode = "CANCELLED"
	CodeRateLimited     ErrorCode = "RATE_LIMITED"
	CodeAuthFailed      ErrorCode = "AUTH_FAILED"
	CodeDisabled        ErrorCode = "DISABLED"
	CodeNoAgent         ErrorCode = "NO_AGENT_AVAILABLE"
	CodeProviderFailure ErrorCode = "PROVIDER_FAILURE"
	CodeMethodNotFound  ErrorCode = "METHOD_NOT_FOUND"
	CodeInvalidPayload  ErrorCode = "INVALID_PAYLOAD"
	CodeInternal        ErrorCode = "INTERNAL"
)

// errorCodeMap is ordered most specific first; first match wins.
var errorCodeMap = []struct {
	err  error
	code ErrorCode
}{
	{ErrRPCMethodNotFound, CodeMethodNotFound},
	{ErrRPCInvalidPayload, CodeInvalidPayload},
	{ErrStreamCancelled, CodeCancelled},
	{ErrNoAgentAvailable, CodeNoAgent},
	{ErrAllProvidersFailed, CodeProviderFailure},
	{ErrRateLimit, CodeRateLimited},
	{ErrAuthInvalid, CodeAuthFailed},
	{ErrDisabled, CodeDisabled},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrNotFound, CodeNotFound},
	{ErrTimeout, CodeTimeout},
}

// ErrorCodeOf maps err to its wire code. Unrecognized errors map to
// CodeInternal.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return CodeProviderFailure
	}
	for _, m := range errorCodeMap {
		if errors.Is(err, m.err) {
			return m.code
		}
	}
	return CodeInternal
}
