package biz

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/looplj/agentpay/internal/chain"
	"github.com/looplj/agentpay/internal/shard"
)

var (
	ErrInvalidJWT     = errors.New("invalid jwt token")
	ErrValidation     = errors.New("validation failed")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrLimitExceeded  = errors.New("limit exceeded")
	ErrPolicyDenied   = errors.New("denied by strategy policy")
	ErrSigningAborted = errors.New("signing aborted")
	ErrInternal       = errors.New("server internal error, please try again later")
)

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Msg
	}

	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

type ConflictReason string

const (
	ConflictDuplicate        ConflictReason = "duplicate"
	ConflictExpired          ConflictReason = "expired"
	ConflictRevoked          ConflictReason = "revoked"
	ConflictConcurrentUpdate ConflictReason = "concurrent_update"
)

type ConflictError struct {
	Reason ConflictReason
	Msg    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict (%s): %s", e.Reason, e.Msg)
}

func (e *ConflictError) Is(target error) bool {
	if target == ErrConflict {
		return true
	}

	t, ok := target.(*ConflictError)

	return ok && t.Reason == e.Reason
}

type LimitKind string

const (
	LimitSingle      LimitKind = "single"
	LimitDaily       LimitKind = "daily"
	LimitStrategyCap LimitKind = "strategy_cap"
	LimitFrequency   LimitKind = "frequency"
)

type LimitExceededError struct {
	Kind      LimitKind
	Limit     decimal.Decimal
	Requested decimal.Decimal
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s limit exceeded: requested %s, limit %s", e.Kind, e.Requested, e.Limit)
}

func (e *LimitExceededError) Is(target error) bool {
	if target == ErrLimitExceeded {
		return true
	}

	t, ok := target.(*LimitExceededError)

	return ok && t.Kind == e.Kind
}

type PolicyDeniedError struct {
	Reason DenyReason
}

func (e *PolicyDeniedError) Error() string {
	return "denied by strategy policy: " + string(e.Reason)
}

func (e *PolicyDeniedError) Is(target error) bool {
	if target == ErrPolicyDenied {
		return true
	}

	t, ok := target.(*PolicyDeniedError)

	return ok && t.Reason == e.Reason
}

// SigningAbortedError is an unexpected failure inside the signing critical section.
// Key material has been wiped by the time it is returned.
type SigningAbortedError struct {
	Cause any
}

func (e *SigningAbortedError) Error() string {
	return fmt.Sprintf("signing aborted: %v", e.Cause)
}

func (e *SigningAbortedError) Is(target error) bool {
	return target == ErrSigningAborted
}

func (e *SigningAbortedError) Unwrap() error {
	err, _ := e.Cause.(error)
	return err
}

// ErrorCode is the stable machine-readable code recorded with failed executions and
// returned by the API.
func ErrorCode(err error) string {
	var (
		limitErr    *LimitExceededError
		policyErr   *PolicyDeniedError
		conflictErr *ConflictError
		cryptoErr   *shard.CryptoError
		chainErr    *chain.Error
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &limitErr):
		return "limit_exceeded." + string(limitErr.Kind)
	case errors.As(err, &policyErr):
		return "policy_denied." + string(policyErr.Reason)
	case errors.As(err, &conflictErr):
		return "conflict." + string(conflictErr.Reason)
	case errors.As(err, &cryptoErr):
		return "crypto." + string(cryptoErr.Kind)
	case errors.As(err, &chainErr):
		return "chain." + string(chainErr.Kind)
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrSigningAborted):
		return "signing_aborted"
	default:
		return "internal"
	}
}
