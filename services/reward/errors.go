package reward

import (
	"errors"
	"fmt"
	"time"
)

// Kind separates business-rule failures (terminal, never retried) from
// infrastructure failures (retryable up to the queue's attempt ceiling).
type Kind int

const (
	KindBusiness Kind = iota + 1
	KindInfrastructure
)

const (
	CodeCooldownActive  = "COOLDOWN_ACTIVE"
	CodeROICapReached   = "ROI_CAP_REACHED"
	CodeAccountBlocked  = "ACCOUNT_BLOCKED"
	CodeAccountInactive = "ACCOUNT_INACTIVE"
	CodeAccountNotFound = "ACCOUNT_NOT_FOUND"
	CodeInsufficient    = "INSUFFICIENT_WITHDRAWABLE"
)

// Error is the typed result of a failed engine operation. Business errors
// carry a stable code and a human-readable reason; the transport adapter
// maps them at the boundary.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func businessErr(code, msg string) *Error {
	return &Error{Kind: KindBusiness, Code: code, Message: msg}
}

func infraErr(err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: "INFRASTRUCTURE", Message: "reward processing failed", Err: err}
}

// CooldownActive reports how long until the next eligible click.
func CooldownActive(next time.Time, now time.Time) *Error {
	e := businessErr(CodeCooldownActive, fmt.Sprintf("next mining click available at %s", next.UTC().Format(time.RFC3339)))
	if d := next.Sub(now); d > 0 {
		e.RetryAfter = d
	}
	return e
}

// AsError normalises any failure into a typed *Error, defaulting unknown
// failures to the infrastructure kind.
func AsError(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	return infraErr(err)
}

// IsBusiness reports whether the failure is a terminal business-rule
// violation that must never be retried.
func IsBusiness(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindBusiness
}
