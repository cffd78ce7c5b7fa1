package chain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies adapter failures so that retry policy is driven by
// type rather than by matching message strings.
type ErrorKind int

const (
	// KindTransient covers timeouts, connection failures and upstream 5xx.
	KindTransient ErrorKind = iota
	// KindRateLimited is an upstream 429; retried with a scaled delay.
	KindRateLimited
	// KindNotSupported is a permanent capability gap (e.g. view-key-only
	// chains cannot classify incoming payments). Never retried.
	KindNotSupported
	// KindInvalidInput covers malformed addresses, unknown chains and other
	// caller mistakes. Never retried.
	KindInvalidInput
	// KindNotFound means the entity does not exist upstream. Never retried.
	KindNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindNotSupported:
		return "not_supported"
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	}
	return "unknown"
}

// Error is the typed error returned by adapters.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errf builds a typed error with a formatted cause.
func Errf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error.
func Wrap(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the error kind; unclassified errors count as transient so
// unknown network failures still get the bounded retry treatment.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// IsRetryable reports whether the retry policy should attempt the call again.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// IsNotSupported reports a permanent capability gap.
func IsNotSupported(err error) bool { return err != nil && KindOf(err) == KindNotSupported }

// IsNotFound reports an upstream miss.
func IsNotFound(err error) bool { return err != nil && KindOf(err) == KindNotFound }
