package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinels matched with errors.Is against any *Error.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected request")
	ErrProviderAuth        = errors.New("provider authentication failed")
)

// Kind classifies a provider failure for retry decisions.
type Kind int

const (
	// Unavailable covers transport failures and timeouts. Retryable with the same idempotency key.
	Unavailable Kind = iota + 1
	// Rejected is a definitive business-rule refusal. Never retried.
	Rejected
	// Auth means credentials are missing or invalid. Fatal.
	Auth
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case Rejected:
		return "rejected"
	case Auth:
		return "auth"
	}
	return "unknown"
}

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrProviderUnavailable:
		return e.Kind == Unavailable
	case ErrProviderRejected:
		return e.Kind == Rejected
	case ErrProviderAuth:
		return e.Kind == Auth
	}
	return false
}

// NewUnavailable wraps a transport failure.
func NewUnavailable(op string, err error) *Error {
	return &Error{Kind: Unavailable, Op: op, Err: err}
}

// NewRejected builds a definitive refusal.
func NewRejected(op, code, message string) *Error {
	return &Error{Kind: Rejected, Op: op, Code: code, Message: message}
}

// NewAuth builds a credential failure.
func NewAuth(op, message string) *Error {
	return &Error{Kind: Auth, Op: op, Message: message}
}

// Classify wraps an unclassified error as Unavailable. Timeouts, cancellation
// and transport failures all land here; classified errors pass through.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return NewUnavailable(op, err)
}

// IsTimeout reports whether err came from a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsRetryable reports whether err may be retried with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// KindOf returns the classification of err, or zero when err is not a provider error.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
