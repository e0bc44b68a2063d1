package loom

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request or message failed validation.
	ErrValidation = errors.New("validation error")

	// ErrStreamNotReady indicates Reply() was called before Next().
	ErrStreamNotReady = errors.New("stream not ready: call Next() first")

	// ErrStreamClosed indicates an operation on a closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrToolNotFound indicates the requested tool does not exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrSessionNotFound indicates the session does not exist in the store.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates the message does not exist in the store.
	ErrMessageNotFound = errors.New("message not found")
)

// ErrorKind classifies a turn failure for persistence and caller dispatch.
type ErrorKind string

const (
	ErrorKindAuth             ErrorKind = "auth"
	ErrorKindCredits          ErrorKind = "credits"
	ErrorKindMonthlyLimit     ErrorKind = "monthly_limit"
	ErrorKindUserLimit        ErrorKind = "user_limit"
	ErrorKindModel            ErrorKind = "model"
	ErrorKindFreeUsage        ErrorKind = "free_usage_limit"
	ErrorKindSubscriptionUse  ErrorKind = "subscription_usage_limit"
	ErrorKindStructuredOutput ErrorKind = "structured_output"
	ErrorKindCancelled        ErrorKind = "cancelled"
	ErrorKindUnknown          ErrorKind = "unknown"
)

// MessageError is the persisted projection of a turn failure, attached to
// the assistant message so callers can inspect what happened. A failed turn
// is never silent.
type MessageError struct {
	Kind       ErrorKind
	Message    string
	RetryAfter int // seconds; usage-limit kinds only
	Retries    int // structured-output kind only
}

func (e *MessageError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AuthError indicates the caller is not authorized for the turn.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string { return "auth: " + e.Message }

// CreditsError indicates the account has no remaining credits.
type CreditsError struct {
	Message string
}

func (e *CreditsError) Error() string { return "credits: " + e.Message }

// MonthlyLimitError indicates the account's monthly spend cap was reached.
type MonthlyLimitError struct {
	Message string
}

func (e *MonthlyLimitError) Error() string { return "monthly limit: " + e.Message }

// UserLimitError indicates a per-user limit was reached.
type UserLimitError struct {
	Message string
}

func (e *UserLimitError) Error() string { return "user limit: " + e.Message }

// ModelError indicates the provider rejected the model or the model failed.
type ModelError struct {
	ProviderID string
	ModelID    string
	Message    string
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("model %s/%s: %s", e.ProviderID, e.ModelID, e.Message)
}

// FreeUsageLimitError indicates the free-tier usage window is exhausted.
// RetryAfter is seconds until the limiting window rolls over.
type FreeUsageLimitError struct {
	RetryAfter int
}

func (e *FreeUsageLimitError) Error() string {
	return fmt.Sprintf("free usage limit reached, retry after %ds", e.RetryAfter)
}

// SubscriptionUsageLimitError indicates the subscription usage window is
// exhausted. RetryAfter is seconds until the limiting window rolls over.
type SubscriptionUsageLimitError struct {
	RetryAfter int
}

func (e *SubscriptionUsageLimitError) Error() string {
	return fmt.Sprintf("subscription usage limit reached, retry after %ds", e.RetryAfter)
}

// StructuredOutputError indicates the model exhausted its retry budget
// without satisfying the structured-output contract.
type StructuredOutputError struct {
	Message string
	Retries int
}

func (e *StructuredOutputError) Error() string {
	return fmt.Sprintf("structured output failed after %d retries: %s", e.Retries, e.Message)
}

// CancellationError indicates the turn was aborted by the caller or by a
// provider timeout. Cancellation always fails the turn, never a silent done.
type CancellationError struct{}

func (e *CancellationError) Error() string { return "turn cancelled" }

// Classify projects an error onto the persisted MessageError shape.
// Context cancellation and deadline expiry both classify as cancelled: a
// timed-out provider call is treated identically to an explicit abort.
func Classify(err error) *MessageError {
	var (
		auth    *AuthError
		credits *CreditsError
		monthly *MonthlyLimitError
		user    *UserLimitError
		model   *ModelError
		free    *FreeUsageLimitError
		sub     *SubscriptionUsageLimitError
		so      *StructuredOutputError
		cancel  *CancellationError
		msgErr  *MessageError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &msgErr):
		return msgErr
	case errors.As(err, &auth):
		return &MessageError{Kind: ErrorKindAuth, Message: auth.Message}
	case errors.As(err, &credits):
		return &MessageError{Kind: ErrorKindCredits, Message: credits.Message}
	case errors.As(err, &monthly):
		return &MessageError{Kind: ErrorKindMonthlyLimit, Message: monthly.Message}
	case errors.As(err, &user):
		return &MessageError{Kind: ErrorKindUserLimit, Message: user.Message}
	case errors.As(err, &model):
		return &MessageError{Kind: ErrorKindModel, Message: model.Error()}
	case errors.As(err, &free):
		return &MessageError{Kind: ErrorKindFreeUsage, Message: free.Error(), RetryAfter: free.RetryAfter}
	case errors.As(err, &sub):
		return &MessageError{Kind: ErrorKindSubscriptionUse, Message: sub.Error(), RetryAfter: sub.RetryAfter}
	case errors.As(err, &so):
		return &MessageError{Kind: ErrorKindStructuredOutput, Message: so.Message, Retries: so.Retries}
	case errors.As(err, &cancel),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return &MessageError{Kind: ErrorKindCancelled, Message: "turn cancelled"}
	default:
		return &MessageError{Kind: ErrorKindUnknown, Message: err.Error()}
	}
}
