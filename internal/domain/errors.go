package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput         = errors.New("topup: invalid input")
	ErrInsufficientBalance  = errors.New("topup: insufficient balance")
	ErrProviderUnavailable  = errors.New("topup: provider unavailable")
	ErrSignatureInvalid     = errors.New("topup: webhook signature invalid")
	ErrDuplicateWebhook     = errors.New("topup: request already terminal")
	ErrUnknownRequestNumber = errors.New("topup: unknown request number")

	ErrIdempotencyConflict = errors.New("topup: request with this idempotency key in progress")
	ErrIdempotencyMismatch = errors.New("topup: idempotency key reused with a different payload")

	ErrAccountNotFound    = errors.New("account: not found")
	ErrAccountInactive    = errors.New("account: inactive")
	ErrUsernameTaken      = errors.New("account: username already taken")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUnauthenticated    = errors.New("auth: unauthenticated")
	ErrForbidden          = errors.New("auth: forbidden")
)

// ValidationError names the offending field. It matches ErrInvalidInput under errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("topup: validation failed for %s: %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid is shorthand for a ValidationError.
func Invalid(field, message string) error {
	return ValidationError{Field: field, Message: message}
}
