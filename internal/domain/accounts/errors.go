package accounts

import (
	"errors"
	"fmt"
)

var (
	// ErrFederatedCanceled means the user closed the provider flow before finishing.
	ErrFederatedCanceled = errors.New("federated sign-in canceled")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrProfileNotFound   = errors.New("profile not found")
)

// ProviderError carries the identity provider's message verbatim.
type ProviderError struct {
	Code    int
	Message string
}

func (e *ProviderError) Error() string { return e.Message }

// Error is what the account use-cases return; Error() is the text shown to the user.
type Error struct {
	Op  string // Signup | Login | Google Login ...
	Err error
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrFederatedCanceled) {
		return fmt.Sprintf("%s was canceled. Please try again.", e.Op)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }
