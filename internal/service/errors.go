package service

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrForbidden is returned when a non-admin identity calls a privileged
// operation.
var (
	ErrForbidden = errors.New("admin privileges required")
	// ErrInvalidAmount is returned for non-positive coin amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidCount is returned for coupon batch sizes outside [1, 100].
	ErrInvalidCount = errors.New("count must be between 1 and 100")
	// ErrMissingField is returned when a required input field is absent.
	ErrMissingField = errors.New("required field is missing")
	// ErrInvalidRepoURL is returned for a malformed destination repository URL.
	ErrInvalidRepoURL = errors.New("invalid destination repository URL")
	// ErrOwnershipMismatch is returned when the destination repository does
	// not belong to the requesting account.
	ErrOwnershipMismatch = errors.New("destination repository must belong to the requesting account")
)

// InsufficientCoinsError reports a balance too low for the requested
// operation, carrying the exact numbers the client needs to explain the
// shortfall.
type InsufficientCoinsError struct {
	Required int64
	Current  int64
}

func (e *InsufficientCoinsError) Error() string {
	return fmt.Sprintf("not enough coins: need %d, have %d", e.Required, e.Current)
}

// UpstreamError reports a failed submission to the rewrite worker,
// preserving the worker's error payload when one was returned.
type UpstreamError struct {
	StatusCode int
	Payload    json.RawMessage
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("transfer submission failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
