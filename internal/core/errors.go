package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies how a failure should be handled by the
// verification loop and reported to clients.
type ErrorKind string

// Error kinds. Transient errors are retried inside the transport-retry
// budget; permanent errors short-circuit the task; threshold_not_met is a
// legitimate terminal outcome, not a bug.
const (
	KindTransient       ErrorKind = "transient"
	KindPermanent       ErrorKind = "permanent"
	KindThresholdNotMet ErrorKind = "threshold_not_met"
	KindCanceled        ErrorKind = "canceled"
)

// ProviderError wraps a synthesis or transcription provider failure with
// its retry classification.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

// Unwrap exposes the underlying provider failure.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError wraps err with the given classification.
func NewProviderError(kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Kind: kind, Err: err}
}

// KindOf extracts the classification from err. Errors that are not
// ProviderError values default to transient so an unclassified network
// failure never burns the whole attempt budget at once.
func KindOf(err error) ErrorKind {
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Kind
	}

	return KindTransient
}

// IsPermanent reports whether err is classified as a permanent provider
// failure that retrying cannot help.
func IsPermanent(err error) bool {
	return KindOf(err) == KindPermanent
}
