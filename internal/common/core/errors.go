package core

import (
	"errors"
	"fmt"
)

// ClientError is a type for formatted error messages. It is a string that
// can be formatted with arguments, which avoids repeating the message at
// each call site.
type ClientError string

const (
	ErrFailedToMarshalPayload   ClientError = "failed to marshal payload %s"
	ErrFailedToUnmarshalPayload ClientError = "failed to unmarshal payload %s"
	ErrFailedToDecodeField      ClientError = "failed to decode envelope field %s: %v"

	ErrFailedToMakeRequest ClientError = "failed to make request %s"
	ErrFailedToDoRequest   ClientError = "failed to do request %s"
	ErrFailedToReadBody    ClientError = "failed to read response body %s"

	ErrFailedToLoadJob  ClientError = "failed to load job %q: %w"
	ErrFailedToSaveJob  ClientError = "failed to save job %q: %w"
	ErrFailedToClaimJob ClientError = "failed to claim due job: %w"
	ErrFailedToAddRun   ClientError = "failed to append run for job %q: %w"

	ErrInvalidField ClientError = "invalid %s: %s"
)

// WithArgs returns a new error with the given arguments.
func (e ClientError) WithArgs(args ...any) error {
	return fmt.Errorf(string(e), args...)
}

var (
	ErrEnvelopeVersionUnsupported = errors.New("envelope version unsupported")
	ErrSignatureMismatch          = errors.New("envelope signature mismatch")
	ErrNoValidDecryptionKey       = errors.New("no valid decryption key")
	ErrUnsupportedAlgorithm       = errors.New("unsupported envelope algorithm")

	ErrDispatchTimeout          = errors.New("dispatch timed out")
	ErrDispatchNonSuccessStatus = errors.New("dispatch returned non-success status")
	ErrDispatchTransport        = errors.New("dispatch transport error")

	// ErrClaimConflict is benign: another poller claimed the job first.
	ErrClaimConflict = errors.New("job already claimed")
	ErrJobNotFound   = errors.New("job not found")
	// ErrJobRearmed means the job was re-armed while a claim was in flight,
	// so the claimer's post-run schedule is stale.
	ErrJobRearmed = errors.New("job re-armed while in flight")
	ErrInvalidJob    = errors.New("invalid job")
)

// InvalidJob returns an ErrInvalidJob carrying the offending field.
func InvalidJob(field, reason string) error {
	return fmt.Errorf("%w: %w", ErrInvalidJob, ErrInvalidField.WithArgs(field, reason))
}

// DispatchError describes a failed dispatch. StatusCode is the HTTP status
// when one was received, otherwise a synthetic Status* code.
type DispatchError struct {
	Kind       error
	StatusCode int
	Detail     string
}

func (e *DispatchError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (status %d)", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Detail)
}

func (e *DispatchError) Unwrap() error {
	return e.Kind
}

// ErrorKind names the class of err for structured error replies.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidJob):
		return "invalid_job"
	case errors.Is(err, ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, ErrNoValidDecryptionKey),
		errors.Is(err, ErrEnvelopeVersionUnsupported),
		errors.Is(err, ErrUnsupportedAlgorithm):
		return "envelope"
	default:
		return "internal"
	}
}
