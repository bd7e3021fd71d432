// Package agderrors defines the error taxonomy shared by every component of
// the measurement engine, so that per-domain failures can be recorded in a
// [agd.ProbeRecord] instead of only being logged.
package agderrors

import (
	"encoding/json"
	"fmt"
)

// Kind is the stringly-serializable category of an engine error.
type Kind string

// Kind values.  These are the only error kinds a probe attempt may
// terminate with; RateLimited never escapes the scheduler and is therefore
// not part of this set.
const (
	KindConfig      Kind = "config"
	KindIO          Kind = "io"
	KindResolution  Kind = "resolution"
	KindTransport   Kind = "transport"
	KindApplication Kind = "application"
	KindCancelled   Kind = "cancelled"
)

// AppError is an error annotated with a [Kind] for inclusion in a
// ProbeRecord.  The zero value is not valid.
type AppError struct {
	// Err is the underlying error.  It must not be nil.
	Err error

	// Kind is the category of the error.  It must not be empty.
	Kind Kind

	// Code is an optional transport error code, set only for
	// [KindTransport] errors raised by the QUIC layer.
	Code uint64
}

// type check
var _ error = (*AppError)(nil)

// Error implements the error interface for *AppError.
func (e *AppError) Error() string {
	if e.Kind == KindTransport {
		return fmt.Sprintf("%s error (code %#x): %s", e.Kind, e.Code, e.Err)
	}

	return fmt.Sprintf("%s error: %s", e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing [errors.Is] and
// [errors.As] to see through an *AppError.
func (e *AppError) Unwrap() (err error) { return e.Err }

// MarshalJSON implements the [json.Marshaler] interface for *AppError.  It
// is used so that ProbeRecord can embed the error kind and message
// directly, without the Recorder ever needing to inspect the value.
func (e *AppError) MarshalJSON() ([]byte, error) {
	type jsonError struct {
		Kind    Kind   `json:"kind"`
		Message string `json:"message"`
		Code    uint64 `json:"code,omitempty"`
	}

	return json.Marshal(jsonError{
		Kind:    e.Kind,
		Message: e.Err.Error(),
		Code:    e.Code,
	})
}

// Configf returns a new config-kind *AppError built from a format string.
func Configf(format string, args ...any) *AppError {
	return &AppError{Kind: KindConfig, Err: fmt.Errorf(format, args...)}
}

// IOf returns a new io-kind *AppError built from a format string.
func IOf(format string, args ...any) *AppError {
	return &AppError{Kind: KindIO, Err: fmt.Errorf(format, args...)}
}

// Resolutionf returns a new resolution-kind *AppError built from a format
// string.
func Resolutionf(format string, args ...any) *AppError {
	return &AppError{Kind: KindResolution, Err: fmt.Errorf(format, args...)}
}

// Transport returns a new transport-kind *AppError with the given error
// code.
func Transport(code uint64, err error) *AppError {
	return &AppError{Kind: KindTransport, Err: err, Code: code}
}

// Applicationf returns a new application-kind *AppError built from a format
// string.
func Applicationf(format string, args ...any) *AppError {
	return &AppError{Kind: KindApplication, Err: fmt.Errorf(format, args...)}
}

// Cancelled is the sentinel application error used when an attempt is
// abandoned due to cancellation.
var Cancelled = &AppError{Kind: KindCancelled, Err: fmt.Errorf("attempt cancelled")}
