package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeNotFound            = "not_found"
	CodeInvalidArgument     = "invalid_argument"
	CodeInvalidState        = "invalid_state"
	CodeConflict            = "conflict"
	CodeProviderUnavailable = "provider_unavailable"
	CodeStorage             = "storage_error"
	CodeInternal            = "internal"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func InvalidArgument(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeInvalidArgument, fmt.Errorf(format, args...))
}

func InvalidState(format string, args ...any) *Error {
	return New(http.StatusConflict, CodeInvalidState, fmt.Errorf(format, args...))
}

func ProviderUnavailable(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeProviderUnavailable, err)
}

// ProviderMisconfigured is a provider failure that only reconfiguration can
// fix, so it is never retried.
func ProviderMisconfigured(err error) *Error {
	return New(http.StatusFailedDependency, CodeProviderUnavailable, err)
}

func Storage(err error) *Error {
	return New(http.StatusBadGateway, CodeStorage, err)
}

// As unwraps err to an *Error.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae != nil {
		return ae, true
	}
	return nil, false
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	ae, ok := As(err)
	return ok && ae.Code == code
}

// Permanent reports whether retrying the failed operation cannot succeed.
// Client errors are permanent; provider and storage failures are not.
func Permanent(err error) bool {
	ae, ok := As(err)
	if !ok {
		return false
	}
	switch ae.Code {
	case CodeNotFound, CodeInvalidArgument, CodeInvalidState, CodeConflict:
		return true
	case CodeProviderUnavailable:
		return ae.Status == http.StatusFailedDependency
	default:
		return false
	}
}
