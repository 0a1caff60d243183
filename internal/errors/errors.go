// Package errors wraps pkg/errors and adds error codes so callers can tell
// the failure classes of an archive run apart without string matching.
package errors

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Code is an error code which can be used to check against a given error. For
// example, see the Is() method.
type Code string

const (
	ErrUncoded         Code = "Uncoded"
	ErrConfig          Code = "ConfigError"
	ErrFetch           Code = "FetchError"
	ErrMalformedRecord Code = "MalformedRecordError"
	ErrNotFound        Code = "NotFound"
	ErrCommitRead      Code = "CommitReadError"
	ErrConflict        Code = "ConflictError"
	ErrCommitWrite     Code = "CommitWriteError"
)

// New returns a coded error carrying a stack trace.
func New(code Code, message string) error {
	return errors.WithStack(&codedError{
		Code:    code,
		Message: message,
	})
}

// Newf is New with a formatted message.
func Newf(code Code, format string, args ...interface{}) error {
	return New(code, errors.Errorf(format, args...).Error())
}

// WithCode attaches code to err. The original error stays reachable through
// Unwrap, so checks against driver or transport sentinels keep working.
func WithCode(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return errors.WithStack(&codedError{
		Code:    code,
		Message: message,
		cause:   err,
	})
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

func Cause(err error) error {
	return errors.Cause(err)
}

func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Is reports whether any error in err's chain carries the target code.
func Is(err error, target Code) bool {
	return errors.Is(err, &codedError{Code: target})
}

// CodeOf returns the outermost code in err's chain, or ErrUncoded.
func CodeOf(err error) Code {
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ErrUncoded
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}

func WithMessagef(err error, format string, args ...interface{}) error {
	return errors.WithMessagef(err, format, args...)
}

func WithStack(err error) error {
	return errors.WithStack(err)
}

func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

func Wrapf(err error, fmt string, args ...interface{}) error {
	return errors.Wrapf(err, fmt, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors.
type codedError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Wrapped string `json:"wrapped,omitempty"`

	cause error
}

func (ce *codedError) Error() string {
	if ce.Wrapped != "" {
		return ce.Wrapped
	}
	if ce.cause != nil {
		return ce.Message + ": " + ce.cause.Error()
	}
	return ce.Message
}

func (ce *codedError) Unwrap() error { return ce.cause }

func (ce *codedError) Is(err error) bool {
	if e, ok := err.(*codedError); ok && ce.Code == e.Code {
		return true
	}
	return false
}

// MarshalJSON returns err as a json object (as a string) with the code of
// the outermost codedError in its chain. Errors without a code marshal with
// an empty code.
func MarshalJSON(err error) string {
	out := &codedError{Message: Cause(err).Error(), Wrapped: err.Error()}
	var ce *codedError
	if errors.As(err, &ce) {
		out.Code = ce.Code
		out.Message = ce.Message
	}

	j, jerr := json.Marshal(out)
	if jerr != nil {
		return out.Error()
	}
	return string(j)
}
