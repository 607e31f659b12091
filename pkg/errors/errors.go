package errors

import (
	"errors"
)

type Code string

const (
	CodeDuplicateLogin        Code = "duplicate_login"
	CodeNotFound              Code = "not_found"
	CodeInvalidPermissionName Code = "invalid_permission_name"
	CodeInvalidArgument       Code = "invalid_argument"
)

const (
	CodeUnknown            Code = "unknown"
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeCacheUnavailable   Code = "cache_unavailable"
)

var (
	ErrMissingUserStore = errors.New("authlite: user store is required")
	ErrMissingHasher    = errors.New("authlite: password hasher is required")
)

type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	if e.Message != "" {
		if e.Err != nil {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Message
	}

	if e.Err != nil {
		return e.Err.Error()
	}

	return string(e.Code)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

func Wrap(code Code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost *Error in err's chain, or
// CodeUnknown when there is none.
func CodeOf(err error) Code {
	var typed *Error
	if !errors.As(err, &typed) {
		return CodeUnknown
	}
	return typed.Code
}

func IsCode(err error, code Code) bool {
	var typed *Error
	if !errors.As(err, &typed) {
		return false
	}
	return typed.Code == code
}

// IsInternalCode reports whether err is something the caller should retry or
// surface as a server-side failure rather than a client mistake.
func IsInternalCode(err error) bool {
	return IsCode(err, CodeUnknown) || IsCode(err, CodeStorageUnavailable) || IsCode(err, CodeCacheUnavailable)
}
