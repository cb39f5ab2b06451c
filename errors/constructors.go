package errors

import (
	stderrors "errors"
	"fmt"
)

// New creates a new PerchError with the given code and message.
func New(code ErrorCode, message string) *PerchError {
	return &PerchError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new PerchError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *PerchError {
	return &PerchError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with a code and message.
func Wrap(err error, code ErrorCode, message string) *PerchError {
	return &PerchError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// GetCode extracts the error code from an error, or ErrCodeInternal if it is
// not a PerchError.
func GetCode(err error) ErrorCode {
	var perchErr *PerchError
	if stderrors.As(err, &perchErr) {
		return perchErr.Code
	}
	return ErrCodeInternal
}

// Is reports whether the error carries the given code.
func Is(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
