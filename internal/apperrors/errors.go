package apperrors

import (
	"errors"
	"fmt"
)

// AppError is a user-facing failure with a stable code and reason.
type AppError struct {
	Code    Code   `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Constructors
func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func WithReason(code Code, reason, message string) error {
	return &AppError{Code: code, Reason: reason, Message: message}
}

func InvalidArg(reason, msg string) error {
	return WithReason(CodeInvalidArgument, reason, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(reason, msg string) error {
	return WithReason(CodePermissionDenied, reason, msg)
}

func FailedPrecondition(reason, msg string) error {
	return WithReason(CodeFailedPrecondition, reason, msg)
}

func RateLimited(reason, msg string) error {
	return WithReason(CodeRateLimited, reason, msg)
}

func Internal(msg string, cause error) error {
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// ReasonOf returns the reason of the first AppError in err's chain.
func ReasonOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}
