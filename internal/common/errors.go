package common

import "errors"

// AppError carries the API error code and HTTP status alongside the cause.
// Handlers map it straight onto the JSON error envelope; Details, when set,
// is rendered verbatim (the payment form uses it for per-field results).
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError builds an AppError; err may be nil when there is no cause to keep.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// IsAppError reports whether err has an AppError in its chain.
func IsAppError(err error) bool {
	var target *AppError
	return errors.As(err, &target)
}
