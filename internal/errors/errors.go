package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is the uniform error body returned by every endpoint.
type Error struct {
	Name        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	Hint        string `json:"error_hint,omitempty"`
	StatusCode  int    `json:"status_code"`
	Debug       string `json:"error_debug,omitempty"`
}

// Common error types for the OAuth2 server
var (
	// General errors
	ErrBadRequest = &Error{Name: "invalid_request", Description: "The request is missing a required parameter, includes an invalid parameter value, or is otherwise malformed", StatusCode: http.StatusBadRequest}
	ErrNotFound   = &Error{Name: "not_found", Description: "The requested resource could not be found", StatusCode: http.StatusNotFound}
	ErrConflict   = &Error{Name: "conflict", Description: "The resource is in a state that does not allow this operation", StatusCode: http.StatusConflict}
	ErrGone       = &Error{Name: "gone", Description: "The requested resource has already been handled", StatusCode: http.StatusGone}
	ErrInternal   = &Error{Name: "server_error", Description: "The authorization server encountered an unexpected condition", StatusCode: http.StatusInternalServerError}

	// Authentication errors
	ErrUnauthorized = &Error{Name: "unauthorized", Description: "The request could not be authorized", StatusCode: http.StatusUnauthorized}
	ErrForbidden    = &Error{Name: "forbidden", Description: "The caller is not allowed to perform this operation", StatusCode: http.StatusForbidden}
	ErrInvalidToken = &Error{Name: "invalid_token", Description: "The access token is expired, revoked, malformed, or invalid", StatusCode: http.StatusUnauthorized}

	// Client errors
	ErrInvalidClient      = &Error{Name: "invalid_client", Description: "Client authentication failed", StatusCode: http.StatusUnauthorized}
	ErrUnauthorizedClient = &Error{Name: "unauthorized_client", Description: "The client is not authorized to use this method", StatusCode: http.StatusBadRequest}
	ErrInvalidScope       = &Error{Name: "invalid_scope", Description: "The requested scope is invalid, unknown, or malformed", StatusCode: http.StatusBadRequest}

	// Authorization errors
	ErrInvalidGrant            = &Error{Name: "invalid_grant", Description: "The provided authorization grant or refresh token is invalid, expired, revoked, or was issued to another client", StatusCode: http.StatusBadRequest}
	ErrUnsupportedGrantType    = &Error{Name: "unsupported_grant_type", Description: "The authorization grant type is not supported", StatusCode: http.StatusBadRequest}
	ErrUnsupportedResponseType = &Error{Name: "unsupported_response_type", Description: "The authorization server does not support this response type", StatusCode: http.StatusBadRequest}
	ErrAccessDenied            = &Error{Name: "access_denied", Description: "The resource owner or authorization server denied the request", StatusCode: http.StatusForbidden}
	ErrRequestDenied           = &Error{Name: "request_denied", Description: "The request was denied", StatusCode: http.StatusBadRequest}
	ErrLoginRequired           = &Error{Name: "login_required", Description: "The authorization server requires end-user authentication", StatusCode: http.StatusBadRequest}
	ErrConsentRequired         = &Error{Name: "consent_required", Description: "The authorization server requires end-user consent", StatusCode: http.StatusBadRequest}
)

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Name, e.Description, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Description)
}

// Is matches on the error name so that copies made by WithHint and friends
// still compare equal to their sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Name == e.Name
}

func (e Error) WithHint(hint string) *Error {
	e.Hint = hint
	return &e
}

func (e Error) WithHintf(format string, args ...interface{}) *Error {
	return e.WithHint(fmt.Sprintf(format, args...))
}

func (e Error) WithDescription(description string) *Error {
	e.Description = description
	return &e
}

func (e Error) WithDebug(debug string) *Error {
	e.Debug = debug
	return &e
}

// ToError returns the typed error in err's chain, or a server_error carrying
// err as debug information.
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.WithDebug(err.Error())
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
