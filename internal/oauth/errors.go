package oauth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// RFC 6749 error codes surfaced verbatim to callers.
const (
	CodeInvalidRequest          = "invalid_request"
	CodeInvalidClient           = "invalid_client"
	CodeInvalidGrant            = "invalid_grant"
	CodeUnauthorizedClient      = "unauthorized_client"
	CodeUnsupportedResponseType = "unsupported_response_type"
	CodeUnsupportedGrantType    = "unsupported_grant_type"
	CodeInvalidScope            = "invalid_scope"
	CodeAccessDenied            = "access_denied"
	CodeServerError             = "server_error"
)

// Error is a protocol-level OAuth error. Its code and description are safe to
// return to the caller; internal detail stays in logs.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// HTTPStatus maps the error code to a response status for JSON responses.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidClient:
		return http.StatusUnauthorized
	case CodeServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func InvalidRequest(description string) *Error {
	return &Error{Code: CodeInvalidRequest, Description: description}
}

func InvalidClient(description string) *Error {
	return &Error{Code: CodeInvalidClient, Description: description}
}

func InvalidGrant() *Error {
	return &Error{Code: CodeInvalidGrant, Description: "grant is invalid, expired, or already used"}
}

func UnauthorizedClient(description string) *Error {
	return &Error{Code: CodeUnauthorizedClient, Description: description}
}

func UnsupportedResponseType(responseType string) *Error {
	return &Error{Code: CodeUnsupportedResponseType, Description: fmt.Sprintf("response_type %q is not supported", responseType)}
}

func UnsupportedGrantType(grantType string) *Error {
	return &Error{Code: CodeUnsupportedGrantType, Description: fmt.Sprintf("grant_type %q is not supported", grantType)}
}

func InvalidScope(description string) *Error {
	return &Error{Code: CodeInvalidScope, Description: description}
}

func AccessDenied() *Error {
	return &Error{Code: CodeAccessDenied, Description: "the resource owner denied the request"}
}

func ServerError() *Error {
	return &Error{Code: CodeServerError, Description: "the authorization server encountered an unexpected condition"}
}

// RedirectError wraps a protocol error that must be delivered via the
// already-validated redirect URI instead of a direct response.
type RedirectError struct {
	RedirectURI string
	State       string
	Err         *Error
}

func (e *RedirectError) Error() string { return e.Err.Error() }

func (e *RedirectError) Unwrap() error { return e.Err }

// Location builds the callback URL carrying error, error_description and state.
func (e *RedirectError) Location() string {
	return appendQuery(e.RedirectURI, func(q url.Values) {
		q.Set("error", e.Err.Code)
		if e.Err.Description != "" {
			q.Set("error_description", e.Err.Description)
		}
		if e.State != "" {
			q.Set("state", e.State)
		}
	})
}

// SuccessRedirect builds the callback URL carrying the authorization code and
// echoed state.
func SuccessRedirect(redirectURI, code, state string) string {
	return appendQuery(redirectURI, func(q url.Values) {
		q.Set("code", code)
		if state != "" {
			q.Set("state", state)
		}
	})
}

func appendQuery(redirectURI string, set func(url.Values)) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// Registered URIs are validated at write time; this is unreachable
		// for stored clients.
		return redirectURI
	}
	q := u.Query()
	set(q)
	u.RawQuery = q.Encode()
	return u.String()
}

// AsError extracts a protocol error from an error chain.
func AsError(err error) (*Error, bool) {
	var oe *Error
	if errors.As(err, &oe) {
		return oe, true
	}
	return nil, false
}

// AsRedirectError extracts a redirect-carried protocol error from a chain.
func AsRedirectError(err error) (*RedirectError, bool) {
	var re *RedirectError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
