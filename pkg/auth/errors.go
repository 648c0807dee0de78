package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// APIError is an error response from the Identity Toolkit API. Message holds
// the upstream error code (EMAIL_EXISTS, INVALID_PASSWORD, ...) which the API
// layer passes through to clients.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("identity toolkit: %s (status %d)", e.Message, e.StatusCode)
}

// Unauthorized reports whether the error means the credential was rejected
// rather than the request failing for operational reasons.
func (e *APIError) Unauthorized() bool {
	switch {
	case e.StatusCode == http.StatusUnauthorized:
		return true
	case e.StatusCode == http.StatusBadRequest:
		// The API signals credential problems as 400 with a well-known code.
		for _, code := range []string{
			"INVALID_PASSWORD", "EMAIL_NOT_FOUND", "INVALID_ID_TOKEN",
			"INVALID_REFRESH_TOKEN", "TOKEN_EXPIRED", "USER_DISABLED",
			"USER_NOT_FOUND", "INVALID_LOGIN_CREDENTIALS", "INVALID_IDP_RESPONSE",
		} {
			if strings.HasPrefix(e.Message, code) {
				return true
			}
		}
	}
	return false
}

func parseAPIError(statusCode int, body []byte) error {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return &APIError{StatusCode: statusCode, Message: payload.Error.Message}
	}
	return &APIError{StatusCode: statusCode, Message: strings.TrimSpace(string(body))}
}
