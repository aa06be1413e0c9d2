package daytona

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError is returned for every non-2xx reply from the Daytona API.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daytona API returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("daytona API returned HTTP %d: %s", e.StatusCode, e.Message)
}

// newAPIError builds an APIError from a reply body. The API answers with
// {"statusCode":..,"message":..,"error":..}; message may be a string or a
// list of validation messages.
func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}

	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	var msg string
	if err := json.Unmarshal(payload.Message, &msg); err == nil {
		apiErr.Message = msg
	} else {
		var msgs []string
		if err := json.Unmarshal(payload.Message, &msgs); err == nil {
			apiErr.Message = strings.Join(msgs, "; ")
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = payload.Error
	}
	return apiErr
}

// IsNotFound reports whether err is an API 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsTimeout reports whether err means the remote call or the command it ran
// exceeded its time limit.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode == http.StatusGatewayTimeout
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
