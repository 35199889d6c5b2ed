package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrClosed = errors.New("dispatcher closed")

// TransportError means the server could not be reached. Requests failing with it are not
// retried by the dispatcher.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport error: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ThrottleError is returned once a request kept receiving 429 after its retries.
type ThrottleError struct {
	Message    string
	RetryAfter time.Duration
	Global     bool
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limited (retry after %s, global=%t): %s", e.RetryAfter, e.Global, e.Message)
}

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("http %d", e.Status)
	}

	return fmt.Sprintf("http %d: %s (code %d)", e.Status, e.Message, e.Code)
}

type errorBody struct {
	Code       int     `json:"code"`
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var decoded errorBody
	if err := json.Unmarshal(body, &decoded); err == nil {
		apiErr.Code = decoded.Code
		apiErr.Message = decoded.Message
	}

	return apiErr
}
