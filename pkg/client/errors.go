package client

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for requests made after Close.
var ErrClosed = errors.New("client closed")

// HTTPError is returned for non-2xx responses from the search backend.
type HTTPError struct {
	Endpoint string
	Code     int
	Status   string
	Body     string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %s: %s", e.Endpoint, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %s", e.Endpoint, e.Status)
}

// StatusCode returns the HTTP status so callers can classify the failure.
func (e *HTTPError) StatusCode() int {
	return e.Code
}
