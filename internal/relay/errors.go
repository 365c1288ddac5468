package relay

import (
	"errors"
	"fmt"
)

var ErrInvalidBaseURL = errors.New("relay: invalid base url")

// HTTPError is a non-2xx relay response.
type HTTPError struct {
	Op     string
	Status int
	Detail string
}

func (e *HTTPError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("%s failed (%d)", e.Op, e.Status)
}

func (e *HTTPError) StatusCode() int { return e.Status }

// StatusOf returns the relay status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}
