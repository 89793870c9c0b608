package feed

import (
	"errors"
	"fmt"
)

// ErrDecode is returned when a response body cannot be decoded.
var ErrDecode = errors.New("decode response")

// StatusError reports a non-2xx response from the backend.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.Code)
}
