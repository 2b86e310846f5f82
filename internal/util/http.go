package util

import (
	"net/http"
	"time"
)

// DefaultTimeout bounds a single remote request when no timeout is configured.
const DefaultTimeout = 12 * time.Second

// NewHTTPClient returns a client with the given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
