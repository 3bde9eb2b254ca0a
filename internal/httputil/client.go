package httputil

import (
	"net/http"
	"strconv"
	"time"
)

const DefaultTimeout = 20 * time.Second

// NewClient returns an HTTP client bounded by timeout. A non-positive timeout
// falls back to DefaultTimeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
	}
}

// TimeoutFromSeconds parses a whole-second timeout as stored in the station
// config (System.Timeout). Unparseable values yield DefaultTimeout.
func TimeoutFromSeconds(s string) time.Duration {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return DefaultTimeout
	}
	return time.Duration(n) * time.Second
}
