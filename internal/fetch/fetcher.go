// Package fetch presents one navigation contract over three
// interchangeable backends: the pooled headless browser, a direct HTTP
// client with proxy rotation, and a hosted rendering fallback.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result is the backend-independent outcome of fetching one URL.
type Result struct {
	URL     string
	HTML    string
	Status  int
	Engine  string
	Elapsed time.Duration
}

// Fetcher is implemented by every fetch backend.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Result, error)
}

// ErrCircuitOpen marks a fetch short-circuited by an open breaker.
var ErrCircuitOpen = errors.New("fetch: circuit open")

// ErrRobotsDisallowed marks a URL excluded by the target's robots.txt.
var ErrRobotsDisallowed = errors.New("fetch: disallowed by robots.txt")

// NetworkError is a fetch-channel level failure: connection errors,
// non-2xx statuses, exhausted retries, or an open circuit breaker.
type NetworkError struct {
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("network error fetching %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// NavigationError is a browser-backend failure to drive a page to a
// URL. Timeout distinguishes deadline expiry from hard failures.
type NavigationError struct {
	URL     string
	Timeout bool
}

func (e *NavigationError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("navigation timed out: %s", e.URL)
	}
	return fmt.Sprintf("navigation failed: %s", e.URL)
}
