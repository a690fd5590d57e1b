// Package integrations holds the outbound Notifier and IssueCreator
// implementations used by action nodes.
package integrations

import (
	"fmt"
	"net/http"
)

// StatusError is an unsuccessful response from an external service
type StatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.Service, e.StatusCode)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.Service, e.StatusCode, e.Body)
}

// Permanent reports whether the request is rejected for good. Rate limits,
// timeouts and server errors may succeed on retry.
func (e *StatusError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}
