package sentinel

import "fmt"

// APIError is returned when the sentinel API responds with a non-success status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sentinel: HTTP %d: %s", e.StatusCode, e.Message)
}
