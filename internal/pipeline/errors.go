package pipeline

import "fmt"

// ValidationError reports a run option the pipeline refuses to start with.
// These are the only fatal errors raised before any I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
