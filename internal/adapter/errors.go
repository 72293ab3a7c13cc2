package adapter

import "fmt"

// ValidationError reports a raw record that did not map to a valid canonical
// entity. Callers skip and count it; it never aborts a batch.
type ValidationError struct {
	Entity string
	ID     string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %v", e.Entity, e.ID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
