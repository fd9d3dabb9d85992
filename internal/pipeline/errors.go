package pipeline

import "fmt"

// AlertPersistenceError wraps a store failure for a single alert. The cycle
// records it and keeps going.
type AlertPersistenceError struct {
	Op         string
	ExternalID string
	Err        error
}

func (e *AlertPersistenceError) Error() string {
	return fmt.Sprintf("%s alert %s: %v", e.Op, e.ExternalID, e.Err)
}

func (e *AlertPersistenceError) Unwrap() error { return e.Err }

// CycleFatalError means a cycle could not proceed at all, e.g. the active
// snapshot could not be read.
type CycleFatalError struct {
	Stage string
	Err   error
}

func (e *CycleFatalError) Error() string {
	return fmt.Sprintf("cycle aborted at %s: %v", e.Stage, e.Err)
}

func (e *CycleFatalError) Unwrap() error { return e.Err }
