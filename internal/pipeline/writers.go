package pipeline

import (
	"errors"

	"healthwatch/pkg/models"
)

// ChangeWriter publishes the alerts a cycle opened or resolved. Reopened
// alerts were resolved before and came back this cycle.
type ChangeWriter interface {
	WriteChanges(created, reopened, resolved []models.Alert) error
	Close() error
}

// RunWriter appends completed run records to an audit trail.
type RunWriter interface {
	WriteRun(run models.RunRecord) error
	Close() error
}

// MultiChangeWriter fans changes out to several writers. Every writer is
// attempted; the errors are joined.
type MultiChangeWriter []ChangeWriter

// WriteChanges implements ChangeWriter.
func (m MultiChangeWriter) WriteChanges(created, reopened, resolved []models.Alert) error {
	var errs []error
	for _, w := range m {
		if err := w.WriteChanges(created, reopened, resolved); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements ChangeWriter.
func (m MultiChangeWriter) Close() error {
	var errs []error
	for _, w := range m {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
