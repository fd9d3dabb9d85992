// Package sources fetches upstream status data and normalizes it into
// canonical alerts. Each adapter owns its own payload shape and parser.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"healthwatch/pkg/models"
)

// Source fetches the currently active alerts of one service family.
//
// A nil error with no alerts means the upstream was checked and reported
// nothing. An error means the upstream could not be checked at all, and is
// always a *SourceUnavailableError.
type Source interface {
	Service() models.ServiceName
	Name() string
	Fetch(ctx context.Context) ([]models.Alert, error)
}

// ErrSourceUnavailable matches every SourceUnavailableError via errors.Is.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceUnavailableError reports that an upstream could not be reached or parsed.
type SourceUnavailableError struct {
	Service models.ServiceName
	Source  string
	Err     error
}

// Error implements the error interface.
func (e *SourceUnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s): source unavailable", e.Source, e.Service)
	}
	return fmt.Sprintf("%s (%s): source unavailable: %v", e.Source, e.Service, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSourceUnavailable) hold.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// Unavailable wraps err as a SourceUnavailableError for src.
func Unavailable(src Source, err error) error {
	return &SourceUnavailableError{Service: src.Service(), Source: src.Name(), Err: err}
}

func rawJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}
