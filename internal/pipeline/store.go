package pipeline

import (
	"context"
	"errors"
	"time"

	"healthwatch/pkg/models"
)

// ErrAlertNotFound is returned when an operation targets an unknown externalId.
var ErrAlertNotFound = errors.New("alert not found")

// AlertStore is the persistence gateway behind the engine and the read side.
//
// UpsertAlert is keyed by ExternalID. On update the stored StartTime is kept,
// UpdatedAt is set to the upsert time and resolution fields are cleared.
// created is true only when the record did not exist.
type AlertStore interface {
	UpsertAlert(ctx context.Context, alert models.Alert) (created bool, err error)
	MarkResolved(ctx context.Context, externalID string, resolvedAt time.Time, summary string) error
	ListActiveAlerts(ctx context.Context) ([]models.Alert, error)
	ListResolvedAlerts(ctx context.Context, sinceDays int) ([]models.Alert, error)
	SearchAlerts(ctx context.Context, query models.AlertQuery) ([]models.Alert, error)
	RecordRun(ctx context.Context, run models.RunRecord) error
	LastRun(ctx context.Context) (*models.RunRecord, error)
	Close() error
}
