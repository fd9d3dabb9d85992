// Package storetest holds the behaviour every pipeline.AlertStore backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

// Clocked is implemented by stores whose UpdatedAt clock can be pinned.
type Clocked interface {
	SetClock(now func() time.Time)
}

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) pipeline.AlertStore

// Run exercises the upsert, resolve, list and run-record contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("UpsertIdempotent", func(t *testing.T) { testUpsertIdempotent(t, newStore(t)) })
	t.Run("ResolveAndReopen", func(t *testing.T) { testResolveAndReopen(t, newStore(t)) })
	t.Run("UnknownResolve", func(t *testing.T) { testUnknownResolve(t, newStore(t)) })
	t.Run("Runs", func(t *testing.T) { testRuns(t, newStore(t)) })
}

func alert(id string, start time.Time) models.Alert {
	return models.Alert{
		ExternalID:       id,
		ServiceName:      models.ServiceMicrosoft365,
		Title:            "Exchange Online - Email Delivery Delays",
		Impact:           "Mail is queued",
		Severity:         models.SeverityMedium,
		Status:           models.StatusInvestigating,
		Region:           models.DefaultRegion,
		AffectedServices: []string{"Exchange Online"},
		SourceAPI:        "contract",
		StartTime:        start,
	}
}

func testUpsertIdempotent(t *testing.T, s pipeline.AlertStore) {
	ctx := context.Background()
	start := time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

	created, err := s.UpsertAlert(ctx, alert("c-1", start))
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	created, err = s.UpsertAlert(ctx, alert("c-1", start.Add(time.Hour)))
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}

	active, err := s.ListActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected exactly one record, got %d", len(active))
	}
	if !active[0].StartTime.Equal(start) {
		t.Fatalf("start time not preserved: %v", active[0].StartTime)
	}
}

func testResolveAndReopen(t *testing.T, s pipeline.AlertStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	if c, ok := s.(Clocked); ok {
		c.SetClock(func() time.Time { return now })
	}

	if _, err := s.UpsertAlert(ctx, alert("c-2", now.Add(-time.Hour))); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.MarkResolved(ctx, "c-2", now, pipeline.ResolutionSummary); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	active, err := s.ListActiveAlerts(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("resolved alert still active: %+v", active)
	}
	resolved, err := s.ListResolvedAlerts(ctx, 30)
	if err != nil {
		t.Fatalf("list resolved: %v", err)
	}
	if len(resolved) != 1 || resolved[0].ResolvedAt == nil || resolved[0].Status != models.StatusResolved {
		t.Fatalf("unexpected resolved list: %+v", resolved)
	}

	if _, err := s.UpsertAlert(ctx, alert("c-2", now)); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	active, _ = s.ListActiveAlerts(ctx)
	if len(active) != 1 || active[0].ResolvedAt != nil || active[0].ResolutionSummary != nil {
		t.Fatalf("reopened alert kept resolution fields: %+v", active)
	}
}

func testUnknownResolve(t *testing.T, s pipeline.AlertStore) {
	err := s.MarkResolved(context.Background(), "does-not-exist", time.Now(), "x")
	if !errors.Is(err, pipeline.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}

func testRuns(t *testing.T, s pipeline.AlertStore) {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"run-a", "run-b"} {
		run := models.RunRecord{
			ID:     id,
			RunAt:  base.Add(time.Duration(i) * time.Minute),
			Status: models.RunPartial,
			Errors: []string{"azure: timeout"},
			ServiceTimings: map[models.ServiceName]models.ServiceTiming{
				models.ServiceAzure: {Checked: false, Error: "timeout"},
			},
		}
		if err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}
	last, err := s.LastRun(ctx)
	if err != nil || last == nil {
		t.Fatalf("last run: %+v err=%v", last, err)
	}
	if last.ID != "run-b" || last.Status != models.RunPartial || len(last.Errors) != 1 {
		t.Fatalf("unexpected last run: %+v", last)
	}
	if last.ServiceTimings[models.ServiceAzure].Error != "timeout" {
		t.Fatalf("service timings lost: %+v", last.ServiceTimings)
	}
}
