package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"healthwatch/internal/pipeline"
	"healthwatch/internal/store/storetest"
	"healthwatch/pkg/models"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) pipeline.AlertStore { return New(0) })
}

func testAlert(id string, start time.Time) models.Alert {
	return models.Alert{
		ExternalID:       id,
		ServiceName:      models.ServiceAzure,
		Title:            "Azure Storage outage",
		Impact:           "Blobs unavailable in East US",
		Severity:         models.SeverityHigh,
		Status:           models.StatusInvestigating,
		Region:           "East US",
		AffectedServices: []string{"Azure Storage"},
		SourceAPI:        "test",
		StartTime:        start,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	t0 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	created, err := s.UpsertAlert(ctx, testAlert("a1", t0))
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	later := testAlert("a1", t0.Add(time.Hour))
	later.Title = "updated"
	created, err = s.UpsertAlert(ctx, later)
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}

	active, _ := s.ListActiveAlerts(ctx)
	if len(active) != 1 {
		t.Fatalf("expected 1 active alert, got %d", len(active))
	}
	if !active[0].StartTime.Equal(t0) {
		t.Fatalf("start time changed to %v", active[0].StartTime)
	}
	if active[0].Title != "updated" {
		t.Fatalf("title not updated: %q", active[0].Title)
	}
}

func TestResolveAndReopen(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	if _, err := s.UpsertAlert(ctx, testAlert("a1", now.Add(-time.Hour))); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.MarkResolved(ctx, "a1", now, "gone"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.MarkResolved(ctx, "missing", now, "gone"); !errors.Is(err, pipeline.ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}

	resolved, _ := s.ListResolvedAlerts(ctx, 30)
	if len(resolved) != 1 || resolved[0].ResolvedAt == nil || *resolved[0].ResolutionSummary != "gone" {
		t.Fatalf("unexpected resolved list: %+v", resolved)
	}
	if active, _ := s.ListActiveAlerts(ctx); len(active) != 0 {
		t.Fatalf("resolved alert still active")
	}

	created, err := s.UpsertAlert(ctx, testAlert("a1", now))
	if err != nil || created {
		t.Fatalf("reopen: created=%v err=%v", created, err)
	}
	a, _ := s.Get("a1")
	if a.ResolvedAt != nil || a.ResolutionSummary != nil || !a.IsActive() {
		t.Fatalf("reopened alert kept resolution fields: %+v", a)
	}
}

func TestResolvedWindow(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	now := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	for _, id := range []string{"old", "recent", "newest"} {
		if _, err := s.UpsertAlert(ctx, testAlert(id, now.AddDate(0, 0, -60))); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	_ = s.MarkResolved(ctx, "old", now.AddDate(0, 0, -45), "x")
	_ = s.MarkResolved(ctx, "recent", now.AddDate(0, 0, -3), "x")
	_ = s.MarkResolved(ctx, "newest", now.AddDate(0, 0, -1), "x")

	resolved, err := s.ListResolvedAlerts(ctx, 30)
	if err != nil {
		t.Fatalf("list resolved: %v", err)
	}
	if len(resolved) != 2 || resolved[0].ExternalID != "newest" || resolved[1].ExternalID != "recent" {
		t.Fatalf("unexpected resolved order: %+v", resolved)
	}
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	a := testAlert("a", base)
	b := testAlert("b", base.AddDate(0, 0, 5))
	b.Title = "Teams meeting join failures"
	b.Impact = "Users cannot join"
	b.AffectedServices = []string{"Teams"}
	for _, al := range []models.Alert{a, b} {
		if _, err := s.UpsertAlert(ctx, al); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	got, _ := s.SearchAlerts(ctx, models.AlertQuery{Term: "TEAMS"})
	if len(got) != 1 || got[0].ExternalID != "b" {
		t.Fatalf("term search: %+v", got)
	}
	got, _ = s.SearchAlerts(ctx, models.AlertQuery{Term: "storage"})
	if len(got) != 1 || got[0].ExternalID != "a" {
		t.Fatalf("affected service search: %+v", got)
	}

	start := base.AddDate(0, 0, 1)
	got, _ = s.SearchAlerts(ctx, models.AlertQuery{Start: &start})
	if len(got) != 1 || got[0].ExternalID != "b" {
		t.Fatalf("start bound: %+v", got)
	}
	got, _ = s.SearchAlerts(ctx, models.AlertQuery{Limit: 1})
	if len(got) != 1 || got[0].ExternalID != "b" {
		t.Fatalf("limit should keep newest: %+v", got)
	}
}

func TestRunsAreBounded(t *testing.T) {
	ctx := context.Background()
	s := New(2)
	if run, _ := s.LastRun(ctx); run != nil {
		t.Fatalf("expected no run, got %+v", run)
	}
	for _, id := range []string{"r1", "r2", "r3"} {
		if err := s.RecordRun(ctx, models.RunRecord{ID: id, Status: models.RunSuccess}); err != nil {
			t.Fatalf("record run: %v", err)
		}
	}
	last, err := s.LastRun(ctx)
	if err != nil || last == nil || last.ID != "r3" {
		t.Fatalf("last run: %+v err=%v", last, err)
	}
	if runs := s.Runs(); len(runs) != 2 || runs[0].ID != "r2" {
		t.Fatalf("runs not bounded: %+v", runs)
	}
}

func TestReadsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := New(0)
	if _, err := s.UpsertAlert(ctx, testAlert("a1", time.Now())); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	active, _ := s.ListActiveAlerts(ctx)
	active[0].AffectedServices[0] = "mutated"

	again, _ := s.ListActiveAlerts(ctx)
	if again[0].AffectedServices[0] != "Azure Storage" {
		t.Fatalf("store shared slice with caller")
	}
}
