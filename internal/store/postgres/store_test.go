package postgres

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"gorm.io/gorm"

	"healthwatch/internal/pipeline"
	"healthwatch/internal/store/storetest"
	"healthwatch/pkg/models"
)

// TestContract runs against a live database when HEALTHWATCH_POSTGRES_DSN is set.
func TestContract(t *testing.T) {
	dsn := os.Getenv("HEALTHWATCH_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("HEALTHWATCH_POSTGRES_DSN not set")
	}
	storetest.Run(t, func(t *testing.T) pipeline.AlertStore {
		s, err := Open(Config{DSN: dsn, AutoMigrate: true})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&AlertRow{}).Error; err != nil {
			t.Fatalf("truncate alerts: %v", err)
		}
		if err := s.db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&RunRow{}).Error; err != nil {
			t.Fatalf("truncate runs: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestAlertRowRoundTrip(t *testing.T) {
	resolved := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	summary := pipeline.ResolutionSummary
	in := models.Alert{
		ExternalID:        "github-42",
		ServiceName:       models.ServiceGitHub,
		Title:             "GitHub: Pages down",
		Impact:            "Pages builds fail",
		Severity:          models.SeverityHigh,
		Status:            models.StatusResolved,
		Region:            models.DefaultRegion,
		AffectedServices:  []string{"Pages"},
		SourceAPI:         "GitHub Status API",
		StartTime:         resolved.Add(-time.Hour),
		UpdatedAt:         resolved,
		ResolvedAt:        &resolved,
		ResolutionSummary: &summary,
		RawPayload:        json.RawMessage(`{"id":"42"}`),
	}

	out := fromAlertRow(toAlertRow(in))
	if out.ExternalID != in.ExternalID || out.ServiceName != in.ServiceName || out.Severity != in.Severity {
		t.Fatalf("identity fields lost: %+v", out)
	}
	if out.ResolvedAt == nil || !out.ResolvedAt.Equal(resolved) || *out.ResolutionSummary != summary {
		t.Fatalf("resolution fields lost: %+v", out)
	}
	if len(out.AffectedServices) != 1 || out.AffectedServices[0] != "Pages" {
		t.Fatalf("affected services lost: %+v", out.AffectedServices)
	}
	if string(out.RawPayload) != `{"id":"42"}` {
		t.Fatalf("raw payload lost: %s", out.RawPayload)
	}

	empty := fromAlertRow(AlertRow{ExternalID: "x"})
	if empty.AffectedServices == nil || empty.RawPayload != nil {
		t.Fatalf("unexpected zero conversion: %+v", empty)
	}
}

func TestRunRowRoundTrip(t *testing.T) {
	in := models.RunRecord{
		ID:             "run-1",
		RunAt:          time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DurationMs:     1200,
		AlertsFound:    3,
		AlertsUpdated:  4,
		AlertsResolved: 1,
		Errors:         []string{"azure: timeout"},
		Status:         models.RunPartial,
		ServiceTimings: map[models.ServiceName]models.ServiceTiming{
			models.ServiceGitHub: {Checked: true, Alerts: 2, ResponseTimeMs: 80},
		},
	}
	row, err := toRunRow(in)
	if err != nil {
		t.Fatalf("toRunRow: %v", err)
	}
	out, err := fromRunRow(row)
	if err != nil {
		t.Fatalf("fromRunRow: %v", err)
	}
	if out.AlertsFound != 3 || out.Status != models.RunPartial || len(out.Errors) != 1 {
		t.Fatalf("run fields lost: %+v", out)
	}
	if out.ServiceTimings[models.ServiceGitHub].Alerts != 2 {
		t.Fatalf("service timings lost: %+v", out.ServiceTimings)
	}
}

func TestStringListValue(t *testing.T) {
	var nilList StringList
	v, err := nilList.Value()
	if err != nil || v != "[]" {
		t.Fatalf("nil list value = %v, %v", v, err)
	}

	var l StringList
	if err := l.Scan([]byte(`["Teams","SharePoint"]`)); err != nil {
		t.Fatalf("scan bytes: %v", err)
	}
	if len(l) != 2 || l[1] != "SharePoint" {
		t.Fatalf("unexpected scan result: %v", l)
	}
	if err := l.Scan(42); err == nil {
		t.Fatalf("expected error scanning int")
	}
}

func TestEscapeLike(t *testing.T) {
	if got := escapeLike(`50%_off\`); got != `50\%\_off\\` {
		t.Fatalf("escapeLike = %q", got)
	}
}
