package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthwatch/internal/pipeline"
	"healthwatch/internal/store/memory"
	"healthwatch/pkg/models"
)

var now = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func alert(id string, svc models.ServiceName, sev models.Severity, start time.Time) models.Alert {
	return models.Alert{
		ExternalID:  id,
		ServiceName: svc,
		Title:       id,
		Severity:    sev,
		Status:      models.StatusInvestigating,
		Region:      models.DefaultRegion,
		StartTime:   start,
	}
}

func seeded(t *testing.T, alerts ...models.Alert) *memory.Store {
	t.Helper()
	s := memory.New(0)
	s.SetClock(func() time.Time { return now })
	for _, a := range alerts {
		_, err := s.UpsertAlert(context.Background(), a)
		require.NoError(t, err)
	}
	return s
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		sevs []models.Severity
		want models.HealthStatus
	}{
		{"none", nil, models.HealthOperational},
		{"low only", []models.Severity{models.SeverityLow, models.SeverityLow}, models.HealthOperational},
		{"medium", []models.Severity{models.SeverityLow, models.SeverityMedium}, models.HealthDegraded},
		{"high wins", []models.Severity{models.SeverityMedium, models.SeverityHigh}, models.HealthOutage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var alerts []models.Alert
			for _, s := range tc.sevs {
				alerts = append(alerts, models.Alert{Severity: s})
			}
			assert.Equal(t, tc.want, DeriveStatus(alerts))
		})
	}
}

func TestServiceHealthGroupsAndOrders(t *testing.T) {
	store := seeded(t,
		alert("az-low", models.ServiceAzure, models.SeverityLow, now.Add(-time.Minute)),
		alert("az-high-old", models.ServiceAzure, models.SeverityHigh, now.Add(-3*time.Hour)),
		alert("az-high-new", models.ServiceAzure, models.SeverityHigh, now.Add(-time.Hour)),
		alert("gh-low", models.ServiceGitHub, models.SeverityLow, now),
		alert("m365-med", models.ServiceMicrosoft365, models.SeverityMedium, now),
		alert("gone", models.ServiceEntra, models.SeverityMedium, now.AddDate(0, 0, -2)),
		alert("ancient", models.ServiceEntra, models.SeverityMedium, now.AddDate(0, -3, 0)),
	)
	ctx := context.Background()
	require.NoError(t, store.MarkResolved(ctx, "gone", now.Add(-time.Hour), pipeline.ResolutionSummary))
	require.NoError(t, store.MarkResolved(ctx, "ancient", now.AddDate(0, 0, -45), pipeline.ResolutionSummary))
	require.NoError(t, store.RecordRun(ctx, models.RunRecord{ID: "r1", RunAt: now, Status: models.RunSuccess, Errors: []string{}}))

	ov := NewAggregator(Config{}, store).ServiceHealth(ctx)
	assert.Empty(t, ov.Error)
	require.Len(t, ov.Services, 4)

	ids := []models.ServiceName{}
	for _, s := range ov.Services {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, models.AllServices(), ids)

	azure := ov.Services[0]
	assert.Equal(t, "Microsoft Azure", azure.Name)
	assert.Equal(t, models.HealthOutage, azure.Status)
	require.Len(t, azure.Alerts, 3)
	assert.Equal(t, "az-high-new", azure.Alerts[0].ExternalID)
	assert.Equal(t, "az-high-old", azure.Alerts[1].ExternalID)
	assert.Equal(t, "az-low", azure.Alerts[2].ExternalID)

	assert.Equal(t, models.HealthDegraded, ov.Services[1].Status)
	assert.Equal(t, models.HealthOperational, ov.Services[2].Status)
	assert.Empty(t, ov.Services[2].Alerts)

	github := ov.Services[3]
	assert.Equal(t, models.HealthOperational, github.Status)
	assert.Len(t, github.Alerts, 1)

	require.Len(t, ov.ResolvedAlerts, 1)
	assert.Equal(t, "gone", ov.ResolvedAlerts[0].ExternalID)
	require.NotNil(t, ov.LastRun)
	assert.Equal(t, "r1", ov.LastRun.ID)
}

type failingStore struct {
	*memory.Store
}

func (failingStore) ListActiveAlerts(context.Context) ([]models.Alert, error) {
	return nil, errors.New("connection refused")
}

func TestServiceHealthReportsStoreFailure(t *testing.T) {
	ov := NewAggregator(Config{}, failingStore{memory.New(0)}).ServiceHealth(context.Background())
	assert.Contains(t, ov.Error, "connection refused")
	require.Len(t, ov.Services, 4)
	for _, s := range ov.Services {
		assert.Equal(t, models.HealthOperational, s.Status)
		assert.NotNil(t, s.Alerts)
	}
	assert.NotNil(t, ov.ResolvedAlerts)
	assert.Nil(t, ov.LastRun)
}

func TestSearchAlertsDelegates(t *testing.T) {
	a := alert("teams", models.ServiceMicrosoft365, models.SeverityHigh, now)
	a.Title = "Teams - Meeting Join Issues"
	store := seeded(t, a, alert("other", models.ServiceAzure, models.SeverityLow, now.AddDate(0, 0, -5)))

	agg := NewAggregator(Config{}, store)
	got, err := agg.SearchAlerts(context.Background(), "TEAMS", nil, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "teams", got[0].ExternalID)

	start := now.AddDate(0, 0, -1)
	got, err = agg.SearchAlerts(context.Background(), "", &start, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = agg.SearchAlerts(context.Background(), "nothing matches", nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}
