package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthwatch/internal/scheduler"
	"healthwatch/pkg/models"
)

type fakeHealth struct {
	overview  models.HealthOverview
	alerts    []models.Alert
	err       error
	lastTerm  string
	lastStart *time.Time
	lastEnd   *time.Time
}

func (f *fakeHealth) ServiceHealth(context.Context) models.HealthOverview { return f.overview }

func (f *fakeHealth) SearchAlerts(_ context.Context, term string, start, end *time.Time) ([]models.Alert, error) {
	f.lastTerm, f.lastStart, f.lastEnd = term, start, end
	return f.alerts, f.err
}

type fakeControl struct {
	running bool
	runs    int
	ctxErr  error
}

func (f *fakeControl) Start() { f.running = true }
func (f *fakeControl) Stop()  { f.running = false }

func (f *fakeControl) RunNow(ctx context.Context) (models.RunRecord, error) {
	f.ctxErr = ctx.Err()
	if !f.running {
		return models.RunRecord{}, scheduler.ErrNotRunning
	}
	f.runs++
	return models.RunRecord{ID: "manual", Status: models.RunSuccess, Errors: []string{}}, nil
}

func (f *fakeControl) Status() scheduler.Status {
	return scheduler.Status{Running: f.running, IntervalSeconds: 60}
}

func newTestRouter(h *fakeHealth, c *fakeControl) *gin.Engine {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("healthwatch_cycles_total 1\n"))
	})
	return NewRouter(gin.TestMode, NewHandler(h, c), metrics)
}

func do(r http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestGetHealth(t *testing.T) {
	h := &fakeHealth{overview: models.HealthOverview{
		Services:       []models.ServiceHealth{{ID: models.ServiceAzure, Name: "Microsoft Azure", Status: models.HealthOutage, Alerts: []models.Alert{}}},
		ResolvedAlerts: []models.Alert{},
	}}
	rec := do(newTestRouter(h, &fakeControl{}), http.MethodGet, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.HealthOverview
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Services, 1)
	assert.Equal(t, models.HealthOutage, got.Services[0].Status)
}

func TestSearchAlertsParsesDates(t *testing.T) {
	h := &fakeHealth{alerts: []models.Alert{{ExternalID: "a"}}}
	r := newTestRouter(h, &fakeControl{})

	rec := do(r, http.MethodGet, "/api/v1/alerts/search?q=teams&start=2024-03-01&end=2024-03-02")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "teams", h.lastTerm)
	require.NotNil(t, h.lastStart)
	require.NotNil(t, h.lastEnd)
	assert.True(t, h.lastStart.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, h.lastEnd.Day())
	assert.Equal(t, 23, h.lastEnd.Hour())

	var body struct {
		Alerts []models.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)

	rec = do(r, http.MethodGet, "/api/v1/alerts/search?start=2024-03-01T10:00:00Z")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, h.lastStart.Hour())
	assert.Nil(t, h.lastEnd)
}

func TestSearchAlertsRejectsBadInput(t *testing.T) {
	r := newTestRouter(&fakeHealth{}, &fakeControl{})
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/alerts/search?start=yesterday").Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/v1/alerts/search?start=2024-03-02&end=2024-03-01").Code)
}

func TestSearchAlertsStoreFailure(t *testing.T) {
	r := newTestRouter(&fakeHealth{err: errors.New("boom")}, &fakeControl{})
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/api/v1/alerts/search?q=x").Code)
}

func TestMonitoringControls(t *testing.T) {
	c := &fakeControl{}
	r := newTestRouter(&fakeHealth{}, c)

	assert.Equal(t, http.StatusConflict, do(r, http.MethodPost, "/api/v1/monitoring/run").Code)

	rec := do(r, http.MethodPost, "/api/v1/monitoring/start")
	require.Equal(t, http.StatusOK, rec.Code)
	var st scheduler.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)

	rec = do(r, http.MethodPost, "/api/v1/monitoring/run")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, c.runs)

	rec = do(r, http.MethodGet, "/api/v1/monitoring/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, 60, st.IntervalSeconds)

	do(r, http.MethodPost, "/api/v1/monitoring/stop")
	assert.False(t, c.running)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/monitoring/run").Code)
}

func TestRunSurvivesClientDisconnect(t *testing.T) {
	c := &fakeControl{running: true}
	r := newTestRouter(&fakeHealth{}, c)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/monitoring/run", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, c.runs)
	assert.NoError(t, c.ctxErr, "cycle context must not follow the request")
}

func TestHealthzAndMetrics(t *testing.T) {
	r := newTestRouter(&fakeHealth{}, &fakeControl{})
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/healthz").Code)

	rec := do(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthwatch_cycles_total")
}
