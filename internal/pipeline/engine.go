package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthwatch/internal/classify"
	"healthwatch/internal/logger"
	"healthwatch/internal/sources"
	"healthwatch/pkg/models"
)

// ResolutionSummary is stored on alerts resolved by absence.
const ResolutionSummary = "Alert automatically resolved - no longer reported in service status feeds."

// EngineConfig holds engine settings.
type EngineConfig struct {
	SourceTimeout time.Duration
	Now           func() time.Time
	NewID         func() string
}

// Hooks are optional side outputs of a cycle. Failures are logged only.
type Hooks struct {
	Changes ChangeWriter
	Runs    RunWriter
	Metrics *Metrics
}

// Engine reconciles the alert store against the configured sources.
type Engine struct {
	cfg     EngineConfig
	store   AlertStore
	sources []sources.Source
	hooks   Hooks

	// mu serialises cycles.
	mu sync.Mutex
}

type sourceResult struct {
	source  sources.Source
	alerts  []models.Alert
	err     error
	elapsed time.Duration
}

// NewEngine creates a reconciliation engine.
func NewEngine(cfg EngineConfig, store AlertStore, srcs []sources.Source, hooks Hooks) *Engine {
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	return &Engine{
		cfg:     cfg,
		store:   store,
		sources: append([]sources.Source(nil), srcs...),
		hooks:   hooks,
	}
}

// Sources returns the configured adapters.
func (e *Engine) Sources() []sources.Source {
	return append([]sources.Source(nil), e.sources...)
}

// Metrics returns the engine metrics, or nil when disabled.
func (e *Engine) Metrics() *Metrics {
	return e.hooks.Metrics
}

// RunCycle performs one full fetch, upsert and resolve pass. It never returns
// an error; failures are reported in the run record.
func (e *Engine) RunCycle(ctx context.Context) models.RunRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	started := e.cfg.Now()
	run := models.RunRecord{
		ID:             e.cfg.NewID(),
		RunAt:          started.UTC(),
		Errors:         []string{},
		ServiceTimings: make(map[models.ServiceName]models.ServiceTiming),
	}

	active, err := e.store.ListActiveAlerts(ctx)
	if err != nil {
		fatal := &CycleFatalError{Stage: "snapshot", Err: err}
		logger.Errorf("Monitoring cycle failed: %v", fatal)
		run.Errors = append(run.Errors, fatal.Error())
		run.Status = models.RunFailed
		e.finish(ctx, &run, started, nil, nil, nil, nil)
		return run
	}

	pending := make(map[string]models.Alert, len(active))
	for _, a := range active {
		pending[a.ExternalID] = a
	}
	wasActive := make(map[string]struct{}, len(active))
	for id := range pending {
		wasActive[id] = struct{}{}
	}

	results := e.fetchAll(ctx)

	checked := make(map[models.ServiceName]bool)
	failed := make(map[models.ServiceName]bool)
	seen := make(map[string]struct{})
	var created, reopened, activated []models.Alert

	for _, res := range results {
		service := res.source.Service()
		timing := run.ServiceTimings[service]
		if ms := res.elapsed.Milliseconds(); ms > timing.ResponseTimeMs {
			timing.ResponseTimeMs = ms
		}
		e.hooks.Metrics.observeSource(service, res.elapsed, res.err != nil)

		if res.err != nil {
			failed[service] = true
			msg := fmt.Sprintf("%s: %v", res.source.Name(), res.err)
			timing.Error = joinError(timing.Error, msg)
			run.Errors = append(run.Errors, msg)
			run.ServiceTimings[service] = timing
			logger.Warnf("Source %s failed: %v", res.source.Name(), res.err)
			continue
		}

		checked[service] = true
		timing.Checked = true
		timing.Alerts += len(res.alerts)
		run.ServiceTimings[service] = timing

		for _, incoming := range res.alerts {
			alert, ok := normalize(incoming, service)
			if !ok {
				run.Errors = append(run.Errors, fmt.Sprintf("%s: alert without external id skipped", res.source.Name()))
				continue
			}
			if _, dup := seen[alert.ExternalID]; dup {
				delete(pending, alert.ExternalID)
				continue
			}
			seen[alert.ExternalID] = struct{}{}
			// Reported this cycle, so never a resolution candidate.
			delete(pending, alert.ExternalID)

			isNew, err := e.store.UpsertAlert(ctx, alert)
			if err != nil {
				perr := &AlertPersistenceError{Op: "upsert", ExternalID: alert.ExternalID, Err: err}
				logger.Errorf("%v", perr)
				run.Errors = append(run.Errors, perr.Error())
				continue
			}
			run.AlertsFound++
			run.AlertsUpdated++
			if _, ok := wasActive[alert.ExternalID]; ok {
				continue
			}
			activated = append(activated, alert)
			if isNew {
				created = append(created, alert)
			} else {
				reopened = append(reopened, alert)
			}
		}
	}

	var resolved []models.Alert
	resolvedAt := e.cfg.Now().UTC()
	for id, alert := range pending {
		service := alert.ServiceName
		if !checked[service] || failed[service] {
			continue
		}
		if err := e.store.MarkResolved(ctx, id, resolvedAt, ResolutionSummary); err != nil {
			perr := &AlertPersistenceError{Op: "resolve", ExternalID: id, Err: err}
			logger.Errorf("%v", perr)
			run.Errors = append(run.Errors, perr.Error())
			continue
		}
		run.AlertsResolved++
		summary := ResolutionSummary
		alert.Status = models.StatusResolved
		alert.ResolvedAt = &resolvedAt
		alert.ResolutionSummary = &summary
		alert.UpdatedAt = resolvedAt
		resolved = append(resolved, alert)
	}

	if len(run.Errors) > 0 {
		run.Status = models.RunPartial
	} else {
		run.Status = models.RunSuccess
	}

	counts := make(map[models.ServiceName]int)
	for _, svc := range models.AllServices() {
		counts[svc] = 0
	}
	for _, a := range active {
		counts[a.ServiceName]++
	}
	for _, a := range activated {
		counts[a.ServiceName]++
	}
	for _, a := range resolved {
		counts[a.ServiceName]--
	}

	e.finish(ctx, &run, started, created, reopened, resolved, counts)
	logger.Infof("Monitoring cycle %s: status=%s found=%d updated=%d resolved=%d errors=%d",
		run.ID, run.Status, run.AlertsFound, run.AlertsUpdated, run.AlertsResolved, len(run.Errors))
	return run
}

func (e *Engine) fetchAll(ctx context.Context) []sourceResult {
	results := make([]sourceResult, len(e.sources))
	var wg sync.WaitGroup
	for i, src := range e.sources {
		wg.Add(1)
		go func(i int, src sources.Source) {
			defer wg.Done()
			results[i] = e.fetchOne(ctx, src)
		}(i, src)
	}
	wg.Wait()
	return results
}

// fetchOne gives up on a source once SourceTimeout passes, whether or not
// Fetch honours its context. An abandoned Fetch finishes in the background.
func (e *Engine) fetchOne(ctx context.Context, src sources.Source) sourceResult {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.SourceTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan sourceResult, 1)
	go func() {
		res := sourceResult{source: src}
		defer func() {
			if r := recover(); r != nil {
				res.alerts = nil
				res.err = sources.Unavailable(src, fmt.Errorf("panic: %v", r))
			}
			done <- res
		}()
		alerts, err := src.Fetch(fetchCtx)
		if err != nil {
			if !errors.Is(err, sources.ErrSourceUnavailable) {
				err = sources.Unavailable(src, err)
			}
			res.err = err
			return
		}
		res.alerts = alerts
	}()

	var res sourceResult
	select {
	case res = <-done:
	case <-fetchCtx.Done():
		res = sourceResult{source: src, err: sources.Unavailable(src, fetchCtx.Err())}
	}
	res.elapsed = time.Since(start)
	return res
}

func (e *Engine) finish(ctx context.Context, run *models.RunRecord, started time.Time, created, reopened, resolved []models.Alert, active map[models.ServiceName]int) {
	run.DurationMs = e.cfg.Now().Sub(started).Milliseconds()

	if err := e.store.RecordRun(ctx, *run); err != nil {
		logger.Errorf("Failed to record monitoring run %s: %v", run.ID, err)
	}
	if e.hooks.Runs != nil {
		if err := e.hooks.Runs.WriteRun(*run); err != nil {
			logger.Errorf("Failed to write run log: %v", err)
		}
	}
	if e.hooks.Changes != nil && (len(created) > 0 || len(reopened) > 0 || len(resolved) > 0) {
		if err := e.hooks.Changes.WriteChanges(created, reopened, resolved); err != nil {
			logger.Errorf("Failed to publish alert changes: %v", err)
		}
	}
	e.hooks.Metrics.observeCycle(*run, active)
}

// Close releases the hook writers. The store is owned by the caller.
func (e *Engine) Close() error {
	var errs []error
	if e.hooks.Changes != nil {
		if err := e.hooks.Changes.Close(); err != nil {
			logger.Errorf("Failed to close change writer: %v", err)
			errs = append(errs, err)
		}
	}
	if e.hooks.Runs != nil {
		if err := e.hooks.Runs.Close(); err != nil {
			logger.Errorf("Failed to close run writer: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// normalize pins the alert to the source's service and strips anything a
// fresh report must not carry.
func normalize(a models.Alert, service models.ServiceName) (models.Alert, bool) {
	a = a.Clone()
	a.ExternalID = strings.TrimSpace(a.ExternalID)
	if a.ExternalID == "" {
		return a, false
	}
	a.ServiceName = service
	if !a.Status.Active() {
		a.Status = models.StatusInvestigating
	}
	if a.Severity.Rank() == 0 {
		a.Severity = classify.Severity(a.Title + " " + a.Impact)
	}
	if a.Region == "" {
		a.Region = models.DefaultRegion
	}
	if a.AffectedServices == nil {
		a.AffectedServices = []string{}
	}
	a.ResolvedAt = nil
	a.ResolutionSummary = nil
	return a, true
}

func joinError(existing, msg string) string {
	if existing == "" {
		return msg
	}
	return existing + "; " + msg
}
