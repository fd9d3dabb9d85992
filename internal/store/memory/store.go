// Package memory is the in-process AlertStore used by default and in tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

// DefaultMaxRuns bounds the retained run history.
const DefaultMaxRuns = 500

// Store keeps alerts in a map guarded by a RWMutex. Reads return deep copies.
type Store struct {
	mu      sync.RWMutex
	alerts  map[string]models.Alert
	runs    []models.RunRecord
	maxRuns int
	now     func() time.Time
}

// New creates an empty store.
func New(maxRuns int) *Store {
	if maxRuns <= 0 {
		maxRuns = DefaultMaxRuns
	}
	return &Store{
		alerts:  make(map[string]models.Alert),
		maxRuns: maxRuns,
		now:     time.Now,
	}
}

// SetClock overrides the time source used for UpdatedAt.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// UpsertAlert implements pipeline.AlertStore.
func (s *Store) UpsertAlert(ctx context.Context, alert models.Alert) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := alert.Clone()
	next.UpdatedAt = s.now().UTC()
	next.ResolvedAt = nil
	next.ResolutionSummary = nil

	prev, exists := s.alerts[alert.ExternalID]
	if exists {
		next.StartTime = prev.StartTime
	}
	s.alerts[alert.ExternalID] = next
	return !exists, nil
}

// MarkResolved implements pipeline.AlertStore.
func (s *Store) MarkResolved(ctx context.Context, externalID string, resolvedAt time.Time, summary string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alerts[externalID]
	if !ok {
		return pipeline.ErrAlertNotFound
	}
	at := resolvedAt.UTC()
	a.Status = models.StatusResolved
	a.ResolvedAt = &at
	a.ResolutionSummary = &summary
	a.UpdatedAt = at
	s.alerts[externalID] = a
	return nil
}

// ListActiveAlerts implements pipeline.AlertStore.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]models.Alert, error) {
	return s.collect(ctx, func(a models.Alert) bool { return a.IsActive() }, byStartDesc)
}

// ListResolvedAlerts implements pipeline.AlertStore.
func (s *Store) ListResolvedAlerts(ctx context.Context, sinceDays int) ([]models.Alert, error) {
	s.mu.RLock()
	cutoff := s.now().AddDate(0, 0, -sinceDays)
	s.mu.RUnlock()
	return s.collect(ctx, func(a models.Alert) bool {
		return !a.IsActive() && a.ResolvedAt != nil && !a.ResolvedAt.Before(cutoff)
	}, byResolvedDesc)
}

// SearchAlerts implements pipeline.AlertStore.
func (s *Store) SearchAlerts(ctx context.Context, query models.AlertQuery) ([]models.Alert, error) {
	out, err := s.collect(ctx, query.Matches, byStartDesc)
	if err != nil {
		return nil, err
	}
	if limit := query.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RecordRun implements pipeline.AlertStore.
func (s *Store) RecordRun(ctx context.Context, run models.RunRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run.Clone())
	if over := len(s.runs) - s.maxRuns; over > 0 {
		s.runs = append([]models.RunRecord(nil), s.runs[over:]...)
	}
	return nil
}

// LastRun implements pipeline.AlertStore.
func (s *Store) LastRun(ctx context.Context) (*models.RunRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	last := s.runs[len(s.runs)-1].Clone()
	return &last, nil
}

// Runs returns the retained run history, oldest first.
func (s *Store) Runs() []models.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.RunRecord, len(s.runs))
	for i, r := range s.runs {
		out[i] = r.Clone()
	}
	return out
}

// Get returns one alert by ID.
func (s *Store) Get(externalID string) (models.Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[externalID]
	if !ok {
		return models.Alert{}, false
	}
	return a.Clone(), true
}

// Close implements pipeline.AlertStore.
func (s *Store) Close() error { return nil }

func (s *Store) collect(ctx context.Context, keep func(models.Alert) bool, less func(a, b models.Alert) bool) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]models.Alert, 0, len(s.alerts))
	for _, a := range s.alerts {
		if keep(a) {
			out = append(out, a.Clone())
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func byStartDesc(a, b models.Alert) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.After(b.StartTime)
	}
	return strings.Compare(a.ExternalID, b.ExternalID) < 0
}

func byResolvedDesc(a, b models.Alert) bool {
	if !a.ResolvedAt.Equal(*b.ResolvedAt) {
		return a.ResolvedAt.After(*b.ResolvedAt)
	}
	return strings.Compare(a.ExternalID, b.ExternalID) < 0
}

var _ pipeline.AlertStore = (*Store)(nil)
