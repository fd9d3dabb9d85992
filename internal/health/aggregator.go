// Package health builds the read-side views over the alert store.
package health

import (
	"context"
	"fmt"
	"sort"
	"time"

	"healthwatch/internal/logger"
	"healthwatch/internal/pipeline"
	"healthwatch/pkg/models"
)

// Config holds aggregator settings.
type Config struct {
	ResolvedWindowDays int
	SearchLimit        int
}

// Aggregator reads the store on behalf of the API.
type Aggregator struct {
	cfg   Config
	store pipeline.AlertStore
}

// NewAggregator creates an aggregator over store.
func NewAggregator(cfg Config, store pipeline.AlertStore) *Aggregator {
	if cfg.ResolvedWindowDays <= 0 {
		cfg.ResolvedWindowDays = 30
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = models.DefaultSearchLimit
	}
	return &Aggregator{cfg: cfg, store: store}
}

// ServiceHealth returns one entry per known service plus recently resolved
// alerts. Store failures are reported in the Error field.
func (a *Aggregator) ServiceHealth(ctx context.Context) models.HealthOverview {
	out := models.HealthOverview{
		Services:       emptyServices(),
		ResolvedAlerts: []models.Alert{},
	}

	active, err := a.store.ListActiveAlerts(ctx)
	if err != nil {
		logger.Errorf("Health overview: list active alerts: %v", err)
		out.Error = fmt.Sprintf("list active alerts: %v", err)
		return out
	}
	resolved, err := a.store.ListResolvedAlerts(ctx, a.cfg.ResolvedWindowDays)
	if err != nil {
		logger.Errorf("Health overview: list resolved alerts: %v", err)
		out.Error = fmt.Sprintf("list resolved alerts: %v", err)
		return out
	}

	out.Services = GroupByService(active)
	sort.SliceStable(resolved, func(i, j int) bool {
		return resolvedAt(resolved[i]).After(resolvedAt(resolved[j]))
	})
	out.ResolvedAlerts = resolved

	last, err := a.store.LastRun(ctx)
	if err != nil {
		logger.Warnf("Health overview: last run unavailable: %v", err)
	} else {
		out.LastRun = last
	}
	return out
}

// SearchAlerts returns stored alerts matching term within the StartTime bounds.
func (a *Aggregator) SearchAlerts(ctx context.Context, term string, start, end *time.Time) ([]models.Alert, error) {
	found, err := a.store.SearchAlerts(ctx, models.AlertQuery{
		Term:  term,
		Start: start,
		End:   end,
		Limit: a.cfg.SearchLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("search alerts: %w", err)
	}
	if found == nil {
		found = []models.Alert{}
	}
	return found, nil
}

// GroupByService buckets active alerts by family and derives each status.
// Alerts of unknown families are dropped.
func GroupByService(active []models.Alert) []models.ServiceHealth {
	services := emptyServices()
	index := make(map[models.ServiceName]int, len(services))
	for i, s := range services {
		index[s.ID] = i
	}
	for _, alert := range active {
		i, ok := index[alert.ServiceName]
		if !ok {
			logger.Debugf("Health overview: skipping alert %s of unknown service %q", alert.ExternalID, alert.ServiceName)
			continue
		}
		services[i].Alerts = append(services[i].Alerts, alert)
	}
	for i := range services {
		sortAlerts(services[i].Alerts)
		services[i].Status = DeriveStatus(services[i].Alerts)
	}
	return services
}

// DeriveStatus maps the worst active severity to a service status.
func DeriveStatus(alerts []models.Alert) models.HealthStatus {
	worst := 0
	for _, a := range alerts {
		if r := a.Severity.Rank(); r > worst {
			worst = r
		}
	}
	switch {
	case worst >= models.SeverityHigh.Rank():
		return models.HealthOutage
	case worst == models.SeverityMedium.Rank():
		return models.HealthDegraded
	default:
		return models.HealthOperational
	}
}

func sortAlerts(alerts []models.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := alerts[i].Severity.Rank(), alerts[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return alerts[i].StartTime.After(alerts[j].StartTime)
	})
}

func emptyServices() []models.ServiceHealth {
	names := models.AllServices()
	out := make([]models.ServiceHealth, 0, len(names))
	for _, name := range names {
		out = append(out, models.ServiceHealth{
			ID:     name,
			Name:   name.DisplayName(),
			Status: models.HealthOperational,
			Alerts: []models.Alert{},
		})
	}
	return out
}

func resolvedAt(a models.Alert) time.Time {
	if a.ResolvedAt == nil {
		return time.Time{}
	}
	return *a.ResolvedAt
}
