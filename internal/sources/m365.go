package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"healthwatch/internal/classify"
	"healthwatch/internal/fetch"
	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// KindMicrosoft365 is the registry kind of the Microsoft 365 adapter.
const KindMicrosoft365 = "microsoft365"

const (
	DefaultM365GraphURL  = "https://graph.microsoft.com/v1.0/admin/serviceAnnouncement/healthOverviews"
	DefaultM365StatusURL = "https://portal.office.com/servicestatus"
)

// healthy upstream statuses, lowercased.
var m365HealthyStatuses = map[string]struct{}{
	"normal":                      {},
	"serviceoperational":          {},
	"servicerestored":             {},
	"servicerestore":              {},
	"falsepositive":               {},
	"postincidentreviewpublished": {},
}

// M365Config configures the Microsoft 365 adapter. Empty URLs are skipped.
type M365Config struct {
	GraphURL  string
	StatusURL string
	Now       func() time.Time
}

// Microsoft365 merges the Graph health overviews with the service status feed.
type Microsoft365 struct {
	cfg     M365Config
	fetcher fetch.Fetcher
}

// NewMicrosoft365 creates the Microsoft 365 adapter.
func NewMicrosoft365(cfg M365Config, fetcher fetch.Fetcher) *Microsoft365 {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Microsoft365{cfg: cfg, fetcher: fetcher}
}

func newM365FromSpec(spec Spec, deps Deps) (Source, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("microsoft365 source requires a fetcher")
	}
	return NewMicrosoft365(M365Config{
		GraphURL:  spec.Endpoint("graph", DefaultM365GraphURL),
		StatusURL: spec.Endpoint("status", DefaultM365StatusURL),
		Now:       deps.Now,
	}, deps.Fetcher), nil
}

// Service implements Source.
func (m *Microsoft365) Service() models.ServiceName { return models.ServiceMicrosoft365 }

// Name implements Source.
func (m *Microsoft365) Name() string { return "Microsoft 365 Status" }

// Fetch implements Source. Both endpoints are consulted; the source is only
// unavailable when neither answers.
func (m *Microsoft365) Fetch(ctx context.Context) ([]models.Alert, error) {
	endpoints := []struct {
		label string
		url   string
		parse func([]byte) ([]models.Alert, error)
	}{
		{"graph", m.cfg.GraphURL, m.parseGraph},
		{"status", m.cfg.StatusURL, m.parseStatus},
	}

	var errs []error
	answered := false
	seen := make(map[string]struct{})
	alerts := []models.Alert{}
	for _, ep := range endpoints {
		if ep.url == "" {
			continue
		}
		body, err := m.fetcher.Get(ctx, ep.url)
		if err != nil {
			logger.Warnf("Microsoft 365 %s endpoint failed: %v", ep.label, err)
			errs = append(errs, fmt.Errorf("%s: %w", ep.label, err))
			continue
		}
		parsed, err := ep.parse(body)
		if err != nil {
			logger.Warnf("Microsoft 365 %s payload rejected: %v", ep.label, err)
			errs = append(errs, fmt.Errorf("%s: %w", ep.label, err))
			continue
		}
		answered = true
		for _, al := range parsed {
			if _, dup := seen[al.ExternalID]; dup {
				continue
			}
			seen[al.ExternalID] = struct{}{}
			alerts = append(alerts, al)
		}
	}

	if !answered {
		if len(errs) == 0 {
			errs = append(errs, errors.New("no endpoints configured"))
		}
		return nil, Unavailable(m, errors.Join(errs...))
	}
	return alerts, nil
}

type m365Overview struct {
	ID                string `json:"id"`
	Service           string `json:"service"`
	Status            string `json:"status"`
	StatusDisplayName string `json:"statusDisplayName"`
}

type m365OverviewList struct {
	Value []m365Overview `json:"value"`
}

func (m *Microsoft365) parseGraph(body []byte) ([]models.Alert, error) {
	var list m365OverviewList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to decode health overviews: %w", err)
	}

	now := m.cfg.Now().UTC()
	var alerts []models.Alert
	for _, ov := range list.Value {
		if !m365Unhealthy(ov.Status) {
			continue
		}
		service := firstNonEmpty(ov.Service, "Microsoft 365")
		id := ov.ID
		if id == "" {
			id = classify.StableID("m365", service)
		}
		impact := firstNonEmpty(ov.StatusDisplayName, "Service issue detected")
		if classify.IsResolvedText(impact) {
			continue
		}
		alerts = append(alerts, models.Alert{
			ExternalID:       id,
			ServiceName:      models.ServiceMicrosoft365,
			Title:            service + " - Service Issue",
			Impact:           impact,
			Severity:         m365Severity(ov.Status),
			Status:           classify.Status(impact),
			Region:           models.DefaultRegion,
			AffectedServices: []string{service},
			SourceAPI:        "Microsoft Graph API",
			StartTime:        now,
			RawPayload:       rawJSON(ov),
		})
	}
	return alerts, nil
}

type m365Service struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	Name          string `json:"name"`
	Status        string `json:"status"`
	StatusDetails string `json:"statusDetails"`
}

type m365ServiceList struct {
	Services []m365Service `json:"services"`
	Value    []m365Service `json:"value"`
}

func (m *Microsoft365) parseStatus(body []byte) ([]models.Alert, error) {
	var services []m365Service
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &services); err != nil {
			return nil, fmt.Errorf("failed to decode service status: %w", err)
		}
	} else {
		var wrapped m365ServiceList
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode service status: %w", err)
		}
		services = wrapped.Services
		if len(services) == 0 {
			services = wrapped.Value
		}
	}

	now := m.cfg.Now().UTC()
	var alerts []models.Alert
	for _, svc := range services {
		if !m365Unhealthy(svc.Status) {
			continue
		}
		name := firstNonEmpty(svc.DisplayName, svc.Name, "Microsoft 365")
		id := svc.ID
		if id == "" {
			id = classify.StableID("m365-status", name)
		}
		impact := firstNonEmpty(svc.StatusDetails, "Service degradation detected")
		if classify.IsResolvedText(impact) {
			continue
		}
		alerts = append(alerts, models.Alert{
			ExternalID:       id,
			ServiceName:      models.ServiceMicrosoft365,
			Title:            name,
			Impact:           classify.CleanDescription(impact, 0),
			Severity:         m365Severity(svc.Status),
			Status:           classify.Status(impact),
			Region:           classify.Region(impact),
			AffectedServices: classify.AffectedServices(name+" "+impact, name),
			SourceAPI:        "M365 Status API",
			StartTime:        now,
			RawPayload:       rawJSON(svc),
		})
	}
	return alerts, nil
}

func m365Unhealthy(status string) bool {
	s := strings.ToLower(strings.TrimSpace(status))
	if s == "" {
		return false
	}
	_, healthy := m365HealthyStatuses[s]
	return !healthy
}

func m365Severity(status string) models.Severity {
	if strings.EqualFold(strings.TrimSpace(status), "serviceIncident") {
		return models.SeverityHigh
	}
	return models.SeverityMedium
}
