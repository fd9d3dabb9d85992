package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"healthwatch/internal/classify"
	"healthwatch/internal/fetch"
	"healthwatch/pkg/models"
)

// KindGitHub is the registry kind of the GitHub adapter.
const KindGitHub = "github"

// DefaultGitHubIncidentsURL is the public statuspage incidents feed.
const DefaultGitHubIncidentsURL = "https://www.githubstatus.com/api/v2/incidents.json"

// GitHub reads open incidents from the GitHub statuspage API.
type GitHub struct {
	url     string
	fetcher fetch.Fetcher
}

// NewGitHub creates the GitHub adapter.
func NewGitHub(url string, fetcher fetch.Fetcher) *GitHub {
	if url == "" {
		url = DefaultGitHubIncidentsURL
	}
	return &GitHub{url: url, fetcher: fetcher}
}

func newGitHubFromSpec(spec Spec, deps Deps) (Source, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("github source requires a fetcher")
	}
	return NewGitHub(spec.Endpoint("incidents", DefaultGitHubIncidentsURL), deps.Fetcher), nil
}

// Service implements Source.
func (g *GitHub) Service() models.ServiceName { return models.ServiceGitHub }

// Name implements Source.
func (g *GitHub) Name() string { return "GitHub Status" }

type githubUpdate struct {
	Body      string    `json:"body"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type githubComponent struct {
	Name string `json:"name"`
}

type githubIncident struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Status          string            `json:"status"`
	Impact          string            `json:"impact"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	IncidentUpdates []githubUpdate    `json:"incident_updates"`
	Components      []githubComponent `json:"components"`
}

type githubIncidentList struct {
	Incidents []githubIncident `json:"incidents"`
}

// Fetch implements Source.
func (g *GitHub) Fetch(ctx context.Context) ([]models.Alert, error) {
	body, err := g.fetcher.Get(ctx, g.url)
	if err != nil {
		return nil, Unavailable(g, err)
	}
	var list githubIncidentList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, Unavailable(g, fmt.Errorf("failed to decode incidents: %w", err))
	}

	alerts := []models.Alert{}
	for _, inc := range list.Incidents {
		status := strings.ToLower(inc.Status)
		if status == "resolved" || status == "postmortem" || inc.ID == "" {
			continue
		}

		impact := inc.Name
		if u, ok := latestUpdate(inc.IncidentUpdates); ok && strings.TrimSpace(u.Body) != "" {
			impact = u.Body
		}
		var services []string
		for _, c := range inc.Components {
			if c.Name != "" {
				services = append(services, c.Name)
			}
		}
		if len(services) == 0 {
			services = []string{"GitHub"}
		}

		alerts = append(alerts, models.Alert{
			ExternalID:       "github-" + inc.ID,
			ServiceName:      models.ServiceGitHub,
			Title:            "GitHub: " + inc.Name,
			Impact:           classify.CleanDescription(impact, 0),
			Severity:         githubSeverity(inc.Impact),
			Status:           githubStatus(status),
			Region:           models.DefaultRegion,
			AffectedServices: services,
			SourceAPI:        "GitHub Status API",
			StartTime:        inc.CreatedAt.UTC(),
			RawPayload:       rawJSON(inc),
		})
	}
	return alerts, nil
}

func latestUpdate(updates []githubUpdate) (githubUpdate, bool) {
	if len(updates) == 0 {
		return githubUpdate{}, false
	}
	latest := updates[0]
	for _, u := range updates[1:] {
		if u.CreatedAt.After(latest.CreatedAt) {
			latest = u
		}
	}
	return latest, true
}

func githubSeverity(impact string) models.Severity {
	switch strings.ToLower(impact) {
	case "critical", "major":
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func githubStatus(status string) models.Status {
	switch status {
	case "identified":
		return models.StatusIdentified
	case "monitoring":
		return models.StatusMonitoring
	default:
		return models.StatusInvestigating
	}
}
