package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"

	"healthwatch/internal/classify"
	"healthwatch/internal/fetch"
	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// KindAzure is the registry kind of the Azure adapter.
const KindAzure = "azure"

const (
	DefaultAzureFeedURL      = "https://azurestatuscdn.azureedge.net/en-us/status/feed/"
	DefaultAzureIncidentsURL = "https://raw.githubusercontent.com/Azure/azure-status/main/data/incidents.json"

	azureFallbackTag = "Azure Services"
)

// DefaultAzureMaxAge is the RSS item age cutoff for registry-built adapters.
const DefaultAzureMaxAge = 24 * time.Hour

// AzureConfig configures the Azure adapter. Empty URLs are skipped and a
// zero MaxAge keeps every item.
type AzureConfig struct {
	FeedURL       string
	IncidentsURL  string
	StatusPageURL string
	MaxItems      int
	MaxAge        time.Duration
	Now           func() time.Time
}

// Azure reads the Azure status RSS feed, falling back to the incidents JSON
// and then to a status page scan. The first endpoint with data wins.
type Azure struct {
	cfg     AzureConfig
	fetcher fetch.Fetcher
}

// NewAzure creates the Azure adapter.
func NewAzure(cfg AzureConfig, fetcher fetch.Fetcher) *Azure {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Azure{cfg: cfg, fetcher: fetcher}
}

func newAzureFromSpec(spec Spec, deps Deps) (Source, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("azure source requires a fetcher")
	}
	maxAge := spec.MaxAge
	if maxAge == 0 {
		maxAge = DefaultAzureMaxAge
	}
	return NewAzure(AzureConfig{
		FeedURL:       spec.Endpoint("feed", DefaultAzureFeedURL),
		IncidentsURL:  spec.Endpoint("incidents", DefaultAzureIncidentsURL),
		StatusPageURL: spec.Endpoint("status_page", ""),
		MaxItems:      spec.MaxItems,
		MaxAge:        maxAge,
		Now:           deps.Now,
	}, deps.Fetcher), nil
}

// Service implements Source.
func (a *Azure) Service() models.ServiceName { return models.ServiceAzure }

// Name implements Source.
func (a *Azure) Name() string { return "Azure Status" }

// Fetch implements Source.
func (a *Azure) Fetch(ctx context.Context) ([]models.Alert, error) {
	endpoints := []struct {
		label string
		url   string
		parse func([]byte) ([]models.Alert, error)
	}{
		{"rss", a.cfg.FeedURL, a.parseRSS},
		{"incidents", a.cfg.IncidentsURL, a.parseIncidents},
		{"status page", a.cfg.StatusPageURL, a.parseStatusPage},
	}

	var errs []error
	answered := false
	for _, ep := range endpoints {
		if ep.url == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		body, err := a.fetcher.Get(ctx, ep.url)
		if err != nil {
			logger.Warnf("Azure %s endpoint failed: %v", ep.label, err)
			errs = append(errs, fmt.Errorf("%s: %w", ep.label, err))
			continue
		}
		alerts, err := ep.parse(body)
		if err != nil {
			logger.Warnf("Azure %s payload rejected: %v", ep.label, err)
			errs = append(errs, fmt.Errorf("%s: %w", ep.label, err))
			continue
		}
		answered = true
		if len(alerts) > 0 {
			return alerts, nil
		}
	}

	if !answered {
		if len(errs) == 0 {
			errs = append(errs, errors.New("no endpoints configured"))
		}
		return nil, Unavailable(a, errors.Join(errs...))
	}
	return []models.Alert{}, nil
}

type rssItem struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PubDate     string `json:"pubDate"`
	Link        string `json:"link,omitempty"`
}

func (a *Azure) parseRSS(body []byte) ([]models.Alert, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSS: %w", err)
	}
	if xmlquery.FindOne(doc, "//channel") == nil {
		return nil, errors.New("document has no RSS channel")
	}

	now := a.cfg.Now()
	var alerts []models.Alert
	for i, node := range xmlquery.Find(doc, "//item") {
		if i >= a.cfg.MaxItems {
			break
		}
		item := rssItem{
			Title:       childText(node, "title"),
			Description: childText(node, "description"),
			PubDate:     childText(node, "pubDate"),
			Link:        childText(node, "link"),
		}
		if item.Title == "" || item.Description == "" {
			continue
		}
		if classify.IsResolvedText(item.Title) || classify.IsResolvedText(item.Description) {
			continue
		}

		published, ok := parseRSSDate(item.PubDate)
		if !ok {
			published = now
		}
		if a.cfg.MaxAge > 0 && published.Before(now.Add(-a.cfg.MaxAge)) {
			continue
		}

		impact := classify.CleanDescription(item.Description, 0)
		alerts = append(alerts, models.Alert{
			ExternalID:       classify.StableID("azure-rss", item.Title, item.PubDate),
			ServiceName:      models.ServiceAzure,
			Title:            classify.CleanTitle(item.Title),
			Impact:           impact,
			Severity:         classify.Severity(item.Title + " " + item.Description),
			Status:           classify.Status(item.Description),
			Region:           classify.Region(impact),
			AffectedServices: classify.AffectedServices(impact, ""),
			SourceAPI:        "Azure RSS Feed",
			StartTime:        published.UTC(),
			RawPayload:       rawJSON(item),
		})
	}
	return alerts, nil
}

type azureIncident struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Summary     string   `json:"summary"`
	Status      string   `json:"status"`
	Region      string   `json:"region"`
	Services    []string `json:"services"`
	StartTime   string   `json:"startTime"`
}

type azureIncidentList struct {
	Incidents []azureIncident `json:"incidents"`
}

func (a *Azure) parseIncidents(body []byte) ([]models.Alert, error) {
	var incidents []azureIncident
	trimmed := bytes.TrimSpace(body)
	if bytes.HasPrefix(trimmed, []byte("[")) {
		if err := json.Unmarshal(trimmed, &incidents); err != nil {
			return nil, fmt.Errorf("failed to decode incidents: %w", err)
		}
	} else {
		var wrapped azureIncidentList
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, fmt.Errorf("failed to decode incidents: %w", err)
		}
		incidents = wrapped.Incidents
	}

	now := a.cfg.Now()
	var alerts []models.Alert
	for _, inc := range incidents {
		title := firstNonEmpty(inc.Title, inc.Name, "Azure Service Issue")
		desc := firstNonEmpty(inc.Description, inc.Summary, "Service impact detected")

		status := upstreamStatus(inc.Status, desc)
		if status == models.StatusResolved {
			continue
		}

		start := now
		if t, err := time.Parse(time.RFC3339, inc.StartTime); err == nil {
			start = t
		}
		id := inc.ID
		if id == "" {
			id = classify.StableID("azure-incident", title, inc.StartTime)
		}
		region := inc.Region
		if region == "" {
			region = classify.Region(desc)
		}
		services := inc.Services
		if len(services) == 0 {
			services = classify.AffectedServices(title+" "+desc, azureFallbackTag)
		}

		alerts = append(alerts, models.Alert{
			ExternalID:       id,
			ServiceName:      models.ServiceAzure,
			Title:            classify.CleanTitle(title),
			Impact:           classify.CleanDescription(desc, 0),
			Severity:         classify.Severity(title + " " + desc),
			Status:           status,
			Region:           region,
			AffectedServices: services,
			SourceAPI:        "Azure Incidents API",
			StartTime:        start.UTC(),
			RawPayload:       rawJSON(inc),
		})
	}
	return alerts, nil
}

func (a *Azure) parseStatusPage(body []byte) ([]models.Alert, error) {
	lower := strings.ToLower(string(body))
	if !strings.Contains(lower, "incident") && !strings.Contains(lower, "degraded") {
		return nil, nil
	}
	day := a.cfg.Now().UTC().Truncate(24 * time.Hour)
	return []models.Alert{{
		ExternalID:       classify.StableID("azure-status", day.Format("20060102")),
		ServiceName:      models.ServiceAzure,
		Title:            "Azure Service Status Issue Detected",
		Impact:           "Potential service degradation detected on Azure status page",
		Severity:         models.SeverityMedium,
		Status:           models.StatusInvestigating,
		Region:           models.DefaultRegion,
		AffectedServices: []string{azureFallbackTag},
		SourceAPI:        "Azure Status Page",
		StartTime:        day,
	}}, nil
}

func childText(node *xmlquery.Node, name string) string {
	if c := node.SelectElement(name); c != nil {
		return strings.TrimSpace(c.InnerText())
	}
	return ""
}

func parseRSSDate(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, strings.TrimSpace(value)); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// upstreamStatus trusts an upstream lifecycle value when it is one we know,
// and otherwise classifies from the text.
func upstreamStatus(raw, text string) models.Status {
	switch s := models.Status(strings.ToLower(strings.TrimSpace(raw))); s {
	case models.StatusInvestigating, models.StatusIdentified, models.StatusMonitoring, models.StatusResolved:
		return s
	}
	if raw != "" {
		if st := classify.Status(raw); st != models.StatusInvestigating {
			return st
		}
	}
	return classify.Status(text)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
