package alerthttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// Writer posts alert changes to a remote webhook.
type Writer struct {
	url      string
	headers  map[string]string
	regions  map[string]struct{}
	services map[models.ServiceName]struct{}
	client   *http.Client
	now      func() time.Time
}

// Config configures the HTTP writer.
//
// Regions and Services narrow the batch; empty means everything. Global
// alerts always pass the region filter.
type Config struct {
	URL      string
	Timeout  time.Duration
	Headers  map[string]string
	Regions  []string
	Services []models.ServiceName
}

// Payload is the JSON body sent per cycle.
type Payload struct {
	SentAt   time.Time      `json:"sent_at"`
	Created  []models.Alert `json:"created"`
	Reopened []models.Alert `json:"reopened"`
	Resolved []models.Alert `json:"resolved"`
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	w := &Writer{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
	if len(cfg.Regions) > 0 {
		w.regions = make(map[string]struct{}, len(cfg.Regions))
		for _, r := range cfg.Regions {
			w.regions[strings.ToLower(strings.TrimSpace(r))] = struct{}{}
		}
	}
	if len(cfg.Services) > 0 {
		w.services = make(map[models.ServiceName]struct{}, len(cfg.Services))
		for _, s := range cfg.Services {
			w.services[s] = struct{}{}
		}
	}
	logger.Infof("Webhook notifier initialized: %s", cfg.URL)
	return w, nil
}

// WriteChanges posts the alerts created, reopened and resolved by one cycle.
// Nothing is sent when the filters leave every list empty.
func (w *Writer) WriteChanges(created, reopened, resolved []models.Alert) error {
	p := Payload{
		SentAt:   w.now().UTC(),
		Created:  w.filter(created),
		Reopened: w.filter(reopened),
		Resolved: w.filter(resolved),
	}
	if len(p.Created) == 0 && len(p.Reopened) == 0 && len(p.Resolved) == 0 {
		return nil
	}

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal alert changes: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status %s", resp.Status)
	}
	logger.Debugf("Webhook delivered: %d created, %d reopened, %d resolved", len(p.Created), len(p.Reopened), len(p.Resolved))
	return nil
}

func (w *Writer) filter(alerts []models.Alert) []models.Alert {
	out := make([]models.Alert, 0, len(alerts))
	for _, a := range alerts {
		if w.services != nil {
			if _, ok := w.services[a.ServiceName]; !ok {
				continue
			}
		}
		if w.regions != nil && !strings.EqualFold(a.Region, models.DefaultRegion) {
			if _, ok := w.regions[strings.ToLower(a.Region)]; !ok {
				continue
			}
		}
		out = append(out, a)
	}
	return out
}

// Close releases HTTP resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
