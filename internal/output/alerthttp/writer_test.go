package alerthttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"healthwatch/pkg/models"
)

type capture struct {
	mu      sync.Mutex
	bodies  []Payload
	headers []http.Header
	status  int
}

func (c *capture) handler(w http.ResponseWriter, r *http.Request) {
	var p Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.bodies = append(c.bodies, p)
	c.headers = append(c.headers, r.Header.Clone())
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusNoContent
	}
	w.WriteHeader(status)
}

func alertIn(id, region string, svc models.ServiceName) models.Alert {
	return models.Alert{ExternalID: id, ServiceName: svc, Region: region, Severity: models.SeverityHigh}
}

func TestWriteChangesPostsBatch(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	w, err := NewWriter(Config{URL: srv.URL, Headers: map[string]string{"X-Token": "abc"}})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	created := []models.Alert{alertIn("a", "East US", models.ServiceAzure)}
	reopened := []models.Alert{alertIn("r", "West Europe", models.ServiceEntra)}
	resolved := []models.Alert{alertIn("b", models.DefaultRegion, models.ServiceGitHub)}
	if err := w.WriteChanges(created, reopened, resolved); err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}

	if len(c.bodies) != 1 {
		t.Fatalf("expected 1 request, got %d", len(c.bodies))
	}
	got := c.bodies[0]
	if len(got.Created) != 1 || got.Created[0].ExternalID != "a" {
		t.Fatalf("unexpected created: %+v", got.Created)
	}
	if len(got.Reopened) != 1 || got.Reopened[0].ExternalID != "r" {
		t.Fatalf("unexpected reopened: %+v", got.Reopened)
	}
	if len(got.Resolved) != 1 || got.Resolved[0].ExternalID != "b" {
		t.Fatalf("unexpected resolved: %+v", got.Resolved)
	}
	if c.headers[0].Get("X-Token") != "abc" || c.headers[0].Get("Content-Type") != "application/json" {
		t.Fatalf("headers not sent: %v", c.headers[0])
	}
}

func TestRegionAndServiceFilters(t *testing.T) {
	c := &capture{}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	w, err := NewWriter(Config{
		URL:      srv.URL,
		Regions:  []string{"west europe"},
		Services: []models.ServiceName{models.ServiceAzure},
	})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	created := []models.Alert{
		alertIn("keep-region", "West Europe", models.ServiceAzure),
		alertIn("keep-global", models.DefaultRegion, models.ServiceAzure),
		alertIn("drop-region", "East US", models.ServiceAzure),
		alertIn("drop-service", "West Europe", models.ServiceGitHub),
	}
	if err := w.WriteChanges(created, nil, nil); err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}
	if len(c.bodies) != 1 || len(c.bodies[0].Created) != 2 {
		t.Fatalf("unexpected filtered batch: %+v", c.bodies)
	}

	// everything filtered: no request
	if err := w.WriteChanges(nil, []models.Alert{alertIn("x", "East US", models.ServiceAzure)}, nil); err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}
	if len(c.bodies) != 1 {
		t.Fatalf("filtered batch should not be sent")
	}
}

func TestWriteChangesReportsHTTPFailure(t *testing.T) {
	c := &capture{status: http.StatusBadGateway}
	srv := httptest.NewServer(http.HandlerFunc(c.handler))
	defer srv.Close()

	w, _ := NewWriter(Config{URL: srv.URL})
	if err := w.WriteChanges([]models.Alert{alertIn("a", "", models.ServiceAzure)}, nil, nil); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestNewWriterRequiresURL(t *testing.T) {
	if _, err := NewWriter(Config{}); err == nil {
		t.Fatalf("expected error for empty URL")
	}
}
