package sources

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"healthwatch/internal/classify"
	"healthwatch/pkg/models"
)

// KindSimulated is the registry kind of the synthetic adapter.
const KindSimulated = "simulated"

// ErrSimulatedFailure is the cause carried by injected fetch failures.
var ErrSimulatedFailure = errors.New("simulated upstream failure")

type scenario struct {
	key      string
	title    string
	impact   string
	severity models.Severity
	region   string
	services []string
}

var scenarios = map[models.ServiceName][]scenario{
	models.ServiceAzure: {
		{"vm-perf", "Azure Virtual Machines - Performance Degradation",
			"Virtual Machine instances may experience slower performance. Users may notice increased boot times and reduced network throughput.",
			models.SeverityMedium, "West US", []string{"Azure Virtual Machines", "Azure App Service"}},
		{"storage-access", "Azure Storage - Intermittent Access Issues",
			"Some storage accounts may experience intermittent connectivity issues.",
			models.SeverityLow, "East US", []string{"Azure Storage"}},
		{"sql-outage", "Azure SQL - Database Connectivity Outage",
			"Customers may be unable to connect to Azure SQL databases.",
			models.SeverityHigh, "North Europe", []string{"Azure SQL"}},
	},
	models.ServiceMicrosoft365: {
		{"exchange-delay", "Exchange Online - Email Delivery Delays",
			"Users may experience delays in email delivery of up to 15 minutes.",
			models.SeverityMedium, "US East", []string{"Exchange Online"}},
		{"teams-join", "Teams - Meeting Join Issues",
			"Some users are unable to join Microsoft Teams meetings and experience connection failures.",
			models.SeverityHigh, "Europe", []string{"Teams"}},
		{"sharepoint-upload", "SharePoint Online - File Upload Failures",
			"Users may experience intermittent failures when uploading files to document libraries.",
			models.SeverityLow, "Asia Pacific", []string{"SharePoint", "OneDrive"}},
	},
	models.ServiceEntra: {
		{"auth-delay", "Authentication Delays",
			"Users may experience delays of up to 30 seconds when signing in to applications. Multi-factor authentication prompts may be delayed.",
			models.SeverityHigh, models.DefaultRegion, []string{"Single Sign-On", "Multi-Factor Authentication"}},
		{"signin-latency", "Sign-in Latency",
			"Users may see increased latency when signing into integrated applications.",
			models.SeverityMedium, models.DefaultRegion, []string{"Azure Active Directory"}},
	},
	models.ServiceGitHub: {
		{"actions-delay", "GitHub: Delayed Actions runs",
			"GitHub Actions workflow runs are delayed.",
			models.SeverityMedium, models.DefaultRegion, []string{"Actions"}},
		{"git-ops", "GitHub: Degraded Git operations",
			"Git operations are failing for some users.",
			models.SeverityHigh, models.DefaultRegion, []string{"Git Operations"}},
	},
}

// SimulatedConfig configures the synthetic adapter.
type SimulatedConfig struct {
	Service     models.ServiceName
	Probability float64
	FailureRate float64
	Rand        *rand.Rand
	Now         func() time.Time
}

// Simulated produces synthetic incidents for one service family. It honours
// the same contract as the live adapters and can stand in for any of them.
type Simulated struct {
	cfg SimulatedConfig

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated creates a synthetic adapter.
func NewSimulated(cfg SimulatedConfig) (*Simulated, error) {
	if !cfg.Service.Valid() {
		return nil, fmt.Errorf("simulated source: unknown service %q", cfg.Service)
	}
	if cfg.Probability < 0 || cfg.Probability > 1 {
		return nil, fmt.Errorf("simulated source: probability %.2f out of range", cfg.Probability)
	}
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return nil, fmt.Errorf("simulated source: failure rate %.2f out of range", cfg.FailureRate)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Simulated{cfg: cfg, rnd: rnd}, nil
}

func newSimulatedFromSpec(spec Spec, deps Deps) (Source, error) {
	cfg := SimulatedConfig{
		Service:     spec.Service,
		Probability: spec.Probability,
		FailureRate: spec.FailureRate,
		Now:         deps.Now,
	}
	if spec.Seed != 0 {
		cfg.Rand = rand.New(rand.NewSource(spec.Seed))
	}
	return NewSimulated(cfg)
}

// Service implements Source.
func (s *Simulated) Service() models.ServiceName { return s.cfg.Service }

// Name implements Source.
func (s *Simulated) Name() string { return "Simulated " + s.cfg.Service.DisplayName() }

// Fetch implements Source.
func (s *Simulated) Fetch(ctx context.Context) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(s, err)
	}

	s.mu.Lock()
	fail := s.rnd.Float64() < s.cfg.FailureRate
	hit := s.rnd.Float64() < s.cfg.Probability
	catalogue := scenarios[s.cfg.Service]
	pick := s.rnd.Intn(len(catalogue))
	s.mu.Unlock()

	if fail {
		return nil, Unavailable(s, ErrSimulatedFailure)
	}
	if !hit {
		return []models.Alert{}, nil
	}

	sc := catalogue[pick]
	now := s.cfg.Now().UTC()
	bucket := now.Truncate(time.Hour)
	return []models.Alert{{
		ExternalID:       classify.StableID("sim-"+string(s.cfg.Service), sc.key, strconv.FormatInt(bucket.Unix(), 10)),
		ServiceName:      s.cfg.Service,
		Title:            sc.title,
		Impact:           sc.impact,
		Severity:         sc.severity,
		Status:           models.StatusInvestigating,
		Region:           sc.region,
		AffectedServices: append([]string(nil), sc.services...),
		SourceAPI:        "Simulated",
		StartTime:        bucket,
	}}, nil
}
