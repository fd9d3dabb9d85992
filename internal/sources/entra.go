package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"healthwatch/internal/fetch"
	"healthwatch/internal/logger"
	"healthwatch/pkg/models"
)

// KindEntra is the registry kind of the Entra ID adapter.
const KindEntra = "entra"

// DefaultEntraProbes are the identity endpoints checked for reachability.
var DefaultEntraProbes = []string{
	"https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
	"https://graph.microsoft.com/v1.0/$metadata",
}

// EntraConfig configures the Entra adapter.
type EntraConfig struct {
	Probes []string
	Now    func() time.Time
}

// Entra infers identity platform health from endpoint reachability.
type Entra struct {
	cfg    EntraConfig
	prober fetch.Prober
}

// NewEntra creates the Entra adapter.
func NewEntra(cfg EntraConfig, prober fetch.Prober) *Entra {
	if len(cfg.Probes) == 0 {
		cfg.Probes = append([]string(nil), DefaultEntraProbes...)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Entra{cfg: cfg, prober: prober}
}

func newEntraFromSpec(spec Spec, deps Deps) (Source, error) {
	if deps.Prober == nil {
		return nil, fmt.Errorf("entra source requires a prober")
	}
	return NewEntra(EntraConfig{Probes: spec.Probes, Now: deps.Now}, deps.Prober), nil
}

// Service implements Source.
func (e *Entra) Service() models.ServiceName { return models.ServiceEntra }

// Name implements Source.
func (e *Entra) Name() string { return "Entra ID Health" }

type entraProbeResult struct {
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

// Fetch implements Source. Probe failures become an alert; the adapter is
// only unavailable when the cycle itself was cancelled.
func (e *Entra) Fetch(ctx context.Context) ([]models.Alert, error) {
	if err := ctx.Err(); err != nil {
		return nil, Unavailable(e, err)
	}

	results := make([]entraProbeResult, len(e.cfg.Probes))
	var wg sync.WaitGroup
	for i, url := range e.cfg.Probes {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i].URL = url
			if err := e.prober.Probe(ctx, url); err != nil {
				results[i].Error = err.Error()
			}
		}(i, url)
	}
	wg.Wait()

	if errors.Is(ctx.Err(), context.Canceled) {
		return nil, Unavailable(e, ctx.Err())
	}

	var failed []string
	for _, r := range results {
		if r.Error != "" {
			failed = append(failed, r.URL)
		}
	}
	total := len(results)
	logger.Debugf("Entra probes: %d/%d failed", len(failed), total)
	if total == 0 || len(failed)*2 < total {
		return []models.Alert{}, nil
	}

	severity := models.SeverityMedium
	if len(failed) == total {
		severity = models.SeverityHigh
	}
	now := e.cfg.Now().UTC()
	day := now.Truncate(24 * time.Hour)
	return []models.Alert{{
		ExternalID:  "entra-health-" + day.Format("20060102"),
		ServiceName: models.ServiceEntra,
		Title:       "Microsoft Entra ID - Service Connectivity Issues",
		Impact: fmt.Sprintf("%d of %d identity endpoints are unreachable: %s",
			len(failed), total, strings.Join(failed, ", ")),
		Severity:         severity,
		Status:           models.StatusInvestigating,
		Region:           models.DefaultRegion,
		AffectedServices: []string{"Authentication", "Microsoft Graph"},
		SourceAPI:        "Entra Health Check",
		StartTime:        now,
		RawPayload:       rawJSON(results),
	}}, nil
}
