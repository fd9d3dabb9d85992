package sources

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"healthwatch/internal/fetch"
	"healthwatch/pkg/models"
)

// Spec is the declarative description of one adapter instance.
type Spec struct {
	Kind      string
	Name      string
	Service   models.ServiceName
	Endpoints map[string]string
	Probes    []string
	MaxItems  int
	MaxAge    time.Duration

	Probability float64
	FailureRate float64
	Seed        int64
}

// Endpoint returns the named endpoint or def when unset.
func (s Spec) Endpoint(name, def string) string {
	if v := strings.TrimSpace(s.Endpoints[name]); v != "" {
		return v
	}
	return def
}

// Deps carries the shared collaborators adapters are built with.
type Deps struct {
	Fetcher fetch.Fetcher
	Prober  fetch.Prober
	Now     func() time.Time
}

// Constructor builds a Source from a Spec.
type Constructor func(spec Spec, deps Deps) (Source, error)

// Registry maps adapter kinds to constructors. Kinds are case-insensitive.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]Constructor)}
}

// DefaultRegistry returns a registry with every built-in adapter kind.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.mustRegister(KindAzure, newAzureFromSpec)
	r.mustRegister(KindMicrosoft365, newM365FromSpec)
	r.mustRegister(KindEntra, newEntraFromSpec)
	r.mustRegister(KindGitHub, newGitHubFromSpec)
	r.mustRegister(KindSimulated, newSimulatedFromSpec)
	return r
}

// Register adds a constructor by kind.
func (r *Registry) Register(kind string, ctor Constructor) error {
	if kind == "" {
		return fmt.Errorf("registry: source kind required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(kind)
	if _, exists := r.kinds[key]; exists {
		return fmt.Errorf("registry: source %s already registered", kind)
	}
	r.kinds[key] = ctor
	return nil
}

func (r *Registry) mustRegister(kind string, ctor Constructor) {
	if err := r.Register(kind, ctor); err != nil {
		panic(err)
	}
}

// Kinds returns the sorted registered kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the adapter described by spec.
func (r *Registry) Build(spec Spec, deps Deps) (Source, error) {
	r.mu.RLock()
	ctor, ok := r.kinds[strings.ToLower(spec.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: unknown source kind %q", spec.Kind)
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return ctor(spec, deps)
}
