package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// SourceHealth is a point-in-time view of one source's fetch health.
type SourceHealth struct {
	Name          string
	CircuitState  gobreaker.State
	Counts        gobreaker.Counts
	Successes     int64
	Failures      int64
	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string
}

// IsHealthy returns true while the breaker is closed.
func (h *SourceHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded returns true while the breaker is probing (half-open).
func (h *SourceHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy returns true while the breaker is open.
func (h *SourceHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

type breakerView interface {
	CircuitBreakerState() gobreaker.State
	CircuitBreakerCounts() gobreaker.Counts
}

type registeredSource struct {
	client        breakerView
	successes     int64
	failures      int64
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// Registry tracks fetch clients by source name. Clients register themselves
// when created with a Registry in their config.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*registeredSource
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[string]*registeredSource),
		now:     time.Now,
	}
}

// Register adds or replaces a source.
func (r *Registry) Register(name string, client breakerView) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = &registeredSource{client: client}
}

// RecordSuccess records a completed fetch.
func (r *Registry) RecordSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[name]; ok {
		now := r.now()
		s.successes++
		s.lastSuccessAt = &now
	}
}

// RecordFailure records a fetch that produced no usable response.
func (r *Registry) RecordFailure(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sources[name]; ok {
		now := r.now()
		s.failures++
		s.lastFailureAt = &now
		if err != nil {
			s.lastError = err.Error()
		}
	}
}

// Health returns the health of one source, or nil when unknown.
func (r *Registry) Health(name string) *SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[name]
	if !ok {
		return nil
	}
	return s.snapshot(name)
}

// AllHealth returns the health of every source ordered by name.
func (r *Registry) AllHealth() []*SourceHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)

	health := make([]*SourceHealth, 0, len(names))
	for _, name := range names {
		health = append(health, r.sources[name].snapshot(name))
	}
	return health
}

func (s *registeredSource) snapshot(name string) *SourceHealth {
	return &SourceHealth{
		Name:          name,
		CircuitState:  s.client.CircuitBreakerState(),
		Counts:        s.client.CircuitBreakerCounts(),
		Successes:     s.successes,
		Failures:      s.failures,
		LastSuccessAt: s.lastSuccessAt,
		LastFailureAt: s.lastFailureAt,
		LastError:     s.lastError,
	}
}
