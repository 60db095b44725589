package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// HealthStatus is a component's liveness verdict.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck is one component's result.
type HealthCheck struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
	Timestamp time.Time    `json:"timestamp"`
}

// CheckFunc probes one component. It should respect the context
// deadline; a hung dependency must not hang the health endpoint.
type CheckFunc func(ctx context.Context) (HealthStatus, string)

// HealthReport aggregates all component checks.
type HealthReport struct {
	Status HealthStatus  `json:"status"`
	Checks []HealthCheck `json:"checks"`
}

// HealthRegistry runs registered component checks and aggregates
// them: unhealthy if any component is unhealthy, degraded if any is
// degraded, healthy otherwise.
type HealthRegistry struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry() *HealthRegistry {
	return &HealthRegistry{checks: make(map[string]CheckFunc)}
}

// Register adds or replaces a component check.
func (r *HealthRegistry) Register(component string, fn CheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checks[component] = fn
}

// Overall runs every check with a per-check timeout and aggregates the
// results. Components are reported in name order.
func (r *HealthRegistry) Overall(ctx context.Context) HealthReport {
	r.mu.RLock()
	names := make([]string, 0, len(r.checks))
	for name := range r.checks {
		names = append(names, name)
	}
	fns := make(map[string]CheckFunc, len(r.checks))
	for name, fn := range r.checks {
		fns[name] = fn
	}
	r.mu.RUnlock()
	sort.Strings(names)

	report := HealthReport{Status: StatusHealthy}
	for _, name := range names {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		start := time.Now()
		status, message := fns[name](checkCtx)
		cancel()

		report.Checks = append(report.Checks, HealthCheck{
			Component: name,
			Status:    status,
			Message:   message,
			LatencyMS: time.Since(start).Milliseconds(),
			Timestamp: start.UTC(),
		})
		switch status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	return report
}
