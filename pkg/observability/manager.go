package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// Manager owns the observability stack for one process: the meter, the
// tracer provider, the event log, and the health registry. Zero value
// is a valid all-disabled manager.
type Manager struct {
	cfg      Config
	metrics  *Metrics
	provider trace.TracerProvider
	events   *EventLog
	health   *HealthRegistry
}

// NewManager builds a manager; Initialize brings the exporters up.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, health: NewHealthRegistry()}
}

// Initialize starts the meter, the tracer, and the event log.
// eventPath locates the NDJSON event sink; empty disables events.
func (m *Manager) Initialize(ctx context.Context, eventPath string) error {
	metrics, err := InitMetrics(m.cfg.Metrics)
	if err != nil {
		return fmt.Errorf("metrics init failed: %w", err)
	}
	m.metrics = metrics

	provider, err := InitTracer(ctx, m.cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	m.provider = provider

	if eventPath != "" {
		events, err := OpenEventLog(eventPath, m.cfg.Tracing.ServiceName)
		if err != nil {
			return fmt.Errorf("event log init failed: %w", err)
		}
		m.events = events
	}
	return nil
}

// Metrics returns the instruments; nil-safe to record on.
func (m *Manager) Metrics() *Metrics { return m.metrics }

// Events returns the event log; nil-safe to log to.
func (m *Manager) Events() *EventLog { return m.events }

// Health returns the component health registry.
func (m *Manager) Health() *HealthRegistry { return m.health }

// Shutdown flushes exporters and closes the event sink.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	if sd, ok := m.provider.(interface{ Shutdown(context.Context) error }); ok {
		if err := sd.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.events.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown: %v", errs)
	}
	return nil
}
