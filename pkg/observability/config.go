// Package observability wires metrics, tracing, the structured event
// log, and health checks behind one manager. Metrics flow through the
// OpenTelemetry meter into a Prometheus exporter; traces go to an OTLP
// collector or stdout; events land as NDJSON lines in the data
// directory.
package observability

import (
	"fmt"
)

// Config configures tracing and metrics.
type Config struct {
	// Tracing configures OpenTelemetry span export.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Metrics configures the Prometheus meter.
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures span export. Disabled, all span calls are
// no-ops.
type TracingConfig struct {
	// Enabled turns on span export.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter selects the backend: otlp or stdout.
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint of the OTLP gRPC collector.
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the fraction of traces kept, in [0,1].
	SamplingRate *float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this process in exported spans.
	ServiceName string `yaml:"service_name,omitempty"`
}

// MetricsConfig configures the Prometheus meter.
type MetricsConfig struct {
	// Enabled turns on metric collection. Default true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	return nil
}

// SetDefaults applies default values.
func (c *TracingConfig) SetDefaults() {
	if c.Exporter == "" {
		c.Exporter = "otlp"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.SamplingRate == nil {
		rate := 1.0
		c.SamplingRate = &rate
	}
	if c.ServiceName == "" {
		c.ServiceName = "mnemo"
	}
}

// Validate checks the tracing configuration.
func (c *TracingConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Exporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("invalid exporter %q (valid: otlp, stdout)", c.Exporter)
	}
	if c.Exporter == "otlp" && c.Endpoint == "" {
		return fmt.Errorf("endpoint is required for the otlp exporter")
	}
	if *c.SamplingRate < 0 || *c.SamplingRate > 1 {
		return fmt.Errorf("sampling_rate must be in [0, 1], got %f", *c.SamplingRate)
	}
	return nil
}

// SetDefaults applies default values.
func (c *MetricsConfig) SetDefaults() {
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
	if c.Namespace == "" {
		c.Namespace = "mnemo"
	}
}

// MetricsEnabled reports whether metric collection is on.
func (c *MetricsConfig) MetricsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
