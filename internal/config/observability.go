package config

// ObservabilityConfig controls the OpenTelemetry providers. Exporter
// endpoint and auth come from the standard OTEL_EXPORTER_OTLP_* variables.
type ObservabilityConfig struct {
	OTelEnabled bool   `env:"CHRONOS_OTEL_ENABLED" default:"false"`
	ServiceName string `env:"CHRONOS_SERVICE_NAME" default:"chronos"`
}
