package telemetry

import (
	"fmt"
	"io"
	"os"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Exporter kinds accepted by NewExporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterGCP    = "gcp"
)

// ExporterConfig selects where finished spans are sent.
type ExporterConfig struct {
	Kind      string
	ProjectID string
	// Writer receives stdout spans; nil means os.Stdout.
	Writer io.Writer
}

// NewExporter builds the configured span exporter. It returns nil when
// tracing export is disabled.
func NewExporter(cfg ExporterConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Kind {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		return exp, nil
	case ExporterGCP:
		if cfg.ProjectID == "" {
			return nil, fmt.Errorf("gcp trace exporter needs a project id")
		}
		exp, err := texporter.New(texporter.WithProjectID(cfg.ProjectID))
		if err != nil {
			return nil, fmt.Errorf("create google trace exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter: %s", cfg.Kind)
	}
}

// ProviderOptions wraps exp in a batching processor, the way every run
// exports spans. A nil exporter yields no options.
func ProviderOptions(exp sdktrace.SpanExporter) []sdktrace.TracerProviderOption {
	opts := []sdktrace.TracerProviderOption{sdktrace.WithSampler(sdktrace.AlwaysSample())}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return opts
}
