package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "cne-crawler-test", "run-1", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := Tracer().Start(context.Background(), "station.process")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "station.process", ended[0].Name())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))

	var found bool
	for _, kv := range ended[0].Resource().Attributes() {
		if string(kv.Key) == "crawler.run_id" {
			found = kv.Value.AsString() == "run-1"
		}
	}
	require.True(t, found)
}

func TestStdoutExporterFlushesOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	exp, err := NewExporter(ExporterConfig{Kind: ExporterStdout, Writer: &buf})
	require.NoError(t, err)
	require.NotNil(t, exp)

	tp, err := InitTracerProvider(context.Background(), "cne-crawler-test", "run-7", ProviderOptions(exp)...)
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "station.process")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	require.Contains(t, buf.String(), `"Name":"station.process"`)
	require.Contains(t, buf.String(), "run-7")
}

func TestNewExporterSelection(t *testing.T) {
	t.Parallel()

	exp, err := NewExporter(ExporterConfig{Kind: ExporterNone})
	require.NoError(t, err)
	require.Nil(t, exp)
	require.Len(t, ProviderOptions(nil), 1)

	_, err = NewExporter(ExporterConfig{Kind: ExporterGCP})
	require.EqualError(t, err, "gcp trace exporter needs a project id")

	_, err = NewExporter(ExporterConfig{Kind: "jaeger"})
	require.EqualError(t, err, "unknown trace exporter: jaeger")
}
