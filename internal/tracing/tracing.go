// Package tracing configures the OpenTelemetry tracer provider used for
// comparison passes.
package tracing

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/example/facefinder/internal/config"
	"github.com/example/facefinder/internal/logging"
)

const ServiceName = "facefinder"

// NewProvider builds a tracer provider for cfg. With the none exporter spans
// are still sampled and recorded, so trace IDs appear in pass logs.
func NewProvider(ctx context.Context, cfg config.TracingConfig, stdout io.Writer) (*sdktrace.TracerProvider, error) {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}

	switch cfg.Exporter {
	case config.TracingNone, "":
	case config.TracingStdout:
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(stdout))
		if err != nil {
			return nil, logging.NewOperationError("tracing.stdout_exporter", "", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	case config.TracingOTLP:
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, logging.NewOperationError("tracing.otlp_exporter", "", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	default:
		return nil, fmt.Errorf("tracing: unknown exporter %q", cfg.Exporter)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// Setup installs the provider globally and returns its shutdown function,
// which flushes pending spans.
func Setup(ctx context.Context, cfg config.TracingConfig, stdout io.Writer, logger *zap.Logger) (func(context.Context) error, error) {
	tp, err := NewProvider(ctx, cfg, stdout)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	logger.Info("tracing configured",
		zap.String("exporter", cfg.Exporter),
		zap.Float64("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}
