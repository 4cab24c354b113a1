// Package tracing wraps OpenTelemetry so the kernel can open a span per
// syscall without importing the SDK. Until Init is called every span is a
// no-op.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/evanphx/minikern"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	output   io.Closer
)

// Init installs a stdout exporter writing to outputFile, or os.Stdout
// when it is empty. It does nothing while a provider is installed.
func Init(serviceName, serviceVersion, outputFile string) error {
	mu.Lock()
	defer mu.Unlock()

	if provider != nil {
		return nil
	}

	var (
		w      io.Writer = os.Stdout
		closer io.Closer
	)

	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}

		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err == nil {
		err = install(serviceName, serviceVersion, exporter)
	}

	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return err
	}

	output = closer

	return nil
}

func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	mu.Lock()
	defer mu.Unlock()

	if exporter == nil || provider != nil {
		return nil
	}

	return install(serviceName, serviceVersion, exporter)
}

func install(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)

	return nil
}

// Shutdown flushes the installed provider and closes its output file.
// A later Init installs a fresh provider.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()

	if provider == nil {
		return nil
	}

	err := provider.Shutdown(ctx)
	provider = nil

	if output != nil {
		if cerr := output.Close(); err == nil {
			err = cerr
		}
		output = nil
	}

	return err
}

type Span struct {
	span trace.Span
}

func (s *Span) WithAttributes(attrs map[string]string) *Span {
	if s == nil || len(attrs) == 0 {
		return s
	}

	kv := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		kv = append(kv, attribute.String(k, v))
	}

	s.span.SetAttributes(kv...)
	return s
}

func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// EndSpan records err, if any, and ends the span.
func EndSpan(sp *Span, err error) {
	if sp == nil {
		return
	}

	if err != nil {
		sp.span.RecordError(err)
		sp.span.SetStatus(codes.Error, err.Error())
	} else {
		sp.span.SetStatus(codes.Ok, "")
	}

	sp.span.End()
}
