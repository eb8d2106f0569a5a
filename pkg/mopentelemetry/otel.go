package mopentelemetry

import (
	"context"
	"log"

	"github.com/lunamall/seckill/pkg"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type Telemetry struct {
	LibraryName               string
	ServiceName               string
	ServiceVersion            string
	DeploymentEnv             string
	CollectorExporterEndpoint string
	EnableTelemetry           bool
	TracerProvider            *sdktrace.TracerProvider
	shutdown                  func()
}

// newResource creates a new resource with default attributes.
func (tl *Telemetry) newResource() (*sdkresource.Resource, error) {
	r, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(tl.ServiceName),
			semconv.ServiceVersion(tl.ServiceVersion),
			semconv.DeploymentEnvironment(tl.DeploymentEnv)),
	)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// newTracerExporter creates a new tracer exporter pointed at the collector endpoint.
func (tl *Telemetry) newTracerExporter(ctx context.Context) (*otlptrace.Exporter, error) {
	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(tl.CollectorExporterEndpoint), otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, err
	}

	return exporter, nil
}

// newTracerProvider creates a new tracer provider with the given exporter and resource.
func (tl *Telemetry) newTracerProvider(rsc *sdkresource.Resource, exp *otlptrace.Exporter) *sdktrace.TracerProvider {
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(rsc),
	)

	return tp
}

// ShutdownTelemetry flushes and stops the configured providers.
func (tl *Telemetry) ShutdownTelemetry() {
	if tl.shutdown != nil {
		tl.shutdown()
	}
}

// InitializeTelemetry initializes the telemetry providers and sets them globally.
func (tl *Telemetry) InitializeTelemetry() *Telemetry {
	ctx := context.Background()

	if !tl.EnableTelemetry {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

		return tl
	}

	r, err := tl.newResource()
	if err != nil {
		log.Fatalf("can't initialize resource: %v", err)
	}

	tExp, err := tl.newTracerExporter(ctx)
	if err != nil {
		log.Fatalf("can't initialize tracer exporter: %v", err)
	}

	tp := tl.newTracerProvider(r, tExp)
	otel.SetTracerProvider(tp)
	tl.TracerProvider = tp

	tl.shutdown = func() {
		if err := tExp.Shutdown(ctx); err != nil {
			log.Fatalf("can't shutdown tracer exporter: %v", err)
		}

		if err := tp.Shutdown(ctx); err != nil {
			log.Fatalf("can't shutdown tracer provider: %v", err)
		}
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tl
}

// SetSpanAttributesFromStruct converts a struct to a JSON string and sets it as an attribute on the span.
func SetSpanAttributesFromStruct(span *trace.Span, key string, valueStruct any) error {
	vStr, err := pkg.StructToJSONString(valueStruct)
	if err != nil {
		return err
	}

	(*span).SetAttributes(attribute.KeyValue{
		Key:   attribute.Key(key),
		Value: attribute.StringValue(vStr),
	})

	return nil
}

// HandleSpanError records the error on the span and marks its status accordingly.
func HandleSpanError(span *trace.Span, message string, err error) {
	(*span).SetStatus(codes.Error, message+": "+err.Error())
	(*span).RecordError(err)
}
