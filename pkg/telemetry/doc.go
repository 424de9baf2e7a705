// Package telemetry provides observability instrumentation for the template
// upgrade tool.
//
// It combines structured logging (zerolog) with optional distributed tracing
// (OpenTelemetry). Logs are written to stderr so stdout stays reserved for
// the human-readable progress stream that graphical front-ends parse.
//
// Initialize at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	logger, err := telemetry.NewLogger(cfg.Logging)
//	tracer, err := telemetry.NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
//	defer tracer.Shutdown(context.Background())
//
// Component loggers carry structured context through the workflow:
//
//	log := logger.NewComponentLogger("engine").WithTemplate("debian-12")
//	log.Info("starting upgrade")
//
// When tracing is enabled, each upgrade run produces one root span and one
// child span per procedure step. Supported exporters: OTLP gRPC (production)
// and stdout (development).
package telemetry
