// Package observability wires the node's logging, metrics, tracing,
// diagnostics and ordered shutdown.
package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ObsConfig is the config subset needed by the observability package.
type ObsConfig struct {
	LogLevel       string
	LogFormat      string
	OTLPEndpoint   string
	OTLPProtocol   string
	SampleRatio    float64
	ServiceName    string
	ServiceVersion string
	NodeID         string
}

// Observability holds all observability components.
type Observability struct {
	Logger         *slog.Logger
	Metrics        *Metrics
	Sink           DiagnosticSink
	TracerProvider trace.TracerProvider
	Shutdown       *ShutdownCoordinator
}

// New initializes logging, metrics, the diagnostic sink and, when an OTLP
// endpoint is configured, tracing.
func New(ctx context.Context, cfg ObsConfig, w io.Writer) (*Observability, error) {
	logger := SetupLogger(cfg.LogLevel, cfg.LogFormat, w)
	shutdown := &ShutdownCoordinator{Logger: logger.With("component", "shutdown")}
	metrics := NewMetrics()

	var tp trace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		sdkTP, err := InitTracer(ctx, TracerConfig{
			Endpoint:       cfg.OTLPEndpoint,
			Protocol:       cfg.OTLPProtocol,
			ServiceName:    cfg.ServiceName,
			ServiceVersion: cfg.ServiceVersion,
			NodeID:         cfg.NodeID,
			SampleRatio:    cfg.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("init tracer: %w", err)
		}
		shutdown.Register("tracer", sdkTP.Shutdown)
		tp = sdkTP
	} else {
		tp = tracenoop.NewTracerProvider()
		logger.Debug("tracing disabled (no otlp_endpoint configured)")
	}

	return &Observability{
		Logger:         logger,
		Metrics:        metrics,
		Sink:           NewLogSink(logger.With("component", "diagnostics"), metrics),
		TracerProvider: tp,
		Shutdown:       shutdown,
	}, nil
}

// Close runs shutdown handlers.
func (o *Observability) Close(ctx context.Context) error {
	return o.Shutdown.Shutdown(ctx)
}

// Handler returns the /metrics and /health mux.
func (o *Observability) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(o.Metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// ServeMetrics starts the metrics HTTP server in the background and
// registers its shutdown.
func (o *Observability) ServeMetrics(addr string) *http.Server {
	srv := &http.Server{Addr: addr, Handler: o.Handler()}

	go func() {
		o.Logger.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.Logger.Error("metrics server error", "error", err)
		}
	}()

	o.Shutdown.Register("metrics-server", srv.Shutdown)
	return srv
}
