// Package telemetry wires the OpenTelemetry meter provider to a Prometheus
// scrape endpoint.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// Telemetry owns the meter provider and, when a bind address is set, the
// metrics HTTP server.
type Telemetry struct {
	provider *sdkmetric.MeterProvider
	handler  http.Handler
	server   *http.Server
	log      *slog.Logger
}

// Setup installs a global meter provider exporting to a private Prometheus
// registry. The registry also carries the Go runtime and process
// collectors.
func Setup(ctx context.Context, serviceName, version string, logger *slog.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		),
	)
	if err != nil {
		return nil, err
	}

	reg := promclient.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t := &Telemetry{log: logger.With(slog.String("component", "telemetry"))}

	exporter, err := prometheus.New(prometheus.WithRegisterer(reg))
	if err != nil {
		t.log.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		t.provider = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	} else {
		t.provider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exporter),
			sdkmetric.WithResource(res),
		)
		t.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	otel.SetMeterProvider(t.provider)
	return t, nil
}

// Handler serves the Prometheus exposition format, or nil if the exporter
// could not be created.
func (t *Telemetry) Handler() http.Handler { return t.handler }

// Serve exposes /metrics on bind in the background and returns the bound
// address.
func (t *Telemetry) Serve(bind string) (string, error) {
	if t.handler == nil {
		return "", errors.New("metrics exporter unavailable")
	}
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", t.handler)
	t.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()
	t.log.Info("metrics listening", slog.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}

// Shutdown stops the server and flushes the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.provider.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
