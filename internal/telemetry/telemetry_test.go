package telemetry

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestMetricsExposedThroughHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel, err := Setup(context.Background(), "textmusic-test", "dev", logger)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	counter, err := otel.Meter("telemetry-test").Int64Counter("textmusic_test_events")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	if tel.Handler() == nil {
		t.Fatalf("expected a metrics handler")
	}
	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "textmusic_test_events_total") {
		t.Fatalf("counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("runtime collector missing from exposition")
	}
}

func TestServeBindsEphemeralPort(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tel, err := Setup(context.Background(), "textmusic-test", "dev", logger)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	addr, err := tel.Serve("127.0.0.1:0")
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
