package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel"

	"github.com/lab1702/planetfall/config"
)

func TestSessionCollectorRecords(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSessionCollector(reg)
	if err != nil {
		t.Fatalf("NewSessionCollector: %v", err)
	}

	c.ObserveTick(2*time.Millisecond, 3, 5)
	c.MessageSent("delta", 100)
	c.MessageSent("delta", 50)
	c.MessageSent("welcome", 400)
	c.SlowDisconnect()
	c.DecodeError()
	c.OrderRejected()
	c.FleetsCreated(2)

	if got := testutil.ToFloat64(c.RoomsActive); got != 3 {
		t.Errorf("rooms gauge = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.ConnectionsActive); got != 5 {
		t.Errorf("connections gauge = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.MessagesSent.WithLabelValues("delta")); got != 2 {
		t.Errorf("delta messages = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.BytesSent); got != 550 {
		t.Errorf("bytes sent = %v, want 550", got)
	}
	if got := testutil.ToFloat64(c.FleetsLaunched); got != 2 {
		t.Errorf("fleets launched = %v, want 2", got)
	}
	if got := histogramSampleCount(t, reg, "planetfall_tick_duration_seconds"); got != 1 {
		t.Errorf("tick histogram samples = %d, want 1", got)
	}
}

func TestSessionCollectorReRegisterReusesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSessionCollector(reg)
	if err != nil {
		t.Fatalf("first NewSessionCollector: %v", err)
	}
	second, err := NewSessionCollector(reg)
	if err != nil {
		t.Fatalf("second NewSessionCollector: %v", err)
	}

	first.DecodeError()
	if got := testutil.ToFloat64(second.DecodeErrors); got != 1 {
		t.Errorf("second collector sees %v decode errors, want 1", got)
	}
}

func TestNilSessionCollectorIsSafe(t *testing.T) {
	var c *SessionCollector
	c.ObserveTick(time.Millisecond, 1, 1)
	c.MessageSent("pong", 4)
	c.SlowDisconnect()
	c.DecodeError()
	c.RateLimitedFrame()
	c.OrderRejected()
	c.FleetsCreated(1)
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSessionCollector(reg)
	if err != nil {
		t.Fatalf("NewSessionCollector: %v", err)
	}
	c.MessageSent("snapshot", 10)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `planetfall_messages_sent_total{kind="snapshot"} 1`) {
		t.Errorf("metrics output missing snapshot counter:\n%s", rec.Body.String())
	}
}

func TestInitTracingWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), config.TracingConfig{
		Enabled:     true,
		ServiceName: "planetfall-test",
		SampleRatio: 1,
	}, &buf, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "tick")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), `"Name": "tick"`) && !strings.Contains(buf.String(), `"Name":"tick"`) {
		t.Errorf("span not exported, output:\n%s", buf.String())
	}

	if _, err := InitTracing(context.Background(), config.TracingConfig{}, nil, nil); err != nil {
		t.Fatalf("InitTracing disabled: %v", err)
	}
}

func histogramSampleCount(t *testing.T, reg *prometheus.Registry, name string) uint64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_HISTOGRAM {
			continue
		}
		for _, m := range mf.GetMetric() {
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}
