package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SessionCollector bundles the Prometheus metrics of the session server.
// A nil *SessionCollector is valid and records nothing.
type SessionCollector struct {
	gatherer prometheus.Gatherer

	RoomsActive       prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	TickDuration      prometheus.Histogram
	MessagesSent      *prometheus.CounterVec
	BytesSent         prometheus.Counter
	SlowDisconnects   prometheus.Counter
	DecodeErrors      prometheus.Counter
	RateLimited       prometheus.Counter
	OrdersRejected    prometheus.Counter
	FleetsLaunched    prometheus.Counter
}

// NewSessionCollector registers session metrics against reg, defaulting to
// the global registry when nil.
func NewSessionCollector(reg prometheus.Registerer) (*SessionCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SessionCollector{gatherer: gatherer}
	var err error

	if c.RoomsActive, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planetfall_rooms_active",
		Help: "Number of live rooms.",
	}), "planetfall_rooms_active"); err != nil {
		return nil, err
	}
	if c.ConnectionsActive, err = registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "planetfall_connections_active",
		Help: "Number of connections currently joined to a room.",
	}), "planetfall_connections_active"); err != nil {
		return nil, err
	}
	if c.TickDuration, err = registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "planetfall_tick_duration_seconds",
		Help:    "Time spent advancing every room for one scheduler tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
	}), "planetfall_tick_duration_seconds"); err != nil {
		return nil, err
	}
	if c.MessagesSent, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "planetfall_messages_sent_total",
		Help: "Server messages queued to connections, labeled by kind.",
	}, []string{"kind"}), "planetfall_messages_sent_total"); err != nil {
		return nil, err
	}
	if c.BytesSent, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planetfall_bytes_sent_total",
		Help: "Payload bytes queued to connections.",
	}), "planetfall_bytes_sent_total"); err != nil {
		return nil, err
	}
	if c.SlowDisconnects, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planetfall_slow_consumer_disconnects_total",
		Help: "Connections dropped because their outbound buffer was full.",
	}), "planetfall_slow_consumer_disconnects_total"); err != nil {
		return nil, err
	}
	if c.DecodeErrors, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planetfall_decode_errors_total",
		Help: "Inbound frames discarded because they could not be decoded.",
	}), "planetfall_decode_errors_total"); err != nil {
		return nil, err
	}
	if c.RateLimited, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planetfall_rate_limited_total",
		Help: "Inbound frames discarded by the per-connection rate limiter.",
	}), "planetfall_rate_limited_total"); err != nil {
		return nil, err
	}
	if c.OrdersRejected, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planetfall_orders_rejected_total",
		Help: "Order commands ignored because the sender holds no seat or the sequence was stale.",
	}), "planetfall_orders_rejected_total"); err != nil {
		return nil, err
	}
	if c.FleetsLaunched, err = registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "planetfall_fleets_launched_total",
		Help: "Fleets created by accepted orders.",
	}), "planetfall_fleets_launched_total"); err != nil {
		return nil, err
	}

	return c, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SessionCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records how long one scheduler tick took and how many rooms
// and connections were live afterwards.
func (c *SessionCollector) ObserveTick(d time.Duration, rooms, conns int) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
	c.RoomsActive.Set(float64(rooms))
	c.ConnectionsActive.Set(float64(conns))
}

// MessageSent counts one outbound frame of the given kind.
func (c *SessionCollector) MessageSent(kind string, size int) {
	if c == nil {
		return
	}
	c.MessagesSent.WithLabelValues(kind).Inc()
	c.BytesSent.Add(float64(size))
}

// SlowDisconnect counts a connection dropped for backpressure.
func (c *SessionCollector) SlowDisconnect() {
	if c == nil {
		return
	}
	c.SlowDisconnects.Inc()
}

// DecodeError counts a discarded inbound frame.
func (c *SessionCollector) DecodeError() {
	if c == nil {
		return
	}
	c.DecodeErrors.Inc()
}

// RateLimitedFrame counts an inbound frame dropped by the limiter.
func (c *SessionCollector) RateLimitedFrame() {
	if c == nil {
		return
	}
	c.RateLimited.Inc()
}

// OrderRejected counts an ignored order command.
func (c *SessionCollector) OrderRejected() {
	if c == nil {
		return
	}
	c.OrdersRejected.Inc()
}

// FleetsCreated counts fleets launched by an accepted order.
func (c *SessionCollector) FleetsCreated(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.FleetsLaunched.Add(float64(n))
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, g prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return g, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}
