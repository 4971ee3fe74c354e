package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the simulation metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	Ticks          prometheus.Counter
	TickDuration   prometheus.Histogram
	Overruns       prometheus.Counter
	Resets         prometheus.Counter
	SyncRequests   prometheus.Counter
	SyncTimeouts   prometheus.Counter
	AsyncAccepted  prometheus.Counter
	AsyncStale     prometheus.Counter
	AdminCommands  *prometheus.CounterVec
	BroadcastDrops *prometheus.CounterVec
	Subscribers    *prometheus.GaugeVec
}

// NewCollector registers the metrics against reg, defaulting to the global
// registry when nil. Registering twice against the same registry reuses the
// existing collectors.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{gatherer: gatherer}
	var err error

	counters := []struct {
		dst  *prometheus.Counter
		name string
		help string
	}{
		{&c.Ticks, "vehsim_ticks_total", "Simulation ticks executed."},
		{&c.Overruns, "vehsim_deadline_overruns_total", "Ticks that finished after their pacing deadline."},
		{&c.Resets, "vehsim_resets_total", "Reset transitions performed."},
		{&c.SyncRequests, "vehsim_sync_requests_total", "Synchronous control requests dispatched."},
		{&c.SyncTimeouts, "vehsim_sync_timeouts_total", "Synchronous control requests that timed out."},
		{&c.AsyncAccepted, "vehsim_async_accepted_total", "Asynchronous control messages applied."},
		{&c.AsyncStale, "vehsim_async_stale_total", "Asynchronous control messages dropped for a stale schema version."},
	}
	for _, ct := range counters {
		*ct.dst, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: ct.name,
			Help: ct.help,
		}), ct.name)
		if err != nil {
			return nil, err
		}
	}

	c.TickDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "vehsim_tick_duration_seconds",
		Help:    "Wall time spent computing one tick, excluding pacing sleep.",
		Buckets: []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
	}), "vehsim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	c.AdminCommands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehsim_admin_commands_total",
		Help: "Administrative commands handled, labeled by type and result.",
	}, []string{"type", "result"}), "vehsim_admin_commands_total")
	if err != nil {
		return nil, err
	}

	c.BroadcastDrops, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vehsim_broadcast_drops_total",
		Help: "Broadcast frames dropped because a subscriber queue was full.",
	}, []string{"channel"}), "vehsim_broadcast_drops_total")
	if err != nil {
		return nil, err
	}

	c.Subscribers, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vehsim_subscribers",
		Help: "Connected websocket clients per channel.",
	}, []string{"channel"}), "vehsim_subscribers")
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Collector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveTick(seconds float64, overrun bool) {
	if c == nil {
		return
	}
	c.Ticks.Inc()
	c.TickDuration.Observe(seconds)
	if overrun {
		c.Overruns.Inc()
	}
}

func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.Resets.Inc()
}

func (c *Collector) SyncRequest() {
	if c == nil {
		return
	}
	c.SyncRequests.Inc()
}

func (c *Collector) SyncTimeout() {
	if c == nil {
		return
	}
	c.SyncTimeouts.Inc()
}

func (c *Collector) AsyncControl(accepted bool) {
	if c == nil {
		return
	}
	if accepted {
		c.AsyncAccepted.Inc()
	} else {
		c.AsyncStale.Inc()
	}
}

func (c *Collector) AdminCommand(kind string, ok bool) {
	if c == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	c.AdminCommands.WithLabelValues(kind, result).Inc()
}

func (c *Collector) BroadcastDrop(channel string) {
	if c == nil {
		return
	}
	c.BroadcastDrops.WithLabelValues(channel).Inc()
}

func (c *Collector) SubscriberDelta(channel string, delta float64) {
	if c == nil {
		return
	}
	c.Subscribers.WithLabelValues(channel).Add(delta)
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T, name string) (T, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return col, nil
}
