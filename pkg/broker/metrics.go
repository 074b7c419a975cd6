package broker

import "github.com/prometheus/client_golang/prometheus"

// metrics are always allocated so callsites never nil-check; they are
// only registered when a Registerer is configured.
type metrics struct {
	publishes       prometheus.Counter
	deliveries      prometheus.Counter
	misses          prometheus.Counter
	channels        prometheus.Gauge
	patternChannels prometheus.Gauge
	subscriptions   prometheus.Gauge
	inflight        prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "publishes_total",
			Help:      "Publish calls accepted by the broker.",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "deliveries_total",
			Help:      "Delivery tasks scheduled by the local engine.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "publish_misses_total",
			Help:      "Local publishes that matched no subscriber.",
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "channels",
			Help:      "Exact-match channels currently indexed.",
		}),
		patternChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "pattern_channels",
			Help:      "Pattern channels currently indexed.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "subscriptions",
			Help:      "Live subscription objects, including detached ones awaiting in-flight deliveries.",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "crossbar",
			Subsystem: "broker",
			Name:      "inflight_publishes",
			Help:      "Local publishes whose fan-out has not fully completed.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.publishes, m.deliveries, m.misses,
			m.channels, m.patternChannels, m.subscriptions, m.inflight,
		)
	}
	return m
}
