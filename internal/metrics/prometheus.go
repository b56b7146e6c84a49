package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromBridge is a pure observability surface over the same samples the
// Aggregator already derives: it doesn't replace the bespoke aggregator
// (spec.md §4.6 keeps HIGH_QUEUE_UTIL/LOW_THROUGHPUT/HIGH_ERROR_RATE and
// trend math in Go, not PromQL), it just mirrors the numbers onto metrics
// an operator's existing Prometheus/Grafana stack can already scrape.
//
// Grounded on the teacher's internal/metrics/metrics.go: promauto.NewGauge
// for point-in-time gauges, NewCounterVec for monotonic totals by label,
// NewHistogramVec with prometheus.DefBuckets for duration/throughput
// distributions.
type PromBridge struct {
	bufferDepth *prometheus.GaugeVec
	wip         prometheus.Gauge
	processed   *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	throughput  *prometheus.HistogramVec
	alertsFired *prometheus.CounterVec

	lastMu sync.Mutex
	last   map[string]float64 // cumulative sample value last seen, by series key
}

// NewPrometheusBridge registers the bridge's collectors against reg. Pass
// prometheus.DefaultRegisterer for the global registry, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across runs.
func NewPrometheusBridge(reg prometheus.Registerer) *PromBridge {
	factory := promauto.With(reg)
	return &PromBridge{
		last: make(map[string]float64),
		bufferDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "assemblyline",
			Name:      "buffer_depth",
			Help:      "Current number of products queued in an inter-station buffer.",
		}, []string{"buffer"}),
		wip: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "assemblyline",
			Name:      "wip_total",
			Help:      "Total products currently in the four inter-station buffers.",
		}),
		processed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assemblyline",
			Name:      "station_processed_total",
			Help:      "Products a station has forwarded downstream, cumulative.",
		}, []string{"station"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assemblyline",
			Name:      "station_rejected_total",
			Help:      "Products a station has rejected, cumulative.",
		}, []string{"station"}),
		throughput: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "assemblyline",
			Name:      "station_throughput_per_minute",
			Help:      "Observed per-station throughput samples, items/minute.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"station"}),
		alertsFired: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "assemblyline",
			Name:      "alerts_fired_total",
			Help:      "Alerts raised by the metrics aggregator, by kind.",
		}, []string{"kind"}),
	}
}

// observe mirrors one MetricsSample tick onto the Prometheus collectors.
// Worker.Processed/Rejected (and thus the sample's *_processed/*_rejected
// entries) are cumulative counts that only go to zero on
// PipelineController.Reset, so the bridge tracks the last value seen per
// series and adds only the delta — a Prometheus Counter must never
// decrease. A negative delta (the station's counters were reset
// underneath the bridge) resets the tracked baseline instead of
// subtracting.
func (p *PromBridge) observe(sample map[string]float64) {
	wip := 0.0
	for _, buf := range []string{"b1", "b2", "b3", "b4"} {
		size := sample[buf+"_size"]
		p.bufferDepth.WithLabelValues(buf).Set(size)
		wip += size
	}
	p.wip.Set(wip)

	for key, value := range sample {
		switch {
		case strings.HasSuffix(key, "_processed"):
			station := strings.TrimSuffix(key, "_processed")
			p.addDelta(p.processed.WithLabelValues(station), "processed:"+station, value)
		case strings.HasSuffix(key, "_rejected"):
			station := strings.TrimSuffix(key, "_rejected")
			p.addDelta(p.rejected.WithLabelValues(station), "rejected:"+station, value)
		case strings.HasSuffix(key, "_throughput"):
			station := strings.TrimSuffix(key, "_throughput")
			p.throughput.WithLabelValues(station).Observe(value)
		}
	}
}

func (p *PromBridge) addDelta(c prometheus.Counter, seriesKey string, absolute float64) {
	p.lastMu.Lock()
	prev, seen := p.last[seriesKey]
	p.last[seriesKey] = absolute
	p.lastMu.Unlock()

	if !seen {
		return
	}
	delta := absolute - prev
	if delta > 0 {
		c.Add(delta)
	}
}

// ObserveAlert increments the alertsFired counter for kind, called by the
// Aggregator whenever it raises an alert.
func (p *PromBridge) ObserveAlert(kind string) {
	p.alertsFired.WithLabelValues(kind).Inc()
}
