// Package metrics implements the MetricsAggregator of spec.md §4.6: it
// samples the controller's periodic ticks into a bounded ring history,
// derives moving averages/trend/peaks, and raises alerts when thresholds
// are crossed.
//
// Grounded on original_source/stats/StatsAggregator.{h,cpp}: updateStats
// -> Update, calculateAggregatedStats -> deriveMetricsLocked,
// calculateMovingAverage/calculateTrend kept as named concepts but the
// trend slope is computed with gonum's OLS instead of a hand-rolled loop
// (domain stack, see SPEC_FULL.md §4.6).
package metrics

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"gonum.org/v1/gonum/stat"

	"github.com/elcorderodedios/assemblyline/internal/eventbus"
)

const (
	trendWindow = 10

	// Alert thresholds, spec.md §4.6.
	highQueueUtilization = 0.80
	lowThroughputFactor   = 0.5
	highErrorRate         = 0.10

	alertDedupWindow = time.Second
)

// Sample is one timestamped tick of the MetricsSample map described in
// spec.md §3 and §4.6.
type Sample struct {
	Time   time.Time
	Values map[string]float64
}

// Config controls the aggregator's retained history and built-in
// thresholds, per spec.md §6.
type Config struct {
	MaxHistorySize      int     // default 300 (H)
	ExpectedThroughput  float64 // default 10 items/min, for LOW_THROUGHPUT
	BufferKeys          []string
	StationKeys         []string
	// CustomRules are additive antonmedv/expr expressions evaluated
	// against the combined current+derived metrics map on every update.
	// A rule that fails to compile or whose result isn't boolean is
	// logged and disabled — the same defensive shape as the teacher's
	// WorkflowEngine.evaluateRule — and never crashes the aggregator.
	CustomRules []string
}

func (c Config) withDefaults() Config {
	if c.MaxHistorySize <= 0 {
		c.MaxHistorySize = 300
	}
	if c.ExpectedThroughput <= 0 {
		c.ExpectedThroughput = 10
	}
	if len(c.BufferKeys) == 0 {
		c.BufferKeys = []string{"b1", "b2", "b3", "b4"}
	}
	if len(c.StationKeys) == 0 {
		c.StationKeys = []string{"intake", "assembler", "quality_inspection", "packaging", "shipping"}
	}
	return c
}

type compiledRule struct {
	text    string
	program *vm.Program
}

// Aggregator implements pipeline.Aggregator.
type Aggregator struct {
	cfg Config
	bus *eventbus.Bus
	log *slog.Logger
	prom *PromBridge

	mu          sync.Mutex
	history     []Sample
	current     map[string]float64
	startTime   time.Time
	lastSample  Sample
	haveLast    bool
	throughputSeries []float64 // per-tick instantaneous throughput, items/min
	wipSeries        []float64 // per-tick WIP count

	peakThroughput float64
	peakWIP        float64

	rulesMu sync.Mutex
	rules   []compiledRule

	lastAlertMu sync.Mutex
	lastAlertAt map[string]time.Time
}

// New builds an Aggregator. prom may be nil to skip the Prometheus bridge.
func New(cfg Config, bus *eventbus.Bus, log *slog.Logger, prom *PromBridge) *Aggregator {
	cfg = cfg.withDefaults()
	a := &Aggregator{
		cfg:         cfg,
		bus:         bus,
		log:         log.With("component", "metrics"),
		prom:        prom,
		startTime:   time.Now(),
		lastAlertAt: make(map[string]time.Time),
	}
	for _, text := range cfg.CustomRules {
		a.AddCustomRule(text)
	}
	return a
}

// AddCustomRule compiles and registers a rule. A rule that fails to
// compile is logged and dropped.
func (a *Aggregator) AddCustomRule(text string) {
	program, err := expr.Compile(text)
	if err != nil {
		a.log.Warn("custom alert rule failed to compile, disabling", "rule", text, "error", err)
		return
	}
	a.rulesMu.Lock()
	a.rules = append(a.rules, compiledRule{text: text, program: program})
	a.rulesMu.Unlock()
}

// Update appends sample to the history, recomputes derived metrics,
// checks alerts, and emits the statsUpdated/aggregatedStatsChanged/
// alertTriggered events of spec.md §6.
func (a *Aggregator) Update(sample map[string]float64) {
	now := time.Now()

	a.mu.Lock()
	a.current = copyMap(sample)
	a.history = append(a.history, Sample{Time: now, Values: copyMap(sample)})
	if len(a.history) > a.cfg.MaxHistorySize {
		a.history = a.history[len(a.history)-a.cfg.MaxHistorySize:]
	}
	derived := a.deriveMetricsLocked(now)
	current := copyMap(a.current)
	a.mu.Unlock()

	a.bus.Publish(eventbus.Event{Kind: eventbus.StatsUpdated, Current: current})
	a.bus.Publish(eventbus.Event{Kind: eventbus.AggregatedStatsChanged, Derived: derived})

	a.checkAlerts(current, derived)
	a.checkCustomRules(current, derived)

	if a.prom != nil {
		a.prom.observe(current)
	}
}

// Reset clears history and derived state, for PipelineController.Reset.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.history = nil
	a.current = nil
	a.startTime = time.Now()
	a.peakThroughput = 0
	a.peakWIP = 0
	a.throughputSeries = nil
	a.wipSeries = nil
	a.haveLast = false
	a.lastSample = Sample{}
	a.mu.Unlock()

	a.lastAlertMu.Lock()
	a.lastAlertAt = make(map[string]time.Time)
	a.lastAlertMu.Unlock()
}

// Current returns a snapshot of the most recent sample.
func (a *Aggregator) Current() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return copyMap(a.current)
}

// History returns a copy of the retained samples, oldest first.
func (a *Aggregator) History() []Sample {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Sample, len(a.history))
	copy(out, a.history)
	return out
}

// deriveMetricsLocked must be called with a.mu held. It computes the
// instantaneous per-tick throughput from the delta against the previous
// sample, appends it to the running series, and derives moving
// averages/trend/peaks from that series — mirroring
// StatsAggregator::calculateAggregatedStats, which likewise diffs
// consecutive snapshots rather than averaging the cumulative counter
// directly.
func (a *Aggregator) deriveMetricsLocked(now time.Time) map[string]float64 {
	derived := map[string]float64{}

	elapsed := now.Sub(a.startTime).Seconds()
	finished := a.current["finished_count"]
	overallThroughput := 0.0
	if elapsed > 0 {
		overallThroughput = finished * 60 / elapsed
	}
	derived["overall_throughput"] = overallThroughput

	wip := 0.0
	for _, key := range a.cfg.BufferKeys {
		wip += a.current[key+"_size"]
	}
	derived["wip_count"] = wip

	instThroughput := overallThroughput
	if a.haveLast {
		dt := now.Sub(a.lastSample.Time).Minutes()
		if dt > 0 {
			instThroughput = (finished - a.lastSample.Values["finished_count"]) / dt
		}
	}
	a.lastSample = Sample{Time: now, Values: copyMap(a.current)}
	a.haveLast = true

	a.throughputSeries = appendBounded(a.throughputSeries, instThroughput, a.cfg.MaxHistorySize)
	a.wipSeries = appendBounded(a.wipSeries, wip, a.cfg.MaxHistorySize)

	a.peakThroughput, a.peakWIP = 0, 0
	for _, v := range a.throughputSeries {
		if v > a.peakThroughput {
			a.peakThroughput = v
		}
	}
	for _, v := range a.wipSeries {
		if v > a.peakWIP {
			a.peakWIP = v
		}
	}
	derived["peak_throughput"] = a.peakThroughput
	derived["peak_wip"] = a.peakWIP

	derived["throughput_ma_1m"] = movingAverage(a.throughputSeries, 60)
	derived["throughput_ma_5m"] = movingAverage(a.throughputSeries, 300)
	derived["wip_ma_1m"] = movingAverage(a.wipSeries, 60)

	derived["throughput_trend"] = trend(a.throughputSeries)
	derived["wip_trend"] = trend(a.wipSeries)

	return derived
}

func appendBounded(series []float64, v float64, max int) []float64 {
	series = append(series, v)
	if max > 0 && len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

// movingAverage is the mean of the last k entries of series, grounded in
// StatsAggregator::calculateMovingAverage's "average over the last N
// updates" semantics.
func movingAverage(series []float64, k int) float64 {
	n := len(series)
	if n == 0 {
		return 0
	}
	if k > n {
		k = n
	}
	sum := 0.0
	for i := n - k; i < n; i++ {
		sum += series[i]
	}
	return sum / float64(k)
}

// trend computes an unweighted OLS slope over the most recent trendWindow
// entries of series via gonum/stat.LinearRegression — grounded in
// StatsAggregator::calculateTrend.
func trend(series []float64) float64 {
	n := len(series)
	if n < 2 {
		return 0
	}
	start := n - trendWindow
	if start < 0 {
		start = 0
	}
	window := series[start:]
	xs := make([]float64, len(window))
	for i := range window {
		xs[i] = float64(i)
	}
	_, slope := stat.LinearRegression(xs, window, nil, false)
	return slope
}

func (a *Aggregator) checkAlerts(current, derived map[string]float64) {
	for _, key := range a.cfg.BufferKeys {
		size := current[key+"_size"]
		capacity := current[key+"_capacity"]
		if capacity <= 0 {
			continue
		}
		util := size / capacity
		if util > highQueueUtilization {
			a.emitAlert("HIGH_QUEUE_UTIL", fmt.Sprintf("%s utilization %.0f%% exceeds %.0f%%", key, util*100, highQueueUtilization*100), util)
		}
	}

	expected := a.cfg.ExpectedThroughput
	if overall := derived["overall_throughput"]; overall < lowThroughputFactor*expected {
		a.emitAlert("LOW_THROUGHPUT", fmt.Sprintf("overall throughput %.2f below %.2f", overall, lowThroughputFactor*expected), overall)
	}

	for _, key := range a.cfg.StationKeys {
		processed := current[key+"_processed"]
		rejected := current[key+"_rejected"]
		total := processed + rejected
		if total <= 0 {
			continue
		}
		rate := rejected / total
		if rate > highErrorRate {
			a.emitAlert("HIGH_ERROR_RATE", fmt.Sprintf("%s rejection rate %.0f%% exceeds %.0f%%", key, rate*100, highErrorRate*100), rate)
		}
	}
}

func (a *Aggregator) checkCustomRules(current, derived map[string]float64) {
	a.rulesMu.Lock()
	rules := make([]compiledRule, len(a.rules))
	copy(rules, a.rules)
	a.rulesMu.Unlock()
	if len(rules) == 0 {
		return
	}

	env := map[string]interface{}{}
	for k, v := range current {
		env[k] = v
	}
	for k, v := range derived {
		env[k] = v
	}

	for _, r := range rules {
		out, err := expr.Run(r.program, env)
		if err != nil {
			a.log.Warn("custom alert rule failed to evaluate", "rule", r.text, "error", err)
			continue
		}
		matched, ok := out.(bool)
		if !ok {
			a.log.Warn("custom alert rule did not return a boolean, disabling", "rule", r.text)
			a.rulesMu.Lock()
			for i := range a.rules {
				if a.rules[i].program == r.program {
					a.rules = append(a.rules[:i], a.rules[i+1:]...)
					break
				}
			}
			a.rulesMu.Unlock()
			continue
		}
		if matched {
			a.emitAlert("CUSTOM_RULE", r.text, 0)
		}
	}
}

// emitAlert publishes alertTriggered, de-duplicated to at most one alert
// per kind+detail per second (spec.md §4.6's "recommended" de-dup).
func (a *Aggregator) emitAlert(kind, message string, value float64) {
	key := kind + ":" + message
	now := time.Now()

	a.lastAlertMu.Lock()
	last, seen := a.lastAlertAt[key]
	if seen && now.Sub(last) < alertDedupWindow {
		a.lastAlertMu.Unlock()
		return
	}
	a.lastAlertAt[key] = now
	a.lastAlertMu.Unlock()

	a.bus.Publish(eventbus.Event{
		Kind:       eventbus.AlertTriggered,
		AlertKind:  kind,
		Message:    message,
		AlertValue: value,
	})
	if a.prom != nil {
		a.prom.ObserveAlert(kind)
	}
}

func copyMap(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
