// internal/utils/metrics.go
package utils

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector collects application metrics
type MetricsCollector struct {
	counters   map[string]*int64
	gauges     map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram tracks count, sum, min and max of recorded values.
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = NewMetricsCollector()
	})
	return globalMetrics
}

// NewMetricsCollector returns an empty collector, used by tests and per-run accounting.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// slot returns the value cell for name, creating it under the write lock on first use.
func (m *MetricsCollector) slot(set map[string]*int64, name string) *int64 {
	m.mu.RLock()
	v, exists := set[name]
	m.mu.RUnlock()
	if exists {
		return v
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if v, exists = set[name]; !exists {
		v = new(int64)
		set[name] = v
	}
	return v
}

func (m *MetricsCollector) IncrementCounter(name string) {
	atomic.AddInt64(m.slot(m.counters, name), 1)
}

func (m *MetricsCollector) AddCounter(name string, value int64) {
	atomic.AddInt64(m.slot(m.counters, name), value)
}

func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	v, exists := m.counters[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

func (m *MetricsCollector) SetGauge(name string, value int64) {
	atomic.StoreInt64(m.slot(m.gauges, name), value)
}

func (m *MetricsCollector) IncGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), 1)
}

func (m *MetricsCollector) DecGauge(name string) {
	atomic.AddInt64(m.slot(m.gauges, name), -1)
}

func (m *MetricsCollector) GetGauge(name string) int64 {
	m.mu.RLock()
	v, exists := m.gauges[name]
	m.mu.RUnlock()
	if !exists {
		return 0
	}
	return atomic.LoadInt64(v)
}

// RecordHistogram records a value in a histogram
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		histogram, exists = m.histograms[name]
		if !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics returns a snapshot of all metrics
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, v := range m.counters {
		counters[name] = atomic.LoadInt64(v)
	}

	gauges := make(map[string]int64, len(m.gauges))
	for name, v := range m.gauges {
		gauges[name] = atomic.LoadInt64(v)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

// Cost is kept in micro-dollars so it can be summed atomically.
const microDollars = 1_000_000

// DollarsToMicros converts a dollar amount to the integer unit used by cost counters.
func DollarsToMicros(dollars float64) int64 {
	return int64(math.Round(dollars * microDollars))
}

// MicrosToDollars is the inverse of DollarsToMicros.
func MicrosToDollars(micros int64) float64 {
	return float64(micros) / microDollars
}

// PipelineMetrics names the counters written by the generation stages.
type PipelineMetrics struct {
	metrics *MetricsCollector
	logger  *Logger
}

// NewPipelineMetrics wraps collector; a nil collector selects the global one.
func NewPipelineMetrics(collector *MetricsCollector) *PipelineMetrics {
	if collector == nil {
		collector = GetMetricsCollector()
	}
	return &PipelineMetrics{metrics: collector, logger: GetLogger()}
}

// Collector exposes the underlying collector.
func (pm *PipelineMetrics) Collector() *MetricsCollector {
	return pm.metrics
}

// RecordProviderAttempt counts one clip attempt and its outcome ("success", "transient", "fatal").
func (pm *PipelineMetrics) RecordProviderAttempt(provider, outcome string, duration time.Duration) {
	pm.metrics.IncrementCounter("provider_attempts_total")
	pm.metrics.IncrementCounter(fmt.Sprintf("provider_%s_attempts", provider))
	pm.metrics.IncrementCounter(fmt.Sprintf("provider_%s_%s", provider, outcome))
	pm.metrics.RecordHistogram(fmt.Sprintf("provider_%s_latency_ms", provider), duration.Milliseconds())
}

func (pm *PipelineMetrics) RecordFallbackClip() {
	pm.metrics.IncrementCounter("fallback_clips_total")
}

func (pm *PipelineMetrics) RecordSilentAudio() {
	pm.metrics.IncrementCounter("silent_audio_tracks_total")
}

// AddCost adds a dollar amount to the global cost counter and returns the micro-dollar delta.
func (pm *PipelineMetrics) AddCost(dollars float64) int64 {
	micros := DollarsToMicros(dollars)
	pm.metrics.AddCounter("generation_cost_micros", micros)
	return micros
}

// RecordChapter records the outcome and wall time of a chapter run.
func (pm *PipelineMetrics) RecordChapter(status string, duration time.Duration) {
	pm.metrics.IncrementCounter("chapters_" + status)
	pm.metrics.RecordHistogram("chapter_duration_ms", duration.Milliseconds())
}

// RecordAPIRequest records metrics for an API request
func (pm *PipelineMetrics) RecordAPIRequest(route, method string, statusCode int, duration time.Duration) {
	pm.metrics.IncrementCounter("api_requests_total")
	pm.metrics.IncrementCounter(fmt.Sprintf("api_responses_%dxx", statusCode/100))
	pm.metrics.RecordHistogram("api_response_time_ms", duration.Milliseconds())

	pm.logger.Debug("API request completed", map[string]interface{}{
		"route":    route,
		"method":   method,
		"status":   statusCode,
		"duration": duration.Milliseconds(),
	})
}

// StartMetricsReport logs a metrics snapshot every interval until ctx is done.
func (pm *PipelineMetrics) StartMetricsReport(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pm.logger.Info("Periodic metrics report", map[string]interface{}{
					"cost_usd": MicrosToDollars(pm.metrics.GetCounterValue("generation_cost_micros")),
					"attempts": pm.metrics.GetCounterValue("provider_attempts_total"),
					"fallback": pm.metrics.GetCounterValue("fallback_clips_total"),
				})
			}
		}
	}()
}
