// Package metrics provides Prometheus-compatible metrics collection for the
// runtime's pool occupancy, transport round-trips, and in-flight network
// entries.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector holds all application metrics with Prometheus compatibility.
type MetricsCollector struct {
	// Transport
	CommandCounter  prometheus.Counter
	CommandRate     prometheus.Gauge // commands per minute
	commandsPerMin  *RateCalculator
	RoundTripTime   prometheus.Histogram

	// BrowserPool
	PoolActive  prometheus.Gauge
	PoolIdle    prometheus.Gauge
	PoolWaits   prometheus.Counter

	// NetworkObserver
	NetworkEntries prometheus.Gauge
	BodyFetches    *prometheus.CounterVec

	// Success/quality
	ErrorRate prometheus.Gauge

	// Internal tracking
	mu             sync.RWMutex
	startTime      time.Time
	poolActive     int64
	poolIdle       int64
	networkEntries int64
	successCount   int64
	errorCount     int64
	totalCommands  int64
}

// RateCalculator calculates a rolling per-minute rate using a sliding window.
type RateCalculator struct {
	mu      sync.Mutex
	hits    []time.Time
	window  time.Duration
	stopCh  chan struct{}
	current float64
}

// NewRateCalculator creates a new rate calculator with specified window.
func NewRateCalculator(window time.Duration) *RateCalculator {
	rc := &RateCalculator{
		hits:   make([]time.Time, 0, 1000),
		window: window,
		stopCh: make(chan struct{}),
	}
	go rc.cleanupLoop()
	return rc
}

// Record records one event.
func (rc *RateCalculator) Record() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.hits = append(rc.hits, time.Now())
}

// GetRate returns the current per-minute rate.
func (rc *RateCalculator) GetRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.cleanup(time.Now())
	return float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
}

func (rc *RateCalculator) cleanup(now time.Time) {
	cutoff := now.Add(-rc.window)
	idx := len(rc.hits)
	for i, t := range rc.hits {
		if t.After(cutoff) {
			idx = i
			break
		}
	}
	rc.hits = rc.hits[idx:]
}

func (rc *RateCalculator) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rc.mu.Lock()
			rc.cleanup(time.Now())
			rc.current = float64(len(rc.hits)) * (60.0 / rc.window.Seconds())
			rc.mu.Unlock()
		case <-rc.stopCh:
			return
		}
	}
}

// Stop stops the rate calculator's cleanup goroutine.
func (rc *RateCalculator) Stop() {
	close(rc.stopCh)
}

const namespace = "reach"

// NewMetricsCollector creates and initializes a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	mc := &MetricsCollector{
		startTime:      time.Now(),
		commandsPerMin: NewRateCalculator(time.Minute),
	}

	mc.CommandCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "commands_total",
		Help:      "Total number of CDP commands sent through the transport",
	})
	mc.CommandRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "command_rate_per_minute",
		Help:      "Current CDP command rate per minute",
	})
	mc.RoundTripTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "command_round_trip_seconds",
		Help:      "Round-trip time between a CDP command and its reply",
		Buckets:   prometheus.DefBuckets,
	})

	mc.PoolActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_active_instances",
		Help:      "Browser instances currently checked out of the pool",
	})
	mc.PoolIdle = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pool_idle_instances",
		Help:      "Browser instances currently idle in the pool",
	})
	mc.PoolWaits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_acquire_waits_total",
		Help:      "Total number of Acquire calls that had to wait for a free instance",
	})

	mc.NetworkEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "network_observer_entries",
		Help:      "Entries currently held in a NetworkObserver's ring buffer",
	})
	mc.BodyFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "body_fetches_total",
		Help:      "Total Network.getResponseBody fetches, by outcome",
	}, []string{"outcome"})

	mc.ErrorRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "error_rate",
		Help:      "Command error rate (0-1)",
	})

	mc.register()
	go mc.updateLoop()
	return mc
}

func (mc *MetricsCollector) register() {
	prometheus.MustRegister(
		mc.CommandCounter,
		mc.CommandRate,
		mc.RoundTripTime,
		mc.PoolActive,
		mc.PoolIdle,
		mc.PoolWaits,
		mc.NetworkEntries,
		mc.BodyFetches,
		mc.ErrorRate,
	)
}

func (mc *MetricsCollector) updateLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		mc.updateCalculatedMetrics()
	}
}

func (mc *MetricsCollector) updateCalculatedMetrics() {
	mc.mu.RLock()
	total := mc.totalCommands
	errors := mc.errorCount
	mc.mu.RUnlock()

	if total > 0 {
		mc.ErrorRate.Set(float64(errors) / float64(total))
	}
	mc.CommandRate.Set(mc.commandsPerMin.GetRate())
}

// RecordCommand records a CDP command having been sent.
func (mc *MetricsCollector) RecordCommand() {
	mc.CommandCounter.Inc()
	mc.commandsPerMin.Record()
	mc.mu.Lock()
	mc.totalCommands++
	mc.mu.Unlock()
}

// RecordRoundTrip records the latency between a command and its reply.
func (mc *MetricsCollector) RecordRoundTrip(d time.Duration) {
	mc.RoundTripTime.Observe(d.Seconds())
}

// RecordSuccess records one successful command.
func (mc *MetricsCollector) RecordSuccess() {
	mc.mu.Lock()
	mc.successCount++
	mc.mu.Unlock()
}

// RecordError records one failed command.
func (mc *MetricsCollector) RecordError() {
	mc.mu.Lock()
	mc.errorCount++
	mc.mu.Unlock()
}

// RecordAcquireWait records a BrowserPool.Acquire call that had to wait.
func (mc *MetricsCollector) RecordAcquireWait() {
	mc.PoolWaits.Inc()
}

// RecordBodyFetch records one Network.getResponseBody attempt, success or
// failure.
func (mc *MetricsCollector) RecordBodyFetch(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	mc.BodyFetches.WithLabelValues(outcome).Inc()
}

// SetPoolOccupancy sets the pool's active/idle gauges.
func (mc *MetricsCollector) SetPoolOccupancy(active, idle int64) {
	mc.PoolActive.Set(float64(active))
	mc.PoolIdle.Set(float64(idle))
	mc.mu.Lock()
	mc.poolActive = active
	mc.poolIdle = idle
	mc.mu.Unlock()
}

// SetNetworkEntries sets the NetworkObserver ring occupancy gauge.
func (mc *MetricsCollector) SetNetworkEntries(count int64) {
	mc.NetworkEntries.Set(float64(count))
	mc.mu.Lock()
	mc.networkEntries = count
	mc.mu.Unlock()
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (mc *MetricsCollector) GetSnapshot() Snapshot {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	return Snapshot{
		Timestamp:      time.Now(),
		TotalCommands:  mc.totalCommands,
		SuccessCount:   mc.successCount,
		ErrorCount:     mc.errorCount,
		PoolActive:     mc.poolActive,
		PoolIdle:       mc.poolIdle,
		NetworkEntries: mc.networkEntries,
		CommandRatePerMin: mc.commandsPerMin.GetRate(),
		ErrorRate:      calculateRate(mc.errorCount, mc.totalCommands),
		UptimeSeconds:  time.Since(mc.startTime).Seconds(),
	}
}

// Snapshot represents a point-in-time metrics snapshot.
type Snapshot struct {
	Timestamp         time.Time `json:"timestamp"`
	TotalCommands     int64     `json:"total_commands"`
	SuccessCount      int64     `json:"success_count"`
	ErrorCount        int64     `json:"error_count"`
	PoolActive        int64     `json:"pool_active"`
	PoolIdle          int64     `json:"pool_idle"`
	NetworkEntries    int64     `json:"network_entries"`
	CommandRatePerMin float64   `json:"command_rate_per_min"`
	ErrorRate         float64   `json:"error_rate"`
	UptimeSeconds     float64   `json:"uptime_seconds"`
}

func calculateRate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

// MetricsHandler returns the HTTP handler serving Prometheus text exposition.
func (mc *MetricsCollector) MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// JSONHandler returns metrics as a JSON snapshot, for the dashboard's poll
// fallback when it isn't hooked to the WebSocket stream.
func (mc *MetricsCollector) JSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mc.GetSnapshot())
	}
}

// Close releases the rate calculator's background goroutine.
func (mc *MetricsCollector) Close() {
	if mc.commandsPerMin != nil {
		mc.commandsPerMin.Stop()
	}
}

var globalCollector *MetricsCollector
var globalMu sync.Once

// GetGlobalCollector returns the process-wide metrics collector, creating it
// on first use.
func GetGlobalCollector() *MetricsCollector {
	globalMu.Do(func() {
		globalCollector = NewMetricsCollector()
	})
	return globalCollector
}

// SetGlobalCollector overrides the process-wide collector, for tests.
func SetGlobalCollector(mc *MetricsCollector) {
	globalCollector = mc
}
