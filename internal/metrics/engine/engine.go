// Package engine contains the internal metrics engine responsible for
// evaluating thresholds during and after the run and for sampling a time
// series of key metrics. Design inspired by k6's internal/metrics/engine.
package engine

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/internal/threshold"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

const (
	thresholdsRate     = 2 * time.Second
	timeSeriesInterval = 1 * time.Second
)

// MetricsEngine owns the run's metric registry view, its thresholds and the
// time series.
type MetricsEngine struct {
	registry *metrics.Registry
	builtin  *metrics.BuiltinMetrics

	thresholds              []*threshold.Threshold
	breachedThresholdsCount atomic.Uint32

	// Time-series snapshots for report generation
	timeSeriesMu   sync.Mutex
	timeSeriesData []*types.TimeSeriesPoint
	snapshotStop   chan struct{}
	snapshotDone   chan struct{}

	thresholdsRate     time.Duration
	timeSeriesInterval time.Duration

	finalMu sync.Mutex
	final   *metrics.Snapshot
}

// NewMetricsEngine creates a new MetricsEngine with the given registry.
func NewMetricsEngine(registry *metrics.Registry, builtin *metrics.BuiltinMetrics) *MetricsEngine {
	return &MetricsEngine{
		registry:           registry,
		builtin:            builtin,
		thresholdsRate:     thresholdsRate,
		timeSeriesInterval: timeSeriesInterval,
	}
}

// Registry returns the metric registry.
func (me *MetricsEngine) Registry() *metrics.Registry {
	return me.registry
}

// InitThresholds parses and initializes threshold definitions.
// Format: map[metricName][]ThresholdConfig
func (me *MetricsEngine) InitThresholds(configs map[string][]types.ThresholdConfig) error {
	thresholds, err := threshold.ParseAll(configs)
	if err != nil {
		return err
	}
	for _, t := range thresholds {
		if me.registry.Get(t.Metric) == nil {
			// 自定义指标在首次使用时注册，这里只提示
			logger.Debug("threshold references a metric that is not registered yet", "metric", t.Metric)
		}
	}
	me.thresholds = thresholds
	return nil
}

// Thresholds returns the parsed thresholds.
func (me *MetricsEngine) Thresholds() []*threshold.Threshold {
	return me.thresholds
}

// StartThresholdCalculations starts a goroutine that checks abort-on-fail
// thresholds periodically and returns a finalize callback. finalize freezes
// the metrics and evaluates every threshold against the frozen snapshot;
// counter rates use runDuration, the same duration the summary reports.
func (me *MetricsEngine) StartThresholdCalculations(
	abortRun func(error),
	getCurrentDuration func() time.Duration,
) (finalize func(runDuration time.Duration) ([]*types.ThresholdResult, bool)) {
	stop := make(chan struct{})
	done := make(chan struct{})

	hasAbort := false
	for _, t := range me.thresholds {
		hasAbort = hasAbort || t.AbortOnFail
	}

	go func() {
		defer close(done)
		if !hasAbort {
			<-stop
			return
		}
		ticker := time.NewTicker(me.thresholdsRate)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				crossed := threshold.Crossed(me.registry.Snapshot(), getCurrentDuration().Seconds(), me.thresholds)
				if len(crossed) > 0 && abortRun != nil {
					abortRun(abortError(crossed))
					return
				}
			case <-stop:
				return
			}
		}
	}()

	return func(runDuration time.Duration) ([]*types.ThresholdResult, bool) {
		close(stop)
		<-done

		snap := me.Freeze()
		results, passed := threshold.Evaluate(snap, runDuration.Seconds(), me.thresholds)

		var breached uint32
		for _, r := range results {
			if !r.Passed {
				breached++
			}
		}
		me.breachedThresholdsCount.Store(breached)
		return results, passed
	}
}

func abortError(crossed []*types.ThresholdResult) error {
	names := make([]string, 0, len(crossed))
	for _, r := range crossed {
		names = append(names, fmt.Sprintf("%s{%s}", r.Metric, r.Expression))
	}
	return fmt.Errorf("thresholds on metrics '%s' were crossed; abortOnFail enabled",
		strings.Join(names, ", "))
}

// GetBreachedThresholdsCount returns the number of breached thresholds after
// finalization.
func (me *MetricsEngine) GetBreachedThresholdsCount() uint32 {
	return me.breachedThresholdsCount.Load()
}

// Freeze takes the final snapshot once; later calls return the same snapshot.
func (me *MetricsEngine) Freeze() *metrics.Snapshot {
	me.finalMu.Lock()
	defer me.finalMu.Unlock()
	if me.final == nil {
		me.final = me.registry.Snapshot()
	}
	return me.final
}

// FinalSnapshot returns the frozen snapshot, or nil before Freeze.
func (me *MetricsEngine) FinalSnapshot() *metrics.Snapshot {
	me.finalMu.Lock()
	defer me.finalMu.Unlock()
	return me.final
}

// StartTimeSeriesCollection starts periodic snapshots of key metrics.
func (me *MetricsEngine) StartTimeSeriesCollection(getVUs func() int64, getIterations func() int64) {
	me.snapshotStop = make(chan struct{})
	me.snapshotDone = make(chan struct{})
	start := time.Now()

	go func() {
		defer close(me.snapshotDone)
		ticker := time.NewTicker(me.timeSeriesInterval)
		defer ticker.Stop()

		var prev counters
		for {
			select {
			case now := <-ticker.C:
				point, cur := me.samplePoint(now, start, prev, getVUs(), getIterations())
				prev = cur

				me.timeSeriesMu.Lock()
				me.timeSeriesData = append(me.timeSeriesData, point)
				me.timeSeriesMu.Unlock()
			case <-me.snapshotStop:
				return
			}
		}
	}()
}

// counters 上一个采样点的累计值
type counters struct {
	at           time.Time
	reqs         float64
	failed       int64
	total        int64
	dataSent     float64
	dataReceived float64
}

func (me *MetricsEngine) samplePoint(now, start time.Time, prev counters, vus, iterations int64) (*types.TimeSeriesPoint, counters) {
	point := &types.TimeSeriesPoint{
		Timestamp:  now,
		ElapsedMs:  now.Sub(start).Milliseconds(),
		Iterations: iterations,
		ActiveVUs:  vus,
	}
	cur := counters{at: now}
	if me.builtin == nil {
		return point, cur
	}

	interval := now.Sub(start).Seconds()
	if !prev.at.IsZero() {
		interval = now.Sub(prev.at).Seconds()
	}

	cur.reqs = me.builtin.HTTPReqs.Snapshot().Value
	failed := me.builtin.HTTPReqFailed.Snapshot()
	cur.failed, cur.total = failed.Passes, failed.Passes+failed.Fails
	cur.dataSent = me.builtin.DataSent.Snapshot().Value
	cur.dataReceived = me.builtin.DataReceived.Snapshot().Value

	if interval > 0 {
		point.RPS = (cur.reqs - prev.reqs) / interval
		point.DataSentPerSec = (cur.dataSent - prev.dataSent) / interval
		point.DataReceivedPerSec = (cur.dataReceived - prev.dataReceived) / interval
	}
	if total := cur.total - prev.total; total > 0 {
		point.ErrorRate = float64(cur.failed-prev.failed) / float64(total)
	}

	if d := me.builtin.HTTPReqDuration.Snapshot(); !d.IsEmpty() {
		point.AvgRT = d.Avg()
		point.P95RT = d.Percentile(95)
	}
	return point, cur
}

// StopTimeSeriesCollection stops the periodic snapshots and waits for the
// collector to exit.
func (me *MetricsEngine) StopTimeSeriesCollection() {
	if me.snapshotStop == nil {
		return
	}
	select {
	case <-me.snapshotStop:
	default:
		close(me.snapshotStop)
	}
	<-me.snapshotDone
}

// GetTimeSeriesData returns a copy of all time-series snapshots.
func (me *MetricsEngine) GetTimeSeriesData() []*types.TimeSeriesPoint {
	me.timeSeriesMu.Lock()
	defer me.timeSeriesMu.Unlock()
	result := make([]*types.TimeSeriesPoint, len(me.timeSeriesData))
	copy(result, me.timeSeriesData)
	return result
}

// GetLatestSnapshot returns the most recent time-series snapshot.
func (me *MetricsEngine) GetLatestSnapshot() *types.TimeSeriesPoint {
	me.timeSeriesMu.Lock()
	defer me.timeSeriesMu.Unlock()
	if len(me.timeSeriesData) == 0 {
		return nil
	}
	return me.timeSeriesData[len(me.timeSeriesData)-1]
}

// GetAggregatedStats returns the summary statistics of every metric that
// received samples.
func (me *MetricsEngine) GetAggregatedStats(duration time.Duration) map[string]map[string]float64 {
	snap := me.FinalSnapshot()
	if snap == nil {
		snap = me.registry.Snapshot()
	}
	result := make(map[string]map[string]float64)
	for name, m := range snap.Metrics {
		if !m.IsEmpty() {
			result[name] = m.Stats(duration.Seconds(), nil)
		}
	}
	return result
}
