package engine

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/threshold"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

func newEngine(t *testing.T) (*MetricsEngine, *metrics.Registry, *metrics.BuiltinMetrics) {
	t.Helper()
	r := metrics.NewRegistry()
	b := metrics.RegisterBuiltinMetrics(r)
	me := NewMetricsEngine(r, b)
	me.thresholdsRate = 10 * time.Millisecond
	me.timeSeriesInterval = 20 * time.Millisecond
	return me, r, b
}

func TestInitThresholds_InvalidExpression(t *testing.T) {
	me, _, _ := newEngine(t)
	err := me.InitThresholds(map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<<200"}},
	})
	assert.ErrorIs(t, err, threshold.ErrInvalidExpression)
	assert.Empty(t, me.Thresholds())
}

func TestFinalize_EvaluatesFrozenSnapshot(t *testing.T) {
	me, r, b := newEngine(t)
	require.NoError(t, me.InitThresholds(map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<200"}},
		"nonexistent":       {{Expression: "rate<0.1"}},
	}))

	for i := 0; i < 10; i++ {
		r.Add(b.HTTPReqDuration, 100, nil)
	}

	finalize := me.StartThresholdCalculations(nil, func() time.Duration { return time.Second })
	results, passed := finalize(time.Second)

	require.Len(t, results, 2)
	assert.False(t, passed)
	byMetric := map[string]*types.ThresholdResult{}
	for _, res := range results {
		byMetric[res.Metric] = res
	}
	assert.True(t, byMetric["http_req_duration"].Passed)
	assert.Equal(t, types.ThresholdMetricMissing, byMetric["nonexistent"].Kind)
	assert.Equal(t, uint32(1), me.GetBreachedThresholdsCount())

	// 冻结后写入的样本不影响最终快照
	r.Add(b.HTTPReqDuration, 10_000, nil)
	assert.Equal(t, int64(10), me.FinalSnapshot().Get("http_req_duration").Count)
	assert.Same(t, me.FinalSnapshot(), me.Freeze())
}

func TestFinalize_CounterRateUsesRunDuration(t *testing.T) {
	me, r, b := newEngine(t)
	require.NoError(t, me.InitThresholds(map[string][]types.ThresholdConfig{
		"http_reqs": {{Expression: "rate>=5"}},
	}))
	r.Add(b.HTTPReqs, 10, nil)

	// 运行中的耗时与最终报告的运行时长不同，以后者为准
	finalize := me.StartThresholdCalculations(nil, func() time.Duration { return 10 * time.Second })
	results, passed := finalize(2 * time.Second)

	require.Len(t, results, 1)
	assert.True(t, passed)
	assert.Equal(t, 5.0, results[0].Observed)
}

func TestThresholdCalculations_AbortOnFail(t *testing.T) {
	me, r, b := newEngine(t)
	require.NoError(t, me.InitThresholds(map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<200", AbortOnFail: true}},
	}))

	var (
		mu      sync.Mutex
		aborted error
	)
	abortCh := make(chan struct{})
	finalize := me.StartThresholdCalculations(func(err error) {
		mu.Lock()
		aborted = err
		mu.Unlock()
		close(abortCh)
	}, func() time.Duration { return time.Second })

	r.Add(b.HTTPReqDuration, 500, nil)

	select {
	case <-abortCh:
	case <-time.After(2 * time.Second):
		t.Fatal("abort was not triggered")
	}

	mu.Lock()
	require.Error(t, aborted)
	assert.Contains(t, aborted.Error(), "http_req_duration")
	assert.Contains(t, aborted.Error(), "abortOnFail")
	mu.Unlock()

	results, passed := finalize(time.Second)
	assert.False(t, passed)
	require.Len(t, results, 1)
	assert.True(t, results[0].AbortOnFail)
}

func TestThresholdCalculations_NoAbortWhilePassing(t *testing.T) {
	me, r, b := newEngine(t)
	require.NoError(t, me.InitThresholds(map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<200", AbortOnFail: true}},
		"errors":            {{Expression: "rate<0.1", AbortOnFail: true}},
	}))

	var abortErr error
	finalize := me.StartThresholdCalculations(func(err error) { abortErr = errors.Join(abortErr, err) },
		func() time.Duration { return time.Second })

	r.Add(b.HTTPReqDuration, 50, nil)
	time.Sleep(50 * time.Millisecond)

	results, passed := finalize(time.Second)
	assert.NoError(t, abortErr)
	assert.True(t, passed)
	assert.Len(t, results, 2)
}

func TestTimeSeriesCollection(t *testing.T) {
	me, r, b := newEngine(t)

	var iterations int64
	var mu sync.Mutex
	me.StartTimeSeriesCollection(
		func() int64 { return 3 },
		func() int64 {
			mu.Lock()
			defer mu.Unlock()
			iterations += 2
			return iterations
		},
	)

	for i := 0; i < 20; i++ {
		r.Add(b.HTTPReqs, 1, nil)
		r.Add(b.HTTPReqDuration, float64(10+i), nil)
		r.Add(b.HTTPReqFailed, 0, nil)
		r.Add(b.DataReceived, 100, nil)
	}

	require.Eventually(t, func() bool {
		return len(me.GetTimeSeriesData()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	me.StopTimeSeriesCollection()
	me.StopTimeSeriesCollection()

	points := me.GetTimeSeriesData()
	first := points[0]
	assert.Equal(t, int64(3), first.ActiveVUs)
	assert.Equal(t, int64(2), first.Iterations)
	assert.Positive(t, first.RPS)
	assert.Positive(t, first.DataReceivedPerSec)
	assert.Zero(t, first.ErrorRate)
	assert.InDelta(t, 19.5, first.AvgRT, 0.001)
	assert.Greater(t, first.P95RT, first.AvgRT)

	// 后续区间没有新请求
	assert.Zero(t, points[1].RPS)
	assert.GreaterOrEqual(t, points[1].ElapsedMs, first.ElapsedMs)
	assert.Equal(t, points[len(points)-1], me.GetLatestSnapshot())
}

func TestSamplePoint_ErrorRateIsPerInterval(t *testing.T) {
	me, r, b := newEngine(t)
	start := time.Now()

	r.Add(b.HTTPReqFailed, 1, nil)
	r.Add(b.HTTPReqFailed, 0, nil)
	p1, c1 := me.samplePoint(start.Add(time.Second), start, counters{}, 1, 0)
	assert.InDelta(t, 0.5, p1.ErrorRate, 1e-9)

	for i := 0; i < 4; i++ {
		r.Add(b.HTTPReqFailed, 0, nil)
	}
	p2, _ := me.samplePoint(start.Add(2*time.Second), start, c1, 1, 0)
	assert.Zero(t, p2.ErrorRate)
}

func TestGetAggregatedStats(t *testing.T) {
	me, r, b := newEngine(t)
	r.Add(b.HTTPReqs, 4, nil)

	stats := me.GetAggregatedStats(2 * time.Second)
	require.Contains(t, stats, "http_reqs")
	assert.Equal(t, 4.0, stats["http_reqs"]["count"])
	assert.Equal(t, 2.0, stats["http_reqs"]["rate"])
	assert.NotContains(t, stats, "http_req_duration")
}
