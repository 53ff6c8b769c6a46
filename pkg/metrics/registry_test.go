package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterIsIdempotentForSameKind(t *testing.T) {
	r := NewRegistry()

	m1, err := r.Register("errors", Rate)
	require.NoError(t, err)
	m2, err := r.Register("errors", Rate)
	require.NoError(t, err)

	assert.Same(t, m1, m2)
	assert.Equal(t, Default, m1.Contains)
}

func TestRegistry_RegisterKindConflict(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register("errors", Rate)
	require.NoError(t, err)

	_, err = r.Register("errors", Counter)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMetricKindConflict)

	var conflict *KindConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, Rate, conflict.Existing)
	assert.Equal(t, Counter, conflict.Requested)
}

func TestRegistry_RegisterValueTypeConflict(t *testing.T) {
	r := NewRegistry()
	m, err := r.Register("cart_latency", Trend, Default)
	require.NoError(t, err)

	_, err = r.Register("cart_latency", Trend, Time)
	assert.ErrorIs(t, err, ErrMetricKindConflict)
	var conflict *KindConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, Default, conflict.ExistingContains)
	assert.Equal(t, Time, conflict.RequestedContains)

	// 未指定值类型时沿用首次注册
	again, err := r.Register("cart_latency", Trend)
	require.NoError(t, err)
	assert.Same(t, m, again)
}

func TestRegistry_RegisterRejectsBadInput(t *testing.T) {
	r := NewRegistry()

	_, err := r.Register("1bad name", Counter)
	assert.ErrorIs(t, err, ErrInvalidMetricName)

	_, err = r.Register("fine", MetricType("histogram"))
	assert.ErrorIs(t, err, ErrInvalidMetricType)
}

func TestRegistry_RecordUnknownMetric(t *testing.T) {
	r := NewRegistry()
	err := r.Record("nope", 1, nil)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestRegistry_RecordAndSnapshot(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("iterations", Counter)
	r.MustRegister("http_req_duration", Trend, Time)
	r.MustRegister("checks", Rate)
	r.MustRegister("vus", Gauge)

	require.NoError(t, r.Record("iterations", 2, nil))
	require.NoError(t, r.Record("iterations", 3, nil))
	for _, v := range []float64{10, 20, 30, 40} {
		require.NoError(t, r.Record("http_req_duration", v, nil))
	}
	require.NoError(t, r.Record("checks", 1, nil))
	require.NoError(t, r.Record("checks", 0, nil))
	require.NoError(t, r.Record("vus", 5, nil))
	require.NoError(t, r.Record("vus", 2, nil))

	snap := r.Snapshot()
	assert.Equal(t, []string{"checks", "http_req_duration", "iterations", "vus"}, snap.Names())

	iters := snap.Get("iterations")
	assert.Equal(t, 5.0, iters.Value)
	rate, err := iters.Stat("rate", 2)
	require.NoError(t, err)
	assert.Equal(t, 2.5, rate)

	dur := snap.Get("http_req_duration")
	assert.Equal(t, Time, dur.Contains)
	assert.Equal(t, int64(4), dur.Count)
	assert.Equal(t, 25.0, dur.Avg())
	assert.Equal(t, 10.0, dur.Percentile(0))
	assert.Equal(t, 40.0, dur.Percentile(100))
	assert.Equal(t, 25.0, dur.Percentile(50))

	checks := snap.Get("checks")
	assert.Equal(t, 0.5, checks.Rate())

	vus := snap.Get("vus")
	assert.Equal(t, 2.0, vus.Value)
	assert.Equal(t, 5.0, vus.Max)
	assert.Equal(t, 2.0, vus.Min)

	assert.Nil(t, snap.Get("missing"))
}

func TestRegistry_NonFiniteValues(t *testing.T) {
	r := NewRegistry()
	latency := r.MustRegister("latency", Trend, Time)
	failed := r.MustRegister("failed", Rate)

	assert.ErrorIs(t, r.Record("latency", math.NaN(), nil), ErrNonFiniteValue)
	assert.ErrorIs(t, r.Record("latency", math.Inf(1), nil), ErrNonFiniteValue)

	ch := make(chan SampleContainer, 3)
	r.SetSampleChannel(ch)

	r.Add(latency, 5, nil)
	r.Add(latency, math.NaN(), nil)
	r.Push(ConnectedSamples{Samples: []Sample{
		{Metric: latency, Value: math.Inf(-1)},
		{Metric: failed, Value: 0},
	}})

	assert.Len(t, (<-ch).GetSamples(), 1)
	assert.Len(t, (<-ch).GetSamples(), 0)
	connected, ok := (<-ch).(ConnectedSamples)
	require.True(t, ok)
	require.Len(t, connected.Samples, 1)
	assert.Equal(t, failed, connected.Samples[0].Metric)

	snap := r.Snapshot().Get("latency")
	assert.Equal(t, int64(1), snap.Count)
	assert.Equal(t, 5.0, snap.Avg())
	assert.Equal(t, 5.0, snap.Percentile(95))
	assert.Equal(t, int64(1), r.Snapshot().Get("failed").Fails)
}

func TestRegistry_SnapshotIsImmutable(t *testing.T) {
	r := NewRegistry()
	m := r.MustRegister("latency", Trend, Time)
	r.Add(m, 100, nil)

	snap := r.Snapshot()
	r.Add(m, 1, nil)

	assert.Equal(t, int64(1), snap.Get("latency").Count)
	assert.Equal(t, 100.0, snap.Get("latency").Min)
}

func TestRegistry_SampleChannelReceivesConnectedSamples(t *testing.T) {
	r := NewRegistry()
	dur := r.MustRegister("http_req_duration", Trend, Time)
	failed := r.MustRegister("http_req_failed", Rate)

	ch := make(chan SampleContainer, 1)
	r.SetSampleChannel(ch)

	r.Push(ConnectedSamples{Samples: []Sample{
		{Metric: dur, Value: 12},
		{Metric: failed, Value: 0},
	}})

	got := <-ch
	assert.Len(t, got.GetSamples(), 2)

	snap := r.Snapshot()
	assert.Equal(t, int64(1), snap.Get("http_req_duration").Count)
	assert.Equal(t, int64(1), snap.Get("http_req_failed").Fails)
}

// 100 writers × 1000 increments must produce exactly 100000.
func TestRegistry_ConcurrentCounterStress(t *testing.T) {
	r := NewRegistry()
	m := r.MustRegister("increments", Counter)

	var wg sync.WaitGroup
	for w := 0; w < 100; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				r.Add(m, 1, nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 100000.0, r.Snapshot().Get("increments").Value)
}

func TestRegistry_ConcurrentRegisterAndRecord(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for w := 0; w < 50; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := r.Register("errors", Rate)
			if !assert.NoError(t, err) {
				return
			}
			for i := 0; i < 200; i++ {
				r.Add(m, float64(i%2), nil)
			}
		}()
	}
	wg.Wait()

	snap := r.Snapshot().Get("errors")
	assert.Equal(t, int64(5000), snap.Passes)
	assert.Equal(t, int64(5000), snap.Fails)
	assert.Equal(t, 0.5, snap.Rate())
}
