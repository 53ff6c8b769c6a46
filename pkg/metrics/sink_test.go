package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStat_Unsupported(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("errors", Rate)
	r.MustRegister("reqs", Counter)

	snap := r.Snapshot()

	_, err := snap.Get("errors").Stat("p(95)", 1)
	assert.ErrorIs(t, err, ErrUnsupportedStat)

	_, err = snap.Get("reqs").Stat("avg", 1)
	assert.ErrorIs(t, err, ErrUnsupportedStat)
}

func TestStat_CounterRateWithoutDuration(t *testing.T) {
	r := NewRegistry()
	m := r.MustRegister("reqs", Counter)
	r.Add(m, 10, nil)

	v, err := r.Snapshot().Get("reqs").Stat("rate", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestParsePercentileStat(t *testing.T) {
	cases := map[string]struct {
		p  float64
		ok bool
	}{
		"p(95)":   {95, true},
		"p(99.9)": {99.9, true},
		"p( 50 )": {50, true},
		"p(101)":  {0, false},
		"p95":     {0, false},
		"avg":     {0, false},
	}
	for in, want := range cases {
		p, ok := ParsePercentileStat(in)
		assert.Equal(t, want.ok, ok, in)
		assert.Equal(t, want.p, p, in)
	}
}

func TestTrendSink_FallsBackToHistogram(t *testing.T) {
	r := NewRegistry(WithMaxExactSamples(10))
	m := r.MustRegister("latency", Trend, Time)
	for i := 1; i <= 1000; i++ {
		r.Add(m, float64(i), nil)
	}

	snap := r.Snapshot().Get("latency")
	assert.True(t, snap.Approximate)
	assert.Equal(t, int64(1000), snap.Count)
	assert.Equal(t, 1.0, snap.Percentile(0))
	assert.Equal(t, 1000.0, snap.Percentile(100))
	assert.InDelta(t, 950, snap.Percentile(95), 5)
	assert.InDelta(t, 500.5, snap.Avg(), 0.0001)
}

func TestStats_DefaultColumns(t *testing.T) {
	r := NewRegistry()
	m := r.MustRegister("latency", Trend, Time)
	for _, v := range []float64{1, 2, 3} {
		r.Add(m, v, nil)
	}

	stats := r.Snapshot().Get("latency").Stats(1, nil)
	assert.Len(t, stats, len(DefaultTrendStats))
	assert.Equal(t, 2.0, stats["med"])
	assert.Equal(t, 3.0, stats["max"])

	custom := r.Snapshot().Get("latency").Stats(1, []string{"count", "p(99)"})
	assert.Equal(t, 3.0, custom["count"])
	assert.Contains(t, custom, "p(99)")
}
