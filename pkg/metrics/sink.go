package metrics

import (
	"math"
	"sync"
	"sync/atomic"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// DefaultMaxExactSamples is the number of raw Trend samples kept before
	// percentiles are served from the histogram instead.
	DefaultMaxExactSamples = 1_000_000

	// histogram range in micro-units: 1 hour worth of milliseconds.
	histLowest  = 1
	histHighest = 3_600_000_000
	histSigFigs = 3
)

// Sink 定义指标聚合器接口
type Sink interface {
	// Add 添加一个样本值
	Add(sample Sample)
	// Snapshot 返回当前聚合状态的副本
	Snapshot() *MetricSnapshot
	// IsEmpty 检查是否为空
	IsEmpty() bool
}

func newSink(metricType MetricType, maxSamples int) Sink {
	switch metricType {
	case Counter:
		return &CounterSink{}
	case Gauge:
		return &GaugeSink{}
	case Rate:
		return &RateSink{}
	case Trend:
		return NewTrendSink(maxSamples)
	default:
		return &CounterSink{}
	}
}

// CounterSink 计数器聚合器，使用 CAS 累加，无锁
type CounterSink struct {
	bits    atomic.Uint64
	samples atomic.Int64
}

// Add 添加样本
func (c *CounterSink) Add(sample Sample) {
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + sample.Value)
		if c.bits.CompareAndSwap(old, next) {
			break
		}
	}
	c.samples.Add(1)
}

// Value returns the running sum.
func (c *CounterSink) Value() float64 {
	return math.Float64frombits(c.bits.Load())
}

// Snapshot 返回统计结果
func (c *CounterSink) Snapshot() *MetricSnapshot {
	return &MetricSnapshot{
		Count: c.samples.Load(),
		Value: c.Value(),
	}
}

// IsEmpty 检查是否为空
func (c *CounterSink) IsEmpty() bool {
	return c.samples.Load() == 0
}

// GaugeSink 仪表盘聚合器
type GaugeSink struct {
	value  float64
	min    float64
	max    float64
	sum    float64
	count  int64
	minSet bool
	mu     sync.Mutex
}

// Add 添加样本
func (g *GaugeSink) Add(sample Sample) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.value = sample.Value
	g.sum += sample.Value
	g.count++
	if !g.minSet || sample.Value < g.min {
		g.min = sample.Value
		g.minSet = true
	}
	if g.count == 1 || sample.Value > g.max {
		g.max = sample.Value
	}
}

// Snapshot 返回统计结果
func (g *GaugeSink) Snapshot() *MetricSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return &MetricSnapshot{
		Count: g.count,
		Value: g.value,
		Sum:   g.sum,
		Min:   g.min,
		Max:   g.max,
	}
}

// IsEmpty 检查是否为空
func (g *GaugeSink) IsEmpty() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count == 0
}

// RateSink 比率聚合器（value != 0 表示 true）
type RateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

// Add 添加样本。total 先于 trues 递增，Snapshot 先读 trues 后读 total，
// 因此任意时刻观察到的 passes 都不会超过 total。
func (r *RateSink) Add(sample Sample) {
	r.total.Add(1)
	if sample.Value != 0 {
		r.trues.Add(1)
	}
}

// Snapshot 返回统计结果
func (r *RateSink) Snapshot() *MetricSnapshot {
	trues := r.trues.Load()
	total := r.total.Load()
	return &MetricSnapshot{
		Count:  total,
		Passes: trues,
		Fails:  total - trues,
	}
}

// IsEmpty 检查是否为空
func (r *RateSink) IsEmpty() bool {
	return r.total.Load() == 0
}

// TrendSink 趋势聚合器。保留原始样本用于精确百分位数，超过上限后
// 改用 HDR 直方图估算；count/sum/min/max 始终精确。
type TrendSink struct {
	values     []float64
	maxSamples int
	hist       *hdrhistogram.Histogram
	count      int64
	sum        float64
	min        float64
	max        float64
	mu         sync.Mutex
}

// NewTrendSink creates a trend sink keeping at most maxSamples raw values.
func NewTrendSink(maxSamples int) *TrendSink {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxExactSamples
	}
	return &TrendSink{
		maxSamples: maxSamples,
		hist:       hdrhistogram.New(histLowest, histHighest, histSigFigs),
	}
}

// Add 添加样本
func (t *TrendSink) Add(sample Sample) {
	v := sample.Value
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.values) < t.maxSamples {
		t.values = append(t.values, v)
	}
	_ = t.hist.RecordValue(toHistUnits(v))

	t.count++
	t.sum += v
	if t.count == 1 || v < t.min {
		t.min = v
	}
	if t.count == 1 || v > t.max {
		t.max = v
	}
}

// Snapshot copies the raw samples under the lock; sorting happens in the
// returned snapshot, outside the lock.
func (t *TrendSink) Snapshot() *MetricSnapshot {
	t.mu.Lock()
	values := make([]float64, len(t.values))
	copy(values, t.values)
	ms := &MetricSnapshot{
		Count: t.count,
		Sum:   t.sum,
		Min:   t.min,
		Max:   t.max,
	}
	if t.count > int64(len(t.values)) {
		ms.Approximate = true
		ms.hist = hdrhistogram.Import(t.hist.Export())
	}
	t.mu.Unlock()

	ms.setSamples(values)
	return ms
}

// IsEmpty 检查是否为空
func (t *TrendSink) IsEmpty() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count == 0
}

func toHistUnits(v float64) int64 {
	u := int64(math.Round(v * 1000))
	if u < 0 {
		return 0
	}
	if u > histHighest {
		return histHighest
	}
	return u
}
