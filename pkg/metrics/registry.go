package metrics

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/logger"
)

var metricNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// Registry 管理所有已注册的指标，是一次运行中唯一的共享写入点。
//
// The registry lock only guards the name -> metric map; values are accumulated
// in each metric's own sink, so writers to different metrics never contend.
type Registry struct {
	metrics map[string]*Metric
	mu      sync.RWMutex

	samples    atomic.Pointer[chan SampleContainer]
	maxSamples int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithMaxExactSamples caps how many raw samples a Trend keeps before falling
// back to histogram-estimated percentiles.
func WithMaxExactSamples(n int) RegistryOption {
	return func(r *Registry) {
		r.maxSamples = n
	}
}

// NewRegistry 创建新的指标注册表
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		metrics:    make(map[string]*Metric),
		maxSamples: DefaultMaxExactSamples,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetSampleChannel forwards every recorded sample container to ch, in addition
// to aggregating it. Sends block, so the consumer must drain ch until the
// registry stops receiving samples. Passing nil disables forwarding.
func (r *Registry) SetSampleChannel(ch chan SampleContainer) {
	if ch == nil {
		r.samples.Store(nil)
		return
	}
	r.samples.Store(&ch)
}

// Register creates the metric if absent. Registering an existing name with the
// same type returns the existing metric; a different type is a KindConflictError.
// An explicit value type must also match the first registration.
func (r *Registry) Register(name string, metricType MetricType, contains ...ValueType) (*Metric, error) {
	if !metricNameRe.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetricName, name)
	}
	if !metricType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMetricType, metricType)
	}

	valueType := Default
	explicit := len(contains) > 0 && contains[0] != ""
	if explicit {
		valueType = contains[0]
	}

	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if ok {
		return checkKind(m, metricType, valueType, explicit)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.metrics[name]; ok {
		return checkKind(m, metricType, valueType, explicit)
	}

	m = &Metric{
		Name:     name,
		Type:     metricType,
		Contains: valueType,
		Sink:     newSink(metricType, r.maxSamples),
	}
	r.metrics[name] = m
	return m, nil
}

func checkKind(m *Metric, requested MetricType, contains ValueType, explicit bool) (*Metric, error) {
	if m.Type != requested || (explicit && m.Contains != contains) {
		return nil, &KindConflictError{
			Name:              m.Name,
			Existing:          m.Type,
			Requested:         requested,
			ExistingContains:  m.Contains,
			RequestedContains: contains,
		}
	}
	return m, nil
}

// MustRegister is Register for built-in metrics whose names and types are
// known to be valid; it panics on error.
func (r *Registry) MustRegister(name string, metricType MetricType, contains ...ValueType) *Metric {
	m, err := r.Register(name, metricType, contains...)
	if err != nil {
		panic(err)
	}
	return m
}

// Get 获取已注册的指标
func (r *Registry) Get(name string) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// All 返回所有已注册的指标
func (r *Registry) All() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for k, v := range r.metrics {
		result[k] = v
	}
	return result
}

// Record adds a value to a previously registered metric. NaN and ±Inf are
// rejected with ErrNonFiniteValue.
func (r *Registry) Record(name string, value float64, tags map[string]string) error {
	m := r.Get(name)
	if m == nil {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, name)
	}
	if !isFinite(value) {
		return fmt.Errorf("%w: %q = %v", ErrNonFiniteValue, name, value)
	}
	r.Push(Samples{{Metric: m, Time: time.Now(), Value: value, Tags: tags}})
	return nil
}

// Add records a single value into m.
func (r *Registry) Add(m *Metric, value float64, tags map[string]string) {
	r.Push(Samples{{Metric: m, Time: time.Now(), Value: value, Tags: tags}})
}

// Push aggregates every sample in the container before returning, so a group
// of connected samples is visible to any snapshot taken afterwards as a whole.
// Samples with a NaN or infinite value are dropped and logged; they are not
// forwarded to the sample channel either.
func (r *Registry) Push(container SampleContainer) {
	samples := container.GetSamples()
	for i, sample := range samples {
		if !isFinite(sample.Value) {
			container = finiteSamples(container, samples, i)
			break
		}
	}

	for _, sample := range container.GetSamples() {
		if sample.Metric == nil || sample.Metric.Sink == nil {
			continue
		}
		sample.Metric.Sink.Add(sample)
	}

	if ch := r.samples.Load(); ch != nil {
		*ch <- container
	}
}

// finiteSamples copies samples without the non-finite values, starting from
// the first bad index. ConnectedSamples keep their envelope.
func finiteSamples(container SampleContainer, samples []Sample, first int) SampleContainer {
	kept := make(Samples, 0, len(samples)-1)
	kept = append(kept, samples[:first]...)
	for _, sample := range samples[first:] {
		if isFinite(sample.Value) {
			kept = append(kept, sample)
			continue
		}
		name := ""
		if sample.Metric != nil {
			name = sample.Metric.Name
		}
		logger.Warn("dropping non-finite metric sample", "metric", name, "value", sample.Value)
	}

	if cs, ok := container.(ConnectedSamples); ok {
		cs.Samples = kept
		return cs
	}
	return kept
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Snapshot returns a point-in-time aggregate of every metric. Each sink is
// copied under its own lock, so writers are only paused for the copy.
func (r *Registry) Snapshot() *Snapshot {
	all := r.All()

	snap := &Snapshot{
		Time:    time.Now(),
		Metrics: make(map[string]*MetricSnapshot, len(all)),
	}
	for name, m := range all {
		snap.Metrics[name] = m.Snapshot()
	}
	return snap
}

// Snapshot copies the aggregate of a single metric.
func (m *Metric) Snapshot() *MetricSnapshot {
	ms := m.Sink.Snapshot()
	ms.Name = m.Name
	ms.Type = m.Type
	ms.Contains = m.Contains
	return ms
}

// Names returns the registered metric names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}
