package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// ErrUnsupportedStat is returned when a statistic does not apply to a metric type.
var ErrUnsupportedStat = errors.New("unsupported statistic")

// DefaultTrendStats are the trend statistics shown in summaries.
var DefaultTrendStats = []string{"avg", "min", "med", "max", "p(90)", "p(95)"}

// Snapshot is an immutable point-in-time view of a Registry.
type Snapshot struct {
	Time    time.Time
	Metrics map[string]*MetricSnapshot
}

// Get returns the snapshot of a metric, or nil when it was never registered.
func (s *Snapshot) Get(name string) *MetricSnapshot {
	if s == nil {
		return nil
	}
	return s.Metrics[name]
}

// Names returns the metric names in sorted order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetricSnapshot 保存单个指标的冻结聚合值。
// Counter: Value=sum; Gauge: Value=last; Rate: Passes/Fails; Trend: sorted samples.
type MetricSnapshot struct {
	Name     string
	Type     MetricType
	Contains ValueType

	Count  int64
	Value  float64
	Sum    float64
	Min    float64
	Max    float64
	Passes int64
	Fails  int64

	// Approximate is set when trend percentiles come from the histogram.
	Approximate bool

	sorted []float64
	hist   *hdrhistogram.Histogram
}

func (m *MetricSnapshot) setSamples(values []float64) {
	sort.Float64s(values)
	m.sorted = values
}

// IsEmpty reports whether no sample was ever recorded.
func (m *MetricSnapshot) IsEmpty() bool {
	return m.Count == 0
}

// Rate returns passes/total for Rate metrics; 0 when empty.
func (m *MetricSnapshot) Rate() float64 {
	total := m.Passes + m.Fails
	if total == 0 {
		return 0
	}
	return float64(m.Passes) / float64(total)
}

// Avg returns the arithmetic mean for Trend and Gauge metrics.
func (m *MetricSnapshot) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Percentile returns the p-th percentile (0..100) of a Trend using linear
// interpolation between closest ranks, so p(0) is the minimum and p(100)
// the maximum.
func (m *MetricSnapshot) Percentile(p float64) float64 {
	if m.Count == 0 {
		return 0
	}
	if p <= 0 {
		return m.Min
	}
	if p >= 100 {
		return m.Max
	}
	if m.Approximate && m.hist != nil {
		v := float64(m.hist.ValueAtQuantile(p)) / 1000
		return math.Min(math.Max(v, m.Min), m.Max)
	}
	return percentile(m.sorted, p)
}

// percentile 计算已排序数据的百分位数
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	// 线性插值
	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

// ParsePercentileStat parses "p(95)" / "p(99.9)" and returns the percentile.
func ParsePercentileStat(stat string) (float64, bool) {
	if !strings.HasPrefix(stat, "p(") || !strings.HasSuffix(stat, ")") {
		return 0, false
	}
	p, err := strconv.ParseFloat(strings.TrimSpace(stat[2:len(stat)-1]), 64)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// Stat resolves a named statistic. durationSec is the run duration used for
// per-second counter rates.
func (m *MetricSnapshot) Stat(stat string, durationSec float64) (float64, error) {
	stat = strings.TrimSpace(stat)
	switch m.Type {
	case Counter:
		switch stat {
		case "count":
			return m.Value, nil
		case "rate":
			if durationSec <= 0 {
				return 0, nil
			}
			return m.Value / durationSec, nil
		}
	case Gauge:
		switch stat {
		case "value":
			return m.Value, nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		case "avg":
			return m.Avg(), nil
		}
	case Rate:
		switch stat {
		case "rate":
			return m.Rate(), nil
		case "passes":
			return float64(m.Passes), nil
		case "fails":
			return float64(m.Fails), nil
		case "total":
			return float64(m.Passes + m.Fails), nil
		}
	case Trend:
		switch stat {
		case "count":
			return float64(m.Count), nil
		case "sum":
			return m.Sum, nil
		case "avg":
			return m.Avg(), nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		case "med":
			return m.Percentile(50), nil
		}
		if p, ok := ParsePercentileStat(stat); ok {
			return m.Percentile(p), nil
		}
	}
	return 0, fmt.Errorf("%w: %q for %s metric %q", ErrUnsupportedStat, stat, m.Type, m.Name)
}

// Stats returns the summary statistics of the metric, keyed like Stat.
// trendStats selects the trend columns; nil means DefaultTrendStats.
func (m *MetricSnapshot) Stats(durationSec float64, trendStats []string) map[string]float64 {
	var keys []string
	switch m.Type {
	case Counter:
		keys = []string{"count", "rate"}
	case Gauge:
		keys = []string{"value", "min", "max"}
	case Rate:
		keys = []string{"rate", "passes", "fails"}
	case Trend:
		keys = trendStats
		if keys == nil {
			keys = DefaultTrendStats
		}
	}

	result := make(map[string]float64, len(keys))
	for _, k := range keys {
		if v, err := m.Stat(k, durationSec); err == nil {
			result[k] = v
		}
	}
	return result
}
