package metrics

import (
	"time"
)

// MetricType 定义指标类型
type MetricType string

const (
	// Counter 计数器类型，只增不减
	Counter MetricType = "counter"
	// Gauge 仪表盘类型，保留最后一个值
	Gauge MetricType = "gauge"
	// Rate 比率类型，记录 true 事件占比
	Rate MetricType = "rate"
	// Trend 趋势类型，计算百分位数等统计值
	Trend MetricType = "trend"
)

// Valid reports whether t is one of the known metric types.
func (t MetricType) Valid() bool {
	switch t {
	case Counter, Gauge, Rate, Trend:
		return true
	}
	return false
}

// ValueType 定义值的类型
type ValueType string

const (
	// Default 默认值类型
	Default ValueType = "default"
	// Time 时间类型（毫秒）
	Time ValueType = "time"
	// Data 数据量类型（字节）
	Data ValueType = "data"
)

// Metric 定义一个已注册的指标。类型在首次注册后固定。
type Metric struct {
	Name     string     `json:"name"`
	Type     MetricType `json:"type"`
	Contains ValueType  `json:"contains,omitempty"`
	Sink     Sink       `json:"-"`
}

// Sample 表示单个指标样本
type Sample struct {
	Metric *Metric           `json:"metric"`
	Time   time.Time         `json:"time"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
}

// SampleContainer 是可以返回多个样本的接口
type SampleContainer interface {
	GetSamples() []Sample
}

// Samples 是 Sample 切片，实现 SampleContainer 接口
type Samples []Sample

// GetSamples 返回样本切片
func (s Samples) GetSamples() []Sample {
	return s
}

// ConnectedSamples 表示一组相关的样本（如同一个请求的多个指标）
type ConnectedSamples struct {
	Samples []Sample
	Tags    map[string]string
	Time    time.Time
}

// GetSamples 返回样本切片
func (cs ConnectedSamples) GetSamples() []Sample {
	return cs.Samples
}
