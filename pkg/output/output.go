// Package output streams metric samples to external sinks while a run is in
// progress. Inspired by k6's output package.
package output

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"yqhp/load-engine/pkg/metrics"
)

// Output 定义输出插件接口
type Output interface {
	// Description 返回输出插件的描述
	Description() string

	// Start 启动输出插件
	Start() error

	// Stop 停止输出插件，刷新剩余样本
	Stop() error

	// AddMetricSamples 添加指标样本，不得阻塞
	AddMetricSamples(samples []metrics.SampleContainer)

	// SetRunStatus 设置运行状态（用于最终汇总）
	SetRunStatus(status RunStatus)
}

// RunStatus 表示测试运行状态
type RunStatus struct {
	Status string // passed, thresholds_failed, aborted, failed
	Error  error
}

// Params 是创建 Output 时的参数
type Params struct {
	// OutputType 输出类型
	OutputType string

	// ConfigArgument 配置参数（如 URL、文件路径等）
	ConfigArgument string

	// RunID 运行 ID
	RunID string

	// Scenario 场景名称
	Scenario string

	// Tags 全局标签
	Tags map[string]string
}

// Factory 是创建 Output 的工厂函数类型
type Factory func(params Params) (Output, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register 注册输出工厂
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get 获取输出工厂
func Get(name string) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// List 列出所有已注册的输出类型
func List() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create 创建输出实例
func Create(outputType string, params Params) (Output, error) {
	factory, ok := Get(outputType)
	if !ok {
		return nil, &UnknownOutputError{Type: outputType}
	}
	params.OutputType = outputType
	return factory(params)
}

// ParseSpec splits an output spec of the form "type=argument".
func ParseSpec(spec string) (outputType, arg string) {
	outputType, arg, _ = strings.Cut(spec, "=")
	return strings.TrimSpace(outputType), strings.TrimSpace(arg)
}

// CreateAll creates one output per "type=argument" spec. Outputs created
// before a failing spec are stopped.
func CreateAll(specs []string, params Params) ([]Output, error) {
	outputs := make([]Output, 0, len(specs))
	for _, spec := range specs {
		typ, arg := ParseSpec(spec)
		p := params
		p.ConfigArgument = arg

		out, err := Create(typ, p)
		if err != nil {
			for _, o := range outputs {
				_ = o.Stop()
			}
			return nil, fmt.Errorf("create output %q: %w", spec, err)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

// UnknownOutputError 未知输出类型错误
type UnknownOutputError struct {
	Type string
}

func (e *UnknownOutputError) Error() string {
	return fmt.Sprintf("unknown output type %q (available: %s)", e.Type, strings.Join(List(), ", "))
}
