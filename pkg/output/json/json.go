// Package json writes every metric sample as one JSON object per line
// (NDJSON). A ".gz" file name enables gzip compression.
package json

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
)

const flushInterval = 200 * time.Millisecond

func init() {
	output.Register("json", New)
}

// Output JSON 文件输出
type Output struct {
	output.SampleBuffer

	params  output.Params
	closers []io.Closer
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
	// 已写出定义的指标
	seen map[string]bool

	periodicFlusher *output.PeriodicFlusher
	runStatus       output.RunStatus
}

// New 创建 JSON 输出
func New(params output.Params) (output.Output, error) {
	return &Output{
		params: params,
		seen:   make(map[string]bool),
	}, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("json (%s)", o.params.ConfigArgument)
}

// Start 打开文件并启动周期刷新
func (o *Output) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	filename := o.params.ConfigArgument
	if filename == "" {
		filename = fmt.Sprintf("metrics_%s.json", time.Now().Format("20060102_150405"))
	}

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create json output file: %w", err)
	}

	var w io.Writer = file
	o.closers = []io.Closer{file}
	if strings.HasSuffix(filename, ".gz") {
		gz := gzip.NewWriter(file)
		w = gz
		// gzip 先于文件关闭
		o.closers = []io.Closer{gz, file}
	}
	o.writer = bufio.NewWriter(w)
	o.encoder = json.NewEncoder(o.writer)

	pf, err := output.NewPeriodicFlusher(flushInterval, o.flushMetrics)
	if err != nil {
		return err
	}
	o.periodicFlusher = pf
	return nil
}

// Stop 刷新剩余样本并关闭文件
func (o *Output) Stop() error {
	if o.periodicFlusher != nil {
		o.periodicFlusher.Stop()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.writer == nil {
		return nil
	}
	err := o.writer.Flush()
	for _, c := range o.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	o.writer = nil
	return err
}

type metricEnvelope struct {
	Type   string     `json:"type"`
	Metric string     `json:"metric"`
	Data   metricData `json:"data"`
}

type metricData struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Contains string `json:"contains"`
}

type pointEnvelope struct {
	Type   string    `json:"type"`
	Metric string    `json:"metric"`
	Data   pointData `json:"data"`
}

type pointData struct {
	Time  time.Time         `json:"time"`
	Value float64           `json:"value"`
	Tags  map[string]string `json:"tags,omitempty"`
}

func (o *Output) flushMetrics() {
	containers := o.GetBufferedSamples()
	if len(containers) == 0 {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.encoder == nil {
		return
	}

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			if err := o.writeSample(sample); err != nil {
				logger.Error("failed to write json sample", "file", o.params.ConfigArgument, "error", err)
				return
			}
		}
	}
}

// writeSample 首次出现的指标先写出定义行
func (o *Output) writeSample(sample metrics.Sample) error {
	m := sample.Metric
	if !o.seen[m.Name] {
		o.seen[m.Name] = true
		if err := o.encoder.Encode(metricEnvelope{
			Type:   "Metric",
			Metric: m.Name,
			Data:   metricData{Name: m.Name, Type: string(m.Type), Contains: string(m.Contains)},
		}); err != nil {
			return err
		}
	}

	tags := sample.Tags
	if len(o.params.Tags) > 0 {
		tags = make(map[string]string, len(o.params.Tags)+len(sample.Tags))
		for k, v := range o.params.Tags {
			tags[k] = v
		}
		for k, v := range sample.Tags {
			tags[k] = v
		}
	}

	return o.encoder.Encode(pointEnvelope{
		Type:   "Point",
		Metric: m.Name,
		Data:   pointData{Time: sample.Time, Value: sample.Value, Tags: tags},
	})
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}
