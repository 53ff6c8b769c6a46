// Package influxdb pushes samples to InfluxDB (1.x or 2.x) using the line
// protocol over HTTP.
package influxdb

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
)

func init() {
	output.Register("influxdb", New)
}

// Config InfluxDB 配置
type Config struct {
	// URL InfluxDB 地址（scheme://host:port）
	URL string
	// Token 认证令牌（InfluxDB 2.x）
	Token string
	// Organization 组织（InfluxDB 2.x）
	Organization string
	// Bucket 存储桶（InfluxDB 2.x）
	Bucket string
	// Database 数据库名（InfluxDB 1.x）
	Database string
	// PushInterval 推送间隔
	PushInterval time.Duration
	// BatchSize 达到后立即推送
	BatchSize int
	// Tags 全局标签
	Tags map[string]string
}

// Output InfluxDB 输出
type Output struct {
	params    output.Params
	config    Config
	client    *http.Client
	buffer    *bytes.Buffer
	count     int
	mu        sync.Mutex
	runStatus output.RunStatus
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New 创建 InfluxDB 输出
func New(params output.Params) (output.Output, error) {
	config, err := parseConfig(params.ConfigArgument)
	if err != nil {
		return nil, err
	}

	config.Tags = make(map[string]string, len(params.Tags))
	for k, v := range params.Tags {
		config.Tags[k] = v
	}

	return &Output{
		params: params,
		config: config,
		client: &http.Client{Timeout: 10 * time.Second},
		buffer: &bytes.Buffer{},
		stopCh: make(chan struct{}),
	}, nil
}

// parseConfig 解析配置字符串
// 格式: http://host:port?db=dbname 或
//
//	http://host:port?token=xxx&org=xxx&bucket=xxx
//
// 可选参数 push_interval（如 500ms）与 batch_size。
func parseConfig(arg string) (Config, error) {
	config := Config{
		PushInterval: time.Second,
		BatchSize:    1000,
	}

	if arg == "" {
		return config, fmt.Errorf("influxdb URL is required")
	}

	u, err := url.Parse(arg)
	if err != nil {
		return config, fmt.Errorf("parse influxdb URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return config, fmt.Errorf("influxdb URL %q must be scheme://host:port", arg)
	}
	config.URL = fmt.Sprintf("%s://%s", u.Scheme, u.Host)

	q := u.Query()
	config.Database = q.Get("db")
	config.Token = q.Get("token")
	config.Organization = q.Get("org")
	config.Bucket = q.Get("bucket")

	if v := q.Get("push_interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return config, fmt.Errorf("invalid push_interval %q", v)
		}
		config.PushInterval = d
	}
	if v := q.Get("batch_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return config, fmt.Errorf("invalid batch_size %q", v)
		}
		config.BatchSize = n
	}

	if config.Token == "" && config.Database == "" {
		config.Database = "load_engine"
	}
	return config, nil
}

// Description 返回描述
func (o *Output) Description() string {
	return fmt.Sprintf("influxdb (%s)", o.config.URL)
}

// Start 启动定期推送协程
func (o *Output) Start() error {
	o.wg.Add(1)
	go o.pushLoop()
	return nil
}

// Stop 停止推送并写出剩余数据
func (o *Output) Stop() error {
	close(o.stopCh)
	o.wg.Wait()

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flush()
}

func (o *Output) pushLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.config.PushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.mu.Lock()
			if err := o.flush(); err != nil {
				logger.Error("failed to push to influxdb", "url", o.config.URL, "error", err)
			}
			o.mu.Unlock()
		}
	}
}

// AddMetricSamples 添加指标样本
func (o *Output) AddMetricSamples(containers []metrics.SampleContainer) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, container := range containers {
		for _, sample := range container.GetSamples() {
			if sample.Metric == nil {
				continue
			}
			o.buffer.WriteString(o.line(sample))
			o.count++

			if o.count >= o.config.BatchSize {
				if err := o.flush(); err != nil {
					logger.Error("failed to push to influxdb", "url", o.config.URL, "error", err)
				}
			}
		}
	}
}

// line 将样本编码为一行 Line Protocol，标签按键排序
func (o *Output) line(sample metrics.Sample) string {
	tags := make(map[string]string, len(o.config.Tags)+len(sample.Tags))
	for k, v := range o.config.Tags {
		tags[k] = v
	}
	for k, v := range sample.Tags {
		tags[k] = v
	}
	keys := make([]string, 0, len(tags))
	for k, v := range tags {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(escape(sample.Metric.Name, measurementEscaper))
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(escape(k, tagEscaper))
		b.WriteByte('=')
		b.WriteString(escape(tags[k], tagEscaper))
	}
	b.WriteString(" value=")
	b.WriteString(strconv.FormatFloat(sample.Value, 'f', -1, 64))
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(sample.Time.UnixMilli(), 10))
	b.WriteByte('\n')
	return b.String()
}

// writeURL 返回 1.x 或 2.x 的写入地址
func (o *Output) writeURL() string {
	q := url.Values{}
	q.Set("precision", "ms")
	if o.config.Token != "" {
		q.Set("org", o.config.Organization)
		q.Set("bucket", o.config.Bucket)
		return o.config.URL + "/api/v2/write?" + q.Encode()
	}
	q.Set("db", o.config.Database)
	return o.config.URL + "/write?" + q.Encode()
}

// flush 推送缓冲区数据，调用方持有 o.mu
func (o *Output) flush() error {
	if o.buffer.Len() == 0 {
		return nil
	}

	data := make([]byte, o.buffer.Len())
	copy(data, o.buffer.Bytes())
	o.buffer.Reset()
	o.count = 0

	req, err := http.NewRequest(http.MethodPost, o.writeURL(), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if o.config.Token != "" {
		req.Header.Set("Authorization", "Token "+o.config.Token)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("influxdb returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// SetRunStatus 设置运行状态
func (o *Output) SetRunStatus(status output.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runStatus = status
}

var (
	measurementEscaper = strings.NewReplacer(",", `\,`, " ", `\ `)
	tagEscaper         = strings.NewReplacer(",", `\,`, "=", `\=`, " ", `\ `)
)

func escape(s string, r *strings.Replacer) string {
	return r.Replace(s)
}
