// Package httpclient issues HTTP requests on behalf of virtual users and feeds
// the built-in http_* metrics into the metric registry.
package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
)

// Backend 名称
const (
	BackendNet      = "net"
	BackendFastHTTP = "fasthttp"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxRedirects = 10
	// DefaultUserAgent is sent when neither the config nor the request sets one.
	DefaultUserAgent = "load-engine/1.0"
)

// Config HTTP 客户端配置
type Config struct {
	BaseURL            string
	Backend            string
	Timeout            time.Duration
	HTTP2              bool
	InsecureSkipVerify bool
	UserAgent          string
	MaxConnsPerHost    int
	// MaxRedirects 0 uses the default; negative disables redirects.
	MaxRedirects int
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Backend:      BackendNet,
		Timeout:      defaultTimeout,
		UserAgent:    DefaultUserAgent,
		MaxRedirects: defaultMaxRedirects,
	}
}

// Options are the per-request settings.
type Options struct {
	Headers map[string]string
	Body    []byte
	// Timeout overrides Config.Timeout for this request.
	Timeout time.Duration
	Tags    map[string]string
	// Name groups samples of parametrized URLs, e.g. "/api/v1/products/{id}".
	Name string
	// ExpectedStatuses marks responses outside the set as failed; empty means 200-399.
	ExpectedStatuses []int
}

type request struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

// backend performs a single attempt; it never retries.
type backend interface {
	do(ctx context.Context, req *request) (*Response, int64, error)
}

// Client issues requests and records one connected sample group per attempt.
// It is safe for concurrent use by all VUs.
type Client struct {
	cfg      Config
	registry *metrics.Registry
	builtin  *metrics.BuiltinMetrics
	backend  backend
	tags     map[string]string
}

// New 创建 HTTP 客户端。builtin 为 nil 时会在 registry 上注册内置指标。
func New(cfg Config, registry *metrics.Registry, builtin *metrics.BuiltinMetrics) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if builtin == nil {
		builtin = metrics.RegisterBuiltinMetrics(registry)
	}

	var (
		b   backend
		err error
	)
	switch cfg.Backend {
	case "", BackendNet:
		cfg.Backend = BackendNet
		b, err = newNetBackend(cfg)
	case BackendFastHTTP:
		b = newFastHTTPBackend(cfg)
	default:
		return nil, fmt.Errorf("unknown http backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:      cfg,
		registry: registry,
		builtin:  builtin,
		backend:  b,
	}, nil
}

// WithTags returns a client sharing the same connection pool whose samples
// carry the extra tags (e.g. scenario, vu).
func (c *Client) WithTags(tags map[string]string) *Client {
	merged := make(map[string]string, len(c.tags)+len(tags))
	for k, v := range c.tags {
		merged[k] = v
	}
	for k, v := range tags {
		merged[k] = v
	}
	clone := *c
	clone.tags = merged
	return &clone
}

// Get 发送 GET 请求
func (c *Client) Get(ctx context.Context, url string, opts *Options) (*Response, error) {
	return c.Request(ctx, http.MethodGet, url, opts)
}

// Post 发送 POST 请求
func (c *Client) Post(ctx context.Context, url string, body []byte, opts *Options) (*Response, error) {
	return c.Request(ctx, http.MethodPost, url, withBody(opts, body))
}

// Put 发送 PUT 请求
func (c *Client) Put(ctx context.Context, url string, body []byte, opts *Options) (*Response, error) {
	return c.Request(ctx, http.MethodPut, url, withBody(opts, body))
}

// Delete 发送 DELETE 请求
func (c *Client) Delete(ctx context.Context, url string, opts *Options) (*Response, error) {
	return c.Request(ctx, http.MethodDelete, url, opts)
}

func withBody(opts *Options, body []byte) *Options {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	o.Body = body
	return &o
}

// Request performs exactly one attempt. Timing and failure samples are
// recorded whether or not the request succeeds; transport failures are
// returned as *NetworkError or *ProtocolError.
func (c *Client) Request(ctx context.Context, method, rawURL string, opts *Options) (*Response, error) {
	if opts == nil {
		opts = &Options{}
	}

	req := &request{
		method:  strings.ToUpper(method),
		url:     c.resolveURL(rawURL),
		headers: opts.Headers,
		body:    opts.Body,
		timeout: c.cfg.Timeout,
	}
	if opts.Timeout > 0 {
		req.timeout = opts.Timeout
	}

	start := time.Now()
	resp, sent, err := c.backend.do(ctx, req)
	elapsed := time.Since(start)

	err = classifyError(req.url, err)
	if err != nil {
		logger.Debug("request failed", "method", req.method, "url", req.url, "error", err)
	}

	c.record(req, opts, resp, sent, elapsed, err)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) resolveURL(rawURL string) string {
	if c.cfg.BaseURL == "" || strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://") {
		return rawURL
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(rawURL, "/")
}

// record pushes every http_* sample of one attempt as a single group.
func (c *Client) record(req *request, opts *Options, resp *Response, sent int64, elapsed time.Duration, err error) {
	now := time.Now()

	name := opts.Name
	if name == "" {
		name = req.url
	}
	tags := make(map[string]string, len(c.tags)+len(opts.Tags)+4)
	for k, v := range c.tags {
		tags[k] = v
	}
	for k, v := range opts.Tags {
		tags[k] = v
	}
	tags["method"] = req.method
	tags["name"] = name

	status := 0
	var timings Timings
	var received int64
	if resp != nil {
		status = resp.Status
		timings = resp.Timings
		received = int64(len(resp.Body)) + headerSize(resp.Headers)
	} else {
		timings.Duration = elapsed
	}
	tags["status"] = strconv.Itoa(status)

	failed := err != nil || !isExpected(status, opts.ExpectedStatuses)
	tags["expected_response"] = strconv.FormatBool(!failed)
	if err != nil {
		tags["error"] = errorTag(err)
	}

	b := c.builtin
	samples := []metrics.Sample{
		{Metric: b.HTTPReqs, Time: now, Value: 1, Tags: tags},
		{Metric: b.HTTPReqDuration, Time: now, Value: ms(timings.Duration), Tags: tags},
		{Metric: b.HTTPReqFailed, Time: now, Value: boolValue(failed), Tags: tags},
		{Metric: b.DataSent, Time: now, Value: float64(sent), Tags: tags},
		{Metric: b.DataReceived, Time: now, Value: float64(received), Tags: tags},
	}
	if resp != nil {
		samples = append(samples,
			metrics.Sample{Metric: b.HTTPReqBlocked, Time: now, Value: ms(timings.Blocked), Tags: tags},
			metrics.Sample{Metric: b.HTTPReqConnecting, Time: now, Value: ms(timings.Connecting), Tags: tags},
			metrics.Sample{Metric: b.HTTPReqTLSHandshaking, Time: now, Value: ms(timings.TLSHandshaking), Tags: tags},
			metrics.Sample{Metric: b.HTTPReqSending, Time: now, Value: ms(timings.Sending), Tags: tags},
			metrics.Sample{Metric: b.HTTPReqWaiting, Time: now, Value: ms(timings.Waiting), Tags: tags},
			metrics.Sample{Metric: b.HTTPReqReceiving, Time: now, Value: ms(timings.Receiving), Tags: tags},
		)
	}

	c.registry.Push(metrics.ConnectedSamples{Samples: samples, Tags: tags, Time: now})
}

func isExpected(status int, expected []int) bool {
	if status == 0 {
		return false
	}
	if len(expected) == 0 {
		return status >= 200 && status < 400
	}
	for _, s := range expected {
		if s == status {
			return true
		}
	}
	return false
}

func headerSize(h http.Header) int64 {
	var n int64
	for k, vs := range h {
		for _, v := range vs {
			n += int64(len(k) + len(v) + 4) // ": " + CRLF
		}
	}
	return n
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
