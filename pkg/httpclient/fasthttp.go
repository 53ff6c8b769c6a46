package httpclient

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// fastHTTPBackend 使用 fasthttp 连接池，性能更优，但只能给出总耗时
type fastHTTPBackend struct {
	client       *fasthttp.Client
	userAgent    string
	maxRedirects int
}

func newFastHTTPBackend(cfg Config) *fastHTTPBackend {
	maxConns := cfg.MaxConnsPerHost
	if maxConns <= 0 {
		maxConns = 1000
	}
	return &fastHTTPBackend{
		client: &fasthttp.Client{
			MaxConnsPerHost:        maxConns,
			MaxIdleConnDuration:    90 * time.Second,
			TLSConfig:              &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
			DisablePathNormalizing: true,
		},
		userAgent:    cfg.UserAgent,
		maxRedirects: cfg.MaxRedirects,
	}
}

func (b *fastHTTPBackend) do(ctx context.Context, r *request) (*Response, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(r.method)
	req.SetRequestURI(r.url)
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if len(req.Header.UserAgent()) == 0 {
		req.Header.SetUserAgent(b.userAgent)
	}
	if len(r.body) > 0 {
		req.SetBody(r.body)
	}

	// 统一使用 deadline，取请求超时与 ctx deadline 中较早者
	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	sent := int64(len(req.Header.Header())) + int64(len(r.body))

	start := time.Now()
	var err error
	if b.maxRedirects > 0 {
		req.SetTimeout(time.Until(deadline))
		err = b.client.DoRedirects(req, resp, b.maxRedirects)
	} else {
		err = b.client.DoDeadline(req, resp, deadline)
	}
	elapsed := time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, sent, ctxErr
		}
		return nil, sent, err
	}

	// resp.Body() 引用内部缓冲区，Release 前必须复制
	body := append([]byte(nil), resp.Body()...)
	headers := make(http.Header)
	resp.Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})

	return &Response{
		Method:  r.method,
		URL:     r.url,
		Status:  resp.StatusCode(),
		Proto:   "HTTP/1.1",
		Headers: headers,
		Body:    body,
		Timings: Timings{
			Waiting:  elapsed,
			Duration: elapsed,
		},
	}, sent, nil
}
