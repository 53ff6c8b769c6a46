package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"golang.org/x/net/http2"
)

// netBackend 基于标准库 net/http，通过 httptrace 采集分阶段耗时
type netBackend struct {
	client    *http.Client
	userAgent string
}

func newNetBackend(cfg Config) (*netBackend, error) {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        0,
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}, //nolint:gosec
	}
	if cfg.HTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("configure http2 transport: %w", err)
		}
	}

	maxRedirects := cfg.MaxRedirects
	return &netBackend{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if maxRedirects < 0 {
					return http.ErrUseLastResponse
				}
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return nil
			},
		},
		userAgent: cfg.UserAgent,
	}, nil
}

func (b *netBackend) do(ctx context.Context, r *request) (*Response, int64, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tracer := &phaseTracer{}
	ctx = httptrace.WithClientTrace(ctx, tracer.trace())

	var body io.Reader
	if len(r.body) > 0 {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, r.url, body)
	if err != nil {
		return nil, 0, &ProtocolError{URL: r.url, Err: err}
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", b.userAgent)
	}
	sent := requestSize(req, len(r.body))

	tracer.start(time.Now())
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, sent, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	done := time.Now()
	if err != nil {
		return nil, sent, err
	}

	return &Response{
		Method:  r.method,
		URL:     r.url,
		Status:  resp.StatusCode,
		Proto:   resp.Proto,
		Headers: resp.Header,
		Body:    data,
		Timings: tracer.timings(done),
	}, sent, nil
}

func requestSize(req *http.Request, bodyLen int) int64 {
	// request line: METHOD SP URI SP HTTP/1.1 CRLF, header block terminator CRLF
	n := int64(len(req.Method)+len(req.URL.RequestURI())+len(" HTTP/1.1\r\n")+2) + int64(bodyLen)
	n += int64(len("Host: ") + len(req.URL.Host) + 2)
	return n + headerSize(req.Header)
}

// phaseTracer records httptrace timestamps. Callbacks may fire on
// transport goroutines, so all access is under mu.
type phaseTracer struct {
	mu sync.Mutex

	begin        time.Time
	getConn      time.Time
	dnsStart     time.Time
	dnsDone      time.Time
	connectStart time.Time
	connectDone  time.Time
	tlsStart     time.Time
	tlsDone      time.Time
	gotConn      time.Time
	wroteRequest time.Time
	firstByte    time.Time
	reused       bool
}

func (t *phaseTracer) start(now time.Time) {
	t.mu.Lock()
	t.begin = now
	t.mu.Unlock()
}

func (t *phaseTracer) set(field *time.Time) func() {
	return func() {
		t.mu.Lock()
		if field.IsZero() {
			*field = time.Now()
		}
		t.mu.Unlock()
	}
}

func (t *phaseTracer) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GetConn:  func(string) { t.set(&t.getConn)() },
		DNSStart: func(httptrace.DNSStartInfo) { t.set(&t.dnsStart)() },
		DNSDone:  func(httptrace.DNSDoneInfo) { t.set(&t.dnsDone)() },
		ConnectStart: func(string, string) {
			t.set(&t.connectStart)()
		},
		ConnectDone: func(string, string, error) {
			t.set(&t.connectDone)()
		},
		TLSHandshakeStart: t.set(&t.tlsStart),
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			t.set(&t.tlsDone)()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			t.set(&t.gotConn)()
			t.mu.Lock()
			t.reused = info.Reused
			t.mu.Unlock()
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			t.set(&t.wroteRequest)()
		},
		GotFirstResponseByte: t.set(&t.firstByte),
	}
}

func span(from, to time.Time) time.Duration {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return 0
	}
	return to.Sub(from)
}

func (t *phaseTracer) timings(done time.Time) Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	var tm Timings
	if !t.reused {
		tm.LookingUp = span(t.dnsStart, t.dnsDone)
		tm.Connecting = span(t.connectStart, t.connectDone)
		tm.TLSHandshaking = span(t.tlsStart, t.tlsDone)
	}

	tm.Blocked = span(t.begin, t.gotConn) - tm.LookingUp - tm.Connecting - tm.TLSHandshaking
	if tm.Blocked < 0 {
		tm.Blocked = 0
	}
	tm.Sending = span(t.gotConn, t.wroteRequest)
	tm.Waiting = span(t.wroteRequest, t.firstByte)
	tm.Receiving = span(t.firstByte, done)
	tm.Duration = tm.Sending + tm.Waiting + tm.Receiving
	if tm.Duration == 0 {
		tm.Duration = span(t.begin, done)
	}
	return tm
}
