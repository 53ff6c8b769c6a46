package httpclient

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/metrics"
)

func newTestClient(t *testing.T, cfg Config) (*Client, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	c, err := New(cfg, reg, nil)
	require.NoError(t, err)
	return c, reg
}

func TestRequest_RecordsBuiltinMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.Header.Get("Correlation-Id"))
		time.Sleep(10 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"productId":"PROD-1","price":12.5}`))
	}))
	defer srv.Close()

	for _, backend := range []string{BackendNet, BackendFastHTTP} {
		t.Run(backend, func(t *testing.T) {
			c, reg := newTestClient(t, Config{Backend: backend})

			resp, err := c.Get(context.Background(), srv.URL+"/api/v1/products/PROD-1", &Options{
				Headers: map[string]string{"Correlation-Id": "abc"},
				Name:    "/api/v1/products/{id}",
			})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, "application/json", resp.Header("Content-Type"))
			assert.GreaterOrEqual(t, resp.Timings.Duration, 10*time.Millisecond)

			price, ok := resp.JSONPathFirst("$.price")
			require.True(t, ok)
			assert.Equal(t, 12.5, price)

			snap := reg.Snapshot()
			dur := snap.Get(metrics.HTTPReqDurationName)
			assert.Equal(t, int64(1), dur.Count)
			assert.GreaterOrEqual(t, dur.Max, 10.0)
			assert.Equal(t, 1.0, snap.Get(metrics.HTTPReqsName).Value)
			assert.Equal(t, int64(1), snap.Get(metrics.HTTPReqFailedName).Fails)
			assert.Positive(t, snap.Get(metrics.DataReceivedName).Value)
		})
	}
}

func TestPutAndDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(body)
		case http.MethodDelete:
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	for _, backend := range []string{BackendNet, BackendFastHTTP} {
		t.Run(backend, func(t *testing.T) {
			c, reg := newTestClient(t, Config{Backend: backend})

			resp, err := c.Put(context.Background(), srv.URL+"/api/v1/cart/items/1", []byte(`{"quantity":3}`), nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, http.MethodPut, resp.Method)
			qty, ok := resp.JSONPathFirst("$.quantity")
			require.True(t, ok)
			assert.EqualValues(t, 3, qty)

			resp, err = c.Delete(context.Background(), srv.URL+"/api/v1/cart/items/1", nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusNoContent, resp.Status)
			assert.Equal(t, http.MethodDelete, resp.Method)

			snap := reg.Snapshot()
			assert.Equal(t, 2.0, snap.Get(metrics.HTTPReqsName).Value)
			assert.Equal(t, 0.0, snap.Get(metrics.HTTPReqFailedName).Rate())
			assert.Positive(t, snap.Get(metrics.DataSentName).Value)
		})
	}
}

func TestRequest_UnexpectedStatusIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c, reg := newTestClient(t, DefaultConfig())

	resp, err := c.Post(context.Background(), srv.URL, []byte(`{}`), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Status)
	assert.Equal(t, 1.0, reg.Snapshot().Get(metrics.HTTPReqFailedName).Rate())

	_, err = c.Post(context.Background(), srv.URL, []byte(`{}`), &Options{ExpectedStatuses: []int{200, 201, 409}})
	require.NoError(t, err)
	assert.Equal(t, 0.5, reg.Snapshot().Get(metrics.HTTPReqFailedName).Rate())
}

func TestRequest_ConnectionRefusedIsNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c, reg := newTestClient(t, DefaultConfig())

	resp, err := c.Get(context.Background(), "http://"+addr+"/", nil)
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)

	snap := reg.Snapshot()
	assert.Equal(t, int64(1), snap.Get(metrics.HTTPReqDurationName).Count)
	assert.Equal(t, 1.0, snap.Get(metrics.HTTPReqFailedName).Rate())
}

func TestRequest_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := newTestClient(t, DefaultConfig())

	_, err := c.Get(context.Background(), srv.URL, &Options{Timeout: 50 * time.Millisecond})
	require.Error(t, err)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestRequest_BaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/actuator/health", r.URL.Path)
	}))
	defer srv.Close()

	c, _ := newTestClient(t, Config{BaseURL: srv.URL + "/"})
	resp, err := c.Get(context.Background(), "/actuator/health", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
}

func TestRequest_WithTagsAppliesToSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, reg := newTestClient(t, DefaultConfig())
	ch := make(chan metrics.SampleContainer, 1)
	reg.SetSampleChannel(ch)

	_, err := c.WithTags(map[string]string{"scenario": "api-smoke"}).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)

	group := <-ch
	for _, s := range group.GetSamples() {
		assert.Equal(t, "api-smoke", s.Tags["scenario"])
		assert.Equal(t, "GET", s.Tags["method"])
		assert.Equal(t, "200", s.Tags["status"])
	}
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(Config{Backend: "grpc"}, metrics.NewRegistry(), nil)
	assert.Error(t, err)
}

func TestClassifyError(t *testing.T) {
	err := classifyError("http://x", context.DeadlineExceeded)
	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "timeout", netErr.Op)

	err = classifyError("http://x", errors.New(`net/http: HTTP/1.x transport connection broken: malformed HTTP response "garbage"`))
	assert.ErrorIs(t, err, ErrProtocol)

	err = classifyError("http://x", &net.DNSError{Err: "no such host", Name: "x"})
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "dns", netErr.Op)
}

func TestErrorTag(t *testing.T) {
	assert.Equal(t, "network: connect", errorTag(&NetworkError{Op: "connect", URL: "u", Err: assert.AnError}))
	assert.Equal(t, "protocol", errorTag(&ProtocolError{URL: "u", Err: assert.AnError}))
	assert.Equal(t, "request", errorTag(assert.AnError))
}
