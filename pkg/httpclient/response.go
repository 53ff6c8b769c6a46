package httpclient

import (
	"net/http"
	"sync"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/ohler55/ojg/oj"
)

// Timings 单次请求各阶段耗时
type Timings struct {
	Blocked        time.Duration `json:"blocked"`
	LookingUp      time.Duration `json:"looking_up"`
	Connecting     time.Duration `json:"connecting"`
	TLSHandshaking time.Duration `json:"tls_handshaking"`
	Sending        time.Duration `json:"sending"`
	Waiting        time.Duration `json:"waiting"`
	Receiving      time.Duration `json:"receiving"`
	// Duration is sending + waiting + receiving.
	Duration time.Duration `json:"duration"`
}

// Response is a snapshot of a completed request. It must not be modified
// after it is returned.
type Response struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Status  int         `json:"status"`
	Proto   string      `json:"proto"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"-"`
	Timings Timings     `json:"timings"`

	jsonOnce sync.Once
	jsonDoc  any
	jsonErr  error
}

// Header returns the first value of a response header.
func (r *Response) Header(key string) string {
	return r.Headers.Get(key)
}

// JSON parses the body once and returns the generic document.
func (r *Response) JSON() (any, error) {
	r.jsonOnce.Do(func() {
		r.jsonDoc, r.jsonErr = oj.Parse(r.Body)
	})
	return r.jsonDoc, r.jsonErr
}

// JSONPath evaluates a JSONPath expression (e.g. "$.price") against the body.
func (r *Response) JSONPath(expr string) ([]any, error) {
	path, err := jp.ParseString(expr)
	if err != nil {
		return nil, err
	}
	doc, err := r.JSON()
	if err != nil {
		return nil, err
	}
	return path.Get(doc), nil
}

// JSONPathFirst returns the first match of expr, or false when nothing matched
// or the body is not JSON.
func (r *Response) JSONPathFirst(expr string) (any, bool) {
	results, err := r.JSONPath(expr)
	if err != nil || len(results) == 0 {
		return nil, false
	}
	return results[0], true
}
