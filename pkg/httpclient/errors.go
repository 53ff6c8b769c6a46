package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

var (
	// ErrNetwork matches every *NetworkError.
	ErrNetwork = errors.New("network error")
	// ErrProtocol matches every *ProtocolError.
	ErrProtocol = errors.New("protocol error")
)

// NetworkError 表示连接被拒绝、超时、DNS 失败等传输层错误。
type NetworkError struct {
	Op  string // dns | connect | timeout | canceled | io
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports ErrNetwork as a match.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// Timeout reports whether the request hit its deadline.
func (e *NetworkError) Timeout() bool { return e.Op == "timeout" }

// ProtocolError 表示服务端返回了无法解析的响应。
type ProtocolError struct {
	URL string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.URL, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// Is reports ErrProtocol as a match.
func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// classifyError maps a backend error to NetworkError or ProtocolError.
func classifyError(rawURL string, err error) error {
	if err == nil {
		return nil
	}

	var netErr *NetworkError
	var protoErr *ProtocolError
	if errors.As(err, &netErr) || errors.As(err, &protoErr) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &NetworkError{Op: "canceled", URL: rawURL, Err: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, fasthttp.ErrTimeout):
		return &NetworkError{Op: "timeout", URL: rawURL, Err: err}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &NetworkError{Op: "dns", URL: rawURL, Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return &NetworkError{Op: "timeout", URL: rawURL, Err: err}
		}
		if opErr.Op == "dial" {
			return &NetworkError{Op: "connect", URL: rawURL, Err: err}
		}
		return &NetworkError{Op: "io", URL: rawURL, Err: err}
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &NetworkError{Op: "timeout", URL: rawURL, Err: err}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) || isMalformed(err) {
		return &ProtocolError{URL: rawURL, Err: err}
	}

	return &NetworkError{Op: "io", URL: rawURL, Err: err}
}

func isMalformed(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "malformed HTTP") ||
		strings.Contains(msg, "error when reading response headers") ||
		strings.Contains(msg, "cannot find http request method") ||
		strings.Contains(msg, "unsupported transfer encoding")
}

// errorTag is the low-cardinality "error" sample tag of a failed attempt.
func errorTag(err error) string {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return "network: " + netErr.Op
	}
	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return "protocol"
	}
	return "request"
}
