package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// ErrInvalidExpression is wrapped by every ParseError.
var ErrInvalidExpression = errors.New("invalid threshold expression")

// ParseError describes why an expression could not be parsed.
type ParseError struct {
	Metric     string
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	if e.Metric != "" {
		return fmt.Sprintf("threshold %q on %s: %s", e.Expression, e.Metric, e.Reason)
	}
	return fmt.Sprintf("threshold %q: %s", e.Expression, e.Reason)
}

func (e *ParseError) Unwrap() error { return ErrInvalidExpression }

// Operator 比较运算符
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator to observed and limit.
func (op Operator) Compare(observed, limit float64) bool {
	switch op {
	case OpLess:
		return observed < limit
	case OpLessEqual:
		return observed <= limit
	case OpGreater:
		return observed > limit
	case OpGreaterEqual:
		return observed >= limit
	case OpEqual:
		return observed == limit
	case OpNotEqual:
		return observed != limit
	}
	return false
}

var metricNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

var plainStats = map[string]bool{
	"count": true, "rate": true, "value": true, "avg": true, "min": true,
	"max": true, "med": true, "passes": true, "fails": true, "total": true, "sum": true,
}

func isStat(s string) bool {
	if plainStats[s] {
		return true
	}
	_, ok := metrics.ParsePercentileStat(s)
	return ok
}

// Threshold is one parsed threshold.
type Threshold struct {
	Metric string
	// Stat is empty when the expression names only the metric; the
	// metric's natural statistic is used then.
	Stat        string
	Op          Operator
	Limit       float64
	Source      string
	AbortOnFail bool
	Advisory    bool
}

// Parse parses cfg declared under metric. The metric may also be given inline
// as "metric{stat} op number"; an inline metric must match a non-empty key.
func Parse(metric string, cfg types.ThresholdConfig) (*Threshold, error) {
	expr := strings.TrimSpace(cfg.Expression)
	fail := func(reason string) error {
		return &ParseError{Metric: metric, Expression: cfg.Expression, Reason: reason}
	}
	if expr == "" {
		return nil, fail("empty expression")
	}

	i := strings.IndexAny(expr, "<>=!")
	if i <= 0 {
		return nil, fail("missing comparison operator")
	}
	lhs := strings.TrimSpace(expr[:i])
	rest := expr[i:]

	var op Operator
	for _, candidate := range []Operator{OpLessEqual, OpGreaterEqual, OpEqual, OpNotEqual, OpLess, OpGreater} {
		if strings.HasPrefix(rest, string(candidate)) {
			op = candidate
			break
		}
	}
	if op == "" {
		return nil, fail(fmt.Sprintf("unknown operator in %q", rest))
	}

	limit, err := strconv.ParseFloat(strings.TrimSpace(rest[len(op):]), 64)
	if err != nil {
		return nil, fail(fmt.Sprintf("right-hand side is not a number: %q", strings.TrimSpace(rest[len(op):])))
	}

	t := &Threshold{
		Metric:      metric,
		Op:          op,
		Limit:       limit,
		Source:      cfg.Expression,
		AbortOnFail: cfg.AbortOnFail,
		Advisory:    cfg.Advisory,
	}

	switch {
	case strings.HasSuffix(lhs, "}"):
		open := strings.Index(lhs, "{")
		if open <= 0 {
			return nil, fail("malformed metric{stat}")
		}
		inline := strings.TrimSpace(lhs[:open])
		stat := strings.TrimSpace(lhs[open+1 : len(lhs)-1])
		if !metricNameRe.MatchString(inline) {
			return nil, fail(fmt.Sprintf("invalid metric name %q", inline))
		}
		if metric != "" && inline != metric {
			return nil, fail(fmt.Sprintf("expression names metric %q", inline))
		}
		if !isStat(stat) {
			return nil, fail(fmt.Sprintf("unknown statistic %q", stat))
		}
		t.Metric, t.Stat = inline, stat
	case isStat(lhs):
		if metric == "" {
			return nil, fail("no metric given")
		}
		t.Stat = lhs
	case metricNameRe.MatchString(lhs):
		if metric != "" && lhs != metric {
			return nil, fail(fmt.Sprintf("unknown statistic %q", lhs))
		}
		t.Metric = lhs
	default:
		return nil, fail(fmt.Sprintf("unknown statistic %q", lhs))
	}
	return t, nil
}

// ParseAll parses every configured threshold. Metrics are visited in sorted
// order, expressions in declaration order. All parse errors are joined.
func ParseAll(configs map[string][]types.ThresholdConfig) ([]*Threshold, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		out  []*Threshold
		errs []error
	)
	for _, name := range names {
		for _, cfg := range configs[name] {
			t, err := Parse(name, cfg)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			out = append(out, t)
		}
	}
	return out, errors.Join(errs...)
}

// naturalStat 只写指标名时使用的统计量
func naturalStat(t metrics.MetricType) string {
	switch t {
	case metrics.Counter:
		return "count"
	case metrics.Rate:
		return "rate"
	case metrics.Gauge:
		return "value"
	default:
		return "avg"
	}
}
