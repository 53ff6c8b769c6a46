package scenario

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"go.uber.org/zap"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
)

// Runtime holds the run-scoped collaborators shared by every VU.
type Runtime struct {
	HTTP    *httpclient.Client
	Metrics *metrics.Registry
	Builtin *metrics.BuiltinMetrics
	Env     Env
	Checks  *CheckTracker
	// SleepScale multiplies every Sleep; 0 disables sleeping.
	SleepScale float64
}

// IterationFunc adapts a scenario to the scheduler's iteration callback.
func (rt *Runtime) IterationFunc(s *Scenario) func(ctx context.Context, vuID int, iteration int) error {
	if rt.Checks == nil {
		rt.Checks = NewCheckTracker()
	}
	base := rt.HTTP.WithTags(map[string]string{"scenario": s.Name})

	return func(ctx context.Context, vuID int, iteration int) error {
		sc := &Context{
			VU:        vuID,
			Iteration: iteration,
			Scenario:  s.Name,
			HTTP:      base,
			Metrics:   rt.Metrics,
			Env:       rt.Env,
			rt:        rt,
		}
		return s.Run(ctx, sc)
	}
}

// Context 单次迭代的上下文
type Context struct {
	// VU is the 1-based virtual user id.
	VU int
	// Iteration is the VU-local iteration index, starting at 0.
	Iteration int
	Scenario  string

	HTTP    *httpclient.Client
	Metrics *metrics.Registry
	Env     Env

	rt *Runtime
}

// Check evaluates every predicate against resp, records each outcome into the
// "checks" rate and returns whether all of them passed. A nil response fails
// every predicate without calling it.
func (c *Context) Check(resp *httpclient.Response, checks map[string]CheckFunc) bool {
	all := true
	for _, name := range sortedCheckNames(checks) {
		passed := resp != nil && checks[name](resp)
		if !passed {
			all = false
		}
		c.rt.Checks.Record(name, passed)
		if c.rt.Builtin != nil {
			c.Metrics.Add(c.rt.Builtin.Checks, boolValue(passed), map[string]string{
				"check":    name,
				"scenario": c.Scenario,
			})
		}
	}
	return all
}

// Sleep pauses the VU for d scaled by the run's sleep scale. It returns early
// with ctx.Err() when the VU is force-cancelled.
func (c *Context) Sleep(ctx context.Context, d time.Duration) error {
	scaled := time.Duration(float64(d) * c.rt.SleepScale)
	if scaled <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(scaled)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SleepBetween sleeps a uniformly random duration in [lo, hi).
func (c *Context) SleepBetween(ctx context.Context, lo, hi time.Duration) error {
	if hi <= lo {
		return c.Sleep(ctx, lo)
	}
	return c.Sleep(ctx, lo+time.Duration(rand.Int63n(int64(hi-lo))))
}

// Tags returns the standard tags for custom samples of this iteration.
func (c *Context) Tags() map[string]string {
	return map[string]string{
		"scenario": c.Scenario,
		"vu":       strconv.Itoa(c.VU),
	}
}

// Log returns a logger carrying the scenario, VU and iteration fields.
func (c *Context) Log() *zap.SugaredLogger {
	return logger.L().Sugar().With("scenario", c.Scenario, "vu", c.VU, "iteration", c.Iteration)
}

// Rate registers (on first use) and returns a custom Rate metric.
func (c *Context) Rate(name string) (*RateMetric, error) {
	m, err := c.Metrics.Register(name, metrics.Rate)
	if err != nil {
		return nil, err
	}
	return &RateMetric{metric{reg: c.Metrics, m: m, scenario: c.Scenario}}, nil
}

// Counter registers (on first use) and returns a custom Counter metric.
func (c *Context) Counter(name string) (*CounterMetric, error) {
	m, err := c.Metrics.Register(name, metrics.Counter)
	if err != nil {
		return nil, err
	}
	return &CounterMetric{metric{reg: c.Metrics, m: m, scenario: c.Scenario}}, nil
}

// Trend registers (on first use) and returns a custom Trend metric.
// isTime marks the values as milliseconds for display.
func (c *Context) Trend(name string, isTime bool) (*TrendMetric, error) {
	vt := metrics.Default
	if isTime {
		vt = metrics.Time
	}
	m, err := c.Metrics.Register(name, metrics.Trend, vt)
	if err != nil {
		return nil, err
	}
	return &TrendMetric{metric{reg: c.Metrics, m: m, scenario: c.Scenario}}, nil
}

// Gauge registers (on first use) and returns a custom Gauge metric.
func (c *Context) Gauge(name string) (*GaugeMetric, error) {
	m, err := c.Metrics.Register(name, metrics.Gauge)
	if err != nil {
		return nil, err
	}
	return &GaugeMetric{metric{reg: c.Metrics, m: m, scenario: c.Scenario}}, nil
}

type metric struct {
	reg      *metrics.Registry
	m        *metrics.Metric
	scenario string
}

func (m metric) add(v float64) {
	m.reg.Add(m.m, v, map[string]string{"scenario": m.scenario})
}

// RateMetric 自定义比率指标
type RateMetric struct{ metric }

// Add records one event.
func (r *RateMetric) Add(ok bool) { r.add(boolValue(ok)) }

// CounterMetric 自定义计数指标
type CounterMetric struct{ metric }

// Add increments the counter by v.
func (c *CounterMetric) Add(v float64) { c.add(v) }

// TrendMetric 自定义趋势指标
type TrendMetric struct{ metric }

// Add records one observation.
func (t *TrendMetric) Add(v float64) { t.add(v) }

// GaugeMetric 自定义仪表盘指标
type GaugeMetric struct{ metric }

// Set records the current value.
func (g *GaugeMetric) Set(v float64) { g.add(v) }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
