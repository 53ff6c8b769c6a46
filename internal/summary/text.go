package summary

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// TextOptions controls the text rendering.
type TextOptions struct {
	NoColor bool
	// TrendStats selects and orders the trend columns; nil means
	// metrics.DefaultTrendStats.
	TrendStats []string
}

const nameWidth = 32

type palette struct {
	pass, fail, warn, dim, bold func(a ...any) string
}

func newPalette(noColor bool) palette {
	mk := func(attrs ...color.Attribute) func(a ...any) string {
		c := color.New(attrs...)
		if noColor {
			c.DisableColor()
		}
		return c.SprintFunc()
	}
	return palette{
		pass: mk(color.FgGreen),
		fail: mk(color.FgRed),
		warn: mk(color.FgYellow),
		dim:  mk(color.Faint),
		bold: mk(color.Bold),
	}
}

// RenderText writes the human-readable summary. It does not modify s.
func RenderText(w io.Writer, s *types.RunSummary, opts TextOptions) error {
	p := newPalette(opts.NoColor)
	var b strings.Builder

	writeHeader(&b, s, p)
	writeThresholds(&b, s, p)
	writeChecks(&b, s, p)
	writeMetrics(&b, s, p, opts.TrendStats)
	writeErrors(&b, s, p)
	writeVerdict(&b, s, p)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeHeader(b *strings.Builder, s *types.RunSummary, p palette) {
	fmt.Fprintf(b, "\n  %s %s\n", p.bold("scenario:"), s.Scenario)
	if c := s.Config; c != nil {
		line := fmt.Sprintf("%s, max %d VUs", c.Mode, c.MaxVUs)
		if c.Duration != "" {
			line += ", duration " + c.Duration
		}
		if c.Iterations > 0 {
			line += fmt.Sprintf(", %d iterations", c.Iterations)
		}
		fmt.Fprintf(b, "  %s %s (gracefulStop: %s)\n", p.bold("execution:"), line, c.GracefulStop)
	}
	fmt.Fprintf(b, "  %s %s\n", p.bold("run time:"), s.Duration().Round(time.Millisecond))

	it := s.Iterations
	fmt.Fprintf(b, "  %s %d complete, %d failed, %d interrupted\n",
		p.bold("iterations:"), it.Completed, it.Failed, it.Interrupted)
	if s.ForcedTermination {
		fmt.Fprintf(b, "  %s\n", p.warn("graceful stop period expired: remaining VUs were force-cancelled"))
	}
	if s.Aborted {
		fmt.Fprintf(b, "  %s %s\n", p.fail("run aborted:"), s.AbortReason)
	}
}

func writeThresholds(b *strings.Builder, s *types.RunSummary, p palette) {
	if len(s.Thresholds) == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s\n", p.bold("█ THRESHOLDS"))

	byMetric := make(map[string][]*types.ThresholdResult)
	var names []string
	for _, t := range s.Thresholds {
		if _, ok := byMetric[t.Metric]; !ok {
			names = append(names, t.Metric)
		}
		byMetric[t.Metric] = append(byMetric[t.Metric], t)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(b, "\n    %s\n", name)
		for _, t := range byMetric[name] {
			mark := p.pass("✓")
			if !t.Passed {
				mark = p.fail("✗")
				if t.Advisory {
					mark = p.warn("✗")
				}
			}
			detail := ""
			switch t.Kind {
			case types.ThresholdOk:
				detail = fmt.Sprintf("%s=%s", t.Stat, formatStat(s.Metric(name), t.Stat, t.Observed))
			default:
				detail = p.fail(t.Kind) + " " + p.dim(t.Message)
			}
			flags := ""
			if t.Advisory {
				flags += p.dim(" (advisory)")
			}
			if t.AbortOnFail {
				flags += p.dim(" (abortOnFail)")
			}
			fmt.Fprintf(b, "    %s '%s' %s%s\n", mark, t.Expression, detail, flags)
		}
	}
}

func writeChecks(b *strings.Builder, s *types.RunSummary, p palette) {
	if len(s.Checks) == 0 {
		return
	}
	var passes, fails int64
	for _, c := range s.Checks {
		passes += c.Passes
		fails += c.Fails
	}

	fmt.Fprintf(b, "\n  %s\n\n", p.bold("█ CHECKS"))
	fmt.Fprintf(b, "    %s %d  %s %d  %s %d\n",
		dots("checks_total", nameWidth), passes+fails,
		p.pass("✓"), passes, p.fail("✗"), fails)

	for _, c := range s.Checks {
		total := c.Passes + c.Fails
		if c.Fails == 0 {
			fmt.Fprintf(b, "    %s %s\n", p.pass("✓"), c.Name)
			continue
		}
		fmt.Fprintf(b, "    %s %s\n", p.fail("✗"), c.Name)
		fmt.Fprintf(b, "     %s %d%% %s %d / %s %d\n",
			p.dim("↳"), int(math.Floor(float64(c.Passes)/float64(total)*100)),
			p.dim("-"), c.Passes, p.fail("✗"), c.Fails)
	}
}

func writeMetrics(b *strings.Builder, s *types.RunSummary, p palette, trendStats []string) {
	if len(s.Metrics) == 0 {
		return
	}
	if trendStats == nil {
		trendStats = metrics.DefaultTrendStats
	}
	fmt.Fprintf(b, "\n  %s\n\n", p.bold("█ METRICS"))

	for _, m := range s.Metrics {
		var value string
		switch metrics.MetricType(m.Type) {
		case metrics.Counter:
			value = fmt.Sprintf("%-12s %s/s",
				formatValue(m.Contains, m.Values["count"]),
				formatValue(m.Contains, m.Values["rate"]))
		case metrics.Gauge:
			value = fmt.Sprintf("%-12s min=%s max=%s",
				formatValue(m.Contains, m.Values["value"]),
				formatValue(m.Contains, m.Values["min"]),
				formatValue(m.Contains, m.Values["max"]))
		case metrics.Rate:
			passes, fails := int64(m.Values["passes"]), int64(m.Values["fails"])
			value = fmt.Sprintf("%-12s %s out of %s",
				formatPercent(m.Values["rate"]),
				humanize.Comma(passes),
				humanize.Comma(passes+fails))
		case metrics.Trend:
			cols := make([]string, 0, len(trendStats))
			for _, stat := range trendStats {
				if v, ok := m.Values[stat]; ok {
					cols = append(cols, stat+"="+formatValue(m.Contains, v))
				}
			}
			value = strings.Join(cols, " ")
			if m.Approximate {
				value += p.dim(" (approx.)")
			}
		}
		fmt.Fprintf(b, "    %s %s\n", dots(m.Name, nameWidth), value)
	}
}

func writeErrors(b *strings.Builder, s *types.RunSummary, p palette) {
	if s.Errors == nil || s.Errors.TotalErrors == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s %s\n\n", p.bold("█ ERRORS"), p.dim(fmt.Sprintf("(%d total)", s.Errors.TotalErrors)))
	for _, e := range s.Errors.TopErrors {
		src := ""
		if e.Source != "" {
			src = p.dim(" [" + e.Source + "]")
		}
		fmt.Fprintf(b, "    %6d  %s: %s%s\n", e.Count, e.Kind, e.Message, src)
	}
}

func writeVerdict(b *strings.Builder, s *types.RunSummary, p palette) {
	var verdict string
	switch s.Status {
	case types.RunStatusPassed:
		verdict = p.pass("✓ all thresholds passed")
	case types.RunStatusAborted:
		verdict = p.fail("✗ run aborted")
	default:
		verdict = p.fail("✗ some thresholds have failed")
	}
	fmt.Fprintf(b, "\n  %s\n\n", verdict)
}

// dots pads name with dots to width followed by a colon.
func dots(name string, width int) string {
	if n := width - len(name); n > 0 {
		return name + strings.Repeat(".", n) + ":"
	}
	return name + ":"
}

// formatStat formats a threshold observation with the unit of its metric.
func formatStat(m *types.MetricSummary, stat string, v float64) string {
	if m == nil {
		return humanize.FormatFloat("#,###.##", v)
	}
	switch stat {
	case "rate":
		if m.Type == string(metrics.Rate) {
			return formatPercent(v)
		}
	case "count", "passes", "fails", "total":
		return humanize.FormatFloat("#,###.", v)
	}
	return formatValue(m.Contains, v)
}

func formatValue(contains string, v float64) string {
	switch metrics.ValueType(contains) {
	case metrics.Time:
		return formatMillis(v)
	case metrics.Data:
		if v < 0 {
			v = 0
		}
		return humanize.Bytes(uint64(math.Round(v)))
	}
	if v == math.Trunc(v) {
		return humanize.Comma(int64(v))
	}
	return humanize.FormatFloat("#,###.##", v)
}

// formatPercent formats a fraction as a percentage with at most two decimals.
func formatPercent(fraction float64) string {
	return strconv.FormatFloat(math.Round(fraction*10000)/100, 'f', -1, 64) + "%"
}

// formatMillis 将毫秒值格式化为 µs / ms / s
func formatMillis(ms float64) string {
	switch {
	case ms == 0:
		return "0s"
	case ms < 1:
		return fmt.Sprintf("%.2fµs", ms*1000)
	case ms < 1000:
		return fmt.Sprintf("%.2fms", ms)
	default:
		return time.Duration(ms * float64(time.Millisecond)).Round(time.Millisecond).String()
	}
}
