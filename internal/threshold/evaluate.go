package threshold

import (
	"fmt"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Evaluate resolves t against snap. A metric absent from the snapshot fails
// with kind ThresholdMetricMissing; a statistic the metric type does not
// provide fails with ThresholdStatUnsupported. Registered metrics without
// samples are evaluated on zero values.
func (t *Threshold) Evaluate(snap *metrics.Snapshot, durationSec float64) *types.ThresholdResult {
	res := &types.ThresholdResult{
		Metric:      t.Metric,
		Expression:  t.Source,
		Stat:        t.Stat,
		AbortOnFail: t.AbortOnFail,
		Advisory:    t.Advisory,
	}

	m := snap.Get(t.Metric)
	if m == nil {
		res.Kind = types.ThresholdMetricMissing
		res.Message = fmt.Sprintf("metric %q was never registered", t.Metric)
		return res
	}

	stat := t.Stat
	if stat == "" {
		stat = naturalStat(m.Type)
		res.Stat = stat
	}

	observed, err := m.Stat(stat, durationSec)
	if err != nil {
		res.Kind = types.ThresholdStatUnsupported
		res.Message = err.Error()
		return res
	}

	res.Kind = types.ThresholdOk
	res.Observed = observed
	res.Passed = t.Op.Compare(observed, t.Limit)
	if !res.Passed {
		res.Message = fmt.Sprintf("%s=%g, want %s %g", stat, observed, t.Op, t.Limit)
	}
	return res
}

// Evaluate evaluates every threshold and returns the results in input order
// together with the run verdict: true iff every non-advisory threshold passed.
func Evaluate(snap *metrics.Snapshot, durationSec float64, thresholds []*Threshold) ([]*types.ThresholdResult, bool) {
	results := make([]*types.ThresholdResult, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, t.Evaluate(snap, durationSec))
	}
	return results, Verdict(results)
}

// Verdict reports whether every required threshold passed.
func Verdict(results []*types.ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed && !r.Advisory {
			return false
		}
	}
	return true
}

// Crossed returns the abort-on-fail thresholds that currently fail. Metrics
// that are missing or still empty are skipped, since custom metrics may not
// have been registered yet this early in the run.
func Crossed(snap *metrics.Snapshot, durationSec float64, thresholds []*Threshold) []*types.ThresholdResult {
	var crossed []*types.ThresholdResult
	for _, t := range thresholds {
		if !t.AbortOnFail {
			continue
		}
		if m := snap.Get(t.Metric); m == nil || m.IsEmpty() {
			continue
		}
		if res := t.Evaluate(snap, durationSec); !res.Passed {
			crossed = append(crossed, res)
		}
	}
	return crossed
}
