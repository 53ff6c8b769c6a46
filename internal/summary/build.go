package summary

import (
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// Input is everything known about a finished run.
type Input struct {
	RunID     string
	Scenario  string
	StartTime time.Time
	EndTime   time.Time
	Config    *types.ReportConfig

	Iterations        types.IterationStats
	ForcedTermination bool
	Aborted           bool
	AbortReason       string

	// Snapshot is the frozen final metric snapshot.
	Snapshot   *metrics.Snapshot
	Checks     []*types.CheckSummary
	Thresholds []*types.ThresholdResult
	Passed     bool
	Errors     *types.ErrorAnalysis
	TimeSeries []*types.TimeSeriesPoint

	// TrendStats selects the trend columns; nil means metrics.DefaultTrendStats.
	TrendStats []string
}

// Build assembles the RunSummary. Metrics that never received a sample are
// left out unless a threshold references them.
func Build(in Input) *types.RunSummary {
	duration := in.EndTime.Sub(in.StartTime)

	s := &types.RunSummary{
		RunID:             in.RunID,
		Scenario:          in.Scenario,
		StartTime:         in.StartTime,
		EndTime:           in.EndTime,
		DurationMs:        duration.Milliseconds(),
		Config:            in.Config,
		Iterations:        in.Iterations,
		ForcedTermination: in.ForcedTermination,
		Aborted:           in.Aborted,
		AbortReason:       in.AbortReason,
		Checks:            in.Checks,
		Thresholds:        in.Thresholds,
		Passed:            in.Passed,
		Errors:            in.Errors,
		TimeSeries:        in.TimeSeries,
	}
	if s.Thresholds == nil {
		s.Thresholds = []*types.ThresholdResult{}
	}

	switch {
	case in.Aborted:
		s.Status = types.RunStatusAborted
	case !in.Passed:
		s.Status = types.RunStatusThresholdsFailed
	default:
		s.Status = types.RunStatusPassed
	}

	referenced := make(map[string]bool, len(in.Thresholds))
	for _, t := range in.Thresholds {
		referenced[t.Metric] = true
	}

	s.Metrics = []*types.MetricSummary{}
	if in.Snapshot == nil {
		return s
	}
	for _, name := range in.Snapshot.Names() {
		m := in.Snapshot.Get(name)
		if m.IsEmpty() && !referenced[name] {
			continue
		}
		s.Metrics = append(s.Metrics, &types.MetricSummary{
			Name:        name,
			Type:        string(m.Type),
			Contains:    string(m.Contains),
			Values:      m.Stats(duration.Seconds(), in.TrendStats),
			Approximate: m.Approximate,
		})
	}
	return s
}
