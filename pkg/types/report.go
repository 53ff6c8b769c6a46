package types

import "time"

// Run status values.
const (
	RunStatusPassed           = "passed"
	RunStatusThresholdsFailed = "thresholds_failed"
	RunStatusAborted          = "aborted"
)

// Threshold result kinds.
const (
	ThresholdOk               = "ok"
	ThresholdMetricMissing    = "metric_missing"
	ThresholdStatUnsupported  = "stat_unsupported"
	ThresholdInvalidCondition = "invalid_expression"
)

// RunSummary is the final, read-only report of a run. Inspired by k6's
// summary system.
type RunSummary struct {
	// Meta information
	RunID     string    `json:"run_id"`
	Scenario  string    `json:"scenario"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	// DurationMs is the measured wall-clock run time.
	DurationMs int64  `json:"duration_ms"`
	Status     string `json:"status"`

	Config *ReportConfig `json:"config"`

	Iterations IterationStats `json:"iterations"`

	// ForcedTermination is set when VUs had to be cancelled after the
	// graceful stop period expired.
	ForcedTermination bool   `json:"forced_termination"`
	Aborted           bool   `json:"aborted"`
	AbortReason       string `json:"abort_reason,omitempty"`

	Metrics    []*MetricSummary    `json:"metrics"`
	Checks     []*CheckSummary     `json:"checks,omitempty"`
	Thresholds []*ThresholdResult  `json:"thresholds"`
	Passed     bool                `json:"thresholds_passed"`
	Errors     *ErrorAnalysis      `json:"error_analysis,omitempty"`
	TimeSeries []*TimeSeriesPoint  `json:"time_series,omitempty"`
}

// Duration returns the measured run time.
func (s *RunSummary) Duration() time.Duration {
	return time.Duration(s.DurationMs) * time.Millisecond
}

// Metric looks up a metric summary by name.
func (s *RunSummary) Metric(name string) *MetricSummary {
	for _, m := range s.Metrics {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// IterationStats counts iterations exactly once each.
type IterationStats struct {
	Completed   int64 `json:"completed"`
	Interrupted int64 `json:"interrupted"`
	Failed      int64 `json:"failed"`
	Dropped     int64 `json:"dropped,omitempty"`
}

// MetricSummary holds the aggregated statistics of one metric.
type MetricSummary struct {
	Name        string             `json:"name"`
	Type        string             `json:"type"`
	Contains    string             `json:"contains"`
	Values      map[string]float64 `json:"values"`
	Approximate bool               `json:"approximate,omitempty"`
}

// CheckSummary holds the pass/fail tallies of one named check.
type CheckSummary struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// ThresholdResult is the outcome of evaluating one threshold.
type ThresholdResult struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Stat        string  `json:"stat,omitempty"`
	Observed    float64 `json:"observed"`
	Passed      bool    `json:"passed"`
	Kind        string  `json:"kind"`
	AbortOnFail bool    `json:"abort_on_fail,omitempty"`
	Advisory    bool    `json:"advisory,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// ErrorAnalysis contains iteration error distribution and details.
type ErrorAnalysis struct {
	TotalErrors int64             `json:"total_errors"`
	ErrorTypes  []*ErrorTypeStats `json:"error_types"`
	TopErrors   []*ErrorDetail    `json:"top_errors"`
}

// ErrorTypeStats shows the distribution of a specific error type.
type ErrorTypeStats struct {
	Type       string  `json:"type"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// ErrorDetail contains information about a specific error occurrence.
type ErrorDetail struct {
	// Kind is "http" for failed requests and "iteration" for scenario errors.
	Kind    string `json:"kind"`
	Message string `json:"message"`
	// Source is the request name for http errors.
	Source    string    `json:"source,omitempty"`
	Count     int64     `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// TimeSeriesPoint captures a snapshot of key metrics at a point in time.
type TimeSeriesPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Iterations int64     `json:"iterations"`
	ActiveVUs  int64     `json:"active_vus"`
	RPS        float64   `json:"rps"`
	ErrorRate  float64   `json:"error_rate"`
	AvgRT      float64   `json:"avg_rt_ms"`
	P95RT      float64   `json:"p95_rt_ms"`

	DataSentPerSec     float64 `json:"data_sent_per_sec"`
	DataReceivedPerSec float64 `json:"data_received_per_sec"`
}

// ReportConfig records the execution configuration for the report.
type ReportConfig struct {
	Mode         string  `json:"mode"`
	VUs          int     `json:"vus"`
	MaxVUs       int     `json:"max_vus"`
	Duration     string  `json:"duration,omitempty"`
	Iterations   int64   `json:"iterations,omitempty"`
	GracefulStop string  `json:"graceful_stop"`
	Stages       []Stage `json:"stages,omitempty"`
}
