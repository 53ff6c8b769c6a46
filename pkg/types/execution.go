package types

import "time"

// ExecutionMode defines how VUs are scheduled.
type ExecutionMode string

const (
	// ModeConstantVUs runs a fixed number of VUs for a duration and/or a shared iteration cap.
	ModeConstantVUs ExecutionMode = "constant-vus"
	// ModeRampingVUs adjusts VU count according to stages.
	ModeRampingVUs ExecutionMode = "ramping-vus"
	// ModePerVUIterations has each VU execute a fixed number of iterations.
	ModePerVUIterations ExecutionMode = "per-vu-iterations"
	// ModeSharedIterations distributes total iterations across all VUs.
	ModeSharedIterations ExecutionMode = "shared-iterations"
)

// Stage defines an execution stage.
type Stage struct {
	Duration time.Duration `yaml:"duration" json:"duration"`
	Target   int           `yaml:"target" json:"target"` // Target VU count at the end of the stage
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
}

// ThresholdConfig is one threshold expression declared for a metric.
type ThresholdConfig struct {
	Expression  string `yaml:"expression" json:"expression"`
	AbortOnFail bool   `yaml:"abort_on_fail,omitempty" json:"abort_on_fail,omitempty"`
	// Advisory thresholds are reported but do not affect the run verdict.
	Advisory bool `yaml:"advisory,omitempty" json:"advisory,omitempty"`
}

// TotalStagesDuration returns the sum of all stage durations.
func TotalStagesDuration(stages []Stage) time.Duration {
	var total time.Duration
	for _, s := range stages {
		total += s.Duration
	}
	return total
}

// MaxStageTarget returns the highest VU target across stages and start.
func MaxStageTarget(start int, stages []Stage) int {
	maxVUs := start
	for _, s := range stages {
		if s.Target > maxVUs {
			maxVUs = s.Target
		}
	}
	return maxVUs
}
