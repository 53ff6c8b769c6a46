// Package controlsurface exposes a running test's state to the REST layer
// without importing the runner or the internal packages.
package controlsurface

import (
	"errors"
	"sync"
	"time"

	"yqhp/load-engine/pkg/types"
)

// ErrNotRunning is returned by Stop once the run has finished.
var ErrNotRunning = errors.New("test run is not running")

// MetricsEngine is the read side of the metrics engine.
type MetricsEngine interface {
	GetLatestSnapshot() *types.TimeSeriesPoint
	GetAggregatedStats(duration time.Duration) map[string]map[string]float64
}

// ExecutionStatus represents the current test execution status.
type ExecutionStatus struct {
	RunID            string               `json:"run_id"`
	Scenario         string               `json:"scenario"`
	Mode             string               `json:"mode"`
	Status           string               `json:"status"`
	Running          bool                 `json:"running"`
	Stopping         bool                 `json:"stopping"`
	VUs              int64                `json:"vus"`
	MaxVUs           int64                `json:"max_vus"`
	Iterations       types.IterationStats `json:"iterations"`
	ElapsedMs        int64                `json:"elapsed_ms"`
	ThresholdsFailed int                  `json:"thresholds_failed"`
}

// Status values reported by ExecutionStatus.Status.
const (
	StatusRunning  = "running"
	StatusStopping = "stopping"
	StatusFinished = "finished"
)

// MetricsView is the body of GET /v1/metrics.
type MetricsView struct {
	ElapsedMs int64                         `json:"elapsed_ms"`
	Latest    *types.TimeSeriesPoint        `json:"latest,omitempty"`
	Metrics   map[string]map[string]float64 `json:"metrics"`
}

// ControlSurface provides access to a running test's internal state.
// Inspired by k6's api/v1/ControlSurface.
type ControlSurface struct {
	MetricsEngine MetricsEngine

	GetStatus     func() *ExecutionStatus
	StopExecution func()

	mu       sync.Mutex
	stopped  bool
	finished bool
}

// Status returns the current execution status.
func (cs *ControlSurface) Status() *ExecutionStatus {
	status := &ExecutionStatus{}
	if cs.GetStatus != nil {
		status = cs.GetStatus()
	}

	cs.mu.Lock()
	defer cs.mu.Unlock()
	switch {
	case cs.finished:
		status.Status = StatusFinished
		status.Running = false
	case cs.stopped || status.Stopping:
		status.Status = StatusStopping
		status.Stopping = true
	default:
		status.Status = StatusRunning
	}
	return status
}

// Metrics returns the latest time-series point and the per-metric statistics.
func (cs *ControlSurface) Metrics() *MetricsView {
	status := cs.Status()
	view := &MetricsView{ElapsedMs: status.ElapsedMs, Metrics: map[string]map[string]float64{}}
	if cs.MetricsEngine == nil {
		return view
	}
	view.Latest = cs.MetricsEngine.GetLatestSnapshot()
	if stats := cs.MetricsEngine.GetAggregatedStats(time.Duration(status.ElapsedMs) * time.Millisecond); stats != nil {
		view.Metrics = stats
	}
	return view
}

// Stop requests a graceful stop. Repeated calls are no-ops; a finished run
// returns ErrNotRunning.
func (cs *ControlSurface) Stop() error {
	cs.mu.Lock()
	if cs.finished {
		cs.mu.Unlock()
		return ErrNotRunning
	}
	first := !cs.stopped
	cs.stopped = true
	cs.mu.Unlock()

	if first && cs.StopExecution != nil {
		cs.StopExecution()
	}
	return nil
}

// MarkFinished records the end of the run.
func (cs *ControlSurface) MarkFinished() {
	cs.mu.Lock()
	cs.finished = true
	cs.mu.Unlock()
}
