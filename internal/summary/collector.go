// Package summary collects the data of the end-of-test summary and renders
// it as text and JSON. Inspired by k6's internal/output/summary.
package summary

import (
	"sort"
	"sync"
	"time"

	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/types"
)

// Compile-time check.
var _ output.Output = &Collector{}

const flushInterval = 100 * time.Millisecond

// maxTopErrors caps ErrorAnalysis.TopErrors.
const maxTopErrors = 20

// Collector is an output that watches the sample stream for failed requests
// and, together with the iteration errors reported by the runner, builds the
// error analysis of the summary.
type Collector struct {
	output.SampleBuffer

	errorTracker    *errorTracker
	periodicFlusher *output.PeriodicFlusher
}

// NewCollector creates a new summary collector.
func NewCollector() *Collector {
	return &Collector{errorTracker: newErrorTracker()}
}

func (c *Collector) Description() string {
	return "end-of-test summary"
}

func (c *Collector) Start() error {
	pf, err := output.NewPeriodicFlusher(flushInterval, c.flushSamples)
	if err != nil {
		return err
	}
	c.periodicFlusher = pf
	return nil
}

func (c *Collector) Stop() error {
	if c.periodicFlusher != nil {
		c.periodicFlusher.Stop()
	}
	return nil
}

func (c *Collector) SetRunStatus(_ output.RunStatus) {}

// flushSamples processes buffered samples.
func (c *Collector) flushSamples() {
	for _, container := range c.GetBufferedSamples() {
		for _, sample := range container.GetSamples() {
			c.processSample(sample)
		}
	}
}

func (c *Collector) processSample(sample metrics.Sample) {
	if sample.Metric == nil || sample.Metric.Name != metrics.HTTPReqFailedName || sample.Value == 0 {
		return
	}
	msg := sample.Tags["error"]
	if msg == "" {
		msg = "unexpected status " + sample.Tags["status"]
	}
	c.errorTracker.Record("http", msg, sample.Tags["name"], sample.Time)
}

// RecordIterationError records an iteration that returned an error or panicked.
func (c *Collector) RecordIterationError(err error, at time.Time) {
	if err == nil {
		return
	}
	c.errorTracker.Record("iteration", err.Error(), "", at)
}

// ErrorAnalysis returns the error distribution collected so far.
func (c *Collector) ErrorAnalysis() *types.ErrorAnalysis {
	return c.errorTracker.BuildAnalysis()
}

// --- Error Tracker ---

type errorTracker struct {
	mu     sync.Mutex
	errors map[string]*errorEntry // kind:source:message -> entry
}

type errorEntry struct {
	Kind      string
	Message   string
	Source    string
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
}

func newErrorTracker() *errorTracker {
	return &errorTracker{errors: make(map[string]*errorEntry)}
}

func (et *errorTracker) Record(kind, message, source string, t time.Time) {
	et.mu.Lock()
	defer et.mu.Unlock()

	key := kind + ":" + source + ":" + message
	if e, ok := et.errors[key]; ok {
		e.Count++
		if t.After(e.LastSeen) {
			e.LastSeen = t
		}
		if t.Before(e.FirstSeen) {
			e.FirstSeen = t
		}
		return
	}
	et.errors[key] = &errorEntry{
		Kind:      kind,
		Message:   message,
		Source:    source,
		Count:     1,
		FirstSeen: t,
		LastSeen:  t,
	}
}

func (et *errorTracker) BuildAnalysis() *types.ErrorAnalysis {
	et.mu.Lock()
	defer et.mu.Unlock()

	if len(et.errors) == 0 {
		return nil
	}

	var totalErrors int64
	typeCounts := make(map[string]int64)
	entries := make([]*errorEntry, 0, len(et.errors))

	for _, e := range et.errors {
		totalErrors += e.Count
		typeCounts[e.Kind+": "+e.Message] += e.Count
		entries = append(entries, e)
	}

	// 按次数降序，次数相同按消息排序
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		if entries[i].Message != entries[j].Message {
			return entries[i].Message < entries[j].Message
		}
		return entries[i].Source < entries[j].Source
	})

	topN := min(len(entries), maxTopErrors)
	topErrors := make([]*types.ErrorDetail, topN)
	for i := 0; i < topN; i++ {
		topErrors[i] = &types.ErrorDetail{
			Kind:      entries[i].Kind,
			Message:   entries[i].Message,
			Source:    entries[i].Source,
			Count:     entries[i].Count,
			FirstSeen: entries[i].FirstSeen,
			LastSeen:  entries[i].LastSeen,
		}
	}

	errorTypes := make([]*types.ErrorTypeStats, 0, len(typeCounts))
	for typ, count := range typeCounts {
		errorTypes = append(errorTypes, &types.ErrorTypeStats{
			Type:       typ,
			Count:      count,
			Percentage: float64(count) / float64(totalErrors) * 100,
		})
	}
	sort.Slice(errorTypes, func(i, j int) bool {
		if errorTypes[i].Count != errorTypes[j].Count {
			return errorTypes[i].Count > errorTypes[j].Count
		}
		return errorTypes[i].Type < errorTypes[j].Type
	})

	return &types.ErrorAnalysis{
		TotalErrors: totalErrors,
		ErrorTypes:  errorTypes,
		TopErrors:   topErrors,
	}
}
