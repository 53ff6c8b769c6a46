package scenario

import (
	"sort"
	"sync"
	"sync/atomic"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/types"
)

// CheckFunc is a named predicate over a response.
type CheckFunc func(r *httpclient.Response) bool

type checkCounts struct {
	passes atomic.Int64
	fails  atomic.Int64
}

// CheckTracker keeps per-check pass/fail tallies for the summary.
type CheckTracker struct {
	mu     sync.RWMutex
	checks map[string]*checkCounts
	order  []string
}

// NewCheckTracker 创建检查统计器
func NewCheckTracker() *CheckTracker {
	return &CheckTracker{checks: make(map[string]*checkCounts)}
}

func (t *CheckTracker) counts(name string) *checkCounts {
	t.mu.RLock()
	c, ok := t.checks[name]
	t.mu.RUnlock()
	if ok {
		return c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.checks[name]; ok {
		return c
	}
	c = &checkCounts{}
	t.checks[name] = c
	t.order = append(t.order, name)
	return c
}

// Record adds one outcome for the named check.
func (t *CheckTracker) Record(name string, passed bool) {
	c := t.counts(name)
	if passed {
		c.passes.Add(1)
	} else {
		c.fails.Add(1)
	}
}

// Results returns the tallies in first-seen order.
func (t *CheckTracker) Results() []*types.CheckSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()
	results := make([]*types.CheckSummary, 0, len(t.order))
	for _, name := range t.order {
		c := t.checks[name]
		results = append(results, &types.CheckSummary{
			Name:   name,
			Passes: c.passes.Load(),
			Fails:  c.fails.Load(),
		})
	}
	return results
}

func sortedCheckNames(checks map[string]CheckFunc) []string {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
