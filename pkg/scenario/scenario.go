// Package scenario is the API scenario authors program against: a typed
// per-iteration context carrying the HTTP client, the metric registry, the
// environment bindings, checks and sleeps.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"yqhp/load-engine/pkg/types"
)

var (
	// ErrScenarioNotFound is returned when looking up an unknown scenario.
	ErrScenarioNotFound = errors.New("scenario not found")
	// ErrDuplicateScenario is returned when registering a name twice.
	ErrDuplicateScenario = errors.New("scenario already registered")
)

// Func is one iteration of a scenario. Returning an error marks the iteration
// as failed; the VU continues with the next iteration.
type Func func(ctx context.Context, sc *Context) error

// Defaults are the run options a scenario suggests when the configuration
// leaves them unset.
type Defaults struct {
	VUs        int
	StartVUs   int
	Duration   time.Duration
	Iterations int64
	Stages     []types.Stage
	Thresholds map[string][]types.ThresholdConfig
	Env        map[string]string
}

// Scenario 场景定义
type Scenario struct {
	Name        string
	Description string
	Run         Func
	Defaults    Defaults
}

// Registry 场景注册表
type Registry struct {
	scenarios map[string]*Scenario
	mu        sync.RWMutex
}

// NewRegistry creates an empty scenario registry.
func NewRegistry() *Registry {
	return &Registry{scenarios: make(map[string]*Scenario)}
}

// Register adds a scenario; names must be unique.
func (r *Registry) Register(s *Scenario) error {
	if s == nil || s.Name == "" || s.Run == nil {
		return fmt.Errorf("scenario must have a name and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scenarios[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateScenario, s.Name)
	}
	r.scenarios[s.Name] = s
	return nil
}

// MustRegister is Register for init-time registration; it panics on error.
func (r *Registry) MustRegister(s *Scenario) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Get returns the scenario registered under name.
func (r *Registry) Get(name string) (*Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrScenarioNotFound, name)
	}
	return s, nil
}

// List returns all registered scenarios sorted by name.
func (r *Registry) List() []*Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]*Scenario, 0, len(r.scenarios))
	for _, s := range r.scenarios {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

// DefaultRegistry holds the built-in scenarios.
var DefaultRegistry = NewRegistry()

// Env 运行期环境变量绑定
type Env map[string]string

// Get returns the binding for key, or def when it is unset or empty.
func (e Env) Get(key, def string) string {
	if v, ok := e[key]; ok && v != "" {
		return v
	}
	return def
}
