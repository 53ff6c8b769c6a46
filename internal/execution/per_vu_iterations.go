package execution

import (
	"context"

	"yqhp/load-engine/pkg/types"
)

// PerVUIterationsMode implements the per-vu-iterations execution mode.
// Each VU executes exactly Iterations iterations.
type PerVUIterationsMode struct {
	*BaseMode
}

// NewPerVUIterationsMode creates a new per-VU iterations mode.
func NewPerVUIterationsMode() *PerVUIterationsMode {
	return &PerVUIterationsMode{
		BaseMode: NewBaseMode(types.ModePerVUIterations),
	}
}

// Run starts the per-VU iterations execution.
func (m *PerVUIterationsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if config.Iterations <= 0 {
		return ErrNoIterations
	}
	return runFixedVUs(ctx, m.BaseMode, config, 0, config.Iterations)
}
