package execution

import (
	"context"

	"yqhp/load-engine/pkg/types"
)

// SharedIterationsMode implements the shared-iterations execution mode.
// A fixed total of iterations is claimed by whichever VU is free; each
// iteration runs exactly once. Duration, when set, is a hard upper bound.
type SharedIterationsMode struct {
	*BaseMode
}

// NewSharedIterationsMode creates a new shared iterations mode.
func NewSharedIterationsMode() *SharedIterationsMode {
	return &SharedIterationsMode{
		BaseMode: NewBaseMode(types.ModeSharedIterations),
	}
}

// Run starts the shared iterations execution.
func (m *SharedIterationsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if config.Iterations <= 0 {
		return ErrNoIterations
	}

	// 迭代数少于 VU 数时，多余的 VU 不会拿到任何迭代
	cfg := *config
	if int64(cfg.vus()) > cfg.Iterations {
		cfg.VUs = int(cfg.Iterations)
	}
	return runFixedVUs(ctx, m.BaseMode, &cfg, cfg.Iterations, 0)
}
