package execution

import (
	"context"

	"yqhp/load-engine/pkg/types"
)

// ConstantVUsMode implements the constant-vus execution mode.
// It maintains a fixed number of VUs until the duration elapses or the
// shared iteration cap is reached, whichever comes first.
type ConstantVUsMode struct {
	*BaseMode
}

// NewConstantVUsMode creates a new constant VUs mode.
func NewConstantVUsMode() *ConstantVUsMode {
	return &ConstantVUsMode{
		BaseMode: NewBaseMode(types.ModeConstantVUs),
	}
}

// Run starts the constant VUs execution.
func (m *ConstantVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if config.Duration <= 0 && config.Iterations <= 0 {
		return ErrNoStopCondition
	}
	return runFixedVUs(ctx, m.BaseMode, config, config.Iterations, 0)
}

// runFixedVUs is shared by the modes that start a fixed VU set once.
func runFixedVUs(ctx context.Context, base *BaseMode, config *ModeConfig, sharedCap, perVU int64) error {
	if err := base.begin(); err != nil {
		return err
	}
	defer base.finish()

	vus := config.vus()
	base.SetState(func(s *ModeState) { s.TargetVUs = vus })

	loop := newVULoop(ctx, base, config)
	loop.sharedCap = sharedCap
	loop.spawnAsync(vus, perVU)
	loop.wait(ctx, config.Duration)
	return nil
}
