package execution

import (
	"context"
	"math"
	"time"

	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// rampTick 调整 VU 数量的间隔
const rampTick = 50 * time.Millisecond

// RampingVUsMode implements the ramping-vus execution mode.
// The active VU count follows a piecewise-linear curve through the stages.
// VUs removed while ramping down finish their current iteration, bounded by
// GracefulRampDown.
type RampingVUsMode struct {
	*BaseMode
}

// NewRampingVUsMode creates a new ramping VUs mode.
func NewRampingVUsMode() *RampingVUsMode {
	return &RampingVUsMode{
		BaseMode: NewBaseMode(types.ModeRampingVUs),
	}
}

// TargetVUsAt returns the VU target at elapsed time, interpolating linearly
// from the previous stage's target (startVUs for the first stage).
func TargetVUsAt(startVUs int, stages []types.Stage, elapsed time.Duration) int {
	from := startVUs
	var offset time.Duration
	for _, stage := range stages {
		end := offset + stage.Duration
		if elapsed < end {
			progress := float64(elapsed-offset) / float64(stage.Duration)
			return from + int(math.Round(float64(stage.Target-from)*progress))
		}
		from = stage.Target
		offset = end
	}
	return from
}

// Run starts the ramping VUs execution.
func (m *RampingVUsMode) Run(ctx context.Context, config *ModeConfig) error {
	if config == nil {
		return ErrNilConfig
	}
	if config.IterationFunc == nil {
		return ErrNilIterationFunc
	}
	if len(config.Stages) == 0 {
		return ErrNoStages
	}

	if err := m.begin(); err != nil {
		return err
	}
	defer m.finish()

	loop := newVULoop(ctx, m.BaseMode, config)
	total := types.TotalStagesDuration(config.Stages)

	// 控制器持有一个计数，保证阶段结束前 wait 不会因 VU 全部退出而提前返回
	loop.wg.Add(1)
	go func() {
		defer loop.wg.Done()
		m.control(loop, config, total)
	}()

	loop.wait(ctx, total)
	return nil
}

// control adjusts the VU count every rampTick until the stages end or the
// run stops.
func (m *RampingVUsMode) control(loop *vuLoop, config *ModeConfig, total time.Duration) {
	start := m.GetState().StartTime
	ticker := time.NewTicker(rampTick)
	defer ticker.Stop()

	for {
		elapsed := time.Since(start)
		target := TargetVUsAt(config.StartVUs, config.Stages, elapsed)
		m.adjust(loop, config, target)
		if elapsed >= total {
			return
		}

		select {
		case <-ticker.C:
		case <-m.stopCh:
			return
		case <-loop.hardCtx.Done():
			return
		}
	}
}

func (m *RampingVUsMode) adjust(loop *vuLoop, config *ModeConfig, target int) {
	m.SetState(func(s *ModeState) { s.TargetVUs = target })

	current := loop.running()
	for i := current; i < target; i++ {
		if loop.spawn(0) == nil {
			return
		}
	}
	if current > target {
		for _, vu := range loop.newest(current - target) {
			m.rampDown(vu, config.GracefulRampDown)
		}
	}
}

// rampDown asks vu to stop after its current iteration and interrupts it if
// it is still running after the grace period.
func (m *RampingVUsMode) rampDown(vu *vuHandle, grace time.Duration) {
	vu.requestStop()
	if grace <= 0 {
		grace = DefaultGracefulStop
	}
	go func() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-vu.done:
		case <-timer.C:
			logger.Debug("graceful ramp-down expired, interrupting VU", "vu", vu.id)
			vu.cancel()
		}
	}()
}
