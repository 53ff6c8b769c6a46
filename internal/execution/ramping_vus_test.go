package execution

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func TestNewRampingVUsMode(t *testing.T) {
	mode := NewRampingVUsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ModeRampingVUs, mode.Name())
}

func TestRampingVUsMode_Run_InvalidConfig(t *testing.T) {
	assert.ErrorIs(t, NewRampingVUsMode().Run(context.Background(), nil), ErrNilConfig)

	err := NewRampingVUsMode().Run(context.Background(), &ModeConfig{
		Stages: []types.Stage{{Duration: time.Second, Target: 5}},
	})
	assert.ErrorIs(t, err, ErrNilIterationFunc)

	err = NewRampingVUsMode().Run(context.Background(), &ModeConfig{
		IterationFunc: func(context.Context, int, int) error { return nil },
	})
	assert.ErrorIs(t, err, ErrNoStages)
}

func TestTargetVUsAt(t *testing.T) {
	stages := []types.Stage{
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 10},
		{Duration: 10 * time.Second, Target: 0},
	}

	tests := []struct {
		name     string
		startVUs int
		elapsed  time.Duration
		expected int
	}{
		{"start", 0, 0, 0},
		{"quarter of ramp-up", 0, 2500 * time.Millisecond, 3},
		{"half of ramp-up", 0, 5 * time.Second, 5},
		{"end of ramp-up", 0, 10 * time.Second, 10},
		{"plateau", 0, 15 * time.Second, 10},
		{"half of ramp-down", 0, 25 * time.Second, 5},
		{"after all stages", 0, time.Minute, 0},
		{"from start VUs", 4, 5 * time.Second, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, TargetVUsAt(tt.startVUs, stages, tt.elapsed))
		})
	}
}

func TestTargetVUsAt_ZeroDurationStageJumps(t *testing.T) {
	stages := []types.Stage{
		{Duration: 0, Target: 50},
		{Duration: 10 * time.Second, Target: 50},
	}
	assert.Equal(t, 50, TargetVUsAt(0, stages, 0))
	assert.Equal(t, 50, TargetVUsAt(0, stages, 5*time.Second))
}

func TestRampingVUsMode_Run_RampsUp(t *testing.T) {
	mode := NewRampingVUsMode()

	var maxActive, current atomic.Int32
	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 200 * time.Millisecond, Target: 5},
			{Duration: 100 * time.Millisecond, Target: 5},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Millisecond):
				return nil
			}
		},
		OnVUStart: func(int) {
			n := current.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
		},
		OnVUStop: func(int) { current.Add(-1) },
	}

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 300*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
	assert.Equal(t, int32(5), maxActive.Load())
	assert.Equal(t, int32(0), current.Load())

	state := mode.GetState()
	assert.Equal(t, 5, state.MaxVUs)
	assert.Positive(t, state.CompletedIterations)
}

func TestRampingVUsMode_Run_RampsDown(t *testing.T) {
	mode := NewRampingVUsMode()

	var stoppedEarly atomic.Int32
	runEnd := make(chan struct{})

	config := &ModeConfig{
		StartVUs: 4,
		Stages: []types.Stage{
			{Duration: 100 * time.Millisecond, Target: 1},
			{Duration: 200 * time.Millisecond, Target: 1},
		},
		GracefulRampDown: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
		OnVUStop: func(int) {
			select {
			case <-runEnd:
			default:
				stoppedEarly.Add(1)
			}
		},
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, mode.Run(context.Background(), config))
	}()

	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(3), stoppedEarly.Load())
	assert.Equal(t, 1, mode.GetState().ActiveVUs)
	close(runEnd)
	<-done

	state := mode.GetState()
	assert.Equal(t, 4, state.MaxVUs)
	assert.Equal(t, int64(0), state.InterruptedIterations)
}

func TestRampingVUsMode_Stop(t *testing.T) {
	mode := NewRampingVUsMode()

	config := &ModeConfig{
		Stages: []types.Stage{
			{Duration: 10 * time.Second, Target: 10},
		},
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	done := make(chan error, 1)
	go func() { done <- mode.Run(context.Background(), config) }()

	time.Sleep(100 * time.Millisecond)
	stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, mode.Stop(stopCtx))
	require.NoError(t, <-done)

	state := mode.GetState()
	assert.False(t, state.Running)
	assert.Equal(t, 0, state.ActiveVUs)
}
