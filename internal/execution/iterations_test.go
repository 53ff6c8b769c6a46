package execution

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

// Tests for PerVUIterationsMode

func TestNewPerVUIterationsMode(t *testing.T) {
	mode := NewPerVUIterationsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ModePerVUIterations, mode.Name())
}

func TestPerVUIterationsMode_Run_InvalidConfig(t *testing.T) {
	assert.ErrorIs(t, NewPerVUIterationsMode().Run(context.Background(), nil), ErrNilConfig)

	err := NewPerVUIterationsMode().Run(context.Background(), &ModeConfig{VUs: 1, Iterations: 5})
	assert.ErrorIs(t, err, ErrNilIterationFunc)

	err = NewPerVUIterationsMode().Run(context.Background(), &ModeConfig{
		VUs:           1,
		IterationFunc: func(context.Context, int, int) error { return nil },
	})
	assert.ErrorIs(t, err, ErrNoIterations)
}

func TestPerVUIterationsMode_Run_FixedIterationsPerVU(t *testing.T) {
	mode := NewPerVUIterationsMode()

	vuIterations := make(map[int]int)
	var mu sync.Mutex

	config := &ModeConfig{
		VUs:        3,
		Iterations: 5, // 每个 VU 5 次
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			mu.Lock()
			vuIterations[vuID]++
			mu.Unlock()
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))

	assert.Equal(t, map[int]int{1: 5, 2: 5, 3: 5}, vuIterations)
	assert.Equal(t, int64(15), mode.GetState().CompletedIterations)
}

func TestPerVUIterationsMode_Run_IterationIndexIsPerVU(t *testing.T) {
	mode := NewPerVUIterationsMode()

	var mu sync.Mutex
	indexes := make(map[int][]int)

	config := &ModeConfig{
		VUs:        2,
		Iterations: 3,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			mu.Lock()
			indexes[vuID] = append(indexes[vuID], iteration)
			mu.Unlock()
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, []int{0, 1, 2}, indexes[1])
	assert.Equal(t, []int{0, 1, 2}, indexes[2])
}

func TestPerVUIterationsMode_Run_DurationBoundsRun(t *testing.T) {
	mode := NewPerVUIterationsMode()

	config := &ModeConfig{
		VUs:          2,
		Iterations:   1000,
		Duration:     50 * time.Millisecond,
		GracefulStop: time.Second,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}

	start := time.Now()
	require.NoError(t, mode.Run(context.Background(), config))
	assert.Less(t, time.Since(start), time.Second)
	assert.Less(t, mode.GetState().CompletedIterations, int64(2000))
}

// Tests for SharedIterationsMode

func TestNewSharedIterationsMode(t *testing.T) {
	mode := NewSharedIterationsMode()
	assert.NotNil(t, mode)
	assert.Equal(t, types.ModeSharedIterations, mode.Name())
}

func TestSharedIterationsMode_Run_NoIterations(t *testing.T) {
	err := NewSharedIterationsMode().Run(context.Background(), &ModeConfig{
		VUs:           2,
		IterationFunc: func(context.Context, int, int) error { return nil },
	})
	assert.ErrorIs(t, err, ErrNoIterations)
}

func TestSharedIterationsMode_Run_ExactTotal(t *testing.T) {
	mode := NewSharedIterationsMode()

	var iterationCount atomic.Int32
	config := &ModeConfig{
		VUs:        8,
		Iterations: 100,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			iterationCount.Add(1)
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(100), iterationCount.Load())

	state := mode.GetState()
	assert.Equal(t, int64(100), state.CompletedIterations)
	assert.Equal(t, int64(0), state.FailedIterations)
}

func TestSharedIterationsMode_Run_FailedIterationsCountTowardTotal(t *testing.T) {
	mode := NewSharedIterationsMode()

	var calls atomic.Int32
	config := &ModeConfig{
		VUs:        3,
		Iterations: 9,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			if calls.Add(1)%3 == 0 {
				return assert.AnError
			}
			return nil
		},
	}

	require.NoError(t, mode.Run(context.Background(), config))
	state := mode.GetState()
	assert.Equal(t, int32(9), calls.Load())
	assert.Equal(t, int64(6), state.CompletedIterations)
	assert.Equal(t, int64(3), state.FailedIterations)
}

func TestSharedIterationsMode_Run_VUsCappedByIterations(t *testing.T) {
	mode := NewSharedIterationsMode()

	var started atomic.Int32
	config := &ModeConfig{
		VUs:        10,
		Iterations: 3,
		IterationFunc: func(ctx context.Context, vuID int, iteration int) error {
			time.Sleep(10 * time.Millisecond)
			return nil
		},
		OnVUStart: func(int) { started.Add(1) },
	}

	require.NoError(t, mode.Run(context.Background(), config))
	assert.Equal(t, int32(3), started.Load())
	assert.Equal(t, 3, mode.GetState().MaxVUs)
}
