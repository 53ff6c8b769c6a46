package execution

import (
	"context"
	"sync"
	"time"

	"yqhp/load-engine/pkg/types"
)

// DefaultGracefulStop 默认优雅停止等待时长
const DefaultGracefulStop = 30 * time.Second

// Mode 定义执行模式的接口。
// 每种模式控制 VU 的管理方式和迭代的执行方式。
type Mode interface {
	// Name 返回执行模式的名称。
	Name() types.ExecutionMode

	// Run 使用给定配置启动执行模式。
	// 阻塞直到所有 VU 退出（包括优雅停止与强制取消阶段）。
	Run(ctx context.Context, config *ModeConfig) error

	// Stop 请求优雅停止并等待 Run 返回。
	Stop(ctx context.Context) error

	// Abort 记录中止原因并请求优雅停止，不等待。
	Abort(reason error)

	// GetState 返回当前执行状态。
	GetState() *ModeState
}

// ModeConfig 包含执行模式的配置。
type ModeConfig struct {
	// VUs 是虚拟用户数量（用于基于 VU 的模式）。
	VUs int

	// Duration 是总执行时长；0 表示不限时。
	Duration time.Duration

	// Iterations 在 constant-vus / shared-iterations 中是所有 VU 共享的总迭代数，
	// 在 per-vu-iterations 中是每个 VU 的迭代数。
	Iterations int64

	// StartVUs 是 ramping-vus 的初始 VU 数量。
	StartVUs int

	// Stages 定义执行阶段（用于递增模式）。
	Stages []types.Stage

	// GracefulStop 是停止信号发出后等待进行中迭代完成的最长时间。
	GracefulStop time.Duration

	// GracefulRampDown 是 ramping-vus 缩容时单个 VU 的优雅等待时间。
	GracefulRampDown time.Duration

	// StartStagger 是相邻 VU 启动之间的间隔。
	StartStagger time.Duration

	// MaxIterationErrors 达到后中止运行；0 表示不限制。
	MaxIterationErrors int64

	// IterationFunc 是每次迭代执行的函数。
	IterationFunc IterationFunc

	// OnVUStart 在 VU 启动时调用。
	OnVUStart func(vuID int)

	// OnVUStop 在 VU 停止时调用。
	OnVUStop func(vuID int)

	// OnIterationComplete 在迭代结束时调用；被强制取消的迭代 err 为 ErrIterationInterrupted。
	OnIterationComplete func(vuID int, iteration int, duration time.Duration, err error)
}

// IterationFunc 是执行单次迭代的函数签名。vuID 从 1 开始。
type IterationFunc func(ctx context.Context, vuID int, iteration int) error

func (c *ModeConfig) gracefulStop() time.Duration {
	if c.GracefulStop > 0 {
		return c.GracefulStop
	}
	return DefaultGracefulStop
}

func (c *ModeConfig) vus() int {
	if c.VUs <= 0 {
		return 1
	}
	return c.VUs
}

// ModeState 表示执行模式的当前状态。
type ModeState struct {
	// ActiveVUs 是当前活跃的 VU 数量。
	ActiveVUs int

	// TargetVUs 是目标 VU 数量。
	TargetVUs int

	// MaxVUs 是运行期间同时活跃的最大 VU 数量。
	MaxVUs int

	// CompletedIterations 是正常完成的迭代次数。
	CompletedIterations int64

	// FailedIterations 是返回错误或 panic 的迭代次数。
	FailedIterations int64

	// InterruptedIterations 是被强制取消打断的迭代次数。
	InterruptedIterations int64

	// Running 表示模式是否正在运行。
	Running bool

	// Stopping 表示已发出停止信号，正在等待进行中的迭代。
	Stopping bool

	// ForcedTermination 表示优雅停止超时，剩余 VU 被强制取消。
	ForcedTermination bool

	// Aborted / AbortReason 记录提前中止。
	Aborted     bool
	AbortReason string

	// StartTime 是执行开始时间。
	StartTime time.Time

	// ElapsedTime 是已执行时长。
	ElapsedTime time.Duration
}

// BaseMode 为执行模式提供通用功能。
type BaseMode struct {
	name    types.ExecutionMode
	state   ModeState
	stateMu sync.RWMutex

	// stopMu orders VU spawning against the stop signal so that no VU
	// starts once stopCh is closed.
	stopMu sync.Mutex
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewBaseMode 创建一个新的基础模式。
func NewBaseMode(name types.ExecutionMode) *BaseMode {
	return &BaseMode{
		name:   name,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Name 返回模式名称。
func (b *BaseMode) Name() types.ExecutionMode {
	return b.name
}

// GetState 返回当前状态。
func (b *BaseMode) GetState() *ModeState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	state := b.state
	if state.Running {
		state.ElapsedTime = time.Since(state.StartTime)
	}
	return &state
}

// SetState 更新状态。
func (b *BaseMode) SetState(fn func(*ModeState)) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	fn(&b.state)
}

// IsStopped 如果已请求停止则返回 true。
func (b *BaseMode) IsStopped() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

// RequestStop 发送停止信号。
func (b *BaseMode) RequestStop() {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	select {
	case <-b.stopCh:
		// 已停止
	default:
		close(b.stopCh)
		b.SetState(func(s *ModeState) { s.Stopping = true })
	}
}

// whileRunning runs fn only if no stop was requested, holding off a
// concurrent RequestStop until fn returns.
func (b *BaseMode) whileRunning(fn func()) bool {
	b.stopMu.Lock()
	defer b.stopMu.Unlock()
	if b.IsStopped() {
		return false
	}
	fn()
	return true
}

// Abort 记录中止原因并请求停止。只保留第一个原因。
func (b *BaseMode) Abort(reason error) {
	b.SetState(func(s *ModeState) {
		if !s.Aborted {
			s.Aborted = true
			if reason != nil {
				s.AbortReason = reason.Error()
			}
		}
	})
	b.RequestStop()
}

// SignalDone 发送完成信号。
func (b *BaseMode) SignalDone() {
	select {
	case <-b.doneCh:
		// 已完成
	default:
		close(b.doneCh)
	}
}

// WaitDone 等待模式完成。
func (b *BaseMode) WaitDone(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.doneCh:
		return nil
	}
}

// Stop 请求优雅停止并等待完成。
func (b *BaseMode) Stop(ctx context.Context) error {
	b.RequestStop()
	return b.WaitDone(ctx)
}

// begin marks the mode as running; a mode instance runs at most once.
func (b *BaseMode) begin() error {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if b.state.Running || !b.state.StartTime.IsZero() {
		return ErrModeAlreadyRunning
	}
	b.state.Running = true
	b.state.StartTime = time.Now()
	return nil
}

// finish records the final elapsed time and releases waiters.
func (b *BaseMode) finish() {
	b.SetState(func(s *ModeState) {
		s.Running = false
		s.ElapsedTime = time.Since(s.StartTime)
	})
	b.SignalDone()
}
