package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"yqhp/load-engine/pkg/logger"
)

// vuHandle is one running VU. stop asks it to finish its current iteration
// and exit; cancel interrupts the iteration itself.
type vuHandle struct {
	id     int
	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
	done   chan struct{}
}

func (v *vuHandle) requestStop() {
	v.once.Do(func() { close(v.stop) })
}

// vuLoop is the VU supervision shared by every execution mode.
type vuLoop struct {
	base *BaseMode
	cfg  *ModeConfig

	// hardCtx is cancelled on forced termination or when the caller's
	// context is cancelled; every VU context derives from it.
	hardCtx    context.Context
	hardCancel context.CancelFunc

	wg     sync.WaitGroup
	vuMu   sync.Mutex
	vus    []*vuHandle
	nextID atomic.Int64
	active atomic.Int64

	// sharedCap > 0 limits the iterations started across all VUs.
	sharedCap int64
	started   atomic.Int64

	completed   atomic.Int64
	failed      atomic.Int64
	interrupted atomic.Int64
}

func newVULoop(ctx context.Context, base *BaseMode, cfg *ModeConfig) *vuLoop {
	hardCtx, hardCancel := context.WithCancel(ctx)
	return &vuLoop{
		base:       base,
		cfg:        cfg,
		hardCtx:    hardCtx,
		hardCancel: hardCancel,
	}
}

// reserve claims one iteration from the shared budget.
func (l *vuLoop) reserve() bool {
	if l.sharedCap <= 0 {
		return true
	}
	for {
		n := l.started.Load()
		if n >= l.sharedCap {
			return false
		}
		if l.started.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// spawn starts a VU unless the run is stopping. perVU > 0 caps the
// iterations of this VU.
func (l *vuLoop) spawn(perVU int64) *vuHandle {
	var vu *vuHandle
	l.base.whileRunning(func() {
		if l.hardCtx.Err() != nil {
			return
		}
		ctx, cancel := context.WithCancel(l.hardCtx)
		vu = &vuHandle{
			id:     int(l.nextID.Add(1)),
			ctx:    ctx,
			cancel: cancel,
			stop:   make(chan struct{}),
			done:   make(chan struct{}),
		}

		l.vuMu.Lock()
		l.vus = append(l.vus, vu)
		l.vuMu.Unlock()

		l.wg.Add(1)
		active := int(l.active.Add(1))
		l.base.SetState(func(s *ModeState) {
			s.ActiveVUs = active
			if active > s.MaxVUs {
				s.MaxVUs = active
			}
		})
		go l.runVU(vu, perVU)
	})
	return vu
}

// spawnStaggered starts n VUs, waiting StartStagger between them. It returns
// early when the run is stopped.
func (l *vuLoop) spawnStaggered(n int, perVU int64) {
	for i := 0; i < n; i++ {
		if i > 0 && l.cfg.StartStagger > 0 {
			timer := time.NewTimer(l.cfg.StartStagger)
			select {
			case <-timer.C:
			case <-l.base.stopCh:
				timer.Stop()
				return
			case <-l.hardCtx.Done():
				timer.Stop()
				return
			}
		}
		if l.spawn(perVU) == nil {
			return
		}
	}
}

// spawnAsync runs spawnStaggered in the background, tracked by the wait group.
func (l *vuLoop) spawnAsync(n int, perVU int64) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.spawnStaggered(n, perVU)
	}()
}

func (l *vuLoop) runVU(vu *vuHandle, perVU int64) {
	if l.cfg.OnVUStart != nil {
		l.cfg.OnVUStart(vu.id)
	}
	defer func() {
		vu.cancel()
		l.removeVU(vu)
		active := int(l.active.Add(-1))
		l.base.SetState(func(s *ModeState) { s.ActiveVUs = active })
		if l.cfg.OnVUStop != nil {
			l.cfg.OnVUStop(vu.id)
		}
		close(vu.done)
		l.wg.Done()
	}()

	for iteration := 0; ; iteration++ {
		// 安全点：迭代之间检查停止信号
		select {
		case <-vu.ctx.Done():
			return
		case <-vu.stop:
			return
		case <-l.base.stopCh:
			return
		default:
		}
		if perVU > 0 && int64(iteration) >= perVU {
			return
		}
		if !l.reserve() {
			return
		}
		l.runIteration(vu, iteration)
	}
}

func (l *vuLoop) runIteration(vu *vuHandle, iteration int) {
	start := time.Now()
	err := l.callIteration(vu, iteration)
	duration := time.Since(start)

	switch {
	case vu.ctx.Err() != nil:
		l.interrupted.Add(1)
		err = ErrIterationInterrupted
	case err != nil:
		failed := l.failed.Add(1)
		logger.Warn("iteration failed", "vu", vu.id, "iteration", iteration, "error", err)
		if max := l.cfg.MaxIterationErrors; max > 0 && failed >= max {
			l.base.Abort(fmt.Errorf("%w: %d", ErrTooManyIterationErrors, failed))
		}
	default:
		l.completed.Add(1)
	}

	l.base.SetState(func(s *ModeState) {
		s.CompletedIterations = l.completed.Load()
		s.FailedIterations = l.failed.Load()
		s.InterruptedIterations = l.interrupted.Load()
	})

	if l.cfg.OnIterationComplete != nil {
		l.cfg.OnIterationComplete(vu.id, iteration, duration, err)
	}
}

// callIteration converts a panic in scenario code into an iteration error.
func (l *vuLoop) callIteration(vu *vuHandle, iteration int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrIterationPanic, r)
		}
	}()
	return l.cfg.IterationFunc(vu.ctx, vu.id, iteration)
}

func (l *vuLoop) removeVU(vu *vuHandle) {
	l.vuMu.Lock()
	defer l.vuMu.Unlock()
	for i, v := range l.vus {
		if v == vu {
			l.vus = append(l.vus[:i], l.vus[i+1:]...)
			return
		}
	}
}

// newest returns up to n most recently started VUs that are not yet stopping.
func (l *vuLoop) newest(n int) []*vuHandle {
	l.vuMu.Lock()
	defer l.vuMu.Unlock()
	var out []*vuHandle
	for i := len(l.vus) - 1; i >= 0 && len(out) < n; i-- {
		select {
		case <-l.vus[i].stop:
			continue
		default:
			out = append(out, l.vus[i])
		}
	}
	return out
}

// running counts VUs that have not been asked to stop.
func (l *vuLoop) running() int {
	l.vuMu.Lock()
	defer l.vuMu.Unlock()
	n := 0
	for _, v := range l.vus {
		select {
		case <-v.stop:
		default:
			n++
		}
	}
	return n
}

// wait blocks until all VUs exit, the duration elapses or a stop is
// requested; it then performs the graceful stop and, if the grace period
// expires, cancels the remaining VUs.
func (l *vuLoop) wait(ctx context.Context, duration time.Duration) {
	defer l.hardCancel()

	allDone := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(allDone)
	}()

	var deadline <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-allDone:
		return
	case <-deadline:
		logger.Debug("run duration reached, stopping VUs")
	case <-l.base.stopCh:
	case <-ctx.Done():
		l.base.Abort(ctx.Err())
	}
	l.base.RequestStop()

	grace := time.NewTimer(l.cfg.gracefulStop())
	defer grace.Stop()

	select {
	case <-allDone:
		return
	case <-grace.C:
	}

	l.base.SetState(func(s *ModeState) { s.ForcedTermination = true })
	logger.Warn("graceful stop period expired, cancelling remaining VUs",
		"gracefulStop", l.cfg.gracefulStop().String(),
		"activeVUs", l.active.Load())
	l.hardCancel()
	<-allDone
}
