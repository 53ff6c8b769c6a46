// Package runner provides the single execution entry point of a load test,
// following k6's cmd/run.go pattern.
//
// Pipeline: Config → Scheduler → VU iterations → Registry → samplesChan →
// OutputManager → [Outputs + summary Collector]; MetricsEngine evaluates
// thresholds on the registry and the Summary is built from its frozen snapshot.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"yqhp/load-engine/api/rest"
	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/internal/execution"
	"yqhp/load-engine/internal/metrics/engine"
	"yqhp/load-engine/internal/summary"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/output"
	"yqhp/load-engine/pkg/scenario"
	"yqhp/load-engine/pkg/types"
)

// ErrConfig marks errors caused by the run configuration.
var ErrConfig = errors.New("invalid run configuration")

// Options configures a run.
type Options struct {
	// Config is the loaded configuration (required).
	Config *config.Config

	// Scenarios defaults to scenario.DefaultRegistry.
	Scenarios *scenario.Registry

	// RunID defaults to a random UUID.
	RunID string

	// Stdout receives the text summary; nil disables it.
	Stdout io.Writer

	// ControlListener overrides Config.Control.Address; mainly for tests.
	ControlListener net.Listener

	// OnStart is called once the scheduler is running.
	OnStart func(cs *controlsurface.ControlSurface)
}

// Plan is the effective run configuration after scenario defaults have been
// applied.
type Plan struct {
	Scenario   *scenario.Scenario
	Mode       types.ExecutionMode
	ModeConfig execution.ModeConfig
	Thresholds map[string][]types.ThresholdConfig
	Env        map[string]string
}

// NewPlan resolves the scenario and merges its defaults into cfg. Explicit
// configuration always wins over scenario defaults.
func NewPlan(cfg *config.Config, scenarios *scenario.Registry) (*Plan, error) {
	if scenarios == nil {
		scenarios = scenario.DefaultRegistry
	}
	sc, err := scenarios.Get(cfg.Run.Scenario)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	run := cfg.Run
	defaults := sc.Defaults
	if run.Duration == 0 && run.Iterations == 0 && len(run.Stages) == 0 {
		run.Duration = defaults.Duration
		run.Iterations = defaults.Iterations
		run.Stages = defaults.Stages
	}
	if run.VUs == 0 {
		run.VUs = defaults.VUs
	}
	if run.VUs == 0 {
		run.VUs = 1
	}
	if run.StartVUs == 0 {
		run.StartVUs = defaults.StartVUs
	}

	env, err := cfg.ResolveEnv()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	merged := make(map[string]string, len(defaults.Env)+len(env))
	for k, v := range defaults.Env {
		merged[k] = v
	}
	for k, v := range env {
		merged[k] = v
	}

	plan := &Plan{
		Scenario:   sc,
		Thresholds: mergeThresholds(defaults.Thresholds, cfg.Thresholds),
		Env:        merged,
		ModeConfig: execution.ModeConfig{
			VUs:                run.VUs,
			Duration:           run.Duration,
			Iterations:         run.Iterations,
			StartVUs:           run.StartVUs,
			Stages:             run.Stages,
			GracefulStop:       run.GracefulStop,
			GracefulRampDown:   run.GracefulRampDown,
			StartStagger:       run.StartStagger,
			MaxIterationErrors: run.MaxIterationErrors,
		},
	}
	plan.Mode = execution.SelectMode(run.Mode, &plan.ModeConfig)
	return plan, nil
}

// mergeThresholds 配置中声明的指标整体覆盖场景默认阈值
func mergeThresholds(defaults, configured map[string][]types.ThresholdConfig) map[string][]types.ThresholdConfig {
	out := make(map[string][]types.ThresholdConfig, len(defaults)+len(configured))
	for metric, list := range defaults {
		out[metric] = list
	}
	for metric, list := range configured {
		out[metric] = list
	}
	return out
}

// Run executes one load test and returns its summary. A run that executes
// but fails its thresholds is not an error; the verdict is in the summary.
func Run(ctx context.Context, opts Options) (*types.RunSummary, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	plan, err := NewPlan(cfg, opts.Scenarios)
	if err != nil {
		return nil, err
	}
	mode, err := execution.GetMode(plan.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log := logger.L().Sugar().With("run_id", runID, "scenario", plan.Scenario.Name)

	// 指标
	registry := metrics.NewRegistry()
	builtin := metrics.RegisterBuiltinMetrics(registry)
	metricsEngine := engine.NewMetricsEngine(registry, builtin)
	if err := metricsEngine.InitThresholds(plan.Thresholds); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	client, err := httpclient.New(httpclient.Config{
		BaseURL:            cfg.HTTP.BaseURL,
		Backend:            cfg.HTTP.Backend,
		Timeout:            cfg.HTTP.Timeout,
		HTTP2:              cfg.HTTP.HTTP2,
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		UserAgent:          cfg.HTTP.UserAgent,
		MaxConnsPerHost:    cfg.HTTP.MaxConnsPerHost,
		MaxRedirects:       cfg.HTTP.MaxRedirects,
	}, registry, builtin)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	// 输出管道
	collector := summary.NewCollector()
	userOutputs, err := output.CreateAll(cfg.Outputs, output.Params{
		RunID:    runID,
		Scenario: plan.Scenario.Name,
		Tags:     map[string]string{"run_id": runID},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	manager := output.NewManager(append([]output.Output{collector}, userOutputs...)...)
	samples := output.NewSamplesChannel(0)
	_, finishOutputs, err := manager.Start(samples)
	if err != nil {
		return nil, fmt.Errorf("start outputs: %w", err)
	}
	registry.SetSampleChannel(samples)

	// 控制接口
	listener := opts.ControlListener
	if listener == nil && cfg.Control.Enabled {
		listener, err = net.Listen("tcp", cfg.Control.Address)
		if err != nil {
			registry.SetSampleChannel(nil)
			close(samples)
			finishOutputs(output.RunStatus{Status: types.RunStatusAborted, Error: err})
			return nil, fmt.Errorf("%w: control API: %w", ErrConfig, err)
		}
	}

	rt := &scenario.Runtime{
		HTTP:       client,
		Metrics:    registry,
		Builtin:    builtin,
		Env:        scenario.Env(plan.Env),
		Checks:     scenario.NewCheckTracker(),
		SleepScale: cfg.Run.SleepScale,
	}
	modeCfg := plan.ModeConfig
	modeCfg.IterationFunc = rt.IterationFunc(plan.Scenario)
	vus := newVUTracker(registry, builtin)
	modeCfg.OnVUStart = func(int) { vus.started() }
	modeCfg.OnVUStop = func(int) { vus.stopped() }
	modeCfg.OnIterationComplete = func(vuID int, iteration int, d time.Duration, err error) {
		tags := map[string]string{"scenario": plan.Scenario.Name}
		switch {
		case errors.Is(err, execution.ErrIterationInterrupted):
			// 被强制取消的迭代不计入耗时
		case err != nil:
			registry.Add(builtin.IterationDuration, float64(d)/float64(time.Millisecond), tags)
			collector.RecordIterationError(err, time.Now())
		default:
			registry.Add(builtin.Iterations, 1, tags)
			registry.Add(builtin.IterationDuration, float64(d)/float64(time.Millisecond), tags)
		}
	}

	startTime := time.Now()
	elapsed := func() time.Duration { return time.Since(startTime) }

	var thresholdAbort atomic.Bool
	finalizeThresholds := metricsEngine.StartThresholdCalculations(func(err error) {
		thresholdAbort.Store(true)
		log.Warnw("aborting run", "reason", err.Error())
		mode.Abort(err)
	}, elapsed)
	metricsEngine.StartTimeSeriesCollection(
		func() int64 { return int64(mode.GetState().ActiveVUs) },
		func() int64 { return mode.GetState().CompletedIterations },
	)

	cs := &controlsurface.ControlSurface{
		MetricsEngine: metricsEngine,
		GetStatus: func() *controlsurface.ExecutionStatus {
			state := mode.GetState()
			return &controlsurface.ExecutionStatus{
				RunID:    runID,
				Scenario: plan.Scenario.Name,
				Mode:     string(plan.Mode),
				Running:  state.Running,
				Stopping: state.Stopping,
				VUs:      int64(state.ActiveVUs),
				MaxVUs:   int64(state.MaxVUs),
				Iterations: types.IterationStats{
					Completed:   state.CompletedIterations,
					Failed:      state.FailedIterations,
					Interrupted: state.InterruptedIterations,
				},
				ElapsedMs:        elapsed().Milliseconds(),
				ThresholdsFailed: int(metricsEngine.GetBreachedThresholdsCount()),
			}
		},
		StopExecution: func() {
			log.Infow("graceful stop requested through the control API")
			go func() { _ = mode.Stop(context.Background()) }()
		},
	}

	log.Infow("starting run",
		"mode", plan.Mode,
		"vus", modeCfg.VUs,
		"duration", modeCfg.Duration.String(),
		"iterations", modeCfg.Iterations,
		"stages", len(modeCfg.Stages))

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	g.Go(func() error {
		defer stopServer()
		return mode.Run(gctx, &modeCfg)
	})
	if listener != nil {
		serverCfg := rest.DefaultConfig()
		serverCfg.EnableCORS = cfg.Control.CORS
		server := rest.NewServer(cs, serverCfg)
		g.Go(func() error { return server.Serve(serverCtx, listener) })
	}
	if opts.OnStart != nil {
		opts.OnStart(cs)
	}
	runErr := g.Wait()
	endTime := time.Now()
	cs.MarkFinished()

	metricsEngine.StopTimeSeriesCollection()
	thresholdResults, passed := finalizeThresholds(endTime.Sub(startTime))

	// 所有 VU 已退出，不会再有样本写入
	registry.SetSampleChannel(nil)
	close(samples)

	state := mode.GetState()
	status := types.RunStatusPassed
	switch {
	case state.Aborted:
		status = types.RunStatusAborted
	case !passed:
		status = types.RunStatusThresholdsFailed
	}
	finishOutputs(output.RunStatus{Status: status, Error: runErr})

	if runErr != nil {
		if isConfigError(runErr) {
			return nil, fmt.Errorf("%w: %w", ErrConfig, runErr)
		}
		return nil, fmt.Errorf("run failed: %w", runErr)
	}

	result := summary.Build(summary.Input{
		RunID:     runID,
		Scenario:  plan.Scenario.Name,
		StartTime: startTime,
		EndTime:   endTime,
		Config:    reportConfig(plan, state),
		Iterations: types.IterationStats{
			Completed:   state.CompletedIterations,
			Failed:      state.FailedIterations,
			Interrupted: state.InterruptedIterations,
		},
		ForcedTermination: state.ForcedTermination,
		Aborted:           state.Aborted,
		AbortReason:       state.AbortReason,
		Snapshot:          metricsEngine.FinalSnapshot(),
		Checks:            rt.Checks.Results(),
		Thresholds:        thresholdResults,
		Passed:            passed,
		Errors:            collector.ErrorAnalysis(),
		TimeSeries:        metricsEngine.GetTimeSeriesData(),
		TrendStats:        cfg.Summary.TrendStats,
	})

	log.Infow("run finished",
		"status", result.Status,
		"duration", result.Duration().String(),
		"iterations", result.Iterations.Completed,
		"thresholdAbort", thresholdAbort.Load())

	if opts.Stdout != nil && !cfg.Summary.Quiet {
		if err := summary.RenderText(opts.Stdout, result, summary.TextOptions{
			NoColor:    cfg.Summary.NoColor,
			TrendStats: cfg.Summary.TrendStats,
		}); err != nil {
			log.Warnw("failed to render text summary", "error", err)
		}
	}
	if cfg.Summary.Export != "" {
		if err := summary.WriteJSONFile(cfg.Summary.Export, result); err != nil {
			return result, fmt.Errorf("export summary: %w", err)
		}
		log.Infow("summary exported", "path", cfg.Summary.Export)
	}

	return result, nil
}

func isConfigError(err error) bool {
	return errors.Is(err, execution.ErrNoStopCondition) ||
		errors.Is(err, execution.ErrNoStages) ||
		errors.Is(err, execution.ErrNoIterations) ||
		errors.Is(err, execution.ErrNilIterationFunc)
}

func reportConfig(plan *Plan, state *execution.ModeState) *types.ReportConfig {
	rc := &types.ReportConfig{
		Mode:         string(plan.Mode),
		VUs:          plan.ModeConfig.VUs,
		MaxVUs:       state.MaxVUs,
		Iterations:   plan.ModeConfig.Iterations,
		GracefulStop: gracefulStop(plan.ModeConfig.GracefulStop).String(),
		Stages:       plan.ModeConfig.Stages,
	}
	if plan.ModeConfig.Duration > 0 {
		rc.Duration = plan.ModeConfig.Duration.String()
	}
	return rc
}

func gracefulStop(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return execution.DefaultGracefulStop
}

// vuTracker feeds the vus / vus_max gauges from the scheduler callbacks.
type vuTracker struct {
	registry *metrics.Registry
	builtin  *metrics.BuiltinMetrics

	mu     sync.Mutex
	active int
	max    int
}

func newVUTracker(registry *metrics.Registry, builtin *metrics.BuiltinMetrics) *vuTracker {
	return &vuTracker{registry: registry, builtin: builtin}
}

func (t *vuTracker) started() {
	t.mu.Lock()
	t.active++
	active, grew := t.active, t.active > t.max
	if grew {
		t.max = t.active
	}
	t.mu.Unlock()

	t.registry.Add(t.builtin.VUs, float64(active), nil)
	if grew {
		t.registry.Add(t.builtin.VUsMax, float64(active), nil)
	}
}

func (t *vuTracker) stopped() {
	t.mu.Lock()
	t.active--
	active := t.active
	t.mu.Unlock()
	t.registry.Add(t.builtin.VUs, float64(active), nil)
}
