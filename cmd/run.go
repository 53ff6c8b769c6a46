package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/runner"
	"yqhp/load-engine/pkg/types"
)

// runOptions 保存 run 命令的 flags
type runOptions struct {
	global *globalOptions

	vus           int
	duration      time.Duration
	iterations    int64
	mode          string
	stages        []string
	thresholds    []string
	env           []string
	envFiles      []string
	summaryExport string
	outputs       []string
	httpBackend   string
	http2         bool
	controlAddr   string
	controlCORS   bool
	noColor       bool
	sleepScale    float64
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{global: global}

	cmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "执行负载测试场景",
		Long: `执行一个已注册的负载测试场景。

未显式设置的调度参数取自场景默认值，执行模式按以下规则选择：
  - constant-vus: 固定虚拟用户数，按持续时间运行
  - ramping-vus: 按 --stage 定义的阶段增减虚拟用户数
  - per-vu-iterations: 每个 VU 执行固定迭代次数
  - shared-iterations: 所有 VU 共享迭代次数

退出码: 0 通过，99 阈值未通过，1 配置或运行错误。`,
		Example: `  # 使用场景默认值执行
  load-engine run api-smoke

  # 指定 VU 数和持续时间
  load-engine run order-flow -u 20 -d 1m -e BASE_URL=http://shop.local

  # 分阶段加压并设置阈值
  load-engine run inventory-spike --stage 10s:50 --stage 1m:50 --stage 10s:0 \
    --threshold "http_req_duration=p(95)<300"

  # 输出指标并导出汇总
  load-engine run api-smoke --out json=metrics.ndjson --summary-export summary.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, args)
		},
	}

	opts.bindFlags(cmd.Flags())
	return cmd
}

func (o *runOptions) bindFlags(flags *pflag.FlagSet) {
	flags.IntVarP(&o.vus, "vus", "u", 0, "虚拟用户数 (覆盖场景默认值)")
	flags.DurationVarP(&o.duration, "duration", "d", 0, "测试持续时间 (覆盖场景默认值)")
	flags.Int64VarP(&o.iterations, "iterations", "i", 0, "迭代次数 (覆盖场景默认值)")
	flags.StringVar(&o.mode, "mode", "", "执行模式 (constant-vus, ramping-vus, per-vu-iterations, shared-iterations)")
	flags.StringArrayVar(&o.stages, "stage", nil, "加压阶段 duration:target，可多次指定")
	flags.StringArrayVar(&o.thresholds, "threshold", nil, "阈值 metric=expression，可多次指定")
	flags.StringArrayVarP(&o.env, "env", "e", nil, "场景环境变量 KEY=VALUE，可多次指定")
	flags.StringArrayVar(&o.envFiles, "env-file", nil, "dotenv 文件，可多次指定")
	flags.StringVar(&o.summaryExport, "summary-export", "", "导出 JSON 汇总到文件")
	flags.StringArrayVarP(&o.outputs, "out", "o", nil, "指标输出目标 (可多次指定)，格式: type=config")
	flags.StringVar(&o.httpBackend, "http-backend", "", "HTTP 客户端实现 (net, fasthttp)")
	flags.BoolVar(&o.http2, "http2", false, "启用 HTTP/2 (仅 net 后端)")
	flags.StringVar(&o.controlAddr, "control-addr", "", "启用控制接口并监听该地址，例如 localhost:6565")
	flags.BoolVar(&o.controlCORS, "control-cors", false, "控制接口允许跨域访问")
	flags.BoolVar(&o.noColor, "no-color", false, "禁用彩色输出")
	flags.Float64Var(&o.sleepScale, "sleep-scale", 1, "场景 sleep 时长倍数，0 表示不 sleep")
}

// cmdArgs 只收集显式设置的 flag，键为配置的 yaml 路径
func (o *runOptions) cmdArgs(flags *pflag.FlagSet, args []string) map[string]string {
	out := make(map[string]string)
	if len(args) > 0 {
		out["run.scenario"] = args[0]
	}

	set := func(flag, path, value string) {
		if f := flags.Lookup(flag); f != nil && f.Changed {
			out[path] = value
		}
	}
	set("vus", "run.vus", strconv.Itoa(o.vus))
	set("duration", "run.duration", o.duration.String())
	set("iterations", "run.iterations", strconv.FormatInt(o.iterations, 10))
	set("mode", "run.mode", o.mode)
	set("stage", "run.stages", strings.Join(o.stages, ","))
	set("env", "env", strings.Join(o.env, ","))
	set("env-file", "env_files", strings.Join(o.envFiles, ","))
	set("summary-export", "summary.export", o.summaryExport)
	set("out", "outputs", strings.Join(o.outputs, ","))
	set("http-backend", "http.backend", o.httpBackend)
	set("http2", "http.http2", strconv.FormatBool(o.http2))
	set("control-cors", "control.cors", strconv.FormatBool(o.controlCORS))
	set("no-color", "summary.no_color", strconv.FormatBool(o.noColor))
	set("sleep-scale", "run.sleep_scale", strconv.FormatFloat(o.sleepScale, 'f', -1, 64))
	set("log-level", "logging.level", o.global.logLevel)
	set("log-format", "logging.format", o.global.logFormat)
	set("quiet", "summary.quiet", strconv.FormatBool(o.global.quiet))

	if f := flags.Lookup("control-addr"); f != nil && f.Changed {
		out["control.enabled"] = "true"
		out["control.address"] = o.controlAddr
	}
	return out
}

func (o *runOptions) loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	loader := config.NewLoader().
		WithCmdArgs(o.cmdArgs(cmd.Flags(), args)).
		WithThresholds(o.thresholds)
	if o.global.configPath != "" {
		loader = loader.WithConfigPath(o.global.configPath)
	}
	return loader.Load()
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.loadConfig(cmd, args)
	if err != nil {
		return &ExitError{Code: ExitCodeFailure, Err: fmt.Errorf("加载配置失败: %w", err)}
	}

	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	logger.InitWithWriter(cfg.Logging, stderr)
	defer logger.Sync()

	// 处理关闭信号，中断时立即中止
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !cfg.Summary.Quiet {
		printRunInfo(stdout, cfg)
	}

	printer := newProgressPrinter(stderr, !cfg.Summary.Quiet && isTerminal(stderr))
	defer printer.stop()

	var summaryOut io.Writer
	if !cfg.Summary.Quiet {
		summaryOut = stdout
	}
	result, err := runner.Run(ctx, runner.Options{
		Config:  cfg,
		Stdout:  summaryOut,
		OnStart: printer.start,
	})
	printer.stop()
	if err != nil {
		return &ExitError{Code: ExitCodeFailure, Err: err}
	}
	return exitErrorFor(result)
}

// exitErrorFor maps a run verdict to the process exit code.
func exitErrorFor(result *types.RunSummary) error {
	switch result.Status {
	case types.RunStatusPassed:
		return nil
	case types.RunStatusThresholdsFailed:
		return &ExitError{Code: ExitCodeThresholdsFailed, Err: fmt.Errorf("阈值检查失败: %d/%d", failedThresholds(result), len(result.Thresholds))}
	default:
		if !result.Passed {
			return &ExitError{Code: ExitCodeThresholdsFailed, Err: fmt.Errorf("测试已中止: %s", result.AbortReason)}
		}
		return &ExitError{Code: ExitCodeFailure, Err: fmt.Errorf("测试已中止: %s", result.AbortReason)}
	}
}

func failedThresholds(result *types.RunSummary) int {
	n := 0
	for _, t := range result.Thresholds {
		if !t.Passed && !t.Advisory {
			n++
		}
	}
	return n
}

func printRunInfo(w io.Writer, cfg *config.Config) {
	fmt.Fprintf(w, Banner, Version)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  场景: %s\n", cfg.Run.Scenario)
	plan, err := runner.NewPlan(cfg, nil)
	if err != nil {
		fmt.Fprintln(w)
		return
	}
	if plan.Scenario.Description != "" {
		fmt.Fprintf(w, "  描述: %s\n", plan.Scenario.Description)
	}
	fmt.Fprintf(w, "  执行模式: %s\n", plan.Mode)
	fmt.Fprintf(w, "  虚拟用户数: %d\n", plan.ModeConfig.VUs)
	if plan.ModeConfig.Duration > 0 {
		fmt.Fprintf(w, "  持续时间: %s\n", plan.ModeConfig.Duration)
	}
	if plan.ModeConfig.Iterations > 0 {
		fmt.Fprintf(w, "  迭代次数: %d\n", plan.ModeConfig.Iterations)
	}
	if len(plan.ModeConfig.Stages) > 0 {
		fmt.Fprintf(w, "  阶段数: %d (总时长 %s)\n", len(plan.ModeConfig.Stages), types.TotalStagesDuration(plan.ModeConfig.Stages))
	}
	if len(cfg.Outputs) > 0 {
		fmt.Fprintf(w, "  输出: %s\n", strings.Join(cfg.Outputs, ", "))
	}
	fmt.Fprintln(w)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// progressPrinter 在终端上刷新单行实时进度
type progressPrinter struct {
	w       io.Writer
	enabled bool

	mu       sync.Mutex
	done     chan struct{}
	finished chan struct{}
}

func newProgressPrinter(w io.Writer, enabled bool) *progressPrinter {
	return &progressPrinter{w: w, enabled: enabled}
}

func (p *progressPrinter) start(cs *controlsurface.ControlSurface) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return
	}
	p.done = make(chan struct{})
	p.finished = make(chan struct{})

	go func() {
		defer close(p.finished)
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		fmt.Fprint(p.w, "\033[?25l")
		defer fmt.Fprint(p.w, "\r\033[K\033[?25h")

		for {
			select {
			case <-p.done:
				return
			case <-ticker.C:
				fmt.Fprint(p.w, "\r\033[K"+progressLine(cs.Status(), cs.Metrics()))
			}
		}
	}()
}

func (p *progressPrinter) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return
	}
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	<-p.finished
}

func progressLine(status *controlsurface.ExecutionStatus, view *controlsurface.MetricsView) string {
	elapsed := (time.Duration(status.ElapsedMs) * time.Millisecond).Round(time.Second)
	line := fmt.Sprintf("  运行时间: %-8s VUs: %-5d 迭代: %s",
		elapsed, status.VUs, humanize.Comma(status.Iterations.Completed))
	if status.Iterations.Failed > 0 {
		line += fmt.Sprintf(" (失败 %s)", humanize.Comma(status.Iterations.Failed))
	}
	if view != nil && view.Latest != nil {
		line += fmt.Sprintf("  RPS: %.1f  错误率: %.1f%%  P95: %.1fms",
			view.Latest.RPS, view.Latest.ErrorRate*100, view.Latest.P95RT)
	}
	if status.Stopping {
		line += "  停止中..."
	}
	return line
}
