// Package cmd 提供 load-engine CLI 的命令实现
package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	// 导入所有输出插件
	_ "yqhp/load-engine/pkg/output/all"
	// 注册内置场景
	_ "yqhp/load-engine/internal/scenarios"
)

const (
	// Version 是当前版本号
	Version = "0.2.0"
	// Banner 是启动时显示的 ASCII 艺术
	Banner = `
          /\      |‾‾| Load Engine %s
     /\  /  \     |  |
    /  \/    \    |  |
   /          \   |  |
  / __________ \  |__|
`
)

// Exit codes.
const (
	ExitCodeOK               = 0
	ExitCodeFailure          = 1
	ExitCodeThresholdsFailed = 99
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	quiet      bool
}

// NewRootCmd 构建根命令及全部子命令
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "load-engine",
		Short: "HTTP 负载测试引擎",
		Long: `load-engine 以虚拟用户 (VU) 并发执行预置的 HTTP 场景，
采集请求级指标，按阈值判定通过与否，并输出文本/JSON 汇总报告。`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "配置文件路径 (YAML)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "日志级别 (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "日志格式 (console, json)")
	root.PersistentFlags().BoolVarP(&opts.quiet, "quiet", "q", false, "静默模式，不输出进度和文本汇总")

	// 禁用默认的 completion 命令
	root.CompletionOptions.DisableDefaultCmd = true

	// 自定义版本模板
	root.SetVersionTemplate(fmt.Sprintf(Banner, Version) + "\n")

	root.AddCommand(newRunCmd(opts), newScenariosCmd(), newVersionCmd())
	return root
}

// Execute 执行根命令并返回进程退出码
func Execute() int {
	return execute(NewRootCmd(), os.Args[1:], os.Stderr)
}

func execute(root *cobra.Command, args []string, stderr io.Writer) int {
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return ExitCodeOK
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(stderr, "error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(stderr, "error:", err)
	return ExitCodeFailure
}
