// Package config 提供压测运行的配置管理功能。
// 支持从 YAML 文件、环境变量 (LE_*) 和命令行参数加载配置，
// 优先级顺序为：默认值 < YAML 文件 < 环境变量 < 命令行参数。
// 场景默认值只填充仍为零值的运行参数，由 runner 负责合并。
package config
