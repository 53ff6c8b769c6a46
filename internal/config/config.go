package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/logger"
	"yqhp/load-engine/pkg/types"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "LE_"

// Config represents the complete configuration of one load-test run.
type Config struct {
	Run        RunConfig                          `yaml:"run"`
	Thresholds map[string][]types.ThresholdConfig `yaml:"thresholds,omitempty"`

	// Env 传递给场景的环境变量绑定，优先级高于 env_files 与系统环境变量
	Env              map[string]string `yaml:"env,omitempty" env:"LE_ENV"`
	EnvFiles         []string          `yaml:"env_files,omitempty" env:"LE_ENV_FILES"`
	IncludeSystemEnv bool              `yaml:"include_system_env" env:"LE_INCLUDE_SYSTEM_ENV"`

	HTTP    HTTPConfig    `yaml:"http"`
	Summary SummaryConfig `yaml:"summary"`
	// Outputs 流式输出，格式 type=argument，例如 json=results.ndjson
	Outputs []string      `yaml:"outputs,omitempty" env:"LE_OUTPUTS"`
	Control ControlConfig `yaml:"control"`
	Logging logger.Config `yaml:"logging"`
}

// RunConfig holds the scheduling options. Zero values mean "not set" and are
// filled from the scenario defaults by the runner.
type RunConfig struct {
	Scenario   string              `yaml:"scenario" env:"LE_SCENARIO"`
	Mode       types.ExecutionMode `yaml:"mode,omitempty" env:"LE_MODE"`
	VUs        int                 `yaml:"vus,omitempty" env:"LE_VUS"`
	StartVUs   int                 `yaml:"start_vus,omitempty" env:"LE_START_VUS"`
	Duration   time.Duration       `yaml:"duration,omitempty" env:"LE_DURATION"`
	Iterations int64               `yaml:"iterations,omitempty" env:"LE_ITERATIONS"`
	// Stages 格式 "30s:10,1m:50" (duration:target)
	Stages             []types.Stage `yaml:"stages,omitempty" env:"LE_STAGES"`
	GracefulStop       time.Duration `yaml:"graceful_stop" env:"LE_GRACEFUL_STOP"`
	GracefulRampDown   time.Duration `yaml:"graceful_ramp_down" env:"LE_GRACEFUL_RAMP_DOWN"`
	StartStagger       time.Duration `yaml:"start_stagger,omitempty" env:"LE_START_STAGGER"`
	MaxIterationErrors int64         `yaml:"max_iteration_errors,omitempty" env:"LE_MAX_ITERATION_ERRORS"`
	SleepScale         float64       `yaml:"sleep_scale" env:"LE_SLEEP_SCALE"`
}

// HTTPConfig holds the HTTP client options.
type HTTPConfig struct {
	BaseURL            string        `yaml:"base_url,omitempty" env:"LE_BASE_URL"`
	Timeout            time.Duration `yaml:"timeout" env:"LE_HTTP_TIMEOUT"`
	Backend            string        `yaml:"backend" env:"LE_HTTP_BACKEND"` // net, fasthttp
	HTTP2              bool          `yaml:"http2" env:"LE_HTTP2"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"LE_INSECURE_SKIP_VERIFY"`
	UserAgent          string        `yaml:"user_agent" env:"LE_USER_AGENT"`
	MaxConnsPerHost    int           `yaml:"max_conns_per_host,omitempty" env:"LE_MAX_CONNS_PER_HOST"`
	// MaxRedirects 负数表示不跟随重定向
	MaxRedirects       int           `yaml:"max_redirects" env:"LE_MAX_REDIRECTS"`
}

// SummaryConfig holds end-of-test summary options.
type SummaryConfig struct {
	Export     string   `yaml:"export,omitempty" env:"LE_SUMMARY_EXPORT"`
	NoColor    bool     `yaml:"no_color" env:"LE_NO_COLOR"`
	TrendStats []string `yaml:"trend_stats,omitempty" env:"LE_TREND_STATS"`
	Quiet      bool     `yaml:"quiet" env:"LE_QUIET"`
}

// ControlConfig holds the live control API options.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled" env:"LE_CONTROL_ENABLED"`
	Address string `yaml:"address" env:"LE_CONTROL_ADDRESS"`
	CORS    bool   `yaml:"cors" env:"LE_CONTROL_CORS"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Run: RunConfig{
			Scenario:         "api-smoke",
			GracefulStop:     30 * time.Second,
			GracefulRampDown: 30 * time.Second,
			SleepScale:       1,
		},
		HTTP: HTTPConfig{
			Timeout:      60 * time.Second,
			Backend:      "net",
			UserAgent:    httpclient.DefaultUserAgent,
			MaxRedirects: 10,
		},
		Control: ControlConfig{
			Address: "localhost:6565",
		},
		Logging: logger.DefaultConfig(),
	}
}

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	envPrefix  string
	cmdArgs    map[string]string
	thresholds []string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		cmdArgs:   make(map[string]string),
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath sets the path to the YAML configuration file.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the prefix for environment variables. Tags declared
// with the default prefix are rewritten to the new one.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithCmdArgs sets command-line overrides keyed by yaml path, e.g.
// "run.vus" or "http.backend".
func (l *Loader) WithCmdArgs(args map[string]string) *Loader {
	l.cmdArgs = args
	return l
}

// WithThresholds adds threshold flags of the form "metric=expression" or an
// inline "metric{stat}<limit". They are appended to the file thresholds.
func (l *Loader) WithThresholds(exprs []string) *Loader {
	l.thresholds = append(l.thresholds, exprs...)
	return l
}

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// Load loads configuration from all sources with proper precedence:
// defaults < YAML file < environment variables < command-line flags
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("从文件加载配置失败: %w", err)
		}
	}

	if err := l.applyEnvToStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("应用环境变量覆盖失败: %w", err)
	}

	if err := l.applyCmdOverrides(cfg); err != nil {
		return nil, fmt.Errorf("应用命令行参数覆盖失败: %w", err)
	}

	for _, expr := range l.thresholds {
		metric, tc := ParseThresholdFlag(expr)
		if cfg.Thresholds == nil {
			cfg.Thresholds = make(map[string][]types.ThresholdConfig)
		}
		cfg.Thresholds[metric] = append(cfg.Thresholds[metric], tc)
	}

	return cfg, nil
}

// loadFromFile loads configuration from a YAML file. Unlike a missing
// default file, an explicitly given path must exist.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败: %w", err)
	}

	return nil
}

// applyEnvToStruct recursively applies environment variables to struct fields.
func (l *Loader) applyEnvToStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			if err := l.applyEnvToStruct(field); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		if envTag == "" {
			continue
		}
		if l.envPrefix != EnvPrefix {
			envTag = l.envPrefix + strings.TrimPrefix(envTag, EnvPrefix)
		}

		envValue, ok := l.lookupEnv(envTag)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("从环境变量 %s 设置字段 %s 失败: %w", envTag, fieldType.Name, err)
		}
	}

	return nil
}

// applyCmdOverrides applies command-line argument overrides to the configuration.
func (l *Loader) applyCmdOverrides(cfg *Config) error {
	for key, value := range l.cmdArgs {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("设置配置值 %s 失败: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a configuration value by its dotted yaml path.
func setConfigValue(cfg *Config, path, value string) error {
	v := reflect.ValueOf(cfg).Elem()
	parts := strings.Split(path, ".")

	for i, part := range parts {
		field, ok := fieldByYAMLName(v, part)
		if !ok {
			return fmt.Errorf("未知的配置路径: %s", path)
		}

		if i == len(parts)-1 {
			return setFieldValue(field, value)
		}

		if field.Kind() != reflect.Struct {
			return fmt.Errorf("期望 %s 是结构体，实际是 %s", part, field.Kind())
		}
		v = field
	}

	return nil
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("yaml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	stagesType   = reflect.TypeOf([]types.Stage(nil))
	modeType     = reflect.TypeOf(types.ExecutionMode(""))
)

// setFieldValue sets a reflect.Value from a string value.
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return fmt.Errorf("无法设置字段")
	}

	switch {
	case field.Type() == durationType:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("无效的时间格式: %w", err)
		}
		field.SetInt(int64(d))
		return nil

	case field.Type() == stagesType:
		stages, err := ParseStages(value)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(stages))
		return nil

	case field.Type() == modeType:
		field.SetString(value)
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的整数: %w", err)
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("无效的浮点数: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("无效的布尔值: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的切片类型: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		field.Set(reflect.ValueOf(parts))

	case reflect.Map:
		if field.Type().Key().Kind() != reflect.String || field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("不支持的 map 类型")
		}
		// key=value,key=value，与已有绑定合并
		m := make(map[string]string)
		iter := field.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = iter.Value().String()
		}
		for _, pair := range strings.Split(value, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if ok {
				m[strings.TrimSpace(k)] = strings.TrimSpace(v)
			}
		}
		field.Set(reflect.ValueOf(m))

	default:
		return fmt.Errorf("不支持的字段类型: %s", field.Kind())
	}

	return nil
}

// ParseStages parses "duration:target[,duration:target...]".
func ParseStages(value string) ([]types.Stage, error) {
	var stages []types.Stage
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		d, t, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("无效的阶段 %q: 期望 duration:target", item)
		}
		duration, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("无效的阶段时长 %q: %w", d, err)
		}
		target, err := strconv.Atoi(t)
		if err != nil {
			return nil, fmt.Errorf("无效的阶段目标 %q: %w", t, err)
		}
		stages = append(stages, types.Stage{Duration: duration, Target: target})
	}
	return stages, nil
}

// ParseThresholdFlag splits a threshold flag into the metric key and the
// expression. A flag whose left side is not a plain metric name, such as
// "http_req_failed{rate}<0.01" or "checks==1", is kept whole under the empty key.
func ParseThresholdFlag(flag string) (string, types.ThresholdConfig) {
	flag = strings.TrimSpace(flag)
	i := keySeparator(flag)
	if i < 0 {
		return "", types.ThresholdConfig{Expression: flag}
	}
	metric := strings.TrimSpace(flag[:i])
	if metric == "" || strings.ContainsAny(metric, "<>!{}( ") {
		return "", types.ThresholdConfig{Expression: flag}
	}
	return metric, types.ThresholdConfig{Expression: strings.TrimSpace(flag[i+1:])}
}

// keySeparator returns the index of the first "=" that is not part of a
// comparison operator (==, <=, >=, !=), or -1.
func keySeparator(flag string) int {
	for i := 0; i < len(flag); i++ {
		if flag[i] != '=' {
			continue
		}
		if i+1 < len(flag) && flag[i+1] == '=' {
			i++
			continue
		}
		if i > 0 && strings.ContainsRune("<>!=", rune(flag[i-1])) {
			continue
		}
		return i
	}
	return -1
}

// ResolveEnv builds the scenario environment bindings: system environment
// (when enabled) < env files in order < explicit env entries.
func (c *Config) ResolveEnv() (map[string]string, error) {
	env := make(map[string]string)
	if c.IncludeSystemEnv {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	for _, file := range c.EnvFiles {
		values, err := godotenv.Read(file)
		if err != nil {
			return nil, fmt.Errorf("读取环境变量文件 %s 失败: %w", file, err)
		}
		for k, v := range values {
			env[k] = v
		}
	}
	for k, v := range c.Env {
		env[k] = v
	}
	return env, nil
}

// Serialize serializes the configuration to YAML bytes.
func (c *Config) Serialize() ([]byte, error) {
	return yaml.Marshal(c)
}

// ParseConfig parses a YAML configuration from bytes.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file path.
func LoadFromFile(path string) (*Config, error) {
	return NewLoader().WithConfigPath(path).Load()
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, _ := c.Serialize()
	clone, _ := ParseConfig(data)
	return clone
}
