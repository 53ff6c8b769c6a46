package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"yqhp/load-engine/internal/threshold"
	"yqhp/load-engine/pkg/metrics"
	"yqhp/load-engine/pkg/types"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Has reports whether any error was recorded for field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateRunConfig(&cfg.Run)
	v.validateThresholds(cfg.Thresholds)
	v.validateHTTPConfig(&cfg.HTTP)
	v.validateSummaryConfig(&cfg.Summary)
	v.validateOutputs(cfg.Outputs)
	v.validateControlConfig(&cfg.Control)
	v.validateLoggingConfig(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

var validModes = map[types.ExecutionMode]bool{
	types.ModeConstantVUs:      true,
	types.ModeRampingVUs:       true,
	types.ModePerVUIterations:  true,
	types.ModeSharedIterations: true,
}

func (v *Validator) validateRunConfig(cfg *RunConfig) {
	if cfg.Scenario == "" {
		v.addError("run.scenario", "scenario is required")
	}
	if cfg.Mode != "" && !validModes[cfg.Mode] {
		v.addError("run.mode", fmt.Sprintf("unknown execution mode %q", cfg.Mode))
	}
	if cfg.VUs < 0 {
		v.addError("run.vus", "vus must be non-negative")
	}
	if cfg.StartVUs < 0 {
		v.addError("run.start_vus", "start vus must be non-negative")
	}
	if cfg.Duration < 0 {
		v.addError("run.duration", "duration must be non-negative")
	}
	if cfg.Iterations < 0 {
		v.addError("run.iterations", "iterations must be non-negative")
	}
	for i, stage := range cfg.Stages {
		if stage.Duration < 0 {
			v.addError(fmt.Sprintf("run.stages[%d].duration", i), "stage duration must be non-negative")
		}
		if stage.Target < 0 {
			v.addError(fmt.Sprintf("run.stages[%d].target", i), "stage target must be non-negative")
		}
	}
	if cfg.GracefulStop < 0 {
		v.addError("run.graceful_stop", "graceful stop must be non-negative")
	}
	if cfg.GracefulRampDown < 0 {
		v.addError("run.graceful_ramp_down", "graceful ramp down must be non-negative")
	}
	if cfg.StartStagger < 0 {
		v.addError("run.start_stagger", "start stagger must be non-negative")
	}
	if cfg.MaxIterationErrors < 0 {
		v.addError("run.max_iteration_errors", "max iteration errors must be non-negative")
	}
	if cfg.SleepScale < 0 {
		v.addError("run.sleep_scale", "sleep scale must be non-negative")
	}

	switch cfg.Mode {
	case types.ModeRampingVUs:
		if len(cfg.Stages) == 0 {
			v.addError("run.stages", "ramping-vus requires at least one stage")
		}
	case types.ModePerVUIterations, types.ModeSharedIterations:
		if cfg.Iterations == 0 {
			v.addError("run.iterations", fmt.Sprintf("%s requires iterations", cfg.Mode))
		}
	}
}

// validateThresholds parses every expression; parse failures are reported
// per metric key.
func (v *Validator) validateThresholds(thresholds map[string][]types.ThresholdConfig) {
	names := make([]string, 0, len(thresholds))
	for name := range thresholds {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		field := "thresholds." + name
		if name == "" {
			field = "thresholds"
		}
		for _, tc := range thresholds[name] {
			if _, err := threshold.Parse(name, tc); err != nil {
				v.addError(field, err.Error())
			}
		}
	}
}

var validBackends = map[string]bool{"net": true, "fasthttp": true}

func (v *Validator) validateHTTPConfig(cfg *HTTPConfig) {
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("http.base_url", "base url must be an absolute URL")
		}
	}
	if cfg.Timeout < 0 {
		v.addError("http.timeout", "timeout must be non-negative")
	}
	if !validBackends[cfg.Backend] {
		v.addError("http.backend", fmt.Sprintf("unknown backend %q, expected net or fasthttp", cfg.Backend))
	}
	if cfg.HTTP2 && cfg.Backend == "fasthttp" {
		v.addError("http.http2", "http2 is only supported by the net backend")
	}
	if cfg.MaxConnsPerHost < 0 {
		v.addError("http.max_conns_per_host", "max conns per host must be non-negative")
	}
}

var validTrendStats = map[string]bool{
	"avg": true, "min": true, "med": true, "max": true, "count": true, "sum": true,
}

func (v *Validator) validateSummaryConfig(cfg *SummaryConfig) {
	for _, stat := range cfg.TrendStats {
		if validTrendStats[stat] {
			continue
		}
		if _, ok := metrics.ParsePercentileStat(stat); !ok {
			v.addError("summary.trend_stats", fmt.Sprintf("unsupported trend stat %q", stat))
		}
	}
}

func (v *Validator) validateOutputs(outputs []string) {
	for i, spec := range outputs {
		typ, _, _ := strings.Cut(spec, "=")
		if strings.TrimSpace(typ) == "" {
			v.addError(fmt.Sprintf("outputs[%d]", i), "output type is required, expected type=argument")
		}
	}
}

func (v *Validator) validateControlConfig(cfg *ControlConfig) {
	if !cfg.Enabled {
		return
	}
	if cfg.Address == "" {
		v.addError("control.address", "address is required when the control API is enabled")
	} else if !isValidAddress(cfg.Address) {
		v.addError("control.address", "invalid address format, expected host:port or :port")
	}
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"console": true, "json": true}
	validOutputs = map[string]bool{"stderr": true, "file": true, "both": true}
)

func (v *Validator) validateLoggingConfig(cfg *Config) {
	lc := &cfg.Logging
	if !validLevels[strings.ToLower(lc.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level %q", lc.Level))
	}
	if !validFormats[strings.ToLower(lc.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format %q", lc.Format))
	}
	if !validOutputs[strings.ToLower(lc.Output)] {
		v.addError("logging.output", fmt.Sprintf("invalid log output %q", lc.Output))
	}
	if (lc.Output == "file" || lc.Output == "both") && lc.FilePath == "" {
		v.addError("logging.file_path", "file path is required when logging to a file")
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	// Host can be empty (meaning all interfaces), an IP, or a hostname
	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return false
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}

	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
