package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/pkg/types"
)

func TestValidateDefaultConfig(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func validationErrors(t *testing.T, cfg *Config) ValidationErrors {
	t.Helper()
	err := cfg.Validate()
	require.Error(t, err)
	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	return verrs
}

func TestValidateRunConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RunConfig)
		field  string
	}{
		{"empty scenario", func(c *RunConfig) { c.Scenario = "" }, "run.scenario"},
		{"unknown mode", func(c *RunConfig) { c.Mode = "externally-controlled" }, "run.mode"},
		{"negative vus", func(c *RunConfig) { c.VUs = -1 }, "run.vus"},
		{"negative duration", func(c *RunConfig) { c.Duration = -time.Second }, "run.duration"},
		{"negative iterations", func(c *RunConfig) { c.Iterations = -5 }, "run.iterations"},
		{"negative stage target", func(c *RunConfig) {
			c.Stages = []types.Stage{{Duration: time.Second, Target: -1}}
		}, "run.stages[0].target"},
		{"negative graceful stop", func(c *RunConfig) { c.GracefulStop = -time.Second }, "run.graceful_stop"},
		{"negative sleep scale", func(c *RunConfig) { c.SleepScale = -1 }, "run.sleep_scale"},
		{"ramping without stages", func(c *RunConfig) { c.Mode = types.ModeRampingVUs }, "run.stages"},
		{"per-vu without iterations", func(c *RunConfig) { c.Mode = types.ModePerVUIterations }, "run.iterations"},
		{"shared without iterations", func(c *RunConfig) { c.Mode = types.ModeSharedIterations }, "run.iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.Run)
			assert.True(t, validationErrors(t, cfg).Has(tt.field), "expected error on %s", tt.field)
		})
	}
}

func TestValidateThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds = map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<500"}, {Expression: "p(95) << 500"}},
		"checks":            {{Expression: "rate>0.9"}},
		"":                  {{Expression: "p(95)<1"}},
	}

	verrs := validationErrors(t, cfg)
	assert.Len(t, verrs, 2)
	assert.True(t, verrs.Has("thresholds.http_req_duration"))
	assert.True(t, verrs.Has("thresholds"), "inline threshold without a metric")
	assert.False(t, verrs.Has("thresholds.checks"))
}

func TestValidateHTTPConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*HTTPConfig)
		field  string
	}{
		{"relative base url", func(c *HTTPConfig) { c.BaseURL = "/api" }, "http.base_url"},
		{"unknown backend", func(c *HTTPConfig) { c.Backend = "curl" }, "http.backend"},
		{"http2 on fasthttp", func(c *HTTPConfig) { c.Backend = "fasthttp"; c.HTTP2 = true }, "http.http2"},
		{"negative timeout", func(c *HTTPConfig) { c.Timeout = -1 }, "http.timeout"},
		{"negative conns", func(c *HTTPConfig) { c.MaxConnsPerHost = -1 }, "http.max_conns_per_host"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg.HTTP)
			assert.True(t, validationErrors(t, cfg).Has(tt.field))
		})
	}
}

func TestValidateSummaryAndOutputs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Summary.TrendStats = []string{"avg", "p(99.9)", "mode"}
	cfg.Outputs = []string{"json=out.ndjson", "=nothing"}

	verrs := validationErrors(t, cfg)
	assert.Len(t, verrs, 2)
	assert.True(t, verrs.Has("summary.trend_stats"))
	assert.True(t, verrs.Has("outputs[1]"))
}

func TestValidateControlConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Control.Address = "not an address"
	assert.NoError(t, cfg.Validate(), "address is ignored while disabled")

	cfg.Control.Enabled = true
	assert.True(t, validationErrors(t, cfg).Has("control.address"))

	cfg.Control.Address = ":6565"
	assert.NoError(t, cfg.Validate())
}

func TestValidateLoggingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	cfg.Logging.Format = "xml"
	cfg.Logging.Output = "file"

	verrs := validationErrors(t, cfg)
	assert.True(t, verrs.Has("logging.level"))
	assert.True(t, verrs.Has("logging.format"))
	assert.True(t, verrs.Has("logging.file_path"))
}

func TestMultipleValidationErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Run.VUs = -1
	cfg.HTTP.Backend = ""
	cfg.Logging.Level = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.Contains(t, err.Error(), "run.vus")
	assert.Contains(t, err.Error(), "http.backend")
	assert.Contains(t, err.Error(), "logging.level")
}

func TestEmptyValidationErrors(t *testing.T) {
	var errs ValidationErrors
	assert.False(t, errs.HasErrors())
	assert.Equal(t, "", errs.Error())
}

func TestIsValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{":6565", true},
		{"localhost:6565", true},
		{"127.0.0.1:8080", true},
		{"[::1]:8080", true},
		{"my-host.internal:80", true},
		{"", false},
		{"localhost", false},
		{":", false},
		{"-bad-:80", false},
		{"host:notaport", false},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			assert.Equal(t, tt.valid, isValidAddress(tt.addr))
		})
	}
}
