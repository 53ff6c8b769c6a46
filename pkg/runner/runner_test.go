package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yqhp/load-engine/internal/config"
	"yqhp/load-engine/pkg/controlsurface"
	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/scenario"
	"yqhp/load-engine/pkg/types"
)

func newStubServer(t *testing.T, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func pingScenario() *scenario.Scenario {
	return &scenario.Scenario{
		Name: "ping",
		Run: func(ctx context.Context, sc *scenario.Context) error {
			resp, _ := sc.HTTP.Get(ctx, sc.Env.Get("BASE_URL", "")+"/ping", &httpclient.Options{Name: "ping"})
			sc.Check(resp, map[string]scenario.CheckFunc{
				"status is 200": func(r *httpclient.Response) bool { return r != nil && r.Status == http.StatusOK },
			})
			return nil
		},
	}
}

func testRegistry(t *testing.T, scenarios ...*scenario.Scenario) *scenario.Registry {
	t.Helper()
	reg := scenario.NewRegistry()
	for _, s := range scenarios {
		require.NoError(t, reg.Register(s))
	}
	return reg
}

func testConfig(name, baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Run.Scenario = name
	cfg.Run.VUs = 1
	cfg.Run.Iterations = 1
	cfg.Run.GracefulStop = 5 * time.Second
	cfg.Env = map[string]string{"BASE_URL": baseURL}
	return cfg
}

func TestRunSingleIteration(t *testing.T) {
	srv := newStubServer(t, 10*time.Millisecond)
	cfg := testConfig("ping", srv.URL)
	cfg.Thresholds = map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "p(95)<200"}},
	}
	cfg.Summary.TrendStats = []string{"count", "avg", "p(95)"}
	cfg.Summary.NoColor = true
	cfg.Summary.Export = filepath.Join(t.TempDir(), "summary.json")

	var stdout bytes.Buffer
	result, err := Run(context.Background(), Options{
		Config:    cfg,
		Scenarios: testRegistry(t, pingScenario()),
		RunID:     "run-1",
		Stdout:    &stdout,
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, types.RunStatusPassed, result.Status)
	assert.True(t, result.Passed)
	assert.False(t, result.Aborted)
	assert.Equal(t, int64(1), result.Iterations.Completed)
	assert.Zero(t, result.Iterations.Failed)
	assert.Equal(t, string(types.ModeSharedIterations), result.Config.Mode)

	duration := result.Metric("http_req_duration")
	require.NotNil(t, duration)
	assert.Equal(t, 1.0, duration.Values["count"])
	assert.GreaterOrEqual(t, duration.Values["avg"], 10.0)

	checks := result.Metric("checks")
	require.NotNil(t, checks)
	assert.Equal(t, 1.0, checks.Values["rate"])
	require.Len(t, result.Checks, 1)
	assert.Equal(t, int64(1), result.Checks[0].Passes)

	require.Len(t, result.Thresholds, 1)
	assert.True(t, result.Thresholds[0].Passed)

	assert.Contains(t, stdout.String(), "http_req_duration")

	data, err := os.ReadFile(cfg.Summary.Export)
	require.NoError(t, err)
	var exported map[string]any
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Equal(t, "run-1", exported["run_id"])
	assert.Equal(t, types.RunStatusPassed, exported["status"])
}

func TestRunCounterRateMatchesSummary(t *testing.T) {
	srv := newStubServer(t, 5*time.Millisecond)
	cfg := testConfig("ping", srv.URL)
	cfg.Run.Iterations = 3
	cfg.Summary.Quiet = true
	cfg.Thresholds = map[string][]types.ThresholdConfig{
		"http_reqs": {{Expression: "rate>0"}},
	}

	result, err := Run(context.Background(), Options{
		Config:    cfg,
		Scenarios: testRegistry(t, pingScenario()),
		Stdout:    io.Discard,
	})
	require.NoError(t, err)

	reqs := result.Metric("http_reqs")
	require.NotNil(t, reqs)
	require.Len(t, result.Thresholds, 1)
	assert.True(t, result.Thresholds[0].Passed)
	assert.Equal(t, reqs.Values["rate"], result.Thresholds[0].Observed)
}

func TestRunThresholdsFailed(t *testing.T) {
	srv := newStubServer(t, 20*time.Millisecond)
	cfg := testConfig("ping", srv.URL)
	cfg.Run.Iterations = 2
	cfg.Thresholds = map[string][]types.ThresholdConfig{
		"http_req_duration": {{Expression: "max<1"}},
	}

	result, err := Run(context.Background(), Options{
		Config:    cfg,
		Scenarios: testRegistry(t, pingScenario()),
	})
	require.NoError(t, err, "a failed threshold is a verdict, not an error")
	assert.Equal(t, types.RunStatusThresholdsFailed, result.Status)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, int64(2), result.Iterations.Completed)
}

func TestRunIterationErrors(t *testing.T) {
	failing := &scenario.Scenario{
		Name: "failing",
		Run: func(ctx context.Context, sc *scenario.Context) error {
			return assert.AnError
		},
	}
	cfg := testConfig("failing", "http://127.0.0.1:1")
	cfg.Run.Iterations = 3

	result, err := Run(context.Background(), Options{
		Config:    cfg,
		Scenarios: testRegistry(t, failing),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Iterations.Failed)
	assert.Zero(t, result.Iterations.Completed)

	require.NotNil(t, result.Errors)
	assert.Equal(t, int64(3), result.Errors.TotalErrors)

	iterations := result.Metric("iterations")
	assert.Nil(t, iterations, "failed iterations are not counted as completed")
}

func TestRunConfigErrors(t *testing.T) {
	reg := testRegistry(t, pingScenario())

	_, err := Run(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrConfig)

	cfg := testConfig("missing", "http://localhost")
	_, err = Run(context.Background(), Options{Config: cfg, Scenarios: reg})
	assert.ErrorIs(t, err, ErrConfig)

	cfg = testConfig("ping", "http://localhost")
	cfg.Thresholds = map[string][]types.ThresholdConfig{"checks": {{Expression: "rate >> 1"}}}
	_, err = Run(context.Background(), Options{Config: cfg, Scenarios: reg})
	assert.ErrorIs(t, err, ErrConfig)

	cfg = testConfig("ping", "http://localhost")
	cfg.Outputs = []string{"carrier-pigeon=coop"}
	_, err = Run(context.Background(), Options{Config: cfg, Scenarios: reg})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewPlanAppliesScenarioDefaults(t *testing.T) {
	sc := &scenario.Scenario{
		Name: "defaults",
		Run:  func(context.Context, *scenario.Context) error { return nil },
		Defaults: scenario.Defaults{
			VUs:      5,
			Duration: 10 * time.Second,
			Thresholds: map[string][]types.ThresholdConfig{
				"http_req_duration": {{Expression: "p(95)<200"}},
				"checks":            {{Expression: "rate>0.99"}},
			},
			Env: map[string]string{"BASE_URL": "http://default", "TOKEN": "t"},
		},
	}
	reg := testRegistry(t, sc)

	t.Run("unset fields take defaults", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Run.Scenario = "defaults"
		cfg.Env = map[string]string{"BASE_URL": "http://override"}
		cfg.Thresholds = map[string][]types.ThresholdConfig{
			"checks": {{Expression: "rate>0.5"}},
		}

		plan, err := NewPlan(cfg, reg)
		require.NoError(t, err)
		assert.Equal(t, 5, plan.ModeConfig.VUs)
		assert.Equal(t, 10*time.Second, plan.ModeConfig.Duration)
		assert.Equal(t, types.ModeConstantVUs, plan.Mode)
		assert.Equal(t, "http://override", plan.Env["BASE_URL"])
		assert.Equal(t, "t", plan.Env["TOKEN"])
		assert.Equal(t, "rate>0.5", plan.Thresholds["checks"][0].Expression)
		assert.Contains(t, plan.Thresholds, "http_req_duration")
	})

	t.Run("explicit stop condition wins", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Run.Scenario = "defaults"
		cfg.Run.VUs = 2
		cfg.Run.Iterations = 4

		plan, err := NewPlan(cfg, reg)
		require.NoError(t, err)
		assert.Equal(t, 2, plan.ModeConfig.VUs)
		assert.Zero(t, plan.ModeConfig.Duration)
		assert.Equal(t, int64(4), plan.ModeConfig.Iterations)
		assert.Equal(t, types.ModeSharedIterations, plan.Mode)
	})
}

func TestRunStopThroughControlAPI(t *testing.T) {
	started := make(chan struct{})
	var once bool
	looping := &scenario.Scenario{
		Name: "looping",
		Run: func(ctx context.Context, sc *scenario.Context) error {
			if !once {
				once = true
				close(started)
			}
			return sc.Sleep(ctx, 20*time.Millisecond)
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := testConfig("looping", "http://localhost")
	cfg.Run.Iterations = 0
	cfg.Run.Duration = time.Minute

	stopStatus := make(chan int, 1)
	begin := time.Now()
	result, err := Run(context.Background(), Options{
		Config:          cfg,
		Scenarios:       testRegistry(t, looping),
		ControlListener: ln,
		OnStart: func(*controlsurface.ControlSurface) {
			go func() {
				<-started
				resp, err := http.Post("http://"+ln.Addr().String()+"/v1/stop", "application/json", nil)
				if err != nil {
					stopStatus <- 0
					return
				}
				_ = resp.Body.Close()
				stopStatus <- resp.StatusCode
			}()
		},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, <-stopStatus)
	assert.Less(t, time.Since(begin), 30*time.Second)
	assert.False(t, result.Aborted, "a control API stop is graceful")
	assert.False(t, result.ForcedTermination)
	assert.GreaterOrEqual(t, result.Iterations.Completed, int64(1))
	assert.Equal(t, types.RunStatusPassed, result.Status)
}
