package config

import (
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/types"
)

// deserialize(serialize(config)) == config
func TestConfigRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("config round-trip preserves data", prop.ForAll(
		func(cfg *Config) bool {
			data, err := cfg.Serialize()
			if err != nil {
				return false
			}
			parsed, err := ParseConfig(data)
			if err != nil {
				return false
			}
			return reflect.DeepEqual(cfg, parsed)
		},
		genConfig(),
	))

	properties.TestingRun(t)
}

// Flag overrides applied through the loader reach the same field the YAML
// key names.
func TestCmdOverrideProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("run.vus override is applied", prop.ForAll(
		func(vus int) bool {
			cfg, err := NewLoader().
				WithLookupEnv(noEnv).
				WithCmdArgs(map[string]string{"run.vus": strconv.Itoa(vus)}).
				Load()
			return err == nil && cfg.Run.VUs == vus
		},
		gen.IntRange(0, 10000),
	))

	properties.TestingRun(t)
}

func genConfig() gopter.Gen {
	return gopter.CombineGens(
		genRunConfig(),
		genThresholds(),
		genEnv(),
		genHTTPConfig(),
		genSummaryConfig(),
		gen.Bool(),
	).Map(func(values []interface{}) *Config {
		cfg := DefaultConfig()
		cfg.Run = values[0].(RunConfig)
		cfg.Thresholds = values[1].(map[string][]types.ThresholdConfig)
		cfg.Env = values[2].(map[string]string)
		cfg.HTTP = values[3].(HTTPConfig)
		cfg.Summary = values[4].(SummaryConfig)
		cfg.Control.Enabled = values[5].(bool)
		return cfg
	})
}

func genRunConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("api-smoke", "order-flow", "inventory-spike"),
		gen.OneConstOf(types.ExecutionMode(""), types.ModeConstantVUs, types.ModeRampingVUs),
		gen.IntRange(0, 500),
		gen.IntRange(0, 600),
		gen.Int64Range(0, 100000),
		gen.SliceOfN(3, gen.IntRange(0, 200)),
		gen.IntRange(0, 60),
		gen.OneConstOf(0.0, 0.5, 1.0, 2.0),
	).Map(func(values []interface{}) RunConfig {
		var stages []types.Stage
		for i, target := range values[5].([]int) {
			stages = append(stages, types.Stage{Duration: time.Duration(i+1) * 10 * time.Second, Target: target})
		}
		if values[1].(types.ExecutionMode) != types.ModeRampingVUs {
			stages = nil
		}
		return RunConfig{
			Scenario:         values[0].(string),
			Mode:             values[1].(types.ExecutionMode),
			VUs:              values[2].(int),
			Duration:         time.Duration(values[3].(int)) * time.Second,
			Iterations:       values[4].(int64),
			Stages:           stages,
			GracefulStop:     time.Duration(values[6].(int)) * time.Second,
			GracefulRampDown: 1500 * time.Millisecond,
			SleepScale:       values[7].(float64),
		}
	})
}

func genThresholds() gopter.Gen {
	return gen.OneGenOf(
		gen.Const(map[string][]types.ThresholdConfig(nil)),
		gopter.CombineGens(
			gen.IntRange(1, 999),
			gen.Bool(),
			gen.Bool(),
		).Map(func(values []interface{}) map[string][]types.ThresholdConfig {
			return map[string][]types.ThresholdConfig{
				"http_req_duration": {{
					Expression:  "p(95)<" + strconv.Itoa(values[0].(int)),
					AbortOnFail: values[1].(bool),
					Advisory:    values[2].(bool),
				}},
			}
		}),
	)
}

func genEnv() gopter.Gen {
	return gen.MapOf(gen.Identifier(), gen.AlphaString()).Map(func(m map[string]string) map[string]string {
		if len(m) == 0 {
			return nil
		}
		return m
	})
}

func genHTTPConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("", "http://localhost:8080", "https://api.example.test/v1"),
		gen.IntRange(1, 120),
		gen.OneConstOf("net", "fasthttp"),
		gen.Bool(),
		gen.IntRange(0, 256),
	).Map(func(values []interface{}) HTTPConfig {
		return HTTPConfig{
			BaseURL:            values[0].(string),
			Timeout:            time.Duration(values[1].(int)) * time.Second,
			Backend:            values[2].(string),
			InsecureSkipVerify: values[3].(bool),
			UserAgent:          httpclient.DefaultUserAgent,
			MaxConnsPerHost:    values[4].(int),
			MaxRedirects:       10,
		}
	})
}

func genSummaryConfig() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("", "summary.json"),
		gen.Bool(),
		gen.OneConstOf([]string(nil), []string{"avg", "p(99)"}),
	).Map(func(values []interface{}) SummaryConfig {
		return SummaryConfig{
			Export:     values[0].(string),
			NoColor:    values[1].(bool),
			TrendStats: values[2].([]string),
		}
	})
}
