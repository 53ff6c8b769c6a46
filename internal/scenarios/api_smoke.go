package scenarios

import (
	"context"
	"time"

	"github.com/google/uuid"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/scenario"
	"yqhp/load-engine/pkg/types"
)

// APISmoke 关键接口冒烟测试：健康检查、商品列表、商品详情、库存查询。
func APISmoke() *scenario.Scenario {
	return &scenario.Scenario{
		Name:        "api-smoke",
		Description: "Quick validation of the critical API endpoints",
		Run:         runAPISmoke,
		Defaults: scenario.Defaults{
			VUs:      10,
			Duration: 30 * time.Second,
			Thresholds: map[string][]types.ThresholdConfig{
				"http_req_duration": {{Expression: "p(95)<200"}},
				"errors":            {{Expression: "rate<0.1"}},
			},
			Env: map[string]string{"BASE_URL": defaultBaseURL},
		},
	}
}

type smokeStep struct {
	name   string
	path   string
	checks map[string]scenario.CheckFunc
	pause  time.Duration
}

var smokeSteps = []smokeStep{
	{
		name: "/actuator/health",
		path: "/actuator/health",
		checks: map[string]scenario.CheckFunc{
			"health check status is 200": statusIs(200),
		},
		pause: 500 * time.Millisecond,
	},
	{
		name: "/api/v1/products",
		path: "/api/v1/products?page=0&size=10",
		checks: map[string]scenario.CheckFunc{
			"products list status is 200": statusIs(200),
			"products response time < 100ms": func(r *httpclient.Response) bool {
				return r.Timings.Duration < 100*time.Millisecond
			},
		},
		pause: 500 * time.Millisecond,
	},
	{
		name: "/api/v1/products/{productId}",
		path: "/api/v1/products/PROD-1",
		checks: map[string]scenario.CheckFunc{
			"product detail status is 200": statusIs(200),
			"product has required fields":  hasFields("$.productId", "$.name", "$.price"),
		},
		pause: 500 * time.Millisecond,
	},
	{
		name: "/api/v1/inventory/{productId}",
		path: "/api/v1/inventory/PROD-1",
		checks: map[string]scenario.CheckFunc{
			"inventory check status is 200": statusIs(200),
		},
		pause: time.Second,
	},
}

func runAPISmoke(ctx context.Context, sc *scenario.Context) error {
	errorRate, err := sc.Rate("errors")
	if err != nil {
		return err
	}

	base := sc.Env.Get("BASE_URL", defaultBaseURL)
	headers := map[string]string{
		"Content-Type":   "application/json",
		"Correlation-Id": uuid.NewString(),
	}

	for _, step := range smokeSteps {
		resp, _ := sc.HTTP.Get(ctx, base+step.path, &httpclient.Options{
			Headers: headers,
			Name:    step.name,
		})
		// 强制取消时请求被中断，不再计入检查
		if err := ctx.Err(); err != nil {
			return err
		}
		errorRate.Add(!sc.Check(resp, step.checks))

		if err := sc.Sleep(ctx, step.pause); err != nil {
			return err
		}
	}
	return nil
}
