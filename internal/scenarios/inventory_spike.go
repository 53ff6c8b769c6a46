package scenarios

import (
	"context"
	"net/http"
	"time"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/scenario"
	"yqhp/load-engine/pkg/types"
)

// reserveEvery selects every fifth VU for reservations, giving an 80/20
// read/write mix.
const reserveEvery = 5

// InventorySpike 库存突增测试：模拟秒杀场景下的库存查询与预占。
func InventorySpike() *scenario.Scenario {
	return &scenario.Scenario{
		Name:        "inventory-spike",
		Description: "Sudden spike of stock checks and reservations (80/20 mix)",
		Run:         runInventorySpike,
		Defaults: scenario.Defaults{
			Stages: []types.Stage{
				{Duration: 5 * time.Second, Target: 0, Name: "calm"},
				{Duration: time.Second, Target: 200, Name: "spike"},
				{Duration: 10 * time.Second, Target: 250, Name: "ramp"},
				{Duration: 2 * time.Minute, Target: 250, Name: "sustain"},
				{Duration: 10 * time.Second, Target: 0, Name: "drop"},
			},
			Thresholds: map[string][]types.ThresholdConfig{
				"http_req_duration": {{Expression: "p(95)<100"}},
				"http_req_failed":   {{Expression: "rate<0.05"}},
			},
			Env: map[string]string{"BASE_URL": defaultBaseURL},
		},
	}
}

func runInventorySpike(ctx context.Context, sc *scenario.Context) error {
	if sc.VU%reserveEvery == 0 {
		return reserveStock(ctx, sc)
	}
	return checkStock(ctx, sc)
}

func checkStock(ctx context.Context, sc *scenario.Context) error {
	stock, err := sc.Gauge("inventory_available")
	if err != nil {
		return err
	}

	row := newFeed(100, 4)
	resp, _ := sc.HTTP.Get(ctx, sc.Env.Get("BASE_URL", defaultBaseURL)+"/api/v1/inventory/"+row.ProductID, &httpclient.Options{
		Headers: map[string]string{"Correlation-Id": row.CorrelationID},
		Name:    "Check Stock",
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if sc.Check(resp, map[string]scenario.CheckFunc{"check stock status is 200": statusIs(200)}) {
		if v, ok := resp.JSONPathFirst("$.available"); ok {
			switch n := v.(type) {
			case int64:
				stock.Set(float64(n))
			case float64:
				stock.Set(n)
			}
		}
	}
	return sc.SleepBetween(ctx, 100*time.Millisecond, 500*time.Millisecond)
}

func reserveStock(ctx context.Context, sc *scenario.Context) error {
	rejected, err := sc.Counter("reservations_rejected")
	if err != nil {
		return err
	}

	row := newFeed(100, 4)
	resp, _ := sc.HTTP.Post(ctx, sc.Env.Get("BASE_URL", defaultBaseURL)+"/api/v1/inventory/reserve", jsonBody(map[string]any{
		"productId": row.ProductID,
		"quantity":  row.Quantity,
	}), &httpclient.Options{
		Headers: map[string]string{
			"Content-Type":   "application/json",
			"Correlation-Id": row.CorrelationID,
		},
		Name: "Reserve Stock",
		// 409 = out of stock, acceptable
		ExpectedStatuses: []int{http.StatusOK, http.StatusCreated, http.StatusConflict},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	sc.Check(resp, map[string]scenario.CheckFunc{
		"reserve status is 200/201/409": statusIs(http.StatusOK, http.StatusCreated, http.StatusConflict),
	})
	if resp != nil && resp.Status == http.StatusConflict {
		rejected.Add(1)
	}
	return sc.SleepBetween(ctx, 200*time.Millisecond, 800*time.Millisecond)
}
