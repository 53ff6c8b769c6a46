package scenarios

import (
	"context"
	"time"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/scenario"
	"yqhp/load-engine/pkg/types"
)

// OrderFlow 下单全流程：浏览商品 -> 加入购物车 -> 创建订单 -> 支付。
// A failed step ends the iteration early since later steps depend on the
// values it extracts.
func OrderFlow() *scenario.Scenario {
	return &scenario.Scenario{
		Name:        "order-flow",
		Description: "Browse product, add to cart, create order and pay",
		Run:         runOrderFlow,
		Defaults: scenario.Defaults{
			StartVUs: 10,
			Stages:   []types.Stage{{Duration: 5 * time.Minute, Target: 100}},
			Thresholds: map[string][]types.ThresholdConfig{
				"http_req_duration": {{Expression: "p(95)<200"}},
				"http_req_failed":   {{Expression: "rate<0.05"}},
			},
			Env: map[string]string{
				"BASE_URL":   defaultBaseURL,
				"AUTH_TOKEN": "test-token",
			},
		},
	}
}

func runOrderFlow(ctx context.Context, sc *scenario.Context) error {
	base := sc.Env.Get("BASE_URL", defaultBaseURL)
	row := newFeed(1000, 5)

	headers := map[string]string{
		"Accept":          "application/json",
		"Content-Type":    "application/json",
		"Authorization":   "Bearer " + sc.Env.Get("AUTH_TOKEN", "test-token"),
		"Correlation-Id":  row.CorrelationID,
		"Idempotency-Key": row.IdempotencyKey,
	}

	// 1. 商品详情
	resp, _ := sc.HTTP.Get(ctx, base+"/api/v1/products/"+row.ProductID, &httpclient.Options{
		Headers: headers,
		Name:    "Get Product",
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sc.Check(resp, map[string]scenario.CheckFunc{"get product status is 200": statusIs(200)}) {
		return nil
	}
	price, ok := resp.JSONPathFirst("$.price")
	if !ok {
		sc.Log().Debugw("product response has no price", "product", row.ProductID)
		return nil
	}
	if err := sc.SleepBetween(ctx, time.Second, 3*time.Second); err != nil {
		return err
	}

	// 2. 加入购物车
	resp, _ = sc.HTTP.Post(ctx, base+"/api/v1/cart/items", jsonBody(map[string]any{
		"productId": row.ProductID,
		"quantity":  row.Quantity,
	}), &httpclient.Options{
		Headers:          headers,
		Name:             "Add to Cart",
		ExpectedStatuses: []int{201},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sc.Check(resp, map[string]scenario.CheckFunc{"add to cart status is 201": statusIs(201)}) {
		return nil
	}
	cartID, ok := extractString(resp, "$.cartId")
	if !ok {
		sc.Log().Debugw("cart response has no cartId", "product", row.ProductID)
		return nil
	}
	if err := sc.SleepBetween(ctx, 2*time.Second, 5*time.Second); err != nil {
		return err
	}

	// 3. 创建订单
	resp, _ = sc.HTTP.Post(ctx, base+"/api/v1/orders", jsonBody(map[string]any{
		"cartId": cartID,
		"userId": "USER-TEST",
	}), &httpclient.Options{
		Headers:          headers,
		Name:             "Create Order",
		ExpectedStatuses: []int{201},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	if !sc.Check(resp, map[string]scenario.CheckFunc{"create order status is 201": statusIs(201)}) {
		return nil
	}
	orderID, ok := extractString(resp, "$.orderId")
	if !ok {
		sc.Log().Debugw("order response has no orderId", "cart", cartID)
		return nil
	}
	if err := sc.SleepBetween(ctx, time.Second, 2*time.Second); err != nil {
		return err
	}

	// 4. 支付
	resp, _ = sc.HTTP.Post(ctx, base+"/api/v1/orders/"+orderID+"/pay", jsonBody(map[string]any{
		"paymentMethod": "CREDIT_CARD",
		"amount":        price,
	}), &httpclient.Options{
		Headers:          headers,
		Name:             "Process Payment",
		ExpectedStatuses: []int{200, 202},
	})
	if err := ctx.Err(); err != nil {
		return err
	}
	sc.Check(resp, map[string]scenario.CheckFunc{"payment accepted": statusIs(200, 202)})
	return nil
}
