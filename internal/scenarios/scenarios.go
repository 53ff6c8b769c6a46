// Package scenarios contains the built-in scenarios shipped with the binary.
package scenarios

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/ohler55/ojg/oj"

	"yqhp/load-engine/pkg/httpclient"
	"yqhp/load-engine/pkg/scenario"
)

const defaultBaseURL = "http://localhost:8080"

func init() {
	scenario.DefaultRegistry.MustRegister(APISmoke())
	scenario.DefaultRegistry.MustRegister(OrderFlow())
	scenario.DefaultRegistry.MustRegister(InventorySpike())
}

// statusIs returns a check passing when the response status is one of codes.
func statusIs(codes ...int) scenario.CheckFunc {
	return func(r *httpclient.Response) bool {
		for _, c := range codes {
			if r.Status == c {
				return true
			}
		}
		return false
	}
}

// truthy mirrors JSON truthiness: null, false, 0 and "" are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// hasFields checks that every JSONPath resolves to a truthy value.
func hasFields(paths ...string) scenario.CheckFunc {
	return func(r *httpclient.Response) bool {
		for _, p := range paths {
			v, ok := r.JSONPathFirst(p)
			if !ok || !truthy(v) {
				return false
			}
		}
		return true
	}
}

// extractString returns the first JSONPath match formatted as a string.
func extractString(r *httpclient.Response, path string) (string, bool) {
	if r == nil {
		return "", false
	}
	v, ok := r.JSONPathFirst(path)
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, s != ""
	}
	return fmt.Sprint(v), true
}

func jsonBody(v any) []byte {
	b, err := oj.Marshal(v)
	if err != nil {
		// map[string]any of scalars always marshals
		panic(err)
	}
	return b
}

// feed is one row of generated test data.
type feed struct {
	ProductID      string
	Quantity       int
	CorrelationID  string
	IdempotencyKey string
}

func newFeed(products, maxQuantity int) feed {
	return feed{
		ProductID:      fmt.Sprintf("PROD-%d", rand.Intn(products)),
		Quantity:       1 + rand.Intn(maxQuantity),
		CorrelationID:  uuid.NewString(),
		IdempotencyKey: uuid.NewString(),
	}
}
