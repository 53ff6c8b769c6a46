// Package threshold parses threshold expressions such as "p(95)<200" or
// "http_req_failed{rate} < 0.05" and evaluates them against a frozen metric
// snapshot.
//
// A threshold is declared under a metric name:
//
//	http_req_duration:
//	  - expression: "p(95)<200"
//	  - expression: "avg<100"
//	    abort_on_fail: true
//
// Thresholds are required by default. Advisory thresholds are reported but do
// not change the run verdict.
package threshold
