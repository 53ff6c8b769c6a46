package metrics

import (
	"errors"
	"fmt"
)

var (
	// ErrMetricKindConflict is returned when a metric is registered twice with different types.
	ErrMetricKindConflict = errors.New("metric kind conflict")

	// ErrUnknownMetric is returned when recording into a metric that was never registered.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrInvalidMetricName is returned for names that cannot be used in threshold expressions.
	ErrInvalidMetricName = errors.New("invalid metric name")

	// ErrInvalidMetricType is returned for unknown metric types.
	ErrInvalidMetricType = errors.New("invalid metric type")

	// ErrNonFiniteValue is returned when recording NaN or an infinity.
	ErrNonFiniteValue = errors.New("non-finite metric value")
)

// KindConflictError carries the details of a MetricKindConflict.
type KindConflictError struct {
	Name      string
	Existing  MetricType
	Requested MetricType

	ExistingContains  ValueType
	RequestedContains ValueType
}

func (e *KindConflictError) Error() string {
	if e.Existing == e.Requested {
		return fmt.Sprintf("metric %q already registered as %s (%s), cannot register as %s (%s)",
			e.Name, e.Existing, e.ExistingContains, e.Requested, e.RequestedContains)
	}
	return fmt.Sprintf("metric %q already registered as %s, cannot register as %s", e.Name, e.Existing, e.Requested)
}

// Unwrap lets errors.Is match ErrMetricKindConflict.
func (e *KindConflictError) Unwrap() error {
	return ErrMetricKindConflict
}
