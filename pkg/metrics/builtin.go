package metrics

// 内置指标名称
const (
	VUsName               = "vus"
	VUsMaxName            = "vus_max"
	IterationsName        = "iterations"
	IterationDurationName = "iteration_duration"
	DroppedIterationsName = "dropped_iterations"
	ChecksName            = "checks"

	HTTPReqsName              = "http_reqs"
	HTTPReqFailedName         = "http_req_failed"
	HTTPReqDurationName       = "http_req_duration"
	HTTPReqBlockedName        = "http_req_blocked"
	HTTPReqConnectingName     = "http_req_connecting"
	HTTPReqTLSHandshakingName = "http_req_tls_handshaking"
	HTTPReqSendingName        = "http_req_sending"
	HTTPReqWaitingName        = "http_req_waiting"
	HTTPReqReceivingName      = "http_req_receiving"

	DataSentName     = "data_sent"
	DataReceivedName = "data_received"
)

// BuiltinMetrics holds the metrics every run registers up front.
type BuiltinMetrics struct {
	VUs               *Metric
	VUsMax            *Metric
	Iterations        *Metric
	IterationDuration *Metric
	DroppedIterations *Metric
	Checks            *Metric

	HTTPReqs              *Metric
	HTTPReqFailed         *Metric
	HTTPReqDuration       *Metric
	HTTPReqBlocked        *Metric
	HTTPReqConnecting     *Metric
	HTTPReqTLSHandshaking *Metric
	HTTPReqSending        *Metric
	HTTPReqWaiting        *Metric
	HTTPReqReceiving      *Metric

	DataSent     *Metric
	DataReceived *Metric
}

// RegisterBuiltinMetrics 注册所有内置指标
func RegisterBuiltinMetrics(r *Registry) *BuiltinMetrics {
	return &BuiltinMetrics{
		VUs:               r.MustRegister(VUsName, Gauge),
		VUsMax:            r.MustRegister(VUsMaxName, Gauge),
		Iterations:        r.MustRegister(IterationsName, Counter),
		IterationDuration: r.MustRegister(IterationDurationName, Trend, Time),
		DroppedIterations: r.MustRegister(DroppedIterationsName, Counter),
		Checks:            r.MustRegister(ChecksName, Rate),

		HTTPReqs:              r.MustRegister(HTTPReqsName, Counter),
		HTTPReqFailed:         r.MustRegister(HTTPReqFailedName, Rate),
		HTTPReqDuration:       r.MustRegister(HTTPReqDurationName, Trend, Time),
		HTTPReqBlocked:        r.MustRegister(HTTPReqBlockedName, Trend, Time),
		HTTPReqConnecting:     r.MustRegister(HTTPReqConnectingName, Trend, Time),
		HTTPReqTLSHandshaking: r.MustRegister(HTTPReqTLSHandshakingName, Trend, Time),
		HTTPReqSending:        r.MustRegister(HTTPReqSendingName, Trend, Time),
		HTTPReqWaiting:        r.MustRegister(HTTPReqWaitingName, Trend, Time),
		HTTPReqReceiving:      r.MustRegister(HTTPReqReceivingName, Trend, Time),

		DataSent:     r.MustRegister(DataSentName, Counter, Data),
		DataReceived: r.MustRegister(DataReceivedName, Counter, Data),
	}
}
