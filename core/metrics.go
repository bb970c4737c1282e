package core

import "context"

const (
	MetricJobsReserved   = "outbound.jobs.reserved"
	MetricJobsSucceeded  = "outbound.jobs.succeeded"
	MetricJobsFailed     = "outbound.jobs.failed"
	MetricJobDuration    = "outbound.jobs.duration_ms"
	MetricDeliveries     = "outbound.deliveries"
	MetricDeliveryDedupe = "outbound.deliveries.deduplicated"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

var _ MetricsRecorder = NopMetricsRecorder{}
