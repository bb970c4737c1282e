package outbound

import "github.com/goliatone/go-outbound/core"

type Config = core.Config

type QueueConfig = core.QueueConfig
type WorkerConfig = core.WorkerConfig
type BridgeConfig = core.BridgeConfig
type DeliveryConfig = core.DeliveryConfig

type WebhookSubscription = core.WebhookSubscription
type OutboxMessage = core.OutboxMessage
type Job = core.Job
type JobHandler = core.JobHandler
type JobHandlerFunc = core.JobHandlerFunc
type MetricsRecorder = core.MetricsRecorder
type JobWorkerHook = core.JobWorkerHook
type JobWorkerEvent = core.JobWorkerEvent
type TopicResolver = core.TopicResolver

func DefaultConfig() Config {
	return core.DefaultConfig()
}
