// Package outbound assembles the webhook outbox pipeline: a publishing
// service writes one outbox message per subscription, a bridge promotes
// pending messages into a leased job queue, and a worker delivers each job as
// a signed HTTP POST.
package outbound

import (
	"context"
	"fmt"
	"time"

	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	goerrors "github.com/goliatone/go-errors"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-outbound/adapters/gocommand"
	"github.com/goliatone/go-outbound/adapters/gojob"
	"github.com/goliatone/go-outbound/adapters/gologger"
	"github.com/goliatone/go-outbound/bridge"
	outboundcmd "github.com/goliatone/go-outbound/command"
	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/publish"
	outboundquery "github.com/goliatone/go-outbound/query"
	"github.com/goliatone/go-outbound/queue"
	"github.com/goliatone/go-outbound/ratelimit"
	"github.com/goliatone/go-outbound/security"
	memstore "github.com/goliatone/go-outbound/store/memory"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	"github.com/goliatone/go-outbound/transport"
	"github.com/goliatone/go-outbound/webhooks"
	outboundworker "github.com/goliatone/go-outbound/worker"
)

const (
	BackendMemory = "memory"
	BackendSQL    = "sql"
)

type JobQueue interface {
	core.Queue
	core.QueueInspector
}

type Outbound struct {
	config  Config
	backend string

	registry core.SubscriptionRegistry
	outbox   core.OutboxStore
	inbox    core.InboxStore
	queue    JobQueue
	cipher   core.SecretCipher

	publisher *publish.Service
	bridge    *bridge.Bridge
	router    *outboundworker.Router
	worker    *outboundworker.Worker
	delivery  *webhooks.DeliveryHandler
	commands  gocommand.Commands
	queries   gocommand.Queries

	throttleStore ratelimit.StateStore

	loggerProvider glog.LoggerProvider
	logger         glog.Logger
}

// New resolves configuration and wires every component. Without a
// persistence client or repository factory all state lives in memory.
func New(cfg Config, opts ...Option) (*Outbound, error) {
	b := builder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&b)
	}

	provider, loggers := gologger.ResolveLoggers(b.loggerProvider, b.logger)
	resolved, err := core.ResolveConfig(context.Background(), cfg, b.configProvider, b.optionsResolver)
	if err != nil {
		return nil, err
	}
	if b.metrics == nil {
		b.metrics = core.NopMetricsRecorder{}
	}

	o := &Outbound{
		config:         resolved,
		loggerProvider: provider,
		logger:         loggers.Root,
	}

	cipher := b.cipher
	if cipher == nil {
		secretCipher, err := security.NewSecretCipherFromConfig(resolved.EncryptionKey, resolved.Strict, loggers.Security)
		if err != nil {
			return nil, core.WrapError(err, goerrors.CategoryValidation, core.ErrorConfigInvalid, "outbound: secret cipher setup failed")
		}
		cipher = secretCipher
		if len(resolved.PreviousEncryptionKeys) > 0 {
			keyring, err := newKeyring(secretCipher, resolved.PreviousEncryptionKeys, loggers.Security)
			if err != nil {
				return nil, core.WrapError(err, goerrors.CategoryValidation, core.ErrorConfigInvalid, "outbound: secret keyring setup failed")
			}
			cipher = keyring
		}
	}
	o.cipher = cipher

	if err := o.buildStores(b, loggers); err != nil {
		return nil, err
	}
	if b.registry != nil {
		o.registry = b.registry
	}

	o.publisher = publish.NewService(o.registry, o.outbox, o.cipher)
	o.publisher.Logger = loggers.Publish

	o.bridge = bridge.New(o.outbox, o.queue)
	o.bridge.Logger = loggers.Bridge
	if resolved.Bridge.BatchSize > 0 {
		o.bridge.BatchSize = resolved.Bridge.BatchSize
	}

	sender := b.sender
	if sender == nil {
		httpSender := transport.NewHTTPSender(b.client)
		if b.client == nil {
			httpSender.Client = transport.NewHTTPClient(resolved.HTTPTimeout())
		}
		httpSender.Timeout = resolved.HTTPTimeout()
		if resolved.Delivery.MaxResponseBytes > 0 {
			httpSender.MaxResponseBodyBytes = resolved.Delivery.MaxResponseBytes
		}
		sender = httpSender
	}
	deliveryOpts := []webhooks.Option{
		webhooks.WithLegacyResolvers(b.urlResolver, b.secretResolver),
		webhooks.WithMetrics(b.metrics),
		webhooks.WithLogger(loggers.Webhooks),
	}
	throttle := b.throttle
	if !b.throttleSet {
		throttle = ratelimit.NewReceiverPolicy(o.throttleStore)
		if b.now != nil {
			throttle.Now = b.now
		}
	}
	if throttle != nil {
		deliveryOpts = append(deliveryOpts, webhooks.WithThrottle(throttle))
	}
	o.delivery = webhooks.NewDeliveryHandler(o.outbox, o.inbox, o.cipher, sender, deliveryOpts...)

	o.router = outboundworker.NewRouter()
	o.router.RegisterPrefix(core.OutboxJobPrefix, o.delivery)

	workerOpts := []outboundworker.Option{
		outboundworker.WithTimeout(resolved.JobTimeout()),
		outboundworker.WithHook(b.hook),
		outboundworker.WithMetrics(b.metrics),
		outboundworker.WithLogger(loggers.Worker),
	}
	if b.backoff != nil {
		workerOpts = append(workerOpts, outboundworker.WithBackoff(b.backoff))
	}
	o.worker = outboundworker.New(o.queue, o.router, workerOpts...)

	if b.now != nil {
		o.publisher.Now = b.now
		o.worker.Now = b.now
	}

	o.commands = gocommand.Commands{
		Publish:            outboundcmd.NewPublishCommand(o.publisher),
		AddSubscription:    outboundcmd.NewAddSubscriptionCommand(o.registry),
		RemoveSubscription: outboundcmd.NewRemoveSubscriptionCommand(o.registry),
		BridgeTick:         outboundcmd.NewBridgeTickCommand(o.bridge),
		DrainWorker:        outboundcmd.NewDrainWorkerCommand(o.worker),
	}
	o.queries = gocommand.Queries{
		ListSubscriptions: outboundquery.NewListSubscriptionsQuery(o.registry),
		GetOutboxMessage:  outboundquery.NewGetOutboxMessageQuery(o.outbox),
		GetJob:            outboundquery.NewGetJobQuery(o.queue),
		ListDeadLetters:   outboundquery.NewListDeadLettersQuery(o.queue),
	}

	o.logger.Info("outbound initialized",
		"service", resolved.ServiceName,
		"backend", o.backend,
		"visibility_timeout_seconds", resolved.Queue.VisibilityTimeoutSeconds,
		"max_attempts", resolved.Queue.MaxAttempts,
	)
	return o, nil
}

func newKeyring(current *security.SecretCipher, retired []string, logger glog.Logger) (*security.KeyringCipher, error) {
	opts := make([]security.KeyringOption, 0, len(retired)+1)
	for _, material := range retired {
		opts = append(opts, security.WithRetiredKey(material, security.KeyRotationWindow{}))
	}
	opts = append(opts, security.WithKeyringDiagnostics(func(event security.KeyringDiagnostic) {
		glog.Ensure(logger).Warn("secret keyring fallback",
			"outcome", event.Outcome,
			"key_index", event.KeyIndex,
			"error", event.Error,
		)
	}))
	return security.NewKeyringCipher(current, opts...)
}

func (o *Outbound) buildStores(b builder, loggers gologger.Loggers) error {
	defaults := o.config.QueueDefaults()

	factory := b.repositoryFactory
	if factory == nil && b.persistenceClient != nil {
		queueOpts := []sqlstore.JobQueueOption{sqlstore.WithJobQueueLogger(loggers.Queue)}
		if b.now != nil {
			queueOpts = append(queueOpts, sqlstore.WithJobQueueNow(b.now))
		}
		built, err := sqlstore.NewRepositoryFactoryFromPersistence(b.persistenceClient,
			sqlstore.WithQueueDefaults(defaults),
			sqlstore.WithQueueOptions(queueOpts...),
		)
		if err != nil {
			return core.WrapError(err, goerrors.CategoryInternal, core.ErrorInternal, "outbound: sql stores setup failed")
		}
		factory = built
	}

	if factory != nil {
		if factory.JobQueue() == nil {
			return core.NewError("outbound: repository factory has not been built", goerrors.CategoryInternal, core.ErrorInternal)
		}
		o.backend = BackendSQL
		outbox := factory.OutboxStore()
		inbox := factory.InboxStore()
		if b.now != nil {
			outbox.Now = b.now
			inbox.Now = b.now
			factory.JobQueue().Now = b.now
		}
		o.outbox = outbox
		o.inbox = inbox
		o.queue = factory.JobQueue()
		o.registry = factory.SubscriptionStore()
		if b.subscriptionCache != nil {
			cached, err := sqlstore.NewCachedSubscriptionRegistry(factory.SubscriptionStore(), b.subscriptionCache)
			if err != nil {
				return err
			}
			o.registry = cached
		}
		o.throttleStore = ratelimit.NewMemoryStateStore()
		if throttleStore := factory.ReceiverThrottleStore(); throttleStore != nil {
			o.throttleStore = throttleStore
			if b.subscriptionCache != nil {
				cached, err := sqlstore.NewCachedReceiverThrottleStore(throttleStore, b.subscriptionCache)
				if err != nil {
					return err
				}
				o.throttleStore = cached
			}
		}
		return nil
	}

	o.backend = BackendMemory
	outbox := memstore.NewOutboxStore()
	inbox := memstore.NewInboxStore()
	queueOpts := []queue.Option{queue.WithLogger(loggers.Queue)}
	if b.now != nil {
		outbox.Now = b.now
		inbox.Now = b.now
		queueOpts = append(queueOpts, queue.WithNow(b.now))
	}
	o.outbox = outbox
	o.inbox = inbox
	o.queue = queue.NewMemoryQueue(defaults, queueOpts...)
	o.registry = memstore.NewSubscriptionRegistry()
	o.throttleStore = ratelimit.NewMemoryStateStore()
	return nil
}

// Subscribe adds or rotates the subscription for (topic, url).
func (o *Outbound) Subscribe(ctx context.Context, topic, url, secret string) (WebhookSubscription, error) {
	return o.registry.Add(ctx, topic, url, secret)
}

func (o *Outbound) Unsubscribe(ctx context.Context, topic, url string) (bool, error) {
	return o.registry.Remove(ctx, topic, url)
}

// Publish fans payload out to every subscription of topic and returns the
// last outbox id written, or 0 when nobody is subscribed.
func (o *Outbound) Publish(ctx context.Context, topic string, payload any, version int) (int64, error) {
	return o.publisher.Publish(ctx, topic, payload, version)
}

func (o *Outbound) Tick(ctx context.Context) (bridge.TickStats, error) {
	return o.bridge.Tick(ctx)
}

func (o *Outbound) ProcessOne(ctx context.Context) (bool, error) {
	return o.worker.ProcessOne(ctx)
}

func (o *Outbound) Drain(ctx context.Context, limit int) (int, error) {
	return o.worker.Drain(ctx, limit)
}

// Run ticks the bridge and drains the worker every interval until ctx is
// done.
func (o *Outbound) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = outboundworker.DefaultIdleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := o.bridge.Drain(ctx); err != nil && ctx.Err() == nil {
			o.logger.Error("bridge drain failed", "error", err)
		}
		if _, err := o.worker.Drain(ctx, 0); err != nil && ctx.Err() == nil {
			o.logger.Error("worker drain failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Handle registers an extra job handler. Names under the outbox prefix stay
// with the delivery handler unless registered exactly.
func (o *Outbound) Handle(name string, handler core.JobHandler) {
	o.router.Register(name, handler)
}

// RegisterCommands exposes the command and query handlers on a go-command
// registry. Callers own the returned dispatcher subscriptions.
func (o *Outbound) RegisterCommands(adapter *gocommand.RegistryAdapter) ([]commanddispatcher.Subscription, error) {
	if adapter == nil {
		return nil, fmt.Errorf("outbound: command registry adapter is required")
	}
	subscriptions, err := gocommand.RegisterCommands(adapter, o.commands)
	if err != nil {
		return nil, err
	}
	querySubscriptions, err := gocommand.RegisterQueries(adapter, o.queries)
	if err != nil {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
		return nil, err
	}
	return append(subscriptions, querySubscriptions...), nil
}

// JobEnqueuer and JobDequeuer expose the queue to go-job producers and
// consumers.
func (o *Outbound) JobEnqueuer() *gojob.QueueEnqueuer {
	return gojob.NewQueueEnqueuer(o.queue)
}

func (o *Outbound) JobDequeuer(policy gojob.RetryPolicy) *gojob.QueueDequeuer {
	return gojob.NewQueueDequeuer(o.queue, policy)
}

// JobLoggerProvider bridges the resolved logger provider into go-job.
func (o *Outbound) JobLoggerProvider() job.LoggerProvider {
	return gologger.ToJobProvider(o.loggerProvider)
}

// WithGoJobHook forwards worker events to a go-job hook as well.
func WithGoJobHook(hook worker.Hook) Option {
	return func(b *builder) {
		b.hook = gojob.NewHookBridge(hook)
	}
}

func (o *Outbound) Config() Config {
	return o.config
}

func (o *Outbound) Backend() string {
	return o.backend
}

func (o *Outbound) Registry() core.SubscriptionRegistry {
	return o.registry
}

func (o *Outbound) Outbox() core.OutboxStore {
	return o.outbox
}

func (o *Outbound) Inbox() core.InboxStore {
	return o.inbox
}

func (o *Outbound) Queue() JobQueue {
	return o.queue
}

func (o *Outbound) Commands() gocommand.Commands {
	return o.commands
}
