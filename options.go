package outbound

import (
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/ratelimit"
	sqlstore "github.com/goliatone/go-outbound/store/sql"
	"github.com/goliatone/go-outbound/transport"
	"github.com/goliatone/go-outbound/worker"
)

type Option func(*builder)

type builder struct {
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metrics         core.MetricsRecorder
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver

	persistenceClient *persistence.Client
	repositoryFactory *sqlstore.RepositoryFactory
	subscriptionCache repositorycache.CacheService

	registry core.SubscriptionRegistry
	sender   core.Sender
	client   transport.HTTPDoer
	cipher   core.SecretCipher

	urlResolver    core.TopicResolver
	secretResolver core.TopicResolver

	throttle    *ratelimit.ReceiverPolicy
	throttleSet bool

	hook    core.JobWorkerHook
	backoff worker.BackoffPolicy
	now     func() time.Time
}

func WithLogger(logger core.Logger) Option {
	return func(b *builder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *builder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *builder) {
		b.metrics = recorder
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *builder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *builder) {
		b.optionsResolver = resolver
	}
}

// WithPersistenceClient switches outbox, inbox, subscriptions and queue to
// the bun-backed stores. The client must already be migrated.
func WithPersistenceClient(client *persistence.Client) Option {
	return func(b *builder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory *sqlstore.RepositoryFactory) Option {
	return func(b *builder) {
		b.repositoryFactory = factory
	}
}

// WithSubscriptionCache puts a read-through cache in front of the SQL
// subscription registry and receiver throttle state. Ignored for memory
// backends.
func WithSubscriptionCache(cacheService repositorycache.CacheService) Option {
	return func(b *builder) {
		b.subscriptionCache = cacheService
	}
}

func WithSubscriptionRegistry(registry core.SubscriptionRegistry) Option {
	return func(b *builder) {
		b.registry = registry
	}
}

// WithSender replaces the HTTP sender used for deliveries.
func WithSender(sender core.Sender) Option {
	return func(b *builder) {
		b.sender = sender
	}
}

// WithHTTPClient keeps the default sender but swaps its client.
func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(b *builder) {
		b.client = client
	}
}

func WithSecretCipher(cipher core.SecretCipher) Option {
	return func(b *builder) {
		b.cipher = cipher
	}
}

func WithLegacyResolvers(urlResolver, secretResolver core.TopicResolver) Option {
	return func(b *builder) {
		b.urlResolver = urlResolver
		b.secretResolver = secretResolver
	}
}

// WithReceiverThrottle replaces the per-receiver throttle. Passing nil turns
// throttling off so 429 responses retry on the regular backoff.
func WithReceiverThrottle(policy *ratelimit.ReceiverPolicy) Option {
	return func(b *builder) {
		b.throttle = policy
		b.throttleSet = true
	}
}

func WithWorkerHook(hook core.JobWorkerHook) Option {
	return func(b *builder) {
		b.hook = hook
	}
}

func WithBackoffPolicy(policy worker.BackoffPolicy) Option {
	return func(b *builder) {
		b.backoff = policy
	}
}

// WithClock drives every component from one clock. Tests use it to step
// through visibility timeouts and backoff.
func WithClock(now func() time.Time) Option {
	return func(b *builder) {
		b.now = now
	}
}
