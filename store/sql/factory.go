package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-outbound/core"
)

// RepositoryFactory builds every SQL-backed store over one bun database.
type RepositoryFactory struct {
	db       *bun.DB
	defaults core.QueueDefaults
	queueOps []JobQueueOption

	outboxStore       *OutboxStore
	inboxStore        *InboxStore
	subscriptionStore *SubscriptionStore
	jobQueue          *JobQueue
	throttleStore     *ReceiverThrottleStore
}

type FactoryOption func(*RepositoryFactory)

func WithQueueDefaults(defaults core.QueueDefaults) FactoryOption {
	return func(f *RepositoryFactory) {
		f.defaults = defaults
	}
}

func WithQueueOptions(opts ...JobQueueOption) FactoryOption {
	return func(f *RepositoryFactory) {
		f.queueOps = append(f.queueOps, opts...)
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{defaults: core.DefaultQueueDefaults()}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(factory)
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.Build(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if err := factory.Build(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// Build accepts a *bun.DB or anything exposing DB() *bun.DB.
func (f *RepositoryFactory) Build(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return err
		}
		f.db = db
	}
	if f.outboxStore != nil && f.jobQueue != nil {
		return nil
	}
	return f.initStores()
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) OutboxStore() *OutboxStore {
	if f == nil {
		return nil
	}
	return f.outboxStore
}

func (f *RepositoryFactory) InboxStore() *InboxStore {
	if f == nil {
		return nil
	}
	return f.inboxStore
}

func (f *RepositoryFactory) SubscriptionStore() *SubscriptionStore {
	if f == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) JobQueue() *JobQueue {
	if f == nil {
		return nil
	}
	return f.jobQueue
}

func (f *RepositoryFactory) ReceiverThrottleStore() *ReceiverThrottleStore {
	if f == nil {
		return nil
	}
	return f.throttleStore
}

func (f *RepositoryFactory) initStores() error {
	outboxStore, err := NewOutboxStore(f.db)
	if err != nil {
		return err
	}
	inboxStore, err := NewInboxStore(f.db)
	if err != nil {
		return err
	}
	subscriptionStore, err := NewSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	jobQueue, err := NewJobQueue(f.db, f.defaults, f.queueOps...)
	if err != nil {
		return err
	}
	throttleStore, err := NewReceiverThrottleStore(f.db)
	if err != nil {
		return err
	}
	f.outboxStore = outboxStore
	f.inboxStore = inboxStore
	f.subscriptionStore = subscriptionStore
	f.jobQueue = jobQueue
	f.throttleStore = throttleStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
