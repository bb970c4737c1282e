// Package gocommand registers outbound commands and queries with a go-command registry
// and dispatcher.
package gocommand

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"

	outboundcmd "github.com/goliatone/go-outbound/command"
	"github.com/goliatone/go-outbound/core"
	outboundquery "github.com/goliatone/go-outbound/query"
)

// ValidateMessageContract enforces Type() plus optional Validate() contract.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(m.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) RegisterQuery(qry any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(qry)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

func SubscribeCommand[T any](cmd command.Commander[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
}

func SubscribeCommandFunc[T any](handler command.CommandFunc[T], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeCommand(handler, runnerOpts...)
}

func SubscribeQuery[T any, R any](qry command.Querier[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func SubscribeQueryFunc[T any, R any](qry command.QueryFunc[T, R], runnerOpts ...runner.Option) commanddispatcher.Subscription {
	return commanddispatcher.SubscribeQuery(qry, runnerOpts...)
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

func RegisterAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func RegisterAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterQuery(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

// Commands lists the outbound handlers to expose. Nil entries are skipped.
type Commands struct {
	Publish            *outboundcmd.PublishCommand
	AddSubscription    *outboundcmd.AddSubscriptionCommand
	RemoveSubscription *outboundcmd.RemoveSubscriptionCommand
	BridgeTick         *outboundcmd.BridgeTickCommand
	DrainWorker        *outboundcmd.DrainWorkerCommand
}

// RegisterCommands registers and subscribes every configured handler. On
// failure the subscriptions made so far are released.
func RegisterCommands(adapter *RegistryAdapter, cmds Commands, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	subscriptions := make([]commanddispatcher.Subscription, 0, 5)
	release := func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}
	add := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			release()
			return err
		}
		subscriptions = append(subscriptions, sub)
		return nil
	}

	if cmds.Publish != nil {
		if err := add(RegisterAndSubscribe[outboundcmd.PublishMessage](adapter, cmds.Publish, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if cmds.AddSubscription != nil {
		if err := add(RegisterAndSubscribe[outboundcmd.AddSubscriptionMessage](adapter, cmds.AddSubscription, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if cmds.RemoveSubscription != nil {
		if err := add(RegisterAndSubscribe[outboundcmd.RemoveSubscriptionMessage](adapter, cmds.RemoveSubscription, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if cmds.BridgeTick != nil {
		if err := add(RegisterAndSubscribe[outboundcmd.BridgeTickMessage](adapter, cmds.BridgeTick, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	if cmds.DrainWorker != nil {
		if err := add(RegisterAndSubscribe[outboundcmd.DrainWorkerMessage](adapter, cmds.DrainWorker, runnerOpts...)); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}

type Queries struct {
	ListSubscriptions *outboundquery.ListSubscriptionsQuery
	GetOutboxMessage  *outboundquery.GetOutboxMessageQuery
	GetJob            *outboundquery.GetJobQuery
	ListDeadLetters   *outboundquery.ListDeadLettersQuery
}

func RegisterQueries(adapter *RegistryAdapter, qrys Queries, runnerOpts ...runner.Option) ([]commanddispatcher.Subscription, error) {
	subscriptions := make([]commanddispatcher.Subscription, 0, 4)
	release := func() {
		for _, sub := range subscriptions {
			sub.Unsubscribe()
		}
	}
	add := func(sub commanddispatcher.Subscription, err error) error {
		if err != nil {
			release()
			return err
		}
		subscriptions = append(subscriptions, sub)
		return nil
	}

	if qrys.ListSubscriptions != nil {
		if err := add(RegisterAndSubscribeQuery[outboundquery.ListSubscriptionsMessage, []core.WebhookSubscription](
			adapter, qrys.ListSubscriptions, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if qrys.GetOutboxMessage != nil {
		if err := add(RegisterAndSubscribeQuery[outboundquery.GetOutboxMessageMessage, core.OutboxMessage](
			adapter, qrys.GetOutboxMessage, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if qrys.GetJob != nil {
		if err := add(RegisterAndSubscribeQuery[outboundquery.GetJobMessage, core.Job](
			adapter, qrys.GetJob, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	if qrys.ListDeadLetters != nil {
		if err := add(RegisterAndSubscribeQuery[outboundquery.ListDeadLettersMessage, []core.Job](
			adapter, qrys.ListDeadLetters, runnerOpts...,
		)); err != nil {
			return nil, err
		}
	}
	return subscriptions, nil
}
