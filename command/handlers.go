package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-outbound/bridge"
	"github.com/goliatone/go-outbound/core"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, version int) (int64, error)
}

type BridgeTicker interface {
	Tick(ctx context.Context) (bridge.TickStats, error)
	Drain(ctx context.Context) (bridge.TickStats, error)
}

type WorkerDrainer interface {
	Drain(ctx context.Context, limit int) (int, error)
}

// PublishResult is stored for PublishMessage. LastOutboxID is 0 when the
// topic had no subscribers.
type PublishResult struct {
	LastOutboxID int64
}

type RemoveSubscriptionResult struct {
	Removed bool
}

type DrainWorkerResult struct {
	Processed int
}

type PublishCommand struct {
	publisher Publisher
}

func NewPublishCommand(publisher Publisher) *PublishCommand {
	return &PublishCommand{publisher: publisher}
}

func (c *PublishCommand) Execute(ctx context.Context, msg PublishMessage) error {
	if c == nil || c.publisher == nil {
		return commandDependencyError("command: publisher is required")
	}
	id, err := c.publisher.Publish(ctx, msg.Topic, msg.Payload, msg.Version)
	if err != nil {
		return err
	}
	storeResult(ctx, PublishResult{LastOutboxID: id})
	return nil
}

type AddSubscriptionCommand struct {
	registry core.SubscriptionRegistry
}

func NewAddSubscriptionCommand(registry core.SubscriptionRegistry) *AddSubscriptionCommand {
	return &AddSubscriptionCommand{registry: registry}
}

func (c *AddSubscriptionCommand) Execute(ctx context.Context, msg AddSubscriptionMessage) error {
	if c == nil || c.registry == nil {
		return commandDependencyError("command: subscription registry is required")
	}
	sub, err := c.registry.Add(ctx, msg.Topic, msg.URL, msg.Secret)
	if err != nil {
		return err
	}
	storeResult(ctx, sub)
	return nil
}

type RemoveSubscriptionCommand struct {
	registry core.SubscriptionRegistry
}

func NewRemoveSubscriptionCommand(registry core.SubscriptionRegistry) *RemoveSubscriptionCommand {
	return &RemoveSubscriptionCommand{registry: registry}
}

func (c *RemoveSubscriptionCommand) Execute(ctx context.Context, msg RemoveSubscriptionMessage) error {
	if c == nil || c.registry == nil {
		return commandDependencyError("command: subscription registry is required")
	}
	removed, err := c.registry.Remove(ctx, msg.Topic, msg.URL)
	if err != nil {
		return err
	}
	storeResult(ctx, RemoveSubscriptionResult{Removed: removed})
	return nil
}

type BridgeTickCommand struct {
	bridge BridgeTicker
}

func NewBridgeTickCommand(bridge BridgeTicker) *BridgeTickCommand {
	return &BridgeTickCommand{bridge: bridge}
}

func (c *BridgeTickCommand) Execute(ctx context.Context, msg BridgeTickMessage) error {
	if c == nil || c.bridge == nil {
		return commandDependencyError("command: bridge is required")
	}
	var (
		stats bridge.TickStats
		err   error
	)
	if msg.Drain {
		stats, err = c.bridge.Drain(ctx)
	} else {
		stats, err = c.bridge.Tick(ctx)
	}
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

type DrainWorkerCommand struct {
	worker WorkerDrainer
}

func NewDrainWorkerCommand(worker WorkerDrainer) *DrainWorkerCommand {
	return &DrainWorkerCommand{worker: worker}
}

func (c *DrainWorkerCommand) Execute(ctx context.Context, msg DrainWorkerMessage) error {
	if c == nil || c.worker == nil {
		return commandDependencyError("command: worker is required")
	}
	processed, err := c.worker.Drain(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, DrainWorkerResult{Processed: processed})
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

var (
	_ gocmd.Commander[PublishMessage]            = (*PublishCommand)(nil)
	_ gocmd.Commander[AddSubscriptionMessage]    = (*AddSubscriptionCommand)(nil)
	_ gocmd.Commander[RemoveSubscriptionMessage] = (*RemoveSubscriptionCommand)(nil)
	_ gocmd.Commander[BridgeTickMessage]         = (*BridgeTickCommand)(nil)
	_ gocmd.Commander[DrainWorkerMessage]        = (*DrainWorkerCommand)(nil)
)
