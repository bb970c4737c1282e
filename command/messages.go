package command

import (
	"net/url"
	"strings"
)

const (
	TypePublish            = "outbound.command.publish"
	TypeAddSubscription    = "outbound.command.subscription.add"
	TypeRemoveSubscription = "outbound.command.subscription.remove"
	TypeBridgeTick         = "outbound.command.bridge.tick"
	TypeDrainWorker        = "outbound.command.worker.drain"
)

type PublishMessage struct {
	Topic   string
	Payload any
	// Version defaults to 1 when left at zero.
	Version int
}

func (PublishMessage) Type() string { return TypePublish }

func (m PublishMessage) Validate() error {
	if strings.TrimSpace(m.Topic) == "" {
		return commandValidationError("topic", "topic is required")
	}
	if m.Version < 0 {
		return commandValidationError("version", "version must not be negative")
	}
	return nil
}

type AddSubscriptionMessage struct {
	Topic  string
	URL    string
	Secret string
}

func (AddSubscriptionMessage) Type() string { return TypeAddSubscription }

func (m AddSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.Topic) == "" {
		return commandValidationError("topic", "topic is required")
	}
	if err := validateEndpoint(m.URL); err != nil {
		return err
	}
	if strings.TrimSpace(m.Secret) == "" {
		return commandValidationError("secret", "secret is required")
	}
	return nil
}

type RemoveSubscriptionMessage struct {
	Topic string
	URL   string
}

func (RemoveSubscriptionMessage) Type() string { return TypeRemoveSubscription }

func (m RemoveSubscriptionMessage) Validate() error {
	if strings.TrimSpace(m.Topic) == "" {
		return commandValidationError("topic", "topic is required")
	}
	if strings.TrimSpace(m.URL) == "" {
		return commandValidationError("url", "url is required")
	}
	return nil
}

// BridgeTickMessage moves one batch of pending outbox messages into the
// queue. Drain repeats until the outbox is empty.
type BridgeTickMessage struct {
	Drain bool
}

func (BridgeTickMessage) Type() string { return TypeBridgeTick }

type DrainWorkerMessage struct {
	// Limit caps the jobs processed; zero processes until the queue is empty.
	Limit int
}

func (DrainWorkerMessage) Type() string { return TypeDrainWorker }

func (m DrainWorkerMessage) Validate() error {
	if m.Limit < 0 {
		return commandValidationError("limit", "limit must not be negative")
	}
	return nil
}

func validateEndpoint(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return commandValidationError("url", "url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return commandValidationError("url", "url must be an absolute http or https url")
	}
	return nil
}
