package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-outbound/core"
	"github.com/goliatone/go-outbound/security"
	"github.com/goliatone/go-outbound/signing"
	"github.com/goliatone/go-outbound/transport"
)

type DeliveryHandler struct {
	Outbox core.OutboxStore
	Inbox  core.InboxStore
	Cipher core.SecretCipher
	Sender core.Sender
	// URLResolver and SecretResolver serve legacy {topic, payload} envelopes
	// that carry no subscription snapshot.
	URLResolver    core.TopicResolver
	SecretResolver core.TopicResolver
	Throttle       Throttle
	Metrics        core.MetricsRecorder
	Logger         glog.Logger
}

// Throttle gates sends per receiver. A 429 answered by AfterSend should come
// back as an error implementing core.RetryDelayer.
type Throttle interface {
	BeforeSend(ctx context.Context, url string) error
	AfterSend(ctx context.Context, url string, res core.DeliveryResponse) error
}

type Option func(*DeliveryHandler)

func WithLegacyResolvers(urlResolver, secretResolver core.TopicResolver) Option {
	return func(h *DeliveryHandler) {
		h.URLResolver = urlResolver
		h.SecretResolver = secretResolver
	}
}

func WithThrottle(throttle Throttle) Option {
	return func(h *DeliveryHandler) {
		h.Throttle = throttle
	}
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(h *DeliveryHandler) {
		if metrics != nil {
			h.Metrics = metrics
		}
	}
}

func WithLogger(logger glog.Logger) Option {
	return func(h *DeliveryHandler) {
		if logger != nil {
			h.Logger = logger
		}
	}
}

func NewDeliveryHandler(
	outbox core.OutboxStore,
	inbox core.InboxStore,
	cipher core.SecretCipher,
	sender core.Sender,
	opts ...Option,
) *DeliveryHandler {
	h := &DeliveryHandler{
		Outbox:  outbox,
		Inbox:   inbox,
		Cipher:  cipher,
		Sender:  sender,
		Metrics: core.NopMetricsRecorder{},
		Logger:  glog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h
}

type target struct {
	url            string
	secret         string
	subscriptionID string
}

// Handle delivers the outbox message a bridged job references. Any returned
// error makes the worker fail the job; the handler never retries by itself.
func (h *DeliveryHandler) Handle(ctx context.Context, job core.Job) error {
	if h == nil || h.Outbox == nil || h.Inbox == nil || h.Sender == nil {
		return fmt.Errorf("webhooks: delivery handler requires outbox, inbox and sender")
	}

	bridged, err := core.ParseBridgedJob(job.Payload)
	if err != nil {
		return core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "webhooks: invalid bridged job payload")
	}
	envelope, err := h.loadEnvelope(ctx, bridged)
	if err != nil {
		return err
	}

	key := strconv.FormatInt(bridged.OutboxID, 10)
	seen, err := h.Inbox.Seen(ctx, key)
	if err != nil {
		return err
	}
	tags := map[string]string{"topic": envelope.Event.Topic}
	if seen {
		h.metrics().IncCounter(ctx, core.MetricDeliveryDedupe, 1, tags)
		h.logger().Debug("delivery already recorded, skipping", "outbox_id", bridged.OutboxID, "job_id", job.ID)
		return h.markProcessed(ctx, bridged.OutboxID)
	}

	dest, err := h.resolveTarget(ctx, envelope)
	if err != nil {
		return err
	}

	body, err := signing.CanonicalBody(envelope.Event.Payload)
	if err != nil {
		return core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "webhooks: canonicalize event payload")
	}
	headers := map[string]string{
		HeaderContentType:      contentTypeJSON,
		HeaderEventID:          key,
		HeaderTopic:            envelope.Event.Topic,
		HeaderAttempt:          strconv.Itoa(job.Attempts),
		HeaderSignature:        signing.SignBody(dest.secret, body),
		HeaderSignatureAlg:     signing.Algorithm,
		HeaderSignatureVersion: signing.SchemaVersion,
		HeaderPayloadVersion:   strconv.Itoa(envelope.Event.Version),
	}
	if dest.subscriptionID != "" {
		headers[HeaderSubscription] = dest.subscriptionID
	}

	if h.Throttle != nil {
		if err := h.Throttle.BeforeSend(ctx, dest.url); err != nil {
			h.recordOutcome(ctx, tags, "throttled")
			h.logger().Debug("receiver throttled, deferring delivery", "outbox_id", bridged.OutboxID, "error", err)
			return err
		}
	}

	res, err := h.Sender.Send(ctx, core.DeliveryRequest{URL: dest.url, Body: body, Headers: headers})
	if err != nil {
		h.recordOutcome(ctx, tags, "error")
		return err
	}
	h.recordOutcome(ctx, tags, strconv.Itoa(res.StatusCode))
	if h.Throttle != nil {
		if throttleErr := h.Throttle.AfterSend(ctx, dest.url, res); throttleErr != nil {
			if !res.Success() {
				return throttleErr
			}
			h.logger().Warn("receiver throttle state not updated", "url", dest.url, "error", throttleErr)
		}
	}
	if !res.Success() {
		return transport.StatusError(dest.url, res)
	}

	if _, err := h.Inbox.Record(ctx, key); err != nil {
		return err
	}
	if err := h.markProcessed(ctx, bridged.OutboxID); err != nil {
		return err
	}
	h.logger().Info("webhook delivered",
		"outbox_id", bridged.OutboxID,
		"topic", envelope.Event.Topic,
		"subscription_id", dest.subscriptionID,
		"attempt", job.Attempts,
		"status_code", res.StatusCode,
	)
	return nil
}

// loadEnvelope prefers the stored outbox message and falls back to the copy
// the bridge embedded in the job when the message is gone.
func (h *DeliveryHandler) loadEnvelope(ctx context.Context, bridged core.BridgedJob) (core.DeliveryEnvelope, error) {
	payload := bridged.Payload
	msg, err := h.Outbox.Get(ctx, bridged.OutboxID)
	switch {
	case err == nil:
		payload = msg.Payload
	case errors.Is(err, core.ErrOutboxMessageNotFound):
		if len(payload) == 0 {
			return core.DeliveryEnvelope{}, core.WrapError(err, goerrors.CategoryNotFound, core.ErrorNotFound,
				"webhooks: outbox message not found")
		}
	default:
		return core.DeliveryEnvelope{}, err
	}
	envelope, err := core.DecodeEnvelope(payload)
	if err != nil {
		return core.DeliveryEnvelope{}, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput,
			"webhooks: decode delivery envelope")
	}
	return envelope, nil
}

func (h *DeliveryHandler) resolveTarget(ctx context.Context, envelope core.DeliveryEnvelope) (target, error) {
	var (
		dest      target
		rawSecret string
	)
	if envelope.Legacy() {
		if h.URLResolver == nil || h.SecretResolver == nil {
			return target{}, core.NewError(
				fmt.Sprintf("webhooks: legacy envelope for %s needs url and secret resolvers", envelope.Event.Topic),
				goerrors.CategoryBadInput,
				core.ErrorBadInput,
			)
		}
		endpoint, err := h.URLResolver(ctx, envelope.Event.Topic)
		if err != nil {
			return target{}, err
		}
		secret, err := h.SecretResolver(ctx, envelope.Event.Topic)
		if err != nil {
			return target{}, err
		}
		dest.url = endpoint
		rawSecret = secret
	} else {
		dest.url = envelope.Subscription.URL
		dest.subscriptionID = envelope.Subscription.ID
		rawSecret = envelope.Subscription.Secret
	}
	if strings.TrimSpace(dest.url) == "" {
		return target{}, core.NewError("webhooks: delivery url is empty", goerrors.CategoryBadInput, core.ErrorBadInput)
	}

	secret, err := h.decrypt(rawSecret)
	if err != nil {
		h.logger().Error("subscription secret could not be decrypted",
			"topic", envelope.Event.Topic,
			"subscription_id", dest.subscriptionID,
			"error", err,
		)
		return target{}, err
	}
	dest.secret = secret
	return dest, nil
}

func (h *DeliveryHandler) decrypt(value string) (string, error) {
	if h.Cipher == nil {
		if security.IsEncrypted(value) {
			return "", core.NewError("webhooks: encrypted secret but no cipher configured",
				goerrors.CategoryInternal, core.ErrorEncryptionKeyMismatch)
		}
		return value, nil
	}
	secret, err := h.Cipher.DecryptSecret(value)
	if err == nil {
		return secret, nil
	}
	if errors.Is(err, security.ErrKeyMismatch) {
		return "", core.WrapError(err, goerrors.CategoryInternal, core.ErrorEncryptionKeyMismatch,
			"webhooks: subscription secret was encrypted with different key material")
	}
	return "", core.WrapError(err, goerrors.CategoryBadInput, core.ErrorBadInput, "webhooks: decrypt subscription secret")
}

func (h *DeliveryHandler) markProcessed(ctx context.Context, outboxID int64) error {
	err := h.Outbox.MarkProcessed(ctx, outboxID)
	if err == nil || errors.Is(err, core.ErrOutboxMessageNotFound) {
		return nil
	}
	return err
}

func (h *DeliveryHandler) recordOutcome(ctx context.Context, tags map[string]string, outcome string) {
	withOutcome := make(map[string]string, len(tags)+1)
	for key, value := range tags {
		withOutcome[key] = value
	}
	withOutcome["outcome"] = outcome
	h.metrics().IncCounter(ctx, core.MetricDeliveries, 1, withOutcome)
}

func (h *DeliveryHandler) metrics() core.MetricsRecorder {
	if h.Metrics == nil {
		return core.NopMetricsRecorder{}
	}
	return h.Metrics
}

func (h *DeliveryHandler) logger() glog.Logger {
	return glog.Ensure(h.Logger)
}

var _ core.JobHandler = (*DeliveryHandler)(nil)
