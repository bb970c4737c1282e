package webhooks

const (
	HeaderEventID          = "X-Event-Id"
	HeaderTopic            = "X-Topic"
	HeaderAttempt          = "X-Attempt"
	HeaderSignature        = "X-Signature"
	HeaderSignatureAlg     = "X-Signature-Alg"
	HeaderSignatureVersion = "X-Signature-Version"
	HeaderPayloadVersion   = "X-Payload-Version"
	HeaderSubscription     = "X-Webhook-Subscription"
	HeaderContentType      = "Content-Type"

	contentTypeJSON = "application/json"
)
