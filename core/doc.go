// Package core contains the outbound delivery domain: outbox messages, webhook
// subscriptions, leased jobs and the contracts every backend implements.
// Storage, transport and library adapters depend on this package; core must not
// depend on any of them.
package core
