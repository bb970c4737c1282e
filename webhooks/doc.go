// Package webhooks holds the job handler that turns a bridged outbox job into
// a signed HTTP POST.
//
// Delivery identity is the outbox message id. A recorded identity in the
// inbox store short-circuits to success with no network call, so duplicate
// jobs and redelivery after a crash between POST and ack are both absorbed.
package webhooks
