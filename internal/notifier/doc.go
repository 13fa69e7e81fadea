// Package notifier posts run summaries to a Telegram chat.
//
// The service subscribes to run.finished on the event bus and sends one
// HTML message per run, optionally only for failed runs. Delivery is rate
// limited and retried on transient errors. A slow or failing Telegram API
// never blocks the runner; events that overflow the subscription buffer are
// dropped by the bus.
package notifier
