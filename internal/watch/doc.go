// Package watch keeps one live watch per resource kind and reopens it when
// the stream fails.
//
// # Contract
//
// Each Subscription is an explicit state machine:
//
//	Connecting -> Watching -> Backoff -> Connecting -> ...
//	any state  -> Stopped
//
// A transport failure (open error, ERROR event, closed result channel) calls
// the FailFunc once, then arms a reconnect timer on the injected clock. The
// delay starts at Options.InitialDelay and grows by Options.BackoffFactor up
// to Options.MaxDelay. It resets once a reopened watch delivers an event.
//
// Stopping sets a flag under the subscription lock and aborts the open watch.
// A reconnect timer that fires afterwards sees the flag and does nothing.
//
// Subscriptions are independent: one kind failing does not touch another's
// state or delay.
package watch
