package filequeue

import "time"

// TimeoutTicket is returned by Scheduler.Register and cancels the
// registration when passed to Scheduler.Unregister. It is an alias for any
// so that independently declared Scheduler-shaped interfaces (e.g. in
// internal/autocommit) remain structurally identical to this one.
type TimeoutTicket = any

// Scheduler is the external collaborator that fires callbacks on a fixed
// interval, used by Sender for autocommit.timeout (§4.2). The engine never
// creates goroutines of its own for this; it always goes through Scheduler,
// so a caller embedding filequeue inside a larger event loop can supply one
// driven by that loop instead of a free-running timer.
type Scheduler interface {
	// Register arranges for fn to be called roughly every interval, until
	// Unregister is called with the returned ticket. fn must not block.
	Register(interval time.Duration, fn func()) TimeoutTicket

	// Unregister stops future calls for ticket. Safe to call more than
	// once, or with a ticket already fired/stopped.
	Unregister(ticket TimeoutTicket)
}
