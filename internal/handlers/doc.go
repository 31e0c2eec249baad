// Package handlers implements the per-kind side effects behind the
// scheduler: announcement delivery, event reminders with result patching,
// giveaway draws, ticket auto-close and recurring daily alerts.
//
// Handlers receive an item whose phase window is currently open and perform
// exactly one externally visible effect, returning an opaque reference that
// the scheduler records in the item's result refs. Preconditions that are
// not met yet (ticket still active, actual value not published) are
// reported with sched.ErrNotReady so the item is silently re-evaluated on
// the next tick.
package handlers
