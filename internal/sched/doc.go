// Package sched is the durable action scheduler at the heart of unionbot.
//
// Every timed feature of the bot (scheduled announcements, calendar-event
// reminders, giveaway endings, ticket auto-close, recurring daily alerts)
// is expressed as a persisted Item with one or more phases. A per-kind
// scanner loop re-reads the pending working set from the store on every
// tick, evaluates delivery windows against the current time, and hands due
// (item, phase) pairs to the registered handler. A phase flag is written
// back only after the handler's side effect succeeded, which makes delivery
// at-least-once: a crash between effect and write can duplicate an action
// but never lose one.
package sched
