package sched

import "context"

// Store is the persistence contract the scheduler core needs. Implementations
// live in internal/storage; the core requires only single-writer-per-item
// semantics, not distributed locking, because duplicate fires are an accepted
// failure mode of at-least-once delivery.
//
// Tenant scoping is mandatory: Scan never crosses scopes, and the scanner
// enumerates scopes explicitly via Scopes.
type Store interface {
	// Get returns an item in any state, or (nil, nil) when absent.
	Get(ctx context.Context, kind Kind, scope, id string) (*Item, error)

	// Scopes lists the tenant scopes that currently hold pending items of
	// the given kind.
	Scopes(ctx context.Context, kind Kind) ([]string, error)

	// Scan returns the pending working set for one kind within one scope.
	Scan(ctx context.Context, kind Kind, scope string) ([]*Item, error)

	// Upsert atomically writes a single item.
	Upsert(ctx context.Context, it *Item) error

	// Delete removes an item.
	Delete(ctx context.Context, kind Kind, scope, id string) error
}
