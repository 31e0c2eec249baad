package storage

import (
	"context"
	"errors"
	"time"

	"unionbot/internal/sched"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "postgres": PostgreSQL via DSN
//   - "memory": process-local, for development and tests
type Config struct {
	Driver      string
	Path        string        // sqlite only
	DSN         string        // postgres only
	BusyTimeout time.Duration // sqlite only; 0 means default
}

var ErrUnknownDriver = errors.New("unknown storage driver")

// Entry is one recorded giveaway participation: a member who pressed the
// enter button, together with the membership facts needed for eligibility
// filtering later.
type Entry struct {
	SourceID string
	MemberID string
	JoinedAt time.Time
	Roles    []string
}

// Store is the full persistence API. It contains the scheduler's item
// contract plus the roster and transcript collaborators used by the
// giveaway and ticket handlers.
type Store interface {
	sched.Store

	// AddEntry records a giveaway entry; re-entering updates the
	// membership facts instead of duplicating the row.
	AddEntry(ctx context.Context, e Entry) error

	// EligibleEntrants returns the member ids entered under sourceID that
	// carry roleFilter (when non-empty) and have been members for at least
	// minTenure.
	EligibleEntrants(ctx context.Context, sourceID, roleFilter string, minTenure time.Duration) ([]string, error)

	// AppendTranscript records one line of ticket chatter.
	AppendTranscript(ctx context.Context, resourceID, author, line string) error

	// ExportTranscript renders the recorded lines of a resource as a
	// plain-text document.
	ExportTranscript(ctx context.Context, resourceID string) ([]byte, error)

	Close() error
}

// eligible applies the roster filters shared by all drivers.
func eligible(entries []Entry, roleFilter string, minTenure time.Duration, now time.Time) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if roleFilter != "" && !hasRole(e.Roles, roleFilter) {
			continue
		}
		if minTenure > 0 {
			if e.JoinedAt.IsZero() || now.Sub(e.JoinedAt) < minTenure {
				continue
			}
		}
		out = append(out, e.MemberID)
	}
	return out
}

func hasRole(roles []string, want string) bool {
	for _, r := range roles {
		if r == want {
			return true
		}
	}
	return false
}
