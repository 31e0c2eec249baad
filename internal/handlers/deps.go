package handlers

import (
	"context"
	"time"
)

// Notifier delivers and edits outbound messages. A ref identifies a
// delivered message well enough to edit it later within the same target.
type Notifier interface {
	Deliver(ctx context.Context, target, content string) (ref string, err error)
	Update(ctx context.Context, target, ref, content string) error
	DeliverDocument(ctx context.Context, target, name string, data []byte) (ref string, err error)
}

// MembershipQuery answers giveaway eligibility questions: who entered a
// source and still satisfies the role and tenure requirements.
type MembershipQuery interface {
	EligibleEntrants(ctx context.Context, sourceID, roleFilter string, minTenure time.Duration) ([]string, error)
}

// TranscriptExporter renders the full message history of a resource as a
// plain-text document.
type TranscriptExporter interface {
	ExportTranscript(ctx context.Context, resourceID string) ([]byte, error)
}

// ResourceTeardown removes a platform resource (a ticket thread). Deleting
// an already-gone resource must not be reported as an error by callers.
type ResourceTeardown interface {
	Teardown(ctx context.Context, resourceID string) error
}
