package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

// TicketPayload describes an idle-close candidate. LastActivity is patched
// by the inbound side whenever the resource sees a new message; the close
// phase keeps returning not-ready until the idle threshold is exceeded.
type TicketPayload struct {
	ResourceID        string    `json:"resource_id"`
	LogTarget         string    `json:"log_target"`
	OwnerID           string    `json:"owner_id,omitempty"`
	LastActivity      time.Time `json:"last_activity"`
	IdleThresholdSecs int64     `json:"idle_threshold_secs"`
}

// TicketClose archives and tears down tickets that have gone quiet: export
// the transcript, deliver it to the log target as a document, then delete
// the resource. Every step tolerates a resource that is already gone.
type TicketClose struct {
	notify   Notifier
	exporter TranscriptExporter
	teardown ResourceTeardown
	log      logx.Logger

	// Now is overridable in tests.
	Now func() time.Time
}

func NewTicketClose(n Notifier, e TranscriptExporter, t ResourceTeardown, log logx.Logger) *TicketClose {
	return &TicketClose{notify: n, exporter: e, teardown: t, log: log, Now: time.Now}
}

func (h *TicketClose) Execute(ctx context.Context, it *sched.Item, phase string) (string, error) {
	if phase != sched.PhaseClose {
		return "", fmt.Errorf("ticket: unknown phase %q", phase)
	}
	var p TicketPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return "", fmt.Errorf("ticket payload: %w", err)
	}
	threshold := time.Duration(p.IdleThresholdSecs) * time.Second
	if threshold <= 0 {
		return "", fmt.Errorf("ticket %s: idle threshold not set", it.ID)
	}
	if h.Now().Sub(p.LastActivity) < threshold {
		return "", sched.ErrNotReady
	}

	transcript, err := h.exporter.ExportTranscript(ctx, p.ResourceID)
	if err != nil {
		if errors.Is(err, sched.ErrTargetGone) {
			transcript = []byte("No messages in transcript.\n")
		} else {
			return "", err
		}
	}

	name := fmt.Sprintf("transcript-%s.txt", p.ResourceID)
	ref, err := h.notify.DeliverDocument(ctx, p.LogTarget, name, transcript)
	if err != nil && !errors.Is(err, sched.ErrTargetGone) {
		return "", err
	}

	if err := h.teardown.Teardown(ctx, p.ResourceID); err != nil && !errors.Is(err, sched.ErrTargetGone) {
		return "", err
	}

	h.log.Info("ticket closed",
		logx.String("item", it.ID),
		logx.String("resource", p.ResourceID),
		logx.Duration("idle", h.Now().Sub(p.LastActivity)))
	if ref == "" {
		ref = "closed"
	}
	return ref, nil
}
