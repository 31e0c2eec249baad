package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

// AnnouncementPayload describes a one-off message scheduled for a future
// instant.
type AnnouncementPayload struct {
	Target  string `json:"target"`
	Content string `json:"content"`
}

// Announcement delivers scheduled announcements. The deliver phase is
// unbounded: an announcement missed across a restart is still sent, however
// late.
type Announcement struct {
	notify Notifier
	log    logx.Logger
}

func NewAnnouncement(n Notifier, log logx.Logger) *Announcement {
	return &Announcement{notify: n, log: log}
}

func (h *Announcement) Execute(ctx context.Context, it *sched.Item, phase string) (string, error) {
	if phase != sched.PhaseDeliver {
		return "", fmt.Errorf("announcement: unknown phase %q", phase)
	}
	var p AnnouncementPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return "", fmt.Errorf("announcement payload: %w", err)
	}
	if strings.TrimSpace(p.Content) == "" {
		return "", fmt.Errorf("announcement %s: empty content", it.ID)
	}
	ref, err := h.notify.Deliver(ctx, p.Target, p.Content)
	if err != nil {
		return "", err
	}
	h.log.Info("announcement delivered",
		logx.String("item", it.ID),
		logx.String("target", p.Target),
		logx.String("ref", ref))
	return ref, nil
}
