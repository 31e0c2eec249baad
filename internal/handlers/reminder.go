package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

// ReminderPayload describes a calendar event whose outcome is published
// after the event happens. Actual starts empty and is patched into the
// payload once known; the update phase waits for it.
type ReminderPayload struct {
	Target   string `json:"target"`
	Title    string `json:"title"`
	Impact   string `json:"impact"`
	Forecast string `json:"forecast,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// Reminder runs the three-phase event flow: a heads-up ahead of the event
// for high and medium impact only, the event message at the instant itself,
// and an in-place edit once the actual outcome lands in the payload.
type Reminder struct {
	notify Notifier
	log    logx.Logger
}

func NewReminder(n Notifier, log logx.Logger) *Reminder {
	return &Reminder{notify: n, log: log}
}

func (h *Reminder) Execute(ctx context.Context, it *sched.Item, phase string) (string, error) {
	var p ReminderPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return "", fmt.Errorf("reminder payload: %w", err)
	}

	switch phase {
	case sched.PhaseRemind:
		return h.remind(ctx, it, p)
	case sched.PhaseDeliver:
		return h.deliver(ctx, it, p)
	case sched.PhaseUpdate:
		return h.update(ctx, it, p)
	default:
		return "", fmt.Errorf("reminder: unknown phase %q", phase)
	}
}

func (h *Reminder) remind(ctx context.Context, it *sched.Item, p ReminderPayload) (string, error) {
	if !notableImpact(p.Impact) {
		// Low-impact events get no heads-up; the phase is still marked so
		// it is never reconsidered.
		return "skipped", nil
	}
	text := fmt.Sprintf("Upcoming in %s: %s (%s impact)",
		untilText(it.At, time.Now()), p.Title, strings.ToLower(p.Impact))
	return h.notify.Deliver(ctx, p.Target, text)
}

func (h *Reminder) deliver(ctx context.Context, it *sched.Item, p ReminderPayload) (string, error) {
	text := eventText(p)
	ref, err := h.notify.Deliver(ctx, p.Target, text)
	if err != nil {
		return "", err
	}
	h.log.Info("reminder delivered",
		logx.String("item", it.ID),
		logx.String("target", p.Target),
		logx.String("ref", ref))
	return ref, nil
}

func (h *Reminder) update(ctx context.Context, it *sched.Item, p ReminderPayload) (string, error) {
	if strings.TrimSpace(p.Actual) == "" {
		return "", sched.ErrNotReady
	}
	ref := it.Ref(sched.PhaseDeliver)
	switch ref {
	case "", "expired", "gone":
		// Nothing editable was ever delivered.
		return "", sched.ErrTargetGone
	}
	if err := h.notify.Update(ctx, p.Target, ref, eventText(p)); err != nil {
		return "", err
	}
	return ref, nil
}

func eventText(p ReminderPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s impact)", p.Title, strings.ToLower(p.Impact))
	if p.Forecast != "" {
		fmt.Fprintf(&b, "\nForecast: %s", p.Forecast)
	}
	if p.Actual != "" {
		fmt.Fprintf(&b, "\nActual: %s", p.Actual)
	} else {
		b.WriteString("\nActual: pending")
	}
	return b.String()
}

func notableImpact(impact string) bool {
	switch strings.ToLower(strings.TrimSpace(impact)) {
	case "high", "medium":
		return true
	}
	return false
}

func untilText(at, now time.Time) string {
	d := at.Sub(now).Round(time.Minute)
	if d < time.Minute {
		return "under a minute"
	}
	return d.String()
}
