package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

// DailyAlertPayload describes a recurring message bound to a calendar rule
// instead of a single target instant.
type DailyAlertPayload struct {
	Target  string `json:"target"`
	Label   string `json:"label,omitempty"`
	Message string `json:"message"`
}

// DailyAlert delivers one message per matching local calendar day. The
// once-per-day guarantee lives in the scheduler's LastFired marker; the
// handler only performs the delivery.
type DailyAlert struct {
	notify Notifier
	log    logx.Logger
}

func NewDailyAlert(n Notifier, log logx.Logger) *DailyAlert {
	return &DailyAlert{notify: n, log: log}
}

func (h *DailyAlert) Execute(ctx context.Context, it *sched.Item, phase string) (string, error) {
	if phase != sched.PhaseAlert {
		return "", fmt.Errorf("daily alert: unknown phase %q", phase)
	}
	var p DailyAlertPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return "", fmt.Errorf("daily alert payload: %w", err)
	}
	text := p.Message
	if p.Label != "" {
		text = p.Label + "\n" + p.Message
	}
	ref, err := h.notify.Deliver(ctx, p.Target, text)
	if err != nil {
		return "", err
	}
	h.log.Info("daily alert delivered",
		logx.String("item", it.ID),
		logx.String("target", p.Target))
	return ref, nil
}
