package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

// GiveawayPayload describes a giveaway that ends at the item's target
// instant. SourceID names the entry pool; MessageRef, when present, is the
// original giveaway message to be edited into its ended rendering.
type GiveawayPayload struct {
	Target        string `json:"target"`
	SourceID      string `json:"source_id"`
	MessageRef    string `json:"message_ref,omitempty"`
	Prize         string `json:"prize"`
	Winners       int    `json:"winners"`
	RoleFilter    string `json:"role_filter,omitempty"`
	MinTenureSecs int64  `json:"min_tenure_secs,omitempty"`
}

// Giveaway ends giveaways: draws winners uniformly without replacement from
// the eligible pool, announces the result and edits the original message.
// The end phase is unbounded, so a giveaway missed across a restart is
// still drawn however late.
type Giveaway struct {
	notify  Notifier
	members MembershipQuery
	ledger  *sched.Ledger
	log     logx.Logger
}

func NewGiveaway(n Notifier, m MembershipQuery, ledger *sched.Ledger, log logx.Logger) *Giveaway {
	return &Giveaway{notify: n, members: m, ledger: ledger, log: log}
}

func (h *Giveaway) Execute(ctx context.Context, it *sched.Item, phase string) (string, error) {
	if phase != sched.PhaseEnd {
		return "", fmt.Errorf("giveaway: unknown phase %q", phase)
	}
	var p GiveawayPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return "", fmt.Errorf("giveaway payload: %w", err)
	}

	winners, err := h.draw(ctx, p, nil)
	if err != nil {
		return "", err
	}
	if err := h.announce(ctx, it, p, winners, false); err != nil {
		return "", err
	}
	return strings.Join(winners, ","), nil
}

// Reroll draws replacement winners for an already-ended giveaway, excluding
// everyone recorded by the original draw and any prior reroll. The new
// winners are appended to the item's recorded set.
func (h *Giveaway) Reroll(ctx context.Context, it *sched.Item) ([]string, error) {
	if !it.PhaseFired(sched.PhaseEnd) {
		return nil, fmt.Errorf("giveaway %s has not ended yet", it.ID)
	}
	var p GiveawayPayload
	if err := json.Unmarshal(it.Payload, &p); err != nil {
		return nil, fmt.Errorf("giveaway payload: %w", err)
	}

	prior := splitWinners(it.Ref(sched.PhaseEnd))
	winners, err := h.draw(ctx, p, prior)
	if err != nil {
		return nil, err
	}
	if len(winners) == 0 {
		return nil, fmt.Errorf("giveaway %s: no eligible entrants left to draw", it.ID)
	}
	if err := h.announce(ctx, it, p, winners, true); err != nil {
		return nil, err
	}
	all := strings.Join(append(prior, winners...), ",")
	if err := h.ledger.MarkFired(ctx, it, sched.PhaseEnd, all); err != nil {
		return nil, err
	}
	return winners, nil
}

// draw picks up to p.Winners distinct members from the eligible pool,
// excluding any previously drawn. A pool smaller than the requested count
// yields the whole pool.
func (h *Giveaway) draw(ctx context.Context, p GiveawayPayload, exclude []string) ([]string, error) {
	pool, err := h.members.EligibleEntrants(ctx, p.SourceID, p.RoleFilter,
		time.Duration(p.MinTenureSecs)*time.Second)
	if err != nil {
		return nil, fmt.Errorf("eligible entrants: %w", err)
	}
	if len(exclude) > 0 {
		out := make(map[string]struct{}, len(exclude))
		for _, m := range exclude {
			out[m] = struct{}{}
		}
		kept := pool[:0]
		for _, m := range pool {
			if _, drawn := out[m]; !drawn {
				kept = append(kept, m)
			}
		}
		pool = kept
	}

	k := p.Winners
	if k <= 0 {
		k = 1
	}
	if k > len(pool) {
		k = len(pool)
	}
	winners := make([]string, 0, k)
	for _, i := range rand.Perm(len(pool))[:k] {
		winners = append(winners, pool[i])
	}
	return winners, nil
}

func (h *Giveaway) announce(ctx context.Context, it *sched.Item, p GiveawayPayload, winners []string, reroll bool) error {
	var text string
	switch {
	case len(winners) == 0:
		text = fmt.Sprintf("Giveaway for %s ended with no eligible entrants.", p.Prize)
	case reroll:
		text = fmt.Sprintf("Reroll for %s! New winner(s): %s", p.Prize, strings.Join(winners, ", "))
	default:
		text = fmt.Sprintf("Giveaway ended! %s goes to: %s", p.Prize, strings.Join(winners, ", "))
	}
	if _, err := h.notify.Deliver(ctx, p.Target, text); err != nil {
		return err
	}

	// Editing the original message is best-effort; it may have been deleted
	// while the giveaway ran.
	if p.MessageRef != "" && !reroll {
		ended := fmt.Sprintf("[ENDED] Giveaway: %s", p.Prize)
		if err := h.notify.Update(ctx, p.Target, p.MessageRef, ended); err != nil {
			h.log.Warn("giveaway message edit failed",
				logx.String("item", it.ID),
				logx.String("ref", p.MessageRef),
				logx.Err(err))
		}
	}
	return nil
}

func splitWinners(csv string) []string {
	if csv == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
