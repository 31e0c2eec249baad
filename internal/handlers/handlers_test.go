package handlers_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"unionbot/internal/handlers"
	"unionbot/internal/sched"
	"unionbot/internal/storage"
	"unionbot/pkg/logx"
)

type sentMsg struct {
	target string
	text   string
}

type fakeNotifier struct {
	sent  []sentMsg
	edits []sentMsg
	docs  []string

	failSend error
	failEdit error
	nextRef  int
}

func (f *fakeNotifier) Deliver(_ context.Context, target, content string) (string, error) {
	if f.failSend != nil {
		return "", f.failSend
	}
	f.sent = append(f.sent, sentMsg{target: target, text: content})
	f.nextRef++
	return fmt.Sprintf("%d", f.nextRef), nil
}

func (f *fakeNotifier) Update(_ context.Context, target, ref, content string) error {
	if f.failEdit != nil {
		return f.failEdit
	}
	f.edits = append(f.edits, sentMsg{target: target + "/" + ref, text: content})
	return nil
}

func (f *fakeNotifier) DeliverDocument(_ context.Context, target, name string, data []byte) (string, error) {
	if f.failSend != nil {
		return "", f.failSend
	}
	f.docs = append(f.docs, target+"/"+name+"/"+string(data))
	f.nextRef++
	return fmt.Sprintf("%d", f.nextRef), nil
}

type fakeTeardown struct {
	deleted []string
	fail    error
}

func (f *fakeTeardown) Teardown(_ context.Context, resourceID string) error {
	if f.fail != nil {
		return f.fail
	}
	f.deleted = append(f.deleted, resourceID)
	return nil
}

func newItem(t *testing.T, kind sched.Kind, payload any) *sched.Item {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &sched.Item{
		ID:         "it-1",
		Kind:       kind,
		ScopeID:    "g1",
		At:         time.Now().Add(time.Hour).UTC(),
		Phases:     map[string]bool{},
		Payload:    raw,
		ResultRefs: map[string]string{},
		State:      sched.StatePending,
	}
}

func TestAnnouncementDeliver(t *testing.T) {
	n := &fakeNotifier{}
	h := handlers.NewAnnouncement(n, logx.Nop())
	it := newItem(t, sched.KindAnnouncement, handlers.AnnouncementPayload{Target: "100", Content: "release tonight"})

	ref, err := h.Execute(context.Background(), it, sched.PhaseDeliver)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ref == "" {
		t.Fatal("empty ref for delivered announcement")
	}
	if len(n.sent) != 1 || n.sent[0].target != "100" || n.sent[0].text != "release tonight" {
		t.Fatalf("sent = %+v", n.sent)
	}
}

func TestAnnouncementRejectsEmptyContent(t *testing.T) {
	h := handlers.NewAnnouncement(&fakeNotifier{}, logx.Nop())
	it := newItem(t, sched.KindAnnouncement, handlers.AnnouncementPayload{Target: "100"})
	if _, err := h.Execute(context.Background(), it, sched.PhaseDeliver); err == nil {
		t.Fatal("empty content accepted")
	}
}

func TestReminderRemindSkipsLowImpact(t *testing.T) {
	n := &fakeNotifier{}
	h := handlers.NewReminder(n, logx.Nop())
	it := newItem(t, sched.KindReminder, handlers.ReminderPayload{Target: "100", Title: "PMI", Impact: "low"})

	ref, err := h.Execute(context.Background(), it, sched.PhaseRemind)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ref != "skipped" {
		t.Fatalf("ref = %q, want skipped", ref)
	}
	if len(n.sent) != 0 {
		t.Fatalf("low impact heads-up was sent: %+v", n.sent)
	}

	it = newItem(t, sched.KindReminder, handlers.ReminderPayload{Target: "100", Title: "CPI", Impact: "High"})
	if _, err := h.Execute(context.Background(), it, sched.PhaseRemind); err != nil {
		t.Fatalf("execute high: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("high impact heads-up not sent")
	}
}

func TestReminderUpdateWaitsForActual(t *testing.T) {
	n := &fakeNotifier{}
	h := handlers.NewReminder(n, logx.Nop())
	it := newItem(t, sched.KindReminder, handlers.ReminderPayload{Target: "100", Title: "CPI", Impact: "high", Forecast: "3.0%"})
	it.Phases[sched.PhaseDeliver] = true
	it.ResultRefs[sched.PhaseDeliver] = "77"

	if _, err := h.Execute(context.Background(), it, sched.PhaseUpdate); !errors.Is(err, sched.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady while actual is empty", err)
	}
	if len(n.edits) != 0 {
		t.Fatalf("edited without actual value: %+v", n.edits)
	}

	it.Payload, _ = json.Marshal(handlers.ReminderPayload{Target: "100", Title: "CPI", Impact: "high", Forecast: "3.0%", Actual: "3.1%"})
	ref, err := h.Execute(context.Background(), it, sched.PhaseUpdate)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ref != "77" {
		t.Fatalf("ref = %q, want the delivered message ref", ref)
	}
	if len(n.edits) != 1 || n.edits[0].target != "100/77" {
		t.Fatalf("edits = %+v", n.edits)
	}
	if !strings.Contains(n.edits[0].text, "Actual: 3.1%") {
		t.Fatalf("edited text misses actual value: %q", n.edits[0].text)
	}
}

func TestReminderUpdateWithoutDeliveredMessage(t *testing.T) {
	h := handlers.NewReminder(&fakeNotifier{}, logx.Nop())
	it := newItem(t, sched.KindReminder, handlers.ReminderPayload{Target: "100", Title: "CPI", Impact: "high", Actual: "3.1%"})
	it.Phases[sched.PhaseDeliver] = true
	it.ResultRefs[sched.PhaseDeliver] = "expired"

	if _, err := h.Execute(context.Background(), it, sched.PhaseUpdate); !errors.Is(err, sched.ErrTargetGone) {
		t.Fatalf("err = %v, want ErrTargetGone for an expired delivery", err)
	}
}

func seedEntrants(t *testing.T, store *storage.Memory, source string, ids ...string) {
	t.Helper()
	for _, id := range ids {
		err := store.AddEntry(context.Background(), storage.Entry{
			SourceID: source,
			MemberID: id,
			JoinedAt: time.Now().Add(-30 * 24 * time.Hour),
		})
		if err != nil {
			t.Fatalf("add entry %s: %v", id, err)
		}
	}
}

func TestGiveawayDrawsDistinctWinners(t *testing.T) {
	store := storage.NewMemory()
	seedEntrants(t, store, "ga1", "u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8")

	n := &fakeNotifier{}
	h := handlers.NewGiveaway(n, store, sched.NewLedger(store), logx.Nop())
	it := newItem(t, sched.KindGiveawayEnd, handlers.GiveawayPayload{
		Target: "100", SourceID: "ga1", MessageRef: "55", Prize: "nitro", Winners: 3,
	})

	ref, err := h.Execute(context.Background(), it, sched.PhaseEnd)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	winners := strings.Split(ref, ",")
	if len(winners) != 3 {
		t.Fatalf("winner count = %d, want 3", len(winners))
	}
	seen := map[string]bool{}
	for _, w := range winners {
		if seen[w] {
			t.Fatalf("duplicate winner %s in %q", w, ref)
		}
		seen[w] = true
		if !strings.HasPrefix(w, "u") {
			t.Fatalf("winner %q not from the entry pool", w)
		}
	}
	if len(n.sent) != 1 {
		t.Fatalf("result announcement count = %d, want 1", len(n.sent))
	}
	if len(n.edits) != 1 || !strings.Contains(n.edits[0].text, "[ENDED]") {
		t.Fatalf("original message not edited to ended rendering: %+v", n.edits)
	}
}

func TestGiveawayPoolSmallerThanCount(t *testing.T) {
	store := storage.NewMemory()
	seedEntrants(t, store, "ga1", "u1", "u2")

	h := handlers.NewGiveaway(&fakeNotifier{}, store, sched.NewLedger(store), logx.Nop())
	it := newItem(t, sched.KindGiveawayEnd, handlers.GiveawayPayload{
		Target: "100", SourceID: "ga1", Prize: "key", Winners: 5,
	})

	ref, err := h.Execute(context.Background(), it, sched.PhaseEnd)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if got := len(strings.Split(ref, ",")); got != 2 {
		t.Fatalf("winner count = %d, want the whole pool of 2", got)
	}
}

func TestGiveawayRerollExcludesPriorWinners(t *testing.T) {
	store := storage.NewMemory()
	seedEntrants(t, store, "ga1", "u1", "u2", "u3")

	n := &fakeNotifier{}
	ledger := sched.NewLedger(store)
	h := handlers.NewGiveaway(n, store, ledger, logx.Nop())
	it := newItem(t, sched.KindGiveawayEnd, handlers.GiveawayPayload{
		Target: "100", SourceID: "ga1", Prize: "key", Winners: 1,
	})
	ctx := context.Background()

	ref, err := h.Execute(ctx, it, sched.PhaseEnd)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := ledger.MarkFired(ctx, it, sched.PhaseEnd, ref); err != nil {
		t.Fatalf("mark fired: %v", err)
	}

	drawn := map[string]bool{ref: true}
	for i := 0; i < 2; i++ {
		winners, err := h.Reroll(ctx, it)
		if err != nil {
			t.Fatalf("reroll %d: %v", i+1, err)
		}
		if len(winners) != 1 {
			t.Fatalf("reroll %d: winner count = %d, want 1", i+1, len(winners))
		}
		if drawn[winners[0]] {
			t.Fatalf("reroll %d drew prior winner %s", i+1, winners[0])
		}
		drawn[winners[0]] = true
	}

	// All three entrants have now won; a further reroll has nobody left.
	if _, err := h.Reroll(ctx, it); err == nil {
		t.Fatal("reroll with empty remaining pool succeeded")
	}

	// The recorded set accumulates every draw.
	if got := len(strings.Split(it.Ref(sched.PhaseEnd), ",")); got != 3 {
		t.Fatalf("recorded winners = %d, want 3", got)
	}
}

func TestGiveawayRerollRequiresEndedItem(t *testing.T) {
	store := storage.NewMemory()
	h := handlers.NewGiveaway(&fakeNotifier{}, store, sched.NewLedger(store), logx.Nop())
	it := newItem(t, sched.KindGiveawayEnd, handlers.GiveawayPayload{
		Target: "100", SourceID: "ga1", Prize: "key", Winners: 1,
	})
	if _, err := h.Reroll(context.Background(), it); err == nil {
		t.Fatal("reroll before end succeeded")
	}
}

func TestTicketCloseWaitsForIdle(t *testing.T) {
	store := storage.NewMemory()
	n := &fakeNotifier{}
	td := &fakeTeardown{}
	h := handlers.NewTicketClose(n, store, td, logx.Nop())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	h.Now = func() time.Time { return now }

	it := newItem(t, sched.KindTicketClose, handlers.TicketPayload{
		ResourceID:        "55:7",
		LogTarget:         "900",
		LastActivity:      now.Add(-30 * time.Minute),
		IdleThresholdSecs: 3600,
	})

	if _, err := h.Execute(context.Background(), it, sched.PhaseClose); !errors.Is(err, sched.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady for an active ticket", err)
	}
	if len(td.deleted) != 0 || len(n.docs) != 0 {
		t.Fatal("side effects ran while ticket was active")
	}
}

func TestTicketCloseArchivesAndTearsDown(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	_ = store.AppendTranscript(ctx, "55:7", "alice", "hello")
	_ = store.AppendTranscript(ctx, "55:7", "bob", "resolved, thanks")

	n := &fakeNotifier{}
	td := &fakeTeardown{}
	h := handlers.NewTicketClose(n, store, td, logx.Nop())

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	h.Now = func() time.Time { return now }

	it := newItem(t, sched.KindTicketClose, handlers.TicketPayload{
		ResourceID:        "55:7",
		LogTarget:         "900",
		LastActivity:      now.Add(-2 * time.Hour),
		IdleThresholdSecs: 3600,
	})

	ref, err := h.Execute(ctx, it, sched.PhaseClose)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if ref == "" {
		t.Fatal("no ref for archived transcript")
	}
	if len(n.docs) != 1 {
		t.Fatalf("archived documents = %d, want 1", len(n.docs))
	}
	if !strings.Contains(n.docs[0], "transcript-55:7.txt") || !strings.Contains(n.docs[0], "resolved, thanks") {
		t.Fatalf("archived document = %q", n.docs[0])
	}
	if len(td.deleted) != 1 || td.deleted[0] != "55:7" {
		t.Fatalf("teardown calls = %+v", td.deleted)
	}
}

func TestTicketCloseToleratesGoneResource(t *testing.T) {
	store := storage.NewMemory()
	n := &fakeNotifier{}
	td := &fakeTeardown{fail: sched.ErrTargetGone}
	h := handlers.NewTicketClose(n, store, td, logx.Nop())

	now := time.Now().UTC()
	h.Now = func() time.Time { return now }

	it := newItem(t, sched.KindTicketClose, handlers.TicketPayload{
		ResourceID:        "55:7",
		LogTarget:         "900",
		LastActivity:      now.Add(-3 * time.Hour),
		IdleThresholdSecs: 3600,
	})

	if _, err := h.Execute(context.Background(), it, sched.PhaseClose); err != nil {
		t.Fatalf("already-gone resource must not fail the close: %v", err)
	}
}

func TestDailyAlertMessage(t *testing.T) {
	n := &fakeNotifier{}
	h := handlers.NewDailyAlert(n, logx.Nop())
	it := newItem(t, sched.KindDailyAlert, handlers.DailyAlertPayload{
		Target: "100", Label: "London session", Message: "market opens in 10 minutes",
	})

	if _, err := h.Execute(context.Background(), it, sched.PhaseAlert); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(n.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(n.sent))
	}
	if !strings.HasPrefix(n.sent[0].text, "London session\n") {
		t.Fatalf("label not prefixed: %q", n.sent[0].text)
	}
}
