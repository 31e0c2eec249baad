package sched

import (
	"testing"
	"time"
)

func TestWindowContains(t *testing.T) {
	cases := []struct {
		name  string
		w     Window
		delta time.Duration
		want  bool
	}{
		{"inside bounded", Window{Open: 2 * time.Minute, Close: 30 * time.Minute}, 10 * time.Minute, true},
		{"at close boundary", Window{Open: 2 * time.Minute, Close: 30 * time.Minute}, 30 * time.Minute, true},
		{"just past close", Window{Open: 2 * time.Minute, Close: 30 * time.Minute}, 30*time.Minute + time.Second, false},
		{"at open boundary excluded", Window{Open: 2 * time.Minute, Close: 30 * time.Minute}, 2 * time.Minute, false},
		{"below open", Window{Open: 2 * time.Minute, Close: 30 * time.Minute}, time.Minute, false},
		{"negative open inside", Window{Open: -2 * time.Minute, Close: 0}, -time.Minute, true},
		{"negative open at close", Window{Open: -2 * time.Minute, Close: 0}, 0, true},
		{"before target not due", Window{Open: -2 * time.Minute, Close: 0}, time.Second, false},
		{"unbounded long overdue", Window{Close: 0, Unbounded: true}, -72 * time.Hour, true},
		{"unbounded at close", Window{Close: 0, Unbounded: true}, 0, true},
		{"unbounded not yet due", Window{Close: 0, Unbounded: true}, time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.w.Contains(tc.delta); got != tc.want {
				t.Fatalf("Contains(%s) = %v, want %v", tc.delta, got, tc.want)
			}
		})
	}
}

func TestWindowElapsed(t *testing.T) {
	bounded := Window{Open: -2 * time.Minute, Close: 0}
	if bounded.Elapsed(-time.Minute) {
		t.Fatal("delta inside window must not count as elapsed")
	}
	if !bounded.Elapsed(-2 * time.Minute) {
		t.Fatal("delta at open bound must count as elapsed")
	}
	if !bounded.Elapsed(-3 * time.Hour) {
		t.Fatal("delta far past open bound must count as elapsed")
	}

	unbounded := Window{Close: 0, Unbounded: true}
	if unbounded.Elapsed(-300 * time.Hour) {
		t.Fatal("unbounded window never elapses")
	}
}

func TestWindowValidate(t *testing.T) {
	if err := (Window{Open: -2 * time.Minute, Close: 0}).validate(time.Minute); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}
	if err := (Window{Open: -30 * time.Second, Close: 0}).validate(time.Minute); err == nil {
		t.Fatal("window narrower than tick must be rejected")
	}
	if err := (Window{Open: time.Minute, Close: -time.Minute}).validate(time.Second); err == nil {
		t.Fatal("close before open must be rejected")
	}
	if err := (Window{Unbounded: true}).validate(time.Hour); err != nil {
		t.Fatalf("unbounded window needs no width: %v", err)
	}
}

func TestRecurringRuleValidate(t *testing.T) {
	good := RecurringRule{Timezone: "Asia/Tokyo", Hour: 9, Minute: 0, Weekdays: []time.Weekday{time.Monday}}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}

	bad := []RecurringRule{
		{Timezone: "", Hour: 9},
		{Timezone: "Not/AZone", Hour: 9},
		{Timezone: "UTC", Hour: 24},
		{Timezone: "UTC", Hour: 9, Minute: 60},
		{Timezone: "UTC", Hour: 9, Weekdays: []time.Weekday{time.Weekday(7)}},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d: invalid rule accepted: %+v", i, r)
		}
	}
}

func TestRecurringRuleOccurrence(t *testing.T) {
	rule := RecurringRule{
		Timezone: "Asia/Tokyo",
		Hour:     9,
		Minute:   0,
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}

	// 2026-09-07 is a Monday; 08:55 JST is 23:55 UTC the previous day.
	now := time.Date(2026, 9, 6, 23, 55, 0, 0, time.UTC)
	target, dateKey, ok, err := rule.Occurrence(now)
	if err != nil {
		t.Fatalf("occurrence: %v", err)
	}
	if !ok {
		t.Fatal("monday must be allowed")
	}
	if dateKey != "2026-09-07" {
		t.Fatalf("dateKey = %q, want local date 2026-09-07", dateKey)
	}
	wantTarget := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	if !target.Equal(wantTarget) {
		t.Fatalf("target = %s, want %s", target, wantTarget)
	}

	// 2026-09-06 is a Sunday in Tokyo at noon local.
	sunday := time.Date(2026, 9, 6, 3, 0, 0, 0, time.UTC)
	_, dateKey, ok, err = rule.Occurrence(sunday)
	if err != nil {
		t.Fatalf("occurrence: %v", err)
	}
	if ok {
		t.Fatal("sunday must not be allowed")
	}
	if dateKey != "2026-09-06" {
		t.Fatalf("dateKey = %q, want 2026-09-06", dateKey)
	}
}

func TestRecurringRuleOccurrenceAllDays(t *testing.T) {
	rule := RecurringRule{Timezone: "UTC", Hour: 15, Minute: 30}
	now := time.Date(2026, 9, 6, 15, 31, 0, 0, time.UTC)
	target, _, ok, err := rule.Occurrence(now)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v, want allowed", ok, err)
	}
	if got := target.Sub(now); got != -time.Minute {
		t.Fatalf("delta = %s, want -1m", got)
	}
}
