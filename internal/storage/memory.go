package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"unionbot/internal/sched"
)

// Memory is an in-process Store used by tests and by the memory driver.
// All items are handed out as clones so callers cannot mutate stored
// state without going through Upsert.
type Memory struct {
	mu          sync.Mutex
	items       map[string]*sched.Item
	entries     map[string][]Entry
	transcripts map[string][]string
}

func NewMemory() *Memory {
	return &Memory{
		items:       make(map[string]*sched.Item),
		entries:     make(map[string][]Entry),
		transcripts: make(map[string][]string),
	}
}

func itemKey(kind sched.Kind, scope, id string) string {
	return string(kind) + "\x00" + scope + "\x00" + id
}

func (m *Memory) Get(_ context.Context, kind sched.Kind, scope, id string) (*sched.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[itemKey(kind, scope, id)]
	if !ok {
		return nil, nil
	}
	return it.Clone(), nil
}

func (m *Memory) Scopes(_ context.Context, kind sched.Kind) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]struct{})
	for _, it := range m.items {
		if it.Kind == kind && it.State == sched.StatePending {
			seen[it.ScopeID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for scope := range seen {
		out = append(out, scope)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Scan(_ context.Context, kind sched.Kind, scope string) ([]*sched.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*sched.Item
	for _, it := range m.items {
		if it.Kind == kind && it.ScopeID == scope && it.State == sched.StatePending {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) Upsert(_ context.Context, it *sched.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[itemKey(it.Kind, it.ScopeID, it.ID)] = it.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, kind sched.Kind, scope, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, itemKey(kind, scope, id))
	return nil
}

func (m *Memory) AddEntry(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.entries[e.SourceID]
	for i := range list {
		if list[i].MemberID == e.MemberID {
			list[i] = e
			return nil
		}
	}
	m.entries[e.SourceID] = append(list, e)
	return nil
}

func (m *Memory) EligibleEntrants(_ context.Context, sourceID, roleFilter string, minTenure time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append([]Entry(nil), m.entries[sourceID]...)
	sort.Slice(list, func(i, j int) bool { return list[i].MemberID < list[j].MemberID })
	return eligible(list, roleFilter, minTenure, time.Now().UTC()), nil
}

func (m *Memory) AppendTranscript(_ context.Context, resourceID, author, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := time.Now().UTC().Format(time.RFC3339Nano)
	m.transcripts[resourceID] = append(m.transcripts[resourceID],
		fmt.Sprintf("[%s] %s: %s\n", at, author, line))
	return nil
}

func (m *Memory) ExportTranscript(_ context.Context, resourceID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.transcripts[resourceID]
	if len(lines) == 0 {
		return []byte("No messages in transcript.\n"), nil
	}
	var out []byte
	for _, l := range lines {
		out = append(out, l...)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
