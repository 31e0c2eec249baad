package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"unionbot/internal/sched"
)

// itemRow is the flat SQL shape shared by the sqlite and postgres drivers.
// Instants are stored as RFC3339Nano UTC strings; structured fields as JSON.
type itemRow struct {
	kind      string
	scopeID   string
	id        string
	state     string
	at        sql.NullString
	rule      sql.NullString
	phases    string
	payload   sql.NullString
	refs      sql.NullString
	lastFired sql.NullString
	createdAt string
	updatedAt string
}

func encodeItem(it *sched.Item) (itemRow, error) {
	row := itemRow{
		kind:      string(it.Kind),
		scopeID:   it.ScopeID,
		id:        it.ID,
		state:     string(it.State),
		createdAt: it.CreatedAt.UTC().Format(time.RFC3339Nano),
		updatedAt: it.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if !it.At.IsZero() {
		row.at = sql.NullString{String: it.At.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if it.Rule != nil {
		b, err := json.Marshal(it.Rule)
		if err != nil {
			return itemRow{}, fmt.Errorf("encode rule: %w", err)
		}
		row.rule = sql.NullString{String: string(b), Valid: true}
	}
	phases, err := json.Marshal(it.Phases)
	if err != nil {
		return itemRow{}, fmt.Errorf("encode phases: %w", err)
	}
	row.phases = string(phases)
	if len(it.Payload) > 0 {
		row.payload = sql.NullString{String: string(it.Payload), Valid: true}
	}
	if len(it.ResultRefs) > 0 {
		b, err := json.Marshal(it.ResultRefs)
		if err != nil {
			return itemRow{}, fmt.Errorf("encode refs: %w", err)
		}
		row.refs = sql.NullString{String: string(b), Valid: true}
	}
	if it.LastFired != "" {
		row.lastFired = sql.NullString{String: it.LastFired, Valid: true}
	}
	return row, nil
}

func decodeItem(row itemRow) (*sched.Item, error) {
	it := &sched.Item{
		ID:      row.id,
		Kind:    sched.Kind(row.kind),
		ScopeID: row.scopeID,
		State:   sched.State(row.state),
	}
	var err error
	if it.CreatedAt, err = parseInstant(row.createdAt); err != nil {
		return nil, fmt.Errorf("item %s: created_at: %w", row.id, err)
	}
	if it.UpdatedAt, err = parseInstant(row.updatedAt); err != nil {
		return nil, fmt.Errorf("item %s: updated_at: %w", row.id, err)
	}
	if row.at.Valid {
		if it.At, err = parseInstant(row.at.String); err != nil {
			return nil, fmt.Errorf("item %s: at: %w", row.id, err)
		}
	}
	if row.rule.Valid {
		var r sched.RecurringRule
		if err := json.Unmarshal([]byte(row.rule.String), &r); err != nil {
			return nil, fmt.Errorf("item %s: rule: %w", row.id, err)
		}
		it.Rule = &r
	}
	it.Phases = map[string]bool{}
	if strings.TrimSpace(row.phases) != "" {
		if err := json.Unmarshal([]byte(row.phases), &it.Phases); err != nil {
			return nil, fmt.Errorf("item %s: phases: %w", row.id, err)
		}
	}
	if row.payload.Valid {
		it.Payload = json.RawMessage(row.payload.String)
	}
	it.ResultRefs = map[string]string{}
	if row.refs.Valid {
		if err := json.Unmarshal([]byte(row.refs.String), &it.ResultRefs); err != nil {
			return nil, fmt.Errorf("item %s: refs: %w", row.id, err)
		}
	}
	if row.lastFired.Valid {
		it.LastFired = row.lastFired.String
	}
	return it, nil
}

func parseInstant(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func joinRoles(roles []string) sql.NullString {
	if len(roles) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: strings.Join(roles, ","), Valid: true}
}

func splitRoles(s sql.NullString) []string {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	return strings.Split(s.String, ",")
}
