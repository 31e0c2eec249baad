package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS items (
    kind        TEXT NOT NULL,
    scope_id    TEXT NOT NULL,
    id          TEXT NOT NULL,
    state       TEXT NOT NULL,
    at          TEXT,
    rule_json   TEXT,
    phases_json TEXT NOT NULL DEFAULT '{}',
    payload_json TEXT,
    refs_json   TEXT,
    last_fired  TEXT,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    PRIMARY KEY (kind, scope_id, id)
);
CREATE INDEX IF NOT EXISTS idx_items_pending ON items (kind, state, scope_id);
CREATE TABLE IF NOT EXISTS entries (
    source_id  TEXT NOT NULL,
    member_id  TEXT NOT NULL,
    joined_at  TEXT,
    roles      TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (source_id, member_id)
);
CREATE TABLE IF NOT EXISTS transcript_lines (
    resource_id TEXT NOT NULL,
    seq        BIGSERIAL PRIMARY KEY,
    at         TEXT NOT NULL,
    author     TEXT,
    line       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcript_resource ON transcript_lines (resource_id, seq);
`

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	st := &postgresStore{db: db, log: log}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return st, nil
}

func (s *postgresStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) Get(ctx context.Context, kind sched.Kind, scope, id string) (*sched.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE kind = $1 AND scope_id = $2 AND id = $3`,
		string(kind), scope, id,
	)
	var r itemRow
	err := row.Scan(&r.kind, &r.scopeID, &r.id, &r.state, &r.at, &r.rule, &r.phases,
		&r.payload, &r.refs, &r.lastFired, &r.createdAt, &r.updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return decodeItem(r)
}

func (s *postgresStore) Scopes(ctx context.Context, kind sched.Kind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT scope_id FROM items WHERE kind = $1 AND state = $2`,
		string(kind), string(sched.StatePending),
	)
	if err != nil {
		return nil, fmt.Errorf("scopes: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		out = append(out, scope)
	}
	return out, rows.Err()
}

func (s *postgresStore) Scan(ctx context.Context, kind sched.Kind, scope string) ([]*sched.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE kind = $1 AND scope_id = $2 AND state = $3 ORDER BY created_at ASC`,
		string(kind), scope, string(sched.StatePending),
	)
	if err != nil {
		return nil, fmt.Errorf("scan items: %w", err)
	}
	defer rows.Close()

	var out []*sched.Item
	for rows.Next() {
		var r itemRow
		if err := rows.Scan(&r.kind, &r.scopeID, &r.id, &r.state, &r.at, &r.rule, &r.phases,
			&r.payload, &r.refs, &r.lastFired, &r.createdAt, &r.updatedAt); err != nil {
			return nil, err
		}
		it, err := decodeItem(r)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *postgresStore) Upsert(ctx context.Context, it *sched.Item) error {
	r, err := encodeItem(it)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		 ON CONFLICT (kind, scope_id, id) DO UPDATE SET
		   state = EXCLUDED.state,
		   rule_json = EXCLUDED.rule_json,
		   phases_json = EXCLUDED.phases_json,
		   payload_json = EXCLUDED.payload_json,
		   refs_json = EXCLUDED.refs_json,
		   last_fired = EXCLUDED.last_fired,
		   updated_at = EXCLUDED.updated_at`,
		r.kind, r.scopeID, r.id, r.state, r.at, r.rule, r.phases,
		r.payload, r.refs, r.lastFired, r.createdAt, r.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (s *postgresStore) Delete(ctx context.Context, kind sched.Kind, scope, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE kind = $1 AND scope_id = $2 AND id = $3`,
		string(kind), scope, id,
	)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *postgresStore) AddEntry(ctx context.Context, e Entry) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var joined sql.NullString
	if !e.JoinedAt.IsZero() {
		joined = sql.NullString{String: e.JoinedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (source_id, member_id, joined_at, roles, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (source_id, member_id) DO UPDATE SET
		   joined_at = EXCLUDED.joined_at,
		   roles = EXCLUDED.roles`,
		e.SourceID, e.MemberID, joined, joinRoles(e.Roles), now,
	)
	if err != nil {
		return fmt.Errorf("add entry: %w", err)
	}
	return nil
}

func (s *postgresStore) EligibleEntrants(ctx context.Context, sourceID, roleFilter string, minTenure time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, joined_at, roles FROM entries WHERE source_id = $1 ORDER BY member_id ASC`,
		sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("entrants: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e      Entry
			joined sql.NullString
			roles  sql.NullString
		)
		if err := rows.Scan(&e.MemberID, &joined, &roles); err != nil {
			return nil, err
		}
		if joined.Valid {
			if e.JoinedAt, err = parseInstant(joined.String); err != nil {
				return nil, fmt.Errorf("entry %s: joined_at: %w", e.MemberID, err)
			}
		}
		e.Roles = splitRoles(roles)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return eligible(entries, roleFilter, minTenure, time.Now().UTC()), nil
}

func (s *postgresStore) AppendTranscript(ctx context.Context, resourceID, author, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_lines (resource_id, at, author, line) VALUES ($1,$2,$3,$4)`,
		resourceID, time.Now().UTC().Format(time.RFC3339Nano), author, line,
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

func (s *postgresStore) ExportTranscript(ctx context.Context, resourceID string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, author, line FROM transcript_lines WHERE resource_id = $1 ORDER BY seq ASC`,
		resourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("export transcript: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	n := 0
	for rows.Next() {
		var at, author, line string
		if err := rows.Scan(&at, &author, &line); err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", at, author, line)
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if n == 0 {
		return []byte("No messages in transcript.\n"), nil
	}
	return []byte(b.String()), nil
}
