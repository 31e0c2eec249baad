package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"unionbot/internal/sched"
	"unionbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const itemColumns = `kind, scope_id, id, state, at, rule_json, phases_json, payload_json, refs_json, last_fired, created_at, updated_at`

func (s *sqliteStore) Get(ctx context.Context, kind sched.Kind, scope, id string) (*sched.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE kind = ? AND scope_id = ? AND id = ?`,
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

func (s *sqliteStore) Scopes(ctx context.Context, kind sched.Kind) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT scope_id FROM items WHERE kind = ? AND state = ?`,
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

func (s *sqliteStore) Scan(ctx context.Context, kind sched.Kind, scope string) ([]*sched.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items
		 WHERE kind = ? AND scope_id = ? AND state = ? ORDER BY created_at ASC`,
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

func (s *sqliteStore) Upsert(ctx context.Context, it *sched.Item) error {
	r, err := encodeItem(it)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO items (`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(kind, scope_id, id) DO UPDATE SET
		   state = excluded.state,
		   rule_json = excluded.rule_json,
		   phases_json = excluded.phases_json,
		   payload_json = excluded.payload_json,
		   refs_json = excluded.refs_json,
		   last_fired = excluded.last_fired,
		   updated_at = excluded.updated_at`,
		r.kind, r.scopeID, r.id, r.state, r.at, r.rule, r.phases,
		r.payload, r.refs, r.lastFired, r.createdAt, r.updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, kind sched.Kind, scope, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM items WHERE kind = ? AND scope_id = ? AND id = ?`,
		string(kind), scope, id,
	)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (s *sqliteStore) AddEntry(ctx context.Context, e Entry) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var joined sql.NullString
	if !e.JoinedAt.IsZero() {
		joined = sql.NullString{String: e.JoinedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (source_id, member_id, joined_at, roles, created_at)
		 VALUES (?,?,?,?,?)
		 ON CONFLICT(source_id, member_id) DO UPDATE SET
		   joined_at = excluded.joined_at,
		   roles = excluded.roles`,
		e.SourceID, e.MemberID, joined, joinRoles(e.Roles), now,
	)
	if err != nil {
		return fmt.Errorf("add entry: %w", err)
	}
	return nil
}

func (s *sqliteStore) EligibleEntrants(ctx context.Context, sourceID, roleFilter string, minTenure time.Duration) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, joined_at, roles FROM entries WHERE source_id = ? ORDER BY member_id ASC`,
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

func (s *sqliteStore) AppendTranscript(ctx context.Context, resourceID, author, line string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_lines (resource_id, at, author, line) VALUES (?,?,?,?)`,
		resourceID, time.Now().UTC().Format(time.RFC3339Nano), author, line,
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

func (s *sqliteStore) ExportTranscript(ctx context.Context, resourceID string) ([]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, author, line FROM transcript_lines WHERE resource_id = ? ORDER BY seq ASC`,
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
