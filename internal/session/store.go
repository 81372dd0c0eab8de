package session

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/mindfield-labs/mindfield/internal/collector"
	"github.com/mindfield-labs/mindfield/internal/recorder"
)

//go:embed schema.sql
var schemaSQL string

// Store archives sessions in a SQLite database.
// Uses WAL mode so exports can read while a run is being written.
type Store struct {
	db *sql.DB
}

// Open creates or opens the archive at path, applying pragmas and the
// schema. Idempotent; safe to call on an existing database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite supports one writer; a single connection avoids
	// SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// Save archives a completed session. Saving the same ID twice replaces
// the earlier record.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer tx.Rollback()

	var comparison any
	if sess.Comparison != nil {
		raw, err := json.Marshal(sess.Comparison)
		if err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		comparison = string(raw)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions
		(id, started_at, ended_at, mode, kind, intention, mean, z_score, bit_count, comparison, bits, bits_len)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		sess.ID,
		sess.StartedAt.UTC().Format(time.RFC3339Nano),
		sess.EndedAt.UTC().Format(time.RFC3339Nano),
		string(sess.Mode),
		string(sess.Kind),
		sess.Intention,
		sess.Stats.Mean,
		sess.Stats.ZScore,
		sess.Stats.Count,
		comparison,
		packBits(sess.Bits),
		len(sess.Bits),
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	// Replace semantics: clear child rows before re-inserting.
	for _, table := range []string{"participants", "markers", "snapshots"} {
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table), sess.ID); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
	}

	for _, p := range sess.Participants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO participants (session_id, address, name, role)
			VALUES (?, ?, ?, ?)
		`, sess.ID, p.Address, p.Name, p.Role)
		if err != nil {
			return fmt.Errorf("save participant: %w", err)
		}
	}

	for _, m := range sess.Markers {
		samples, err := nullableJSON(m.Samples)
		if err != nil {
			return fmt.Errorf("save marker: %w", err)
		}
		meta, err := nullableJSON(m.Meta)
		if err != nil {
			return fmt.Errorf("save marker: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO markers (id, session_id, time, bit_index, kind, samples, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.ID, sess.ID, m.Time.UTC().Format(time.RFC3339Nano), m.BitIndex, m.Kind, samples, meta)
		if err != nil {
			return fmt.Errorf("save marker: %w", err)
		}
	}

	for i, snap := range sess.Snapshots {
		samples, err := json.Marshal(snap.Samples)
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO snapshots (session_id, seq, time, bit_index, samples)
			VALUES (?, ?, ?, ?, ?)
		`, sess.ID, i, snap.Time.UTC().Format(time.RFC3339Nano), snap.BitIndex, string(samples))
		if err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	return nil
}

// Load reads a full session back by ID. Returns sql.ErrNoRows wrapped
// when the ID is unknown.
func (s *Store) Load(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, ended_at, mode, kind, intention, mean, z_score, bit_count, comparison, bits, bits_len
		FROM sessions WHERE id = ?
	`, id)

	var (
		sess       Session
		started    string
		ended      string
		mode, kind string
		comparison sql.NullString
		bits       []byte
		bitsLen    int
	)
	err := row.Scan(&sess.ID, &started, &ended, &mode, &kind, &sess.Intention,
		&sess.Stats.Mean, &sess.Stats.ZScore, &sess.Stats.Count, &comparison, &bits, &bitsLen)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	sess.Mode = collector.Mode(mode)
	sess.Kind = Kind(kind)
	sess.Stats.Mode = sess.Mode
	sess.Bits = unpackBits(bits, bitsLen)

	if sess.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	if sess.EndedAt, err = time.Parse(time.RFC3339Nano, ended); err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	if comparison.Valid {
		sess.Comparison = &collector.Comparison{}
		if err := json.Unmarshal([]byte(comparison.String), sess.Comparison); err != nil {
			return nil, fmt.Errorf("load session %s: %w", id, err)
		}
	}

	if sess.Participants, err = s.loadParticipants(ctx, id); err != nil {
		return nil, err
	}
	if sess.Markers, err = s.loadMarkers(ctx, id); err != nil {
		return nil, err
	}
	if sess.Snapshots, err = s.loadSnapshots(ctx, id); err != nil {
		return nil, err
	}

	sess.Stats.Markers = len(sess.Markers)

	return &sess, nil
}

func (s *Store) loadParticipants(ctx context.Context, id string) ([]Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, name, role FROM participants
		WHERE session_id = ? ORDER BY address
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.Address, &p.Name, &p.Role); err != nil {
			return nil, fmt.Errorf("load participants: %w", err)
		}
		out = append(out, p)
	}

	return out, rows.Err()
}

func (s *Store) loadMarkers(ctx context.Context, id string) ([]collector.Marker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, time, bit_index, kind, samples, meta FROM markers
		WHERE session_id = ? ORDER BY time
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load markers: %w", err)
	}
	defer rows.Close()

	var out []collector.Marker
	for rows.Next() {
		var (
			m             collector.Marker
			ts            string
			samples, meta sql.NullString
		)
		if err := rows.Scan(&m.ID, &ts, &m.BitIndex, &m.Kind, &samples, &meta); err != nil {
			return nil, fmt.Errorf("load markers: %w", err)
		}
		if m.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("load markers: %w", err)
		}
		if samples.Valid {
			if err := json.Unmarshal([]byte(samples.String), &m.Samples); err != nil {
				return nil, fmt.Errorf("load markers: %w", err)
			}
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &m.Meta); err != nil {
				return nil, fmt.Errorf("load markers: %w", err)
			}
		}
		out = append(out, m)
	}

	return out, rows.Err()
}

func (s *Store) loadSnapshots(ctx context.Context, id string) ([]recorder.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time, bit_index, samples FROM snapshots
		WHERE session_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	var out []recorder.Snapshot
	for rows.Next() {
		var (
			snap    recorder.Snapshot
			ts      string
			samples string
		)
		if err := rows.Scan(&ts, &snap.BitIndex, &samples); err != nil {
			return nil, fmt.Errorf("load snapshots: %w", err)
		}
		if snap.Time, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("load snapshots: %w", err)
		}
		if err := json.Unmarshal([]byte(samples), &snap.Samples); err != nil {
			return nil, fmt.Errorf("load snapshots: %w", err)
		}
		out = append(out, snap)
	}

	return out, rows.Err()
}

// Summary is one row of the session index.
type Summary struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	Mode      string    `json:"mode"`
	Kind      string    `json:"kind"`
	Intention string    `json:"intention,omitempty"`
	BitCount  int       `json:"bit_count"`
	ZScore    float64   `json:"z_score"`
}

// List returns summaries of all archived sessions, newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, mode, kind, intention, bit_count, z_score
		FROM sessions ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum Summary
			ts  string
		)
		if err := rows.Scan(&sum.ID, &ts, &sum.Mode, &sum.Kind, &sum.Intention, &sum.BitCount, &sum.ZScore); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		out = append(out, sum)
	}

	return out, rows.Err()
}

func nullableJSON(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case map[string]string:
		if len(val) == 0 {
			return nil, nil
		}
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}

	return string(raw), nil
}
