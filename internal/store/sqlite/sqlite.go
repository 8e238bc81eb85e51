// Package sqlite implements the store on an embedded SQLite database.
// Timestamps are kept as text: values that do not parse are returned as
// raw timestamps and surface downstream as invalid timestamps.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
)

// tsLayout is fixed-width so text comparison orders like time
const tsLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	line TEXT NOT NULL DEFAULT '',
	current_state TEXT NOT NULL DEFAULT '',
	microstop_threshold REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS shifts (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	line TEXT NOT NULL DEFAULT '',
	start_time TEXT NOT NULL,
	end_time TEXT,
	status TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	asset_id TEXT NOT NULL,
	ts TEXT NOT NULL DEFAULT '',
	ts_valid INTEGER NOT NULL DEFAULT 0,
	event_type TEXT NOT NULL,
	previous_state TEXT NOT NULL DEFAULT '',
	new_state TEXT NOT NULL DEFAULT '',
	duration REAL,
	stop_reason TEXT NOT NULL DEFAULT '',
	shift_id TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_valid, ts, seq);

CREATE TABLE IF NOT EXISTS corrections (
	rowid_seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL,
	kind TEXT NOT NULL,
	event_id TEXT NOT NULL,
	asset_id TEXT NOT NULL,
	current_shift_id TEXT NOT NULL DEFAULT '',
	proposed_shift_id TEXT NOT NULL DEFAULT '',
	current_ts TEXT,
	proposed_ts TEXT,
	offset_seconds REAL NOT NULL DEFAULT 0,
	reason TEXT NOT NULL DEFAULT '',
	proposed_at TEXT NOT NULL,
	applied_by TEXT NOT NULL,
	applied_at TEXT NOT NULL
);
`

// Store is a SQLite-backed store
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes writers
}

var _ store.Store = (*Store)(nil)

// New opens (creating if needed) the database at path
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := models.ParseTimestamp(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) SaveAssets(ctx context.Context, assets []models.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (id, name, line, current_state, microstop_threshold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			line = excluded.line,
			current_state = excluded.current_state,
			microstop_threshold = excluded.microstop_threshold`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range assets {
		if a.ID == "" {
			return fmt.Errorf("save asset: %w", models.ErrMissingAssetID)
		}
		if _, err := stmt.ExecContext(ctx, a.ID, a.Name, a.Line, string(a.CurrentState), a.MicrostopThreshold); err != nil {
			return fmt.Errorf("insert asset %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, line, current_state, microstop_threshold
		FROM assets ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var out []models.Asset
	for rows.Next() {
		var a models.Asset
		var state string
		if err := rows.Scan(&a.ID, &a.Name, &a.Line, &state, &a.MicrostopThreshold); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		a.CurrentState = models.State(state)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SaveShifts(ctx context.Context, shifts []models.Shift) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO shifts (id, name, line, start_time, end_time, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			line = excluded.line,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			status = excluded.status`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sh := range shifts {
		if sh.ID == "" {
			return fmt.Errorf("save shift: missing id")
		}
		if _, err := stmt.ExecContext(ctx, sh.ID, sh.Name, sh.Line, formatTime(sh.StartTime),
			formatNullTime(sh.EndTime), string(sh.Status)); err != nil {
			return fmt.Errorf("insert shift %s: %w", sh.ID, err)
		}
	}
	return tx.Commit()
}

const shiftColumns = `id, name, line, start_time, end_time, status`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanShift(row scanner) (models.Shift, error) {
	var (
		sh     models.Shift
		start  string
		end    sql.NullString
		status string
	)
	if err := row.Scan(&sh.ID, &sh.Name, &sh.Line, &start, &end, &status); err != nil {
		return models.Shift{}, err
	}
	st, err := models.ParseTimestamp(start)
	if err != nil {
		return models.Shift{}, fmt.Errorf("shift %s start: %w", sh.ID, err)
	}
	sh.StartTime = st
	if sh.EndTime, err = parseNullTime(end); err != nil {
		return models.Shift{}, fmt.Errorf("shift %s end: %w", sh.ID, err)
	}
	sh.Status = models.ShiftStatus(status)
	return sh, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (models.Shift, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = ?`, id)
	sh, err := scanShift(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Shift{}, fmt.Errorf("shift %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Shift{}, fmt.Errorf("get shift: %w", err)
	}
	return sh, nil
}

func (s *Store) ListShifts(ctx context.Context, from, to time.Time) ([]models.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shiftColumns+` FROM shifts ORDER BY start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("list shifts: %w", err)
	}
	defer rows.Close()

	var out []models.Shift
	for rows.Next() {
		sh, err := scanShift(rows)
		if err != nil {
			return nil, fmt.Errorf("scan shift: %w", err)
		}
		if store.ShiftOverlaps(sh, from, to) {
			out = append(out, sh)
		}
	}
	return out, rows.Err()
}

func eventTimestamp(ev models.Event) (string, int) {
	if ev.HasTimestamp() {
		return formatTime(ev.At()), 1
	}
	return ev.RawTimestamp, 0
}

func (s *Store) SaveEvents(ctx context.Context, events []models.Event) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (
			id, asset_id, ts, ts_valid, event_type, previous_state,
			new_state, duration, stop_reason, shift_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			asset_id = excluded.asset_id,
			ts = excluded.ts,
			ts_valid = excluded.ts_valid,
			event_type = excluded.event_type,
			previous_state = excluded.previous_state,
			new_state = excluded.new_state,
			duration = excluded.duration,
			stop_reason = excluded.stop_reason,
			shift_id = excluded.shift_id`)
	if err != nil {
		return nil, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	saved := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		ts, valid := eventTimestamp(ev)
		var duration sql.NullFloat64
		if ev.Duration != nil {
			duration = sql.NullFloat64{Float64: *ev.Duration, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, ev.ID, ev.AssetID, ts, valid, string(ev.Type), string(ev.PreviousState),
			string(ev.NewState), duration, ev.StopReason, ev.ShiftID); err != nil {
			return nil, fmt.Errorf("insert event %s: %w", ev.ID, err)
		}
		saved = append(saved, ev)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return saved, nil
}

func (s *Store) ListEvents(ctx context.Context, q store.EventQuery) ([]models.Event, error) {
	from, to := "", ""
	if !q.From.IsZero() {
		from = formatTime(q.From)
	}
	if !q.To.IsZero() {
		to = formatTime(q.To)
	}
	untimed := 0
	if q.IncludeUntimed {
		untimed = 1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, asset_id, ts, ts_valid, event_type, previous_state,
			new_state, duration, stop_reason, shift_id
		FROM events
		WHERE (? = '' OR asset_id = ?)
		  AND (
			(ts_valid = 1 AND (? = '' OR ts >= ?) AND (? = '' OR ts <= ?))
			OR (ts_valid = 0 AND ? = 1)
		  )
		ORDER BY ts_valid, ts, seq`,
		q.AssetID, q.AssetID, from, from, to, to, untimed)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev                             models.Event
			ts                             string
			valid                          int
			eventType, prevState, newState string
			duration                       sql.NullFloat64
		)
		if err := rows.Scan(&ev.ID, &ev.AssetID, &ts, &valid, &eventType, &prevState,
			&newState, &duration, &ev.StopReason, &ev.ShiftID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if parsed, err := models.ParseTimestamp(ts); err == nil {
			ev.Timestamp = &parsed
		} else {
			ev.RawTimestamp = ts
		}
		ev.Type = models.EventType(eventType)
		ev.PreviousState = models.State(prevState)
		ev.NewState = models.State(newState)
		if duration.Valid {
			d := duration.Float64
			ev.Duration = &d
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ApplyCorrections(ctx context.Context, corrections []models.Correction, actor string, at time.Time) ([]models.AppliedCorrection, error) {
	if err := store.ValidateCorrections(corrections); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	applied := make([]models.AppliedCorrection, 0, len(corrections))
	for _, c := range corrections {
		var res sql.Result
		switch c.Kind {
		case models.CorrectionShiftReassignment:
			var n int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM shifts WHERE id = ?`, c.ProposedShiftID).Scan(&n); err != nil {
				return nil, fmt.Errorf("check shift: %w", err)
			}
			if n == 0 {
				return nil, fmt.Errorf("shift %s: %w", c.ProposedShiftID, store.ErrNotFound)
			}
			res, err = tx.ExecContext(ctx, `UPDATE events SET shift_id = ? WHERE id = ?`, c.ProposedShiftID, c.EventID)
		case models.CorrectionTimestampCorrection:
			res, err = tx.ExecContext(ctx, `UPDATE events SET ts = ?, ts_valid = 1 WHERE id = ?`,
				formatTime(*c.ProposedTimestamp), c.EventID)
		}
		if err != nil {
			return nil, fmt.Errorf("apply correction %s: %w", c.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("event %s: %w", c.EventID, store.ErrNotFound)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO corrections (
				id, kind, event_id, asset_id, current_shift_id, proposed_shift_id,
				current_ts, proposed_ts, offset_seconds, reason, proposed_at,
				applied_by, applied_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, string(c.Kind), c.EventID, c.AssetID, c.CurrentShiftID, c.ProposedShiftID,
			formatNullTime(c.CurrentTimestamp), formatNullTime(c.ProposedTimestamp), c.OffsetSeconds, c.Reason,
			formatTime(c.ProposedAt), actor, formatTime(at),
		); err != nil {
			return nil, fmt.Errorf("audit correction %s: %w", c.ID, err)
		}
		applied = append(applied, models.AppliedCorrection{Correction: c, AppliedBy: actor, AppliedAt: at})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

func (s *Store) ListCorrections(ctx context.Context) ([]models.AppliedCorrection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, event_id, asset_id, current_shift_id, proposed_shift_id,
			current_ts, proposed_ts, offset_seconds, reason, proposed_at,
			applied_by, applied_at
		FROM corrections ORDER BY rowid_seq`)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []models.AppliedCorrection
	for rows.Next() {
		var (
			ac                    models.AppliedCorrection
			kind                  string
			currentTS, proposedTS sql.NullString
			proposedAt, appliedAt string
		)
		if err := rows.Scan(&ac.ID, &kind, &ac.EventID, &ac.AssetID, &ac.CurrentShiftID, &ac.ProposedShiftID,
			&currentTS, &proposedTS, &ac.OffsetSeconds, &ac.Reason, &proposedAt,
			&ac.AppliedBy, &appliedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		ac.Kind = models.CorrectionKind(kind)
		ac.CurrentTimestamp, _ = parseNullTime(currentTS)
		ac.ProposedTimestamp, _ = parseNullTime(proposedTS)
		ac.ProposedAt, _ = models.ParseTimestamp(proposedAt)
		ac.AppliedAt, _ = models.ParseTimestamp(appliedAt)
		out = append(out, ac)
	}
	return out, rows.Err()
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
