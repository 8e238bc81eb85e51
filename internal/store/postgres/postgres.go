// Package postgres implements the store on PostgreSQL via pgx
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savegress/shiftkpi/internal/store"
	"github.com/savegress/shiftkpi/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS assets (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL DEFAULT '',
	line                TEXT NOT NULL DEFAULT '',
	current_state       TEXT NOT NULL DEFAULT '',
	microstop_threshold DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS shifts (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	line       TEXT NOT NULL DEFAULT '',
	start_time TIMESTAMPTZ NOT NULL,
	end_time   TIMESTAMPTZ,
	status     TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_shifts_start ON shifts(start_time);

CREATE TABLE IF NOT EXISTS events (
	seq            BIGSERIAL,
	id             TEXT PRIMARY KEY,
	asset_id       TEXT NOT NULL,
	ts             TIMESTAMPTZ,
	raw_ts         TEXT NOT NULL DEFAULT '',
	event_type     TEXT NOT NULL,
	previous_state TEXT NOT NULL DEFAULT '',
	new_state      TEXT NOT NULL DEFAULT '',
	duration       DOUBLE PRECISION,
	stop_reason    TEXT NOT NULL DEFAULT '',
	shift_id       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts, seq);
CREATE INDEX IF NOT EXISTS idx_events_asset_ts ON events(asset_id, ts);

CREATE TABLE IF NOT EXISTS corrections (
	id                 TEXT NOT NULL,
	kind               TEXT NOT NULL,
	event_id           TEXT NOT NULL,
	asset_id           TEXT NOT NULL,
	current_shift_id   TEXT NOT NULL DEFAULT '',
	proposed_shift_id  TEXT NOT NULL DEFAULT '',
	current_ts         TIMESTAMPTZ,
	proposed_ts        TIMESTAMPTZ,
	offset_seconds     DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason             TEXT NOT NULL DEFAULT '',
	proposed_at        TIMESTAMPTZ NOT NULL,
	applied_by         TEXT NOT NULL,
	applied_at         TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_corrections_applied ON corrections(applied_at);
`

// Config holds pool settings
type Config struct {
	URL      string
	MaxConns int32
	MinConns int32
}

// Store is a pgxpool-backed store
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New connects, pings and migrates the schema
func New(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) SaveAssets(ctx context.Context, assets []models.Asset) error {
	if len(assets) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO assets (id, name, line, current_state, microstop_threshold)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			line = EXCLUDED.line,
			current_state = EXCLUDED.current_state,
			microstop_threshold = EXCLUDED.microstop_threshold`

	for _, a := range assets {
		if a.ID == "" {
			return fmt.Errorf("save asset: %w", models.ErrMissingAssetID)
		}
		batch.Queue(query, a.ID, a.Name, a.Line, string(a.CurrentState), a.MicrostopThreshold)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(assets); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert asset %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) ListAssets(ctx context.Context) ([]models.Asset, error) {
	rows, err := s.pool.Query(ctx, `
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
	if len(shifts) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO shifts (id, name, line, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			line = EXCLUDED.line,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			status = EXCLUDED.status`

	for _, sh := range shifts {
		if sh.ID == "" {
			return fmt.Errorf("save shift: missing id")
		}
		batch.Queue(query, sh.ID, sh.Name, sh.Line, sh.StartTime, sh.EndTime, string(sh.Status))
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(shifts); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert shift %d: %w", i, err)
		}
	}
	return nil
}

const shiftColumns = `id, name, line, start_time, end_time, status`

func scanShift(row pgx.Row) (models.Shift, error) {
	var sh models.Shift
	var status string
	if err := row.Scan(&sh.ID, &sh.Name, &sh.Line, &sh.StartTime, &sh.EndTime, &status); err != nil {
		return models.Shift{}, err
	}
	sh.Status = models.ShiftStatus(status)
	sh.StartTime = sh.StartTime.UTC()
	if sh.EndTime != nil {
		end := sh.EndTime.UTC()
		sh.EndTime = &end
	}
	return sh, nil
}

func (s *Store) GetShift(ctx context.Context, id string) (models.Shift, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+shiftColumns+` FROM shifts WHERE id = $1`, id)
	sh, err := scanShift(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Shift{}, fmt.Errorf("shift %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return models.Shift{}, fmt.Errorf("get shift: %w", err)
	}
	return sh, nil
}

func (s *Store) ListShifts(ctx context.Context, from, to time.Time) ([]models.Shift, error) {
	query := `SELECT ` + shiftColumns + ` FROM shifts
		WHERE ($2::timestamptz IS NULL OR start_time <= $2)
		  AND ($1::timestamptz IS NULL OR end_time IS NULL OR end_time >= $1)
		ORDER BY start_time, id`

	rows, err := s.pool.Query(ctx, query, nullTime(from), nullTime(to))
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
		out = append(out, sh)
	}
	return out, rows.Err()
}

func (s *Store) SaveEvents(ctx context.Context, events []models.Event) ([]models.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO events (
			id, asset_id, ts, raw_ts, event_type, previous_state,
			new_state, duration, stop_reason, shift_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			asset_id = EXCLUDED.asset_id,
			ts = EXCLUDED.ts,
			raw_ts = EXCLUDED.raw_ts,
			event_type = EXCLUDED.event_type,
			previous_state = EXCLUDED.previous_state,
			new_state = EXCLUDED.new_state,
			duration = EXCLUDED.duration,
			stop_reason = EXCLUDED.stop_reason,
			shift_id = EXCLUDED.shift_id`

	saved := make([]models.Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		batch.Queue(query,
			ev.ID, ev.AssetID, ev.Timestamp, ev.RawTimestamp, string(ev.Type), string(ev.PreviousState),
			string(ev.NewState), ev.Duration, ev.StopReason, ev.ShiftID,
		)
		saved = append(saved, ev)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(saved); i++ {
		if _, err := br.Exec(); err != nil {
			return nil, fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}
	return saved, nil
}

func (s *Store) ListEvents(ctx context.Context, q store.EventQuery) ([]models.Event, error) {
	query := `
		SELECT id, asset_id, ts, raw_ts, event_type, previous_state,
			new_state, duration, stop_reason, shift_id
		FROM events
		WHERE ($1 = '' OR asset_id = $1)
		  AND (
			(ts IS NOT NULL
				AND ($2::timestamptz IS NULL OR ts >= $2)
				AND ($3::timestamptz IS NULL OR ts <= $3))
			OR (ts IS NULL AND $4)
		  )
		ORDER BY ts NULLS FIRST, seq`

	rows, err := s.pool.Query(ctx, query, q.AssetID, nullTime(q.From), nullTime(q.To), q.IncludeUntimed)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var (
			ev                            models.Event
			eventType, prevState, newState string
		)
		if err := rows.Scan(&ev.ID, &ev.AssetID, &ev.Timestamp, &ev.RawTimestamp, &eventType, &prevState,
			&newState, &ev.Duration, &ev.StopReason, &ev.ShiftID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = models.EventType(eventType)
		ev.PreviousState = models.State(prevState)
		ev.NewState = models.State(newState)
		if ev.Timestamp != nil {
			ts := ev.Timestamp.UTC()
			ev.Timestamp = &ts
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) ApplyCorrections(ctx context.Context, corrections []models.Correction, actor string, at time.Time) ([]models.AppliedCorrection, error) {
	if err := store.ValidateCorrections(corrections); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	applied := make([]models.AppliedCorrection, 0, len(corrections))
	for _, c := range corrections {
		switch c.Kind {
		case models.CorrectionShiftReassignment:
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM shifts WHERE id = $1)`, c.ProposedShiftID).Scan(&exists); err != nil {
				return nil, fmt.Errorf("check shift: %w", err)
			}
			if !exists {
				return nil, fmt.Errorf("shift %s: %w", c.ProposedShiftID, store.ErrNotFound)
			}
			ct, err := tx.Exec(ctx, `UPDATE events SET shift_id = $2 WHERE id = $1`, c.EventID, c.ProposedShiftID)
			if err != nil {
				return nil, fmt.Errorf("reassign event %s: %w", c.EventID, err)
			}
			if ct.RowsAffected() == 0 {
				return nil, fmt.Errorf("event %s: %w", c.EventID, store.ErrNotFound)
			}
		case models.CorrectionTimestampCorrection:
			ct, err := tx.Exec(ctx, `UPDATE events SET ts = $2, raw_ts = '' WHERE id = $1`, c.EventID, c.ProposedTimestamp.UTC())
			if err != nil {
				return nil, fmt.Errorf("correct event %s: %w", c.EventID, err)
			}
			if ct.RowsAffected() == 0 {
				return nil, fmt.Errorf("event %s: %w", c.EventID, store.ErrNotFound)
			}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO corrections (
				id, kind, event_id, asset_id, current_shift_id, proposed_shift_id,
				current_ts, proposed_ts, offset_seconds, reason, proposed_at,
				applied_by, applied_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			c.ID, string(c.Kind), c.EventID, c.AssetID, c.CurrentShiftID, c.ProposedShiftID,
			c.CurrentTimestamp, c.ProposedTimestamp, c.OffsetSeconds, c.Reason, c.ProposedAt,
			actor, at,
		); err != nil {
			return nil, fmt.Errorf("audit correction %s: %w", c.ID, err)
		}
		applied = append(applied, models.AppliedCorrection{Correction: c, AppliedBy: actor, AppliedAt: at})
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return applied, nil
}

func (s *Store) ListCorrections(ctx context.Context) ([]models.AppliedCorrection, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, event_id, asset_id, current_shift_id, proposed_shift_id,
			current_ts, proposed_ts, offset_seconds, reason, proposed_at,
			applied_by, applied_at
		FROM corrections ORDER BY applied_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	var out []models.AppliedCorrection
	for rows.Next() {
		var (
			ac   models.AppliedCorrection
			kind string
		)
		if err := rows.Scan(&ac.ID, &kind, &ac.EventID, &ac.AssetID, &ac.CurrentShiftID, &ac.ProposedShiftID,
			&ac.CurrentTimestamp, &ac.ProposedTimestamp, &ac.OffsetSeconds, &ac.Reason, &ac.ProposedAt,
			&ac.AppliedBy, &ac.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		ac.Kind = models.CorrectionKind(kind)
		out = append(out, ac)
	}
	return out, rows.Err()
}

// Close releases the pool
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
