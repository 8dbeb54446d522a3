// Package recorder keeps a sqlite flight log of console sessions: every
// control batch sent, every telemetry batch received, and the latest
// retained telemetry item per retain key.
package recorder

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/gwillem/nfconsole/pkg/monitoring"
	"github.com/gwillem/nfconsole/pkg/wire"
)

// Recorder writes one console session. It is safe for use from one
// goroutine at a time.
type Recorder struct {
	*sql.DB
	sessionID string
}

// Open opens (or creates) the database at path and starts a new session.
func Open(path, robotID, mode string) (*Recorder, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	r := &Recorder{DB: db, sessionID: uuid.NewString()}
	if _, err := db.Exec("INSERT INTO sessions (session_id, robot_id, mode, started_at) VALUES (?, ?, ?, ?)",
		r.sessionID, robotID, mode, unixSeconds(time.Now())); err != nil {
		db.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	monitoring.Logf("[recorder] session %s -> %s", r.sessionID, path)
	return r, nil
}

// Inspect opens the database at path for reading past sessions without
// starting a new one. SessionID is empty and Record* must not be called.
func Inspect(path string) (*Recorder, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{DB: db}, nil
}

func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			session_id        TEXT PRIMARY KEY,
			robot_id          TEXT,
			mode              TEXT,
			started_at        DOUBLE
		);
		CREATE TABLE IF NOT EXISTS controls (
			session_id        TEXT,
			ts                DOUBLE,
			kinds             TEXT,
			payload           BLOB,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS telemetry (
			session_id        TEXT,
			ts                DOUBLE,
			kinds             TEXT,
			payload           BLOB,
			FOREIGN KEY(session_id) REFERENCES sessions(session_id)
		);
		CREATE TABLE IF NOT EXISTS retained (
			session_id        TEXT,
			retain_key        TEXT,
			kind              TEXT,
			ts                DOUBLE,
			payload           BLOB,
			PRIMARY KEY(session_id, retain_key)
		);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return db, nil
}

// SessionID identifies the current recording.
func (r *Recorder) SessionID() string { return r.sessionID }

// RecordControl stores an outbound batch.
func (r *Recorder) RecordControl(at time.Time, batch wire.ControlBatch) error {
	kinds := make([]string, 0, len(batch.Items))
	for _, it := range batch.Items {
		if it != nil {
			kinds = append(kinds, it.Kind())
		}
	}
	_, err := r.Exec("INSERT INTO controls (session_id, ts, kinds, payload) VALUES (?, ?, ?, ?)",
		r.sessionID, unixSeconds(at), strings.Join(kinds, ","), wire.MarshalControl(batch))
	if err != nil {
		return fmt.Errorf("record control: %w", err)
	}
	return nil
}

// RecordTelemetry stores an inbound batch and updates the retained item of
// every update that carries a retain key.
func (r *Recorder) RecordTelemetry(at time.Time, batch *wire.TelemetryBatch) error {
	tx, err := r.Begin()
	if err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	defer tx.Rollback()

	kinds := make([]string, 0, len(batch.Updates))
	for _, it := range batch.Updates {
		if it.Update != nil {
			kinds = append(kinds, it.Update.Kind())
		}
	}
	ts := unixSeconds(at)
	if _, err := tx.Exec("INSERT INTO telemetry (session_id, ts, kinds, payload) VALUES (?, ?, ?, ?)",
		r.sessionID, ts, strings.Join(kinds, ","), wire.MarshalTelemetry(*batch)); err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}

	for _, it := range batch.Updates {
		if it.RetainKey == "" || it.Update == nil {
			continue
		}
		payload := wire.MarshalTelemetry(wire.TelemetryBatch{RobotID: batch.RobotID, Updates: []wire.TelemetryItem{it}})
		if _, err := tx.Exec(`
			INSERT INTO retained (session_id, retain_key, kind, ts, payload) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id, retain_key) DO UPDATE SET kind = excluded.kind, ts = excluded.ts, payload = excluded.payload`,
			r.sessionID, it.RetainKey, it.Update.Kind(), ts, payload); err != nil {
			return fmt.Errorf("retain %s: %w", it.RetainKey, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record telemetry: %w", err)
	}
	return nil
}

// Session describes one recording.
type Session struct {
	ID        string
	RobotID   string
	Mode      string
	StartedAt time.Time
	Controls  int
	Telemetry int
}

// Sessions lists recordings, newest first.
func (r *Recorder) Sessions() ([]Session, error) {
	rows, err := r.Query(`
		SELECT s.session_id, s.robot_id, s.mode, s.started_at,
			(SELECT COUNT(*) FROM controls c WHERE c.session_id = s.session_id),
			(SELECT COUNT(*) FROM telemetry t WHERE t.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.started_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var s Session
		var started float64
		if err := rows.Scan(&s.ID, &s.RobotID, &s.Mode, &started, &s.Controls, &s.Telemetry); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.StartedAt = fromUnixSeconds(started)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ControlRecord is one stored outbound batch.
type ControlRecord struct {
	At    time.Time
	Batch wire.ControlBatch
}

// Controls returns the control batches of a session in send order.
func (r *Recorder) Controls(sessionID string) ([]ControlRecord, error) {
	rows, err := r.Query("SELECT ts, payload FROM controls WHERE session_id = ? ORDER BY rowid", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query controls: %w", err)
	}
	defer rows.Close()

	var out []ControlRecord
	for rows.Next() {
		var ts float64
		var payload []byte
		if err := rows.Scan(&ts, &payload); err != nil {
			return nil, fmt.Errorf("scan control: %w", err)
		}
		batch, err := wire.UnmarshalControl(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, ControlRecord{At: fromUnixSeconds(ts), Batch: batch})
	}
	return out, rows.Err()
}

// Retained returns the latest retained item per key for a session.
func (r *Recorder) Retained(sessionID string) (map[string]wire.TelemetryItem, error) {
	rows, err := r.Query("SELECT retain_key, payload FROM retained WHERE session_id = ?", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query retained: %w", err)
	}
	defer rows.Close()

	out := make(map[string]wire.TelemetryItem)
	for rows.Next() {
		var key string
		var payload []byte
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, fmt.Errorf("scan retained: %w", err)
		}
		batch, err := wire.UnmarshalTelemetry(payload)
		if err != nil {
			return nil, err
		}
		if len(batch.Updates) == 1 {
			out[key] = batch.Updates[0]
		}
	}
	return out, rows.Err()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	return time.Unix(0, int64(s*1e9))
}
