package backend

import (
	"bufio"
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// Archive persists alert lines in SQLite so /alerts survives rotation of alerts.ndjson.
type Archive struct {
	db       *sql.DB
	mu       sync.Mutex
	onIngest IngestCallback
}

// ArchivedAlert is one alert line as stored.
type ArchivedAlert struct {
	TsMs  int64
	Z     float64
	Count int64
	Raw   json.RawMessage
}

// IngestCallback receives the alerts added by one Ingest call.
type IngestCallback func(added []ArchivedAlert)

// OpenArchive opens (or creates) the SQLite database at path and ensures tables exist.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS alerts (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    ts_ms INTEGER NOT NULL,
    z     REAL NOT NULL,
    count INTEGER NOT NULL,
    raw   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts_ms);

CREATE TABLE IF NOT EXISTS ingest_state (
    source   TEXT PRIMARY KEY,
    position INTEGER NOT NULL
);`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// OnIngest registers cb to run after each Ingest that added alerts. cb runs on
// the ingesting goroutine, which may be an HTTP handler.
func (a *Archive) OnIngest(cb IngestCallback) {
	a.mu.Lock()
	a.onIngest = cb
	a.mu.Unlock()
}

// Ingest appends every complete line of the ndjson file written since the last
// call. A file shorter than the stored position is treated as rotated and read
// from the start. It returns the number of alerts added.
func (a *Archive) Ingest(path string) (int, error) {
	added, cb, err := a.ingest(path)
	if err != nil {
		return 0, err
	}
	if cb != nil && len(added) > 0 {
		cb(added)
	}
	return len(added), nil
}

func (a *Archive) ingest(path string) ([]ArchivedAlert, IngestCallback, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open alerts: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("stat alerts: %w", err)
	}

	var pos int64
	err = a.db.QueryRow(`SELECT position FROM ingest_state WHERE source = ?`, path).Scan(&pos)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("load position: %w", err)
	}
	if pos > info.Size() {
		pos = 0
	}
	if pos == info.Size() {
		return nil, nil, nil
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return nil, nil, fmt.Errorf("seek alerts: %w", err)
	}

	tx, err := a.db.Begin()
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO alerts (ts_ms, z, count, raw) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	r := bufio.NewReader(f)
	var added []ArchivedAlert
	for {
		line, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// A trailing partial line is picked up once the writer finishes it.
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read alerts: %w", err)
		}
		pos += int64(len(line))

		line = bytes.TrimSpace(line)
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		var rec struct {
			TsMs  float64 `json:"ts_ms"`
			Z     float64 `json:"z"`
			Count float64 `json:"count"`
		}
		_ = json.Unmarshal(line, &rec)
		alert := ArchivedAlert{
			TsMs:  int64(rec.TsMs),
			Z:     rec.Z,
			Count: int64(rec.Count),
			Raw:   json.RawMessage(line),
		}
		if _, err := stmt.Exec(alert.TsMs, alert.Z, alert.Count, string(line)); err != nil {
			return nil, nil, fmt.Errorf("insert alert: %w", err)
		}
		added = append(added, alert)
	}

	if _, err := tx.Exec(`INSERT OR REPLACE INTO ingest_state (source, position) VALUES (?, ?)`, path, pos); err != nil {
		return nil, nil, fmt.Errorf("save position: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return added, a.onIngest, nil
}

// Recent returns the newest limit archived alerts, newest first. Zero means all.
func (a *Archive) Recent(limit int) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := a.db.Query(`SELECT raw FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	out := []json.RawMessage{}
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, json.RawMessage(raw))
	}
	return out, rows.Err()
}

// Count returns the number of archived alerts.
func (a *Archive) Count() (int, error) {
	var n int
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return n, nil
}
