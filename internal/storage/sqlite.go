package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

var sqliteDDL = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		alert_type TEXT NOT NULL,
		feed_id INTEGER NOT NULL,
		person_name TEXT NOT NULL,
		person_role TEXT,
		authorized INTEGER NOT NULL,
		zone_name TEXT,
		details TEXT NOT NULL,
		acknowledged INTEGER NOT NULL DEFAULT 0,
		resolution TEXT NOT NULL,
		resolution_reason TEXT,
		resolved_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE TABLE IF NOT EXISTS feed_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts TEXT NOT NULL,
		feed_id INTEGER NOT NULL,
		frames INTEGER NOT NULL,
		detector_failures INTEGER NOT NULL,
		rejected INTEGER NOT NULL,
		violations INTEGER NOT NULL,
		alerts INTEGER NOT NULL,
		suppressed INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feed_metrics_feed ON feed_metrics(feed_id, ts)`,
	`CREATE TABLE IF NOT EXISTS site_objects (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:zoneguard.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps :memory: databases on a single connection.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, d: dialect{ddl: sqliteDDL, textualTime: true}}}, nil
}
