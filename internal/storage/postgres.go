package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

var postgresDDL = []string{
	`CREATE TABLE IF NOT EXISTS alerts (
		alert_id TEXT PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		alert_type TEXT NOT NULL,
		feed_id INTEGER NOT NULL,
		person_name TEXT NOT NULL,
		person_role TEXT,
		authorized BOOLEAN NOT NULL,
		zone_name TEXT,
		details TEXT NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		resolution TEXT NOT NULL,
		resolution_reason TEXT,
		resolved_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	`CREATE TABLE IF NOT EXISTS feed_metrics (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		feed_id INTEGER NOT NULL,
		frames BIGINT NOT NULL,
		detector_failures BIGINT NOT NULL,
		rejected BIGINT NOT NULL,
		violations BIGINT NOT NULL,
		alerts BIGINT NOT NULL,
		suppressed BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_feed_metrics_feed ON feed_metrics(feed_id, ts)`,
	`CREATE TABLE IF NOT EXISTS site_objects (
		kind TEXT NOT NULL,
		id TEXT NOT NULL,
		data JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (kind, id)
	)`,
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/zoneguard?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, d: dialect{ddl: postgresDDL, numbered: true}}}, nil
}
