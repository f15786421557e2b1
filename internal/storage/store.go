// Package storage persists alerts, feed counters and the site configuration
// (zones, doors, door areas, roles) in SQLite or PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

// Object kinds in the site_objects table.
const (
	KindZone = "zone"
	KindDoor = "door"
	KindArea = "door_area"
	KindRole = "role"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveAlert(ctx context.Context, alert model.Alert) error
	UpdateAlert(ctx context.Context, alert model.Alert) error
	// RecentAlerts returns up to limit of the newest alerts, oldest first.
	RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error)
	ClearAlerts(ctx context.Context) error

	SaveMetrics(ctx context.Context, stats []model.FeedStats) error

	LoadSite(ctx context.Context) (Site, error)
	PutObject(ctx context.Context, kind, id string, value any) error
	DeleteObject(ctx context.Context, kind, id string) (bool, error)
}

// Site is every persisted configuration object.
type Site struct {
	Zones []model.Zone
	Doors []model.Door
	Areas []model.DoorArea
	Roles []string
}

// NewStore returns nil, nil when storage is disabled.
func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

// sortableTime is fixed width so that TEXT columns order chronologically.
const sortableTime = "2006-01-02T15:04:05.000000000Z07:00"

type dialect struct {
	ddl         []string
	numbered    bool
	textualTime bool
}

// baseStore is the database/sql implementation shared by both drivers.
type baseStore struct {
	db *sql.DB
	d  dialect
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.d.ddl {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// bind rewrites ? placeholders as $n for PostgreSQL.
func (b *baseStore) bind(query string) string {
	if !b.d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (b *baseStore) timeArg(t time.Time) any {
	if b.d.textualTime {
		return t.UTC().Format(sortableTime)
	}
	return t.UTC()
}

func (b *baseStore) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return b.timeArg(*t)
}

func (b *baseStore) SaveAlert(ctx context.Context, a model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO alerts (alert_id, ts, alert_type, feed_id, person_name, person_role, authorized, zone_name,
			details, acknowledged, resolution, resolution_reason, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID,
		b.timeArg(a.Timestamp),
		string(a.AlertType),
		a.FeedID,
		a.PersonName,
		a.PersonRole,
		a.Authorized,
		a.ZoneName,
		a.Details,
		a.Acknowledged,
		string(a.Resolution),
		a.ResolutionReason,
		b.nullTimeArg(a.ResolvedAt),
	)
	return err
}

func (b *baseStore) UpdateAlert(ctx context.Context, a model.Alert) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`UPDATE alerts SET acknowledged = ?, resolution = ?, resolution_reason = ?, resolved_at = ?
		WHERE alert_id = ?`),
		a.Acknowledged,
		string(a.Resolution),
		a.ResolutionReason,
		b.nullTimeArg(a.ResolvedAt),
		a.ID,
	)
	return err
}

func (b *baseStore) RecentAlerts(ctx context.Context, limit int) ([]model.Alert, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := b.db.QueryContext(ctx, b.bind(
		`SELECT alert_id, ts, alert_type, feed_id, person_name, person_role, authorized, zone_name,
			details, acknowledged, resolution, resolution_reason, resolved_at
		FROM alerts ORDER BY ts DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a                     model.Alert
			ts, resolvedAt        any
			alertType, resolution string
			role, zone, reason    sql.NullString
		)
		if err := rows.Scan(&a.ID, &ts, &alertType, &a.FeedID, &a.PersonName, &role, &a.Authorized, &zone,
			&a.Details, &a.Acknowledged, &resolution, &reason, &resolvedAt); err != nil {
			return nil, err
		}
		if a.Timestamp, err = scanTime(ts); err != nil {
			return nil, fmt.Errorf("alert %s: %w", a.ID, err)
		}
		if resolvedAt != nil {
			t, err := scanTime(resolvedAt)
			if err != nil {
				return nil, fmt.Errorf("alert %s: %w", a.ID, err)
			}
			a.ResolvedAt = &t
		}
		a.AlertType = model.AlertType(alertType)
		a.Resolution = model.Resolution(resolution)
		a.PersonRole = role.String
		a.ZoneName = zone.String
		a.ResolutionReason = reason.String
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (b *baseStore) ClearAlerts(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM alerts`)
	return err
}

func (b *baseStore) SaveMetrics(ctx context.Context, stats []model.FeedStats) error {
	if b.db == nil || len(stats) == 0 {
		return nil
	}
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, b.bind(
		`INSERT INTO feed_metrics (ts, feed_id, frames, detector_failures, rejected, violations, alerts, suppressed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	now := nowUTC()
	for _, st := range stats {
		if _, err := stmt.ExecContext(ctx,
			b.timeArg(now),
			st.FeedID,
			st.Frames,
			st.DetectorFailures,
			st.Rejected,
			st.Violations,
			st.Alerts,
			st.Suppressed,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (b *baseStore) PutObject(ctx context.Context, kind, id string, value any) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.bind(
		`INSERT INTO site_objects (kind, id, data, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		kind, id, encodeJSON(value), b.timeArg(nowUTC()))
	return err
}

func (b *baseStore) DeleteObject(ctx context.Context, kind, id string) (bool, error) {
	if b.db == nil {
		return false, nil
	}
	res, err := b.db.ExecContext(ctx, b.bind(`DELETE FROM site_objects WHERE kind = ? AND id = ?`), kind, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (b *baseStore) LoadSite(ctx context.Context) (Site, error) {
	var site Site
	if b.db == nil {
		return site, nil
	}
	rows, err := b.db.QueryContext(ctx, `SELECT kind, id, data FROM site_objects ORDER BY kind, id`)
	if err != nil {
		return site, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind, id string
		var data []byte
		if err := rows.Scan(&kind, &id, &data); err != nil {
			return site, err
		}
		switch kind {
		case KindZone:
			var z model.Zone
			if err := json.Unmarshal(data, &z); err != nil {
				return site, fmt.Errorf("zone %s: %w", id, err)
			}
			site.Zones = append(site.Zones, z)
		case KindDoor:
			var d model.Door
			if err := json.Unmarshal(data, &d); err != nil {
				return site, fmt.Errorf("door %s: %w", id, err)
			}
			site.Doors = append(site.Doors, d)
		case KindArea:
			var a model.DoorArea
			if err := json.Unmarshal(data, &a); err != nil {
				return site, fmt.Errorf("door area %s: %w", id, err)
			}
			site.Areas = append(site.Areas, a)
		case KindRole:
			site.Roles = append(site.Roles, id)
		}
	}
	return site, rows.Err()
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	case []byte:
		return time.Parse(time.RFC3339Nano, string(t))
	}
	return time.Time{}, fmt.Errorf("unexpected time value %T", v)
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
