// Package alerts turns violations into cooldown-gated, persisted alert records.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

var ErrNotFound = errors.New("alert not found")

// Persister is the durable side of the log. storage.Store satisfies it.
type Persister interface {
	SaveAlert(ctx context.Context, alert model.Alert) error
	UpdateAlert(ctx context.Context, alert model.Alert) error
	ClearAlerts(ctx context.Context) error
}

// Notifier receives an event for every alert that fires.
type Notifier interface {
	Notify(ctx context.Context, event model.NotificationEvent) error
}

type State string

const (
	StateActive       State = "active"
	StateAcknowledged State = "acknowledged"
	StateResolved     State = "resolved"
	StateAll          State = "all"
)

func ParseState(s string) (State, error) {
	switch st := State(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StateAll, nil
	case StateActive, StateAcknowledged, StateResolved, StateAll:
		return st, nil
	}
	return "", fmt.Errorf("unknown alert filter %q", s)
}

// Filter selects alerts for List. Zero values mean no restriction.
type Filter struct {
	State  State
	Limit  int
	Since  time.Time
	FeedID *int
}

func (f Filter) match(a model.Alert) bool {
	switch f.State {
	case StateActive:
		if !a.Active() {
			return false
		}
	case StateAcknowledged:
		if !a.Acknowledged || !a.Active() {
			return false
		}
	case StateResolved:
		if a.Active() {
			return false
		}
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	if f.FeedID != nil && a.FeedID != *f.FeedID {
		return false
	}
	return true
}

type Option func(*Log)

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

func WithIDs(next func() string) Option {
	return func(l *Log) { l.newID = next }
}

func WithNotifiers(n ...Notifier) Option {
	return func(l *Log) { l.notifiers = append(l.notifiers, n...) }
}

// Log is the process-wide alert log and cooldown map. All methods are safe for
// concurrent use by feed loops and the API.
type Log struct {
	mu    sync.RWMutex
	buf   []model.Alert
	limit int

	cooldown *Cooldown
	window   time.Duration
	rearm    bool

	store     Persister
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// NewLog builds a log. store may be nil for an in-memory only deployment.
func NewLog(cfg config.AlertsConfig, store Persister, logger *slog.Logger, opts ...Option) *Log {
	limit := cfg.StoreLimit
	if limit <= 0 {
		limit = 1000
	}
	l := &Log{
		limit:    limit,
		cooldown: NewCooldown(),
		window:   cfg.Cooldown,
		rearm:    cfg.RearmOnPersistFailure,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Log) Cooldown() *Cooldown {
	return l.cooldown
}

// Consider gates v on its cooldown key. It returns the new alert, or false when the
// violation was suppressed (or dropped because persistence failed with rearm enabled).
// The key is stamped before the write is attempted.
func (l *Log) Consider(ctx context.Context, v model.Violation) (model.Alert, bool) {
	if !v.Valid() {
		return model.Alert{}, false
	}
	at := v.At
	if at.IsZero() {
		at = l.now()
	}
	key := v.CooldownKey()
	ok, prev := l.cooldown.AllowKey(key, at, l.window)
	if !ok {
		return model.Alert{}, false
	}

	alert := model.Alert{
		ID:         l.newID(),
		Timestamp:  at,
		AlertType:  v.Type,
		FeedID:     v.FeedID,
		PersonName: v.Subject.Name,
		PersonRole: v.Subject.Role,
		Authorized: false,
		ZoneName:   v.PlaceName(),
		Details:    v.Detail(),
		Resolution: model.ResolutionNone,
	}
	if alert.PersonName == "" {
		alert.PersonName = model.UnknownName
	}

	if err := l.persist(ctx, alert); err != nil {
		if l.logger != nil {
			l.logger.Warn("alert persistence failed", "alert_id", alert.ID, "feed_id", alert.FeedID, "key", key, "err", err)
		}
		if l.rearm {
			l.cooldown.Restore(key, prev)
			return model.Alert{}, false
		}
	}

	l.append(alert)
	if l.logger != nil {
		l.logger.Warn("alert fired",
			"alert_id", alert.ID,
			"alert_type", alert.AlertType,
			"feed_id", alert.FeedID,
			"place", alert.ZoneName,
			"person", alert.PersonName,
			"role", alert.PersonRole,
		)
	}
	l.notify(ctx, alert)
	return alert, true
}

func (l *Log) persist(ctx context.Context, alert model.Alert) error {
	if l.store == nil {
		return nil
	}
	err := l.store.SaveAlert(ctx, alert)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if retryErr := l.store.SaveAlert(ctx, alert); retryErr != nil {
		return fmt.Errorf("save alert after retry: %w", retryErr)
	}
	return nil
}

func (l *Log) notify(ctx context.Context, alert model.Alert) {
	if len(l.notifiers) == 0 {
		return
	}
	ev := model.NotificationFor(alert)
	for _, n := range l.notifiers {
		if err := n.Notify(ctx, ev); err != nil && l.logger != nil {
			l.logger.Warn("notification failed", "alert_id", alert.ID, "err", err)
		}
	}
}

func (l *Log) append(alert model.Alert) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.limit {
		l.buf = append(l.buf, alert)
		return
	}
	copy(l.buf, l.buf[1:])
	l.buf[len(l.buf)-1] = alert
}

// Load seeds the in-memory log, oldest first, e.g. from storage at startup.
func (l *Log) Load(alerts []model.Alert) {
	for _, a := range alerts {
		l.append(a)
	}
}

// List returns matching alerts newest first.
func (l *Log) List(f Filter) []model.Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(l.buf) - 1; i >= 0; i-- {
		if !f.match(l.buf[i]) {
			continue
		}
		out = append(out, l.buf[i])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

func (l *Log) Get(id string) (model.Alert, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, a := range l.buf {
		if a.ID == id {
			return a, nil
		}
	}
	return model.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buf)
}

// Acknowledge sets the acknowledged flag and leaves the resolution alone.
func (l *Log) Acknowledge(ctx context.Context, id string) (model.Alert, error) {
	return l.update(ctx, id, func(a *model.Alert) {
		a.Acknowledged = true
	})
}

// Resolve marks the alert problem_fixed. It leaves active views but stays in the log.
func (l *Log) Resolve(ctx context.Context, id, reason string) (model.Alert, error) {
	return l.update(ctx, id, func(a *model.Alert) {
		ts := l.now()
		a.Resolution = model.ResolutionProblemFixed
		a.ResolutionReason = strings.TrimSpace(reason)
		a.ResolvedAt = &ts
	})
}

func (l *Log) update(ctx context.Context, id string, fn func(*model.Alert)) (model.Alert, error) {
	l.mu.Lock()
	idx := -1
	for i := range l.buf {
		if l.buf[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		l.mu.Unlock()
		return model.Alert{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	fn(&l.buf[idx])
	updated := l.buf[idx]
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.UpdateAlert(ctx, updated); err != nil && l.logger != nil {
			l.logger.Warn("alert update not persisted", "alert_id", id, "err", err)
		}
	}
	return updated, nil
}

// ClearAll empties the log and its durable copy. Cooldown stamps are kept.
func (l *Log) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	l.buf = nil
	l.mu.Unlock()
	if l.store == nil {
		return nil
	}
	if err := l.store.ClearAlerts(ctx); err != nil {
		return fmt.Errorf("clear stored alerts: %w", err)
	}
	return nil
}
