package alerts

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu      sync.Mutex
	saved   []model.Alert
	updated []model.Alert
	fail    int
	calls   int
	cleared bool
}

func (f *fakeStore) SaveAlert(_ context.Context, a model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		return errors.New("storage unavailable")
	}
	f.saved = append(f.saved, a)
	return nil
}

func (f *fakeStore) UpdateAlert(_ context.Context, a model.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, a)
	return nil
}

func (f *fakeStore) ClearAlerts(context.Context) error {
	f.cleared = true
	return nil
}

type captureNotifier struct {
	events []model.NotificationEvent
}

func (c *captureNotifier) Notify(_ context.Context, ev model.NotificationEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func testConfig() config.AlertsConfig {
	return config.DefaultConfig().Alerts
}

func newLogForTest(store Persister, cfg config.AlertsConfig, opts ...Option) *Log {
	n := 0
	opts = append([]Option{
		WithClock(func() time.Time { return t0 }),
		WithIDs(func() string { n++; return "a" + strconv.Itoa(n) }),
	}, opts...)
	return NewLog(cfg, store, nil, opts...)
}

func zoneViolation(feed int, zone string, at time.Time) model.Violation {
	return model.NewZoneViolation(model.AlertZonePresence, feed, at, model.Subject{Name: "Alice", Role: "Visitor"},
		model.ZoneViolation{ZoneID: zone, ZoneName: "Zone " + zone, ZoneType: model.ZonePolygon})
}

func TestCooldownSuppressesSameKey(t *testing.T) {
	store := &fakeStore{}
	l := newLogForTest(store, testConfig())
	ctx := context.Background()

	_, ok := l.Consider(ctx, zoneViolation(0, "z1", t0))
	require.True(t, ok)
	_, ok = l.Consider(ctx, zoneViolation(0, "z1", t0.Add(5*time.Second)))
	require.False(t, ok)
	require.Len(t, store.saved, 1)

	_, ok = l.Consider(ctx, zoneViolation(0, "z1", t0.Add(16*time.Second)))
	require.True(t, ok)
	require.Len(t, store.saved, 2)
	require.Equal(t, 2, l.Len())
}

func TestCooldownKeysAreIndependent(t *testing.T) {
	l := newLogForTest(nil, testConfig())
	ctx := context.Background()
	_, ok := l.Consider(ctx, zoneViolation(0, "z1", t0))
	require.True(t, ok)
	_, ok = l.Consider(ctx, zoneViolation(0, "z2", t0))
	require.True(t, ok)
	_, ok = l.Consider(ctx, zoneViolation(1, "z1", t0))
	require.True(t, ok)

	door := model.NewDoorViolation(0, t0, model.UnknownSubject(), model.DoorViolation{DoorName: "Office 1", Movement: model.MovementAppeared})
	_, ok = l.Consider(ctx, door)
	require.True(t, ok)
	door.At = t0.Add(10 * time.Second)
	_, ok = l.Consider(ctx, door)
	require.False(t, ok)
}

func TestAlertFields(t *testing.T) {
	notes := &captureNotifier{}
	l := newLogForTest(nil, testConfig(), WithNotifiers(notes))
	v := model.NewDoorViolation(2, t0, model.Subject{Name: "Alice", Role: "Visitor"},
		model.DoorViolation{DoorID: "d1", DoorName: "Vault", Movement: model.MovementAppeared})
	a, ok := l.Consider(context.Background(), v)
	require.True(t, ok)
	require.Equal(t, "a1", a.ID)
	require.Equal(t, model.AlertDoorAccess, a.AlertType)
	require.Equal(t, "Alice", a.PersonName)
	require.False(t, a.Authorized)
	require.Equal(t, "Vault", a.ZoneName)
	require.Equal(t, model.ResolutionNone, a.Resolution)
	require.Contains(t, a.Details, "Vault")

	require.Len(t, notes.events, 1)
	require.Equal(t, "Vault", notes.events[0].PlaceName)
	require.Equal(t, 2, notes.events[0].FeedID)
}

func TestInvalidViolationIgnored(t *testing.T) {
	l := newLogForTest(nil, testConfig())
	_, ok := l.Consider(context.Background(), model.Violation{Type: model.AlertZonePresence, FeedID: 1})
	require.False(t, ok)
	require.Zero(t, l.Cooldown().Len())
}

func TestResolveAcknowledgeAndClear(t *testing.T) {
	store := &fakeStore{}
	l := newLogForTest(store, testConfig())
	ctx := context.Background()
	a1, _ := l.Consider(ctx, zoneViolation(0, "z1", t0))
	a2, _ := l.Consider(ctx, zoneViolation(0, "z2", t0.Add(time.Second)))

	acked, err := l.Acknowledge(ctx, a2.ID)
	require.NoError(t, err)
	require.True(t, acked.Acknowledged)
	require.Equal(t, model.ResolutionNone, acked.Resolution)

	resolved, err := l.Resolve(ctx, a1.ID, " door was propped ")
	require.NoError(t, err)
	require.Equal(t, model.ResolutionProblemFixed, resolved.Resolution)
	require.Equal(t, "door was propped", resolved.ResolutionReason)
	require.NotNil(t, resolved.ResolvedAt)
	require.Len(t, store.updated, 2)

	active := l.List(Filter{State: StateActive})
	require.Len(t, active, 1)
	require.Equal(t, a2.ID, active[0].ID)

	all := l.List(Filter{State: StateAll})
	require.Len(t, all, 2)
	require.Equal(t, a2.ID, all[0].ID, "newest first")

	require.Len(t, l.List(Filter{State: StateResolved}), 1)
	require.Len(t, l.List(Filter{State: StateAcknowledged}), 1)

	_, err = l.Resolve(ctx, "missing", "")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, l.ClearAll(ctx))
	require.Empty(t, l.List(Filter{State: StateActive}))
	require.Empty(t, l.List(Filter{State: StateAll}))
	require.True(t, store.cleared)
}

func TestListFilters(t *testing.T) {
	l := newLogForTest(nil, testConfig())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Consider(ctx, zoneViolation(i%2, "z"+strconv.Itoa(i), t0.Add(time.Duration(i)*time.Minute)))
	}
	require.Len(t, l.List(Filter{Limit: 2}), 2)
	require.Len(t, l.List(Filter{Since: t0.Add(3 * time.Minute)}), 2)
	feed := 1
	require.Len(t, l.List(Filter{FeedID: &feed}), 2)
}

func TestLogCapKeepsNewest(t *testing.T) {
	cfg := testConfig()
	cfg.StoreLimit = 3
	l := newLogForTest(nil, cfg)
	for i := 0; i < 5; i++ {
		l.Consider(context.Background(), zoneViolation(0, "z"+strconv.Itoa(i), t0))
	}
	got := l.List(Filter{})
	require.Len(t, got, 3)
	require.Equal(t, "a5", got[0].ID)
	require.Equal(t, "a3", got[2].ID)
}

func TestPersistenceRetriedOnce(t *testing.T) {
	store := &fakeStore{fail: 1}
	l := newLogForTest(store, testConfig())
	_, ok := l.Consider(context.Background(), zoneViolation(0, "z1", t0))
	require.True(t, ok)
	require.Equal(t, 2, store.calls)
	require.Len(t, store.saved, 1)
}

func TestPersistenceFailureKeepsCooldownByDefault(t *testing.T) {
	store := &fakeStore{fail: 2}
	l := newLogForTest(store, testConfig())
	ctx := context.Background()
	_, ok := l.Consider(ctx, zoneViolation(0, "z1", t0))
	require.True(t, ok)
	require.Empty(t, store.saved)

	_, ok = l.Consider(ctx, zoneViolation(0, "z1", t0.Add(time.Second)))
	require.False(t, ok)
}

func TestPersistenceFailureRearms(t *testing.T) {
	cfg := testConfig()
	cfg.RearmOnPersistFailure = true
	store := &fakeStore{fail: 2}
	l := newLogForTest(store, cfg)
	ctx := context.Background()

	_, ok := l.Consider(ctx, zoneViolation(0, "z1", t0))
	require.False(t, ok)
	require.Zero(t, l.Len())

	a, ok := l.Consider(ctx, zoneViolation(0, "z1", t0.Add(time.Second)))
	require.True(t, ok)
	require.Len(t, store.saved, 1)
	require.Equal(t, a.ID, store.saved[0].ID)
}

func TestConcurrentConsider(t *testing.T) {
	l := newLogForTest(nil, testConfig(), WithIDs(func() string { return "x" }))
	var wg sync.WaitGroup
	var mu sync.Mutex
	fired := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := l.Consider(context.Background(), zoneViolation(0, "z1", t0)); ok {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, fired)
}

func TestParseState(t *testing.T) {
	st, err := ParseState("")
	require.NoError(t, err)
	require.Equal(t, StateAll, st)
	st, err = ParseState("Active")
	require.NoError(t, err)
	require.Equal(t, StateActive, st)
	_, err = ParseState("open")
	require.Error(t, err)
}
