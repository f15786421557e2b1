package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"zoneguard/internal/alerts"
	"zoneguard/internal/config"
	"zoneguard/internal/metrics"
	"zoneguard/internal/model"
	"zoneguard/internal/pipeline"
	"zoneguard/internal/registry"
)

type fakeFeeds struct {
	mu      sync.Mutex
	running map[int]bool
	hub     *pipeline.Hub
}

func newFakeFeeds() *fakeFeeds {
	return &fakeFeeds{running: map[int]bool{}, hub: pipeline.NewHub(4)}
}

func (f *fakeFeeds) Start(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[id] = true
	return nil
}

func (f *fakeFeeds) Stop(id int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running[id] {
		return false
	}
	delete(f.running, id)
	f.hub.CloseFeed(id)
	return true
}

func (f *fakeFeeds) Running() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []int{}
	for id := range f.running {
		out = append(out, id)
	}
	return out
}

func (f *fakeFeeds) Subscribe(id int) (<-chan model.FrameResult, func()) {
	return f.hub.Subscribe(id)
}

type testEnv struct {
	handler http.Handler
	reg     *registry.Registry
	log     *alerts.Log
	metrics *metrics.Store
	feeds   *fakeFeeds
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	reg := registry.New(nil)
	_, err := reg.Load(context.Background())
	require.NoError(t, err)
	log := alerts.NewLog(cfg.Alerts, nil, nil)
	store := metrics.NewStore(16)
	feeds := newFakeFeeds()
	srv := NewServer(config.NewStaticManager(cfg), reg, log, store, feeds, nil, "test")
	return testEnv{handler: srv.Handler(), reg: reg, log: log, metrics: store, feeds: feeds}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func (e testEnv) fire(t *testing.T, feedID int, zone string) model.Alert {
	t.Helper()
	v := model.NewZoneViolation(model.AlertZonePresence, feedID, time.Now().UTC(), model.Subject{Name: "Alice", Role: "Visitor"},
		model.ZoneViolation{ZoneID: zone, ZoneName: zone, ZoneType: model.ZonePolygon})
	a, ok := e.log.Consider(context.Background(), v)
	require.True(t, ok)
	return a
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.feeds.Start(3))
	rec := env.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[statusResponse](t, rec)
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "test", resp.Version)
	require.Equal(t, []int{3}, resp.FeedsRunning)
}

func TestWrongMethodIsRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/admin/clear", "")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestZoneLifecycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/zones", `{"feed_id":0,"zone_type":"polygon","points":[[0.1,0.1],[0.5,0.5]]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/zones", `{"feed_id":0,"zone_type":"polygon","points":[[0.1,0.1],[0.9,0.1],[0.9,0.9]],"authorized_roles":["Admin"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[model.Zone](t, rec)
	require.NotEmpty(t, created.ID)
	require.True(t, created.Active)
	require.Equal(t, registry.DefaultZoneName, created.Name)

	rec = env.do(t, http.MethodPut, "/zones/"+created.ID, `{"name":"Lab","id":"hijack"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[model.Zone](t, rec)
	require.Equal(t, created.ID, updated.ID)
	require.Equal(t, "Lab", updated.Name)
	require.Len(t, updated.Points, 3)

	rec = env.do(t, http.MethodPut, "/zones/"+created.ID, `{"points":[[2,2],[3,3],[4,4]]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	stored, err := env.reg.Zone(created.ID)
	require.NoError(t, err)
	require.Equal(t, created.Points, stored.Points)

	rec = env.do(t, http.MethodPut, "/zones/"+created.ID, `{"points":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/zones?feed_id=0", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodDelete, "/zones/"+created.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(t, http.MethodGet, "/zones/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodDelete, "/zones/"+created.ID, "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDoorsAndAreas(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/doors", `{"name":"Server Room","feed_id":2,"point":[0.5,0.5],"allowed_roles":["C-Level"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	door := decode[model.Door](t, rec)
	require.Equal(t, model.LevelRestricted, door.RestrictionLevel)

	rec = env.do(t, http.MethodPost, "/doors", `{"name":"Bad","feed_id":2,"restriction_level":"secret"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPut, "/doors/"+door.ID, `{"restriction_level":"public"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, model.LevelPublic, decode[model.Door](t, rec).RestrictionLevel)

	rec = env.do(t, http.MethodPut, "/doors/missing", `{"name":"x"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/areas", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodPut, "/areas", `{"areas":[{"id":"lobby","name":"Lobby","face_feed_id":4,"door_feed_id":5}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.reg.Areas(), 1)

	rec = env.do(t, http.MethodPut, "/areas", `{"areas":[{"name":"no id","face_feed_id":4,"door_feed_id":5}]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/doors/"+door.ID, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRoles(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/roles", `{"role":"C-Level"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, env.reg.Roles(), "C-Level")

	rec = env.do(t, http.MethodPost, "/roles", `{"role":"  "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodDelete, "/roles/c-level", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, env.reg.Roles(), "C-Level")

	rec = env.do(t, http.MethodDelete, "/roles/Ghost", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertWorkflow(t *testing.T) {
	env := newTestEnv(t)
	first := env.fire(t, 0, "lab")
	second := env.fire(t, 1, "vault")

	rec := env.do(t, http.MethodGet, "/alerts?state=active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(2), decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/alerts?feed_id=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodPost, "/alerts/"+first.ID+"/ack", "")
	require.Equal(t, http.StatusOK, rec.Code)
	acked := decode[model.Alert](t, rec)
	require.True(t, acked.Acknowledged)
	require.Equal(t, model.ResolutionNone, acked.Resolution)

	rec = env.do(t, http.MethodPost, "/alerts/"+second.ID+"/resolve", `{"reason":" badge reissued "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resolved := decode[model.Alert](t, rec)
	require.Equal(t, model.ResolutionProblemFixed, resolved.Resolution)
	require.Equal(t, "badge reissued", resolved.ResolutionReason)
	require.NotNil(t, resolved.ResolvedAt)

	rec = env.do(t, http.MethodGet, "/alerts?state=active", "")
	require.Equal(t, float64(1), decode[map[string]any](t, rec)["count"])
	rec = env.do(t, http.MethodGet, "/alerts?state=resolved", "")
	require.Equal(t, float64(1), decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/alerts/"+first.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/alerts/nope/ack", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	for _, q := range []string{"state=open", "limit=-1", "limit=x", "since=yesterday", "feed_id=a"} {
		rec = env.do(t, http.MethodGet, "/alerts?"+q, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	// A malformed body must not fall through to clearing everything.
	before := env.log.Len()
	require.NotZero(t, before)
	env.metrics.Add(1, model.FeedStats{Frames: 1})
	for _, body := range []string{`{"target": "metrics"`, `[1,2]`, `{"target": 7}`} {
		rec = env.do(t, http.MethodPost, "/admin/clear", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		require.Equal(t, before, env.log.Len(), body)
		require.Len(t, env.metrics.GetAll(), 1, body)
	}

	rec = env.do(t, http.MethodPost, "/admin/clear", `{"target":"alerts"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, env.log.Len())

	rec = env.do(t, http.MethodPost, "/admin/clear", `{"target":"everything"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.metrics.Add(1, model.FeedStats{Frames: 3, Alerts: 1})

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, float64(1), decode[map[string]any](t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/metrics/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, int64(3), decode[model.FeedStats](t, rec).Frames)

	rec = env.do(t, http.MethodGet, "/metrics/9", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/admin/clear", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, env.metrics.GetAll())
}

func TestFeedStartStop(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/feeds/2/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []int{2}, env.feeds.Running())

	rec = env.do(t, http.MethodGet, "/feeds", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/feeds/2/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodPost, "/feeds/2/stop", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodPost, "/feeds/x/start", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLiveFeedStreamsFrameResults(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.feeds.Start(1))
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/feeds/1/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.feeds.hub.Count(1) == 1 }, 2*time.Second, 10*time.Millisecond)
	env.feeds.hub.Publish(model.FrameResult{
		FeedID:     1,
		Seq:        9,
		Detections: []model.Detection{{Name: "Alice"}},
		ZoneHits:   []model.ZoneHit{},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res model.FrameResult
	require.NoError(t, conn.ReadJSON(&res))
	require.Equal(t, uint64(9), res.Seq)
	require.Equal(t, "Alice", res.Detections[0].Name)

	require.True(t, env.feeds.Stop(1))
	_, _, err = conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}
