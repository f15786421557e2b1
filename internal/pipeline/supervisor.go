// Package pipeline runs one sequential evaluation loop per feed and fans the results out.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"zoneguard/internal/alerts"
	"zoneguard/internal/config"
	"zoneguard/internal/doors"
	"zoneguard/internal/ingest"
	"zoneguard/internal/metrics"
	"zoneguard/internal/model"
	"zoneguard/internal/policy"
	"zoneguard/internal/registry"
)

const (
	inboxSize            = 64
	defaultFlushInterval = 30 * time.Second
)

// Detector returns the current detections of a feed.
type Detector interface {
	Detect(ctx context.Context, feedID int) (model.DetectionBatch, error)
}

type MetricsSink interface {
	SaveMetrics(ctx context.Context, stats []model.FeedStats) error
}

// Options carries the shared collaborators. Nil fields get in-memory defaults.
type Options struct {
	Registry      *registry.Registry
	Alerts        *alerts.Log
	Metrics       *metrics.Store
	Sightings     *doors.Sightings
	Sink          MetricsSink
	Logger        *slog.Logger
	Now           func() time.Time
	FlushInterval time.Duration
	// NewDetector builds the poller for feeds with a detector_url.
	NewDetector func(url string) (Detector, error)
}

type feedLoop struct {
	cancel context.CancelFunc
	in     chan model.DetectionBatch
	done   chan struct{}
}

type Supervisor struct {
	cfg         *config.Manager
	registry    *registry.Registry
	alerts      *alerts.Log
	metrics     *metrics.Store
	sightings   *doors.Sightings
	sink        MetricsSink
	logger      *slog.Logger
	now         func() time.Time
	flushEvery  time.Duration
	newDetector func(url string) (Detector, error)
	hub         *Hub
	policy      atomic.Value

	mu      sync.Mutex
	base    context.Context
	feeds   map[int]*feedLoop
	stopped map[int]bool
}

func NewSupervisor(cfg *config.Manager, opts Options) *Supervisor {
	current := cfg.Get()
	s := &Supervisor{
		cfg:         cfg,
		registry:    opts.Registry,
		alerts:      opts.Alerts,
		metrics:     opts.Metrics,
		sightings:   opts.Sightings,
		sink:        opts.Sink,
		logger:      opts.Logger,
		now:         opts.Now,
		flushEvery:  opts.FlushInterval,
		newDetector: opts.NewDetector,
		hub:         NewHub(8),
		feeds:       make(map[int]*feedLoop),
		stopped:     make(map[int]bool),
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	if s.registry == nil {
		s.registry = registry.New(nil)
	}
	if s.alerts == nil {
		s.alerts = alerts.NewLog(current.Alerts, nil, s.logger)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewStore(current.Metrics.StoreLimit)
	}
	if s.sightings == nil {
		s.sightings = doors.NewSightings(current.Doors.BufferSize, current.Doors.Retention)
	}
	if s.flushEvery <= 0 {
		s.flushEvery = defaultFlushInterval
	}
	if s.newDetector == nil {
		s.newDetector = func(url string) (Detector, error) {
			d, err := ingest.NewHTTPDetector(url, &http.Client{})
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	s.UpdateConfig(current)
	return s
}

// UpdateConfig swaps the policy settings. Running feeds keep their tracking settings until restarted.
func (s *Supervisor) UpdateConfig(cfg *config.Config) {
	loc, err := cfg.Policy.Location()
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("policy timezone invalid, using local", "timezone", cfg.Policy.Timezone, "err", err)
		}
		loc = time.Local
	}
	s.policy.Store(policy.NewEvaluator(loc, cfg.Policy.BypassRoles))
}

// Allowed applies the current restriction policy.
func (s *Supervisor) Allowed(subject model.Subject, rule model.Rule, at time.Time) bool {
	ev, _ := s.policy.Load().(*policy.Evaluator)
	return ev.Allowed(subject, rule, at)
}

func (s *Supervisor) Hub() *Hub {
	return s.hub
}

func (s *Supervisor) Subscribe(feedID int) (<-chan model.FrameResult, func()) {
	return s.hub.Subscribe(feedID)
}

// Run starts the enabled feeds, routes pushed batches to their loops and stops everything
// when ctx is done.
func (s *Supervisor) Run(ctx context.Context, in <-chan model.DetectionBatch) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	for _, feed := range s.cfg.Get().Feeds {
		if !feed.Enabled {
			s.mu.Lock()
			s.stopped[feed.ID] = true
			s.mu.Unlock()
			continue
		}
		if err := s.Start(feed.ID); err != nil && s.logger != nil {
			s.logger.Error("feed start failed", "feed_id", feed.ID, "err", err)
		}
	}

	var flush <-chan time.Time
	if s.sink != nil {
		ticker := time.NewTicker(s.flushEvery)
		defer ticker.Stop()
		flush = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			s.StopAll()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.flushMetrics(shutdownCtx)
			cancel()
			return
		case b, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			s.Dispatch(b)
		case <-flush:
			s.flushMetrics(ctx)
		}
	}
}

// Start launches the loop of feedID. Feeds with a detector_url poll it every sampling
// interval; every feed also accepts pushed batches.
func (s *Supervisor) Start(feedID int) error {
	cfg := s.cfg.Get()
	feed, ok := cfg.Feed(feedID)
	if !ok {
		feed = config.FeedConfig{ID: feedID}
	}
	var det Detector
	if feed.DetectorURL != "" {
		var err error
		if det, err = s.newDetector(feed.DetectorURL); err != nil {
			return fmt.Errorf("feed %d: %w", feedID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stopped, feedID)
	if _, running := s.feeds[feedID]; running {
		return nil
	}
	s.startLocked(cfg, feed, det)
	return nil
}

func (s *Supervisor) startLocked(cfg *config.Config, feed config.FeedConfig, det Detector) *feedLoop {
	base := s.base
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	loop := &feedLoop{
		cancel: cancel,
		in:     make(chan model.DetectionBatch, inboxSize),
		done:   make(chan struct{}),
	}
	s.feeds[feed.ID] = loop
	st := s.newFeedState(cfg, feed)
	go func() {
		defer close(loop.done)
		s.runFeed(ctx, st, loop.in, det, cfg.Sampling)
	}()
	if st.logger != nil {
		st.logger.Info("feed started", "polling", det != nil)
	}
	return loop
}

// Stop ends the loop of feedID and discards its state. Pushed batches for a stopped
// feed are dropped until it is started again.
func (s *Supervisor) Stop(feedID int) bool {
	s.mu.Lock()
	loop, ok := s.feeds[feedID]
	delete(s.feeds, feedID)
	s.stopped[feedID] = true
	s.mu.Unlock()
	if !ok {
		return false
	}
	loop.cancel()
	<-loop.done
	if !s.teardown(feedID) && s.logger != nil {
		s.logger.Debug("feed restarted while stopping, state kept", "feed_id", feedID)
	}
	if s.logger != nil {
		s.logger.Info("feed stopped", "feed_id", feedID)
	}
	return true
}

// teardown drops the sightings and live subscribers of feedID unless a new loop was
// started for it while the old one drained.
func (s *Supervisor) teardown(feedID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, restarted := s.feeds[feedID]; restarted {
		return false
	}
	s.sightings.Forget(feedID)
	s.hub.CloseFeed(feedID)
	return true
}

func (s *Supervisor) StopAll() {
	for _, id := range s.Running() {
		s.Stop(id)
	}
}

// Running lists the feeds with a live loop.
func (s *Supervisor) Running() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.feeds))
	for id := range s.feeds {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Dispatch hands a pushed batch to its feed loop, starting the loop on first contact.
func (s *Supervisor) Dispatch(b model.DetectionBatch) bool {
	s.mu.Lock()
	loop, ok := s.feeds[b.FeedID]
	if !ok {
		if s.stopped[b.FeedID] {
			s.mu.Unlock()
			return false
		}
		cfg := s.cfg.Get()
		feed, known := cfg.Feed(b.FeedID)
		if !known {
			feed = config.FeedConfig{ID: b.FeedID}
		}
		loop = s.startLocked(cfg, feed, nil)
	}
	s.mu.Unlock()

	select {
	case loop.in <- b:
		return true
	default:
		if s.logger != nil {
			s.logger.Warn("feed inbox full, batch dropped", "feed_id", b.FeedID, "seq", b.Seq)
		}
		s.metrics.Add(b.FeedID, model.FeedStats{Rejected: 1})
		return false
	}
}

func (s *Supervisor) runFeed(ctx context.Context, st *FeedState, in <-chan model.DetectionBatch, det Detector, sampling config.SamplingConfig) {
	var tick <-chan time.Time
	if det != nil {
		ticker := time.NewTicker(sampling.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-in:
			b.FeedID = st.FeedID
			s.process(ctx, st, b, false)
		case <-tick:
			s.poll(ctx, st, det, sampling.DetectorTimeout)
		}
	}
}

// poll calls the detector once. A failed or timed out call becomes a degraded frame.
func (s *Supervisor) poll(ctx context.Context, st *FeedState, det Detector, timeout time.Duration) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	b, err := det.Detect(callCtx, st.FeedID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if st.logger != nil {
			st.logger.Warn("detector call failed", "err", err)
		}
		s.metrics.Add(st.FeedID, model.FeedStats{DetectorFailures: 1})
		s.process(ctx, st, model.DetectionBatch{FeedID: st.FeedID, CapturedAt: s.now()}, true)
		return
	}
	b.FeedID = st.FeedID
	s.process(ctx, st, b, false)
}

func (s *Supervisor) flushMetrics(ctx context.Context) {
	if s.sink == nil {
		return
	}
	stats := s.metrics.GetAll()
	if len(stats) == 0 {
		return
	}
	if err := s.sink.SaveMetrics(ctx, stats); err != nil && s.logger != nil {
		s.logger.Warn("metrics flush failed", "err", err)
	}
}

