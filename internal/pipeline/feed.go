package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"zoneguard/internal/config"
	"zoneguard/internal/doors"
	"zoneguard/internal/geometry"
	"zoneguard/internal/logging"
	"zoneguard/internal/model"
	"zoneguard/internal/tracking"
	"zoneguard/internal/zones"
)

// FeedState is everything one feed loop owns. It is discarded when the feed stops.
type FeedState struct {
	FeedID int

	logger     *slog.Logger
	projector  *geometry.Projector
	stabilizer *tracking.Stabilizer
	bodies     *tracking.BodyTracker
	zones      *zones.Engine
	door       *doors.Correlator

	lastSeq uint64
	lastAt  time.Time
}

// NewFeedState builds fresh state for feedID from the current config.
func (s *Supervisor) NewFeedState(feedID int) *FeedState {
	cfg := s.cfg.Get()
	feed, ok := cfg.Feed(feedID)
	if !ok {
		feed = config.FeedConfig{ID: feedID}
	}
	return s.newFeedState(cfg, feed)
}

func (s *Supervisor) newFeedState(cfg *config.Config, feed config.FeedConfig) *FeedState {
	logger := logging.ForFeed(s.logger, feed.ID)
	return &FeedState{
		FeedID:     feed.ID,
		logger:     logger,
		projector:  buildProjector(feed.Calibration, logger),
		stabilizer: tracking.NewStabilizer(cfg.Stabilizer),
		bodies:     tracking.NewBodyTracker(cfg.BodyTracker),
		zones:      zones.NewEngine(feed.ID, cfg.Zones.Containment, s),
		door:       doors.NewCorrelator(feed.ID, cfg.Doors.MoveThreshold, cfg.Doors.ContinuityIOU, s.sightings, s),
	}
}

func buildProjector(cal config.CalibrationConfig, logger *slog.Logger) *geometry.Projector {
	switch strings.ToLower(strings.TrimSpace(cal.Kind)) {
	case "", "identity":
		return geometry.Identity()
	case "homography":
		image, plan := cal.Points()
		p, err := geometry.NewHomography(image, plan)
		if err != nil {
			if logger != nil {
				logger.Warn("calibration rejected, using identity", "err", err)
			}
			return geometry.Identity()
		}
		return p
	}
	if logger != nil {
		logger.Warn("unknown calibration kind, using identity", "kind", cal.Kind)
	}
	return geometry.Identity()
}

// admit rejects re-delivered and out-of-order batches.
func (st *FeedState) admit(seq uint64, at time.Time) (string, bool) {
	if seq != 0 && st.lastSeq != 0 && seq <= st.lastSeq {
		return "duplicate_seq", false
	}
	if !st.lastAt.IsZero() {
		if at.Before(st.lastAt) {
			return "out_of_order", false
		}
		if seq == 0 && at.Equal(st.lastAt) {
			return "duplicate_timestamp", false
		}
	}
	if seq != 0 {
		st.lastSeq = seq
	}
	st.lastAt = at
	return "", true
}

// Process evaluates one batch on st. It returns false when the batch was rejected.
func (s *Supervisor) Process(ctx context.Context, st *FeedState, b model.DetectionBatch) (model.FrameResult, bool) {
	return s.process(ctx, st, b, false)
}

// process runs one frame. A degraded frame stands for a failed detector call: it is
// evaluated as a frame without detections and does not move the door state machine.
func (s *Supervisor) process(ctx context.Context, st *FeedState, b model.DetectionBatch, degraded bool) (model.FrameResult, bool) {
	at := b.CapturedAt
	if at.IsZero() {
		at = s.now()
	}
	if !degraded {
		if reason, ok := st.admit(b.Seq, at); !ok {
			if st.logger != nil {
				st.logger.Debug("batch rejected", "reason", reason, "seq", b.Seq, "captured_at", at)
			}
			s.metrics.Add(st.FeedID, model.FeedStats{Rejected: 1})
			return model.FrameResult{}, false
		}
	}

	faces := st.stabilizer.Stabilize(b.Faces, at)
	s.sightings.Record(st.FeedID, faces, at)

	subjects := faces
	var persons []model.Detection
	if len(b.Persons) > 0 {
		persons = st.bodies.Update(b.Persons, faces, at)
		subjects = persons
	}

	snap := s.registry.Snapshot(st.FeedID)
	zoneOut := st.zones.Evaluate(snap.Zones, zones.Frame{
		At:        at,
		Size:      b.Frame,
		Subjects:  subjects,
		Projector: st.projector,
	})

	res := model.FrameResult{
		FeedID:     st.FeedID,
		Seq:        b.Seq,
		CapturedAt: at,
		Detections: faces,
		Persons:    persons,
		ZoneHits:   zoneOut.Hits,
		Degraded:   degraded,
	}
	violations := zoneOut.Violations
	if degraded {
		res.DoorOutcome = model.DoorOutcome{Doors: []model.BBox{}, Allowed: true}
	} else {
		var target *doors.Target
		if t, ok := doors.ResolveTarget(st.FeedID, snap.Doors, snap.Areas); ok {
			target = &t
		}
		out, v := st.door.Observe(b.Doors, target, at)
		res.DoorOutcome = out
		if v != nil {
			violations = append(violations, *v)
		}
		if out.Hint != "" && st.logger != nil {
			st.logger.Debug("door movement without target", "movement", out.Movement)
		}
	}

	delta := model.FeedStats{Frames: 1, Violations: int64(len(violations)), LastFrameAt: at}
	for _, v := range violations {
		alert, fired := s.alerts.Consider(ctx, v)
		if !fired {
			delta.Suppressed++
			continue
		}
		delta.Alerts++
		res.Alerts = append(res.Alerts, alert)
	}
	s.metrics.Add(st.FeedID, delta)

	if res.Detections == nil {
		res.Detections = []model.Detection{}
	}
	if res.ZoneHits == nil {
		res.ZoneHits = []model.ZoneHit{}
	}
	s.hub.Publish(res)
	return res, true
}
