package model

import "time"

// FeedStats are cumulative counters for one feed loop.
type FeedStats struct {
	FeedID           int       `json:"feed_id"`
	Frames           int64     `json:"frames"`
	DetectorFailures int64     `json:"detector_failures"`
	Rejected         int64     `json:"rejected"`
	Violations       int64     `json:"violations"`
	Alerts           int64     `json:"alerts"`
	Suppressed       int64     `json:"suppressed"`
	LastFrameAt      time.Time `json:"last_frame_at,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Add accumulates the counters of d and keeps the later frame time.
func (s *FeedStats) Add(d FeedStats) {
	s.Frames += d.Frames
	s.DetectorFailures += d.DetectorFailures
	s.Rejected += d.Rejected
	s.Violations += d.Violations
	s.Alerts += d.Alerts
	s.Suppressed += d.Suppressed
	if d.LastFrameAt.After(s.LastFrameAt) {
		s.LastFrameAt = d.LastFrameAt
	}
}
