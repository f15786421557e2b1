// Package tracking keeps per-feed identity state between sampled frames.
// Nothing here is safe for concurrent use: each feed loop owns its own trackers.
package tracking

import (
	"strconv"
	"time"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

// TrackedSubject is the last known state of one face box in a feed.
type TrackedSubject struct {
	ID         string
	BBox       model.BBox
	IdentityID string
	Name       string
	Role       string
	Authorized bool
	LastSeen   time.Time
	misses     int
}

func (t *TrackedSubject) known() bool {
	return model.IsKnownName(t.Name)
}

// Stabilizer carries labels across frames so a momentarily unsure recognizer
// does not make names flicker. It never turns an unmatched unknown face into a name.
type Stabilizer struct {
	confidence float64
	overlap    float64
	silence    int

	tracked []*TrackedSubject
	nextID  int
}

func NewStabilizer(cfg config.StabilizerConfig) *Stabilizer {
	silence := cfg.SilenceFrames
	if silence <= 0 {
		silence = 1
	}
	return &Stabilizer{
		confidence: cfg.ConfidenceThreshold,
		overlap:    cfg.OverlapThreshold,
		silence:    silence,
	}
}

// Tracked returns the current subjects. The slice is owned by the stabilizer.
func (s *Stabilizer) Tracked() []*TrackedSubject {
	return s.tracked
}

// Reset forgets every tracked subject.
func (s *Stabilizer) Reset() {
	s.tracked = nil
}

// Trusted reports whether the recognizer's label on d is used as is.
func (s *Stabilizer) Trusted(d model.Detection) bool {
	return d.Score >= s.confidence && d.Known()
}

// Stabilize returns a copy of dets with sticky labels applied and TrackID set,
// then advances the tracked set: matched subjects are refreshed, unmatched detections
// start new subjects and subjects unseen for the silence window are dropped.
func (s *Stabilizer) Stabilize(dets []model.Detection, now time.Time) []model.Detection {
	out := make([]model.Detection, len(dets))
	copy(out, dets)

	for i := range out {
		d := &out[i]
		if s.Trusted(*d) {
			continue
		}
		best, iou := s.bestMatch(d.BBox, nil)
		if best == nil || iou < s.overlap || !best.known() {
			continue
		}
		d.IdentityID = best.IdentityID
		d.Name = best.Name
		d.Role = best.Role
		d.Authorized = best.Authorized
	}

	used := make(map[*TrackedSubject]bool, len(s.tracked))
	for i := range out {
		d := &out[i]
		t, iou := s.bestMatch(d.BBox, used)
		if t == nil || iou < s.overlap {
			t = s.newSubject()
		}
		used[t] = true
		t.BBox = d.BBox
		t.LastSeen = now
		t.misses = 0
		if d.Known() {
			t.IdentityID = d.IdentityID
			t.Name = d.Name
			t.Role = d.Role
			t.Authorized = d.Authorized
		}
		d.TrackID = t.ID
	}

	kept := s.tracked[:0]
	for _, t := range s.tracked {
		if !used[t] {
			t.misses++
			if t.misses >= s.silence {
				continue
			}
		}
		kept = append(kept, t)
	}
	s.tracked = kept
	return out
}

func (s *Stabilizer) bestMatch(box model.BBox, skip map[*TrackedSubject]bool) (*TrackedSubject, float64) {
	var best *TrackedSubject
	bestIoU := 0.0
	for _, t := range s.tracked {
		if skip[t] {
			continue
		}
		if v := box.IoU(t.BBox); v > bestIoU {
			best, bestIoU = t, v
		}
	}
	return best, bestIoU
}

func (s *Stabilizer) newSubject() *TrackedSubject {
	s.nextID++
	t := &TrackedSubject{ID: "face-" + strconv.Itoa(s.nextID)}
	s.tracked = append(s.tracked, t)
	return t
}
