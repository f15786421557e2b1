package tracking

import (
	"time"

	"github.com/google/uuid"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

type bodyTrack struct {
	id       string
	bbox     model.BBox
	lastSeen time.Time

	identity model.Detection
	lockedAt time.Time
}

// BodyTracker locks a confidently recognized face to the person box containing it,
// so the subject keeps its identity while the face is turned away. Tracks also give
// line crossing a stable per-person id.
type BodyTracker struct {
	cfg    config.BodyTrackerConfig
	tracks []*bodyTrack
}

func NewBodyTracker(cfg config.BodyTrackerConfig) *BodyTracker {
	return &BodyTracker{cfg: cfg}
}

func (b *BodyTracker) Reset() {
	b.tracks = nil
}

func (b *BodyTracker) Len() int {
	return len(b.tracks)
}

// Update matches this frame's person boxes to tracks and returns one detection per
// person, plus the faces that sit in no person box.
func (b *BodyTracker) Update(persons []model.BBox, faces []model.Detection, now time.Time) []model.Detection {
	live := b.tracks[:0]
	for _, t := range b.tracks {
		if now.Sub(t.lastSeen) < b.cfg.BodyTTL {
			live = append(live, t)
		}
	}
	b.tracks = live

	used := make(map[*bodyTrack]bool, len(b.tracks))
	assigned := make([]*bodyTrack, len(persons))
	for i, box := range persons {
		var best *bodyTrack
		bestIoU := 0.0
		for _, t := range b.tracks {
			if used[t] {
				continue
			}
			if v := box.IoU(t.bbox); v > bestIoU {
				best, bestIoU = t, v
			}
		}
		if best == nil || bestIoU < b.cfg.IOUThreshold {
			best = &bodyTrack{id: uuid.NewString()}
			b.tracks = append(b.tracks, best)
		}
		best.bbox = box
		best.lastSeen = now
		used[best] = true
		assigned[i] = best
	}

	for _, f := range faces {
		if f.IdentityID == "" && !f.Known() {
			continue
		}
		if f.Score < b.cfg.MinLockScore {
			continue
		}
		i := FaceOwner(f.BBox, persons, b.cfg.FaceOverlap)
		if i < 0 {
			continue
		}
		t := assigned[i]
		t.identity = f
		t.lockedAt = now
	}

	out := make([]model.Detection, 0, len(persons)+len(faces))
	for i, box := range persons {
		t := assigned[i]
		d := model.Detection{BBox: box, Name: model.UnknownName, TrackID: t.id}
		if !t.lockedAt.IsZero() && now.Sub(t.lockedAt) <= b.cfg.IdentityTTL {
			d.IdentityID = t.identity.IdentityID
			d.Name = t.identity.Name
			d.Role = t.identity.Role
			d.Authorized = t.identity.Authorized
			d.Score = t.identity.Score
		}
		out = append(out, d)
	}
	for _, f := range faces {
		if FaceOwner(f.BBox, persons, b.cfg.FaceOverlap) < 0 {
			out = append(out, f)
		}
	}
	return out
}

// FaceOwner returns the index of the person box covering the largest share of face,
// or -1 when no box covers more than minOverlap of it.
func FaceOwner(face model.BBox, persons []model.BBox, minOverlap float64) int {
	best, bestOv := -1, minOverlap
	for i, p := range persons {
		if ov := p.OverlapOf(face); ov > bestOv {
			best, bestOv = i, ov
		}
	}
	return best
}
