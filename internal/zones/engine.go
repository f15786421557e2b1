// Package zones evaluates subjects against the polygon and line zones drawn on a feed.
package zones

import (
	"strconv"
	"time"

	"zoneguard/internal/geometry"
	"zoneguard/internal/model"
)

const (
	ContainAnchor  = "anchor"
	ContainFullBox = "full_box"
)

// Authorizer decides whether a subject may be inside a zone.
type Authorizer interface {
	Allowed(subject model.Subject, rule model.Rule, at time.Time) bool
}

// Frame is one analyzed frame of the engine's feed.
type Frame struct {
	At        time.Time
	Size      model.Size
	Subjects  []model.Detection
	Projector *geometry.Projector
}

// Outcome is the zone part of a frame result plus the violations it produced.
type Outcome struct {
	Hits       []model.ZoneHit
	Violations []model.Violation
}

// Engine holds the per (zone, track) line state of one feed. It is owned by the feed loop.
type Engine struct {
	feedID      int
	containment string
	auth        Authorizer
	lines       map[string]map[string]*LineState
}

func NewEngine(feedID int, containment string, auth Authorizer) *Engine {
	if containment != ContainFullBox {
		containment = ContainAnchor
	}
	return &Engine{
		feedID:      feedID,
		containment: containment,
		auth:        auth,
		lines:       make(map[string]map[string]*LineState),
	}
}

// Reset discards all line state.
func (e *Engine) Reset() {
	e.lines = make(map[string]map[string]*LineState)
}

// Tracked is the number of (zone, track) line states held.
func (e *Engine) Tracked() int {
	n := 0
	for _, m := range e.lines {
		n += len(m)
	}
	return n
}

// Evaluate checks every active zone of the feed against every subject in f.
// Presence is reported every frame the subject is inside; crossings once per side change.
func (e *Engine) Evaluate(zones []model.Zone, f Frame) Outcome {
	var out Outcome
	seenZones := make(map[string]bool, len(zones))
	seenTracks := make(map[string]bool, len(f.Subjects))

	for i, subj := range f.Subjects {
		seenTracks[trackKey(subj, i)] = true
	}

	for _, z := range zones {
		if !z.Active || z.FeedID != e.feedID {
			continue
		}
		seenZones[z.ID] = true
		switch z.Type {
		case model.ZonePolygon:
			e.evalPolygon(z, f, &out)
		case model.ZoneLine:
			e.evalLine(z, f, &out)
		}
	}

	e.purge(seenZones, seenTracks)
	return out
}

func (e *Engine) evalPolygon(z model.Zone, f Frame, out *Outcome) {
	if len(z.Points) < 3 {
		return
	}
	for i, subj := range f.Subjects {
		anchor, ok := f.Projector.Project(subj.BBox.BottomCenter(), f.Size)
		if !ok {
			continue
		}
		inside := false
		if e.containment == ContainFullBox {
			inside = e.boxInside(z.Points, subj.BBox, f)
		} else {
			inside = geometry.PolygonContains(z.Points, anchor)
		}
		if !inside {
			continue
		}
		e.report(z, model.AlertZonePresence, subj, trackKey(subj, i), anchor, f, out)
	}
}

func (e *Engine) boxInside(poly []model.Point, box model.BBox, f Frame) bool {
	var corners [4]model.Point
	for i, c := range box.Corners() {
		p, ok := f.Projector.Project(c, f.Size)
		if !ok {
			return false
		}
		corners[i] = p
	}
	return geometry.BoxInside(poly, corners)
}

func (e *Engine) evalLine(z model.Zone, f Frame, out *Outcome) {
	if len(z.Points) != 2 {
		return
	}
	states := e.lines[z.ID]
	if states == nil {
		states = make(map[string]*LineState)
		e.lines[z.ID] = states
	}
	a, b := z.Points[0], z.Points[1]
	for i, subj := range f.Subjects {
		anchor, ok := f.Projector.Project(subj.BBox.BottomCenter(), f.Size)
		if !ok {
			continue
		}
		key := trackKey(subj, i)
		st := states[key]
		if st == nil {
			st = &LineState{}
			states[key] = st
		}
		if st.Observe(geometry.LineSide(a, b, anchor)) {
			e.report(z, model.AlertLineCrossing, subj, key, anchor, f, out)
		}
	}
}

func (e *Engine) report(z model.Zone, t model.AlertType, subj model.Detection, track string, anchor model.Point, f Frame, out *Outcome) {
	subject := subj.Subject()
	allowed := e.auth != nil && e.auth.Allowed(subject, z.Rule(), f.At)
	out.Hits = append(out.Hits, model.ZoneHit{
		ZoneID:     z.ID,
		ZoneName:   z.Name,
		ZoneType:   z.Type,
		AlertType:  t,
		TrackID:    track,
		BBox:       subj.BBox,
		Anchor:     anchor,
		PersonName: subject.Name,
		PersonRole: subject.Role,
		Authorized: allowed,
	})
	if allowed {
		return
	}
	out.Violations = append(out.Violations, model.NewZoneViolation(t, e.feedID, f.At, subject, model.ZoneViolation{
		ZoneID:   z.ID,
		ZoneName: z.Name,
		ZoneType: z.Type,
		TrackID:  track,
		Anchor:   anchor,
		BBox:     subj.BBox,
	}))
}

// purge drops state for zones that are gone and for subjects that left the frame.
// An empty frame clears the feed entirely.
func (e *Engine) purge(zones, tracks map[string]bool) {
	if len(tracks) == 0 {
		e.Reset()
		return
	}
	for zid, states := range e.lines {
		if !zones[zid] {
			delete(e.lines, zid)
			continue
		}
		for key := range states {
			if !tracks[key] {
				delete(states, key)
			}
		}
	}
}

func trackKey(d model.Detection, i int) string {
	if d.TrackID != "" {
		return d.TrackID
	}
	return "idx-" + strconv.Itoa(i)
}
