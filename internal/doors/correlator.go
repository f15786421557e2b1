package doors

import (
	"fmt"
	"time"

	"zoneguard/internal/model"
)

// DoorState is whether a door box was visible on the previous door frame.
type DoorState int

const (
	DoorAbsent DoorState = iota
	DoorPresent
)

func (s DoorState) String() string {
	if s == DoorPresent {
		return "present"
	}
	return "absent"
}

type Authorizer interface {
	Allowed(subject model.Subject, rule model.Rule, at time.Time) bool
}

// Target is the door rule a door feed is checked against.
type Target struct {
	DoorID    string
	Name      string
	Rule      model.Rule
	FaceFeeds []int
}

// ResolveTarget prefers a floor plan door bound to the feed and falls back to a door
// area whose door feed it is.
func ResolveTarget(feedID int, doors []model.Door, areas []model.DoorArea) (Target, bool) {
	for _, d := range doors {
		if d.FeedID == feedID {
			return Target{DoorID: d.ID, Name: d.Name, Rule: d.Rule(), FaceFeeds: d.FaceFeedIDs}, true
		}
	}
	for _, a := range areas {
		if a.DoorFeedID == feedID {
			return Target{DoorID: a.ID, Name: a.Name, Rule: a.Rule(), FaceFeeds: []int{a.FaceFeedID}}, true
		}
	}
	return Target{}, false
}

// Correlator is the door state machine of one door feed. It is owned by the feed loop.
type Correlator struct {
	feedID        int
	moveThreshold float64
	continuityIoU float64
	board         *Sightings
	auth          Authorizer

	state DoorState
	last  model.BBox
}

func NewCorrelator(feedID int, moveThreshold, continuityIoU float64, board *Sightings, auth Authorizer) *Correlator {
	return &Correlator{
		feedID:        feedID,
		moveThreshold: moveThreshold,
		continuityIoU: continuityIoU,
		board:         board,
		auth:          auth,
	}
}

func (c *Correlator) State() DoorState {
	return c.state
}

func (c *Correlator) Reset() {
	c.state = DoorAbsent
	c.last = model.BBox{}
}

// Step advances the state machine with this frame's door boxes and classifies the change.
// The largest box is taken as the door.
func (c *Correlator) Step(boxes []model.BBox) model.Movement {
	cur, ok := largest(boxes)
	switch {
	case c.state == DoorAbsent && !ok:
		return model.MovementNone
	case c.state == DoorAbsent && ok:
		c.state, c.last = DoorPresent, cur
		return model.MovementAppeared
	case c.state == DoorPresent && !ok:
		c.state, c.last = DoorAbsent, model.BBox{}
		return model.MovementDisappeared
	}
	prev := c.last
	c.last = cur
	if cur.IoU(prev) < c.continuityIoU || changed(prev, cur, c.moveThreshold) {
		return model.MovementShifted
	}
	return model.MovementNone
}

// Observe runs one door frame. target is nil when no door or area is configured for the feed,
// in which case movement is reported as a hint and never alerts.
func (c *Correlator) Observe(boxes []model.BBox, target *Target, at time.Time) (model.DoorOutcome, *model.Violation) {
	mv := c.Step(boxes)
	out := model.DoorOutcome{
		Doors:            boxes,
		MovementDetected: mv != model.MovementNone,
		Movement:         mv,
		Allowed:          true,
	}
	if out.Doors == nil {
		out.Doors = []model.BBox{}
	}
	if target == nil {
		if out.MovementDetected {
			out.Hint = fmt.Sprintf("door movement on feed %d but no door or door area is configured for it", c.feedID)
		}
		return out, nil
	}
	out.AreaName = target.Name

	subject := model.UnknownSubject()
	if c.board != nil {
		if sg, ok := c.board.Latest(target.FaceFeeds, at); ok {
			subject = sg.Subject
			out.LastPerson = &subject
		}
	}
	out.Allowed = c.auth != nil && c.auth.Allowed(subject, target.Rule, at)
	if !out.MovementDetected || out.Allowed {
		return out, nil
	}
	out.Alert = true
	v := model.NewDoorViolation(c.feedID, at, subject, model.DoorViolation{
		DoorID:   target.DoorID,
		DoorName: target.Name,
		Movement: mv,
	})
	return out, &v
}

func largest(boxes []model.BBox) (model.BBox, bool) {
	var best model.BBox
	found := false
	for _, b := range boxes {
		if b.Empty() {
			continue
		}
		if !found || b.Area() > best.Area() {
			best, found = b, true
		}
	}
	return best, found
}

// changed compares center shift and size change relative to the previous box.
func changed(prev, cur model.BBox, threshold float64) bool {
	w, h := prev.Width(), prev.Height()
	if w <= 0 || h <= 0 {
		return true
	}
	pc, cc := prev.Center(), cur.Center()
	return abs(cc.X-pc.X)/w > threshold ||
		abs(cc.Y-pc.Y)/h > threshold ||
		abs(cur.Width()-w)/w > threshold ||
		abs(cur.Height()-h)/h > threshold
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
