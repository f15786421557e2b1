package model

import "time"

// ZoneHit is one subject evaluated against one zone in a frame. Authorized hits are
// reported for display but never become alerts.
type ZoneHit struct {
	ZoneID     string    `json:"zone_id"`
	ZoneName   string    `json:"zone_name"`
	ZoneType   ZoneType  `json:"zone_type"`
	AlertType  AlertType `json:"alert_type"`
	TrackID    string    `json:"track_id,omitempty"`
	BBox       BBox      `json:"person_bbox"`
	Anchor     Point     `json:"person_feet_n"`
	PersonName string    `json:"person_name"`
	PersonRole string    `json:"person_role,omitempty"`
	Authorized bool      `json:"authorized"`
}

// DoorOutcome is the per-frame door correlation summary.
type DoorOutcome struct {
	Doors            []BBox   `json:"doors"`
	MovementDetected bool     `json:"movement_detected"`
	Movement         Movement `json:"movement,omitempty"`
	AreaName         string   `json:"area_name,omitempty"`
	LastPerson       *Subject `json:"last_person,omitempty"`
	Allowed          bool     `json:"allowed"`
	Alert            bool     `json:"alert"`
	Hint             string   `json:"hint,omitempty"`
}

// FrameResult is published for every analyzed frame of a feed.
type FrameResult struct {
	FeedID     int         `json:"feed_id"`
	Seq        uint64      `json:"seq,omitempty"`
	CapturedAt time.Time   `json:"captured_at"`
	Detections []Detection `json:"detections"`
	Persons    []Detection `json:"persons,omitempty"`
	DoorOutcome
	ZoneHits []ZoneHit `json:"zone_alerts"`
	Alerts   []Alert   `json:"alerts,omitempty"`
	Degraded bool      `json:"degraded,omitempty"`
}
