package model

import (
	"strings"
	"time"
)

const UnknownName = "Unknown"

// Detection is one recognized (or unrecognized) face in a frame.
type Detection struct {
	BBox       BBox    `json:"bbox"`
	IdentityID string  `json:"identity_id,omitempty"`
	Name       string  `json:"name,omitempty"`
	Role       string  `json:"role,omitempty"`
	Score      float64 `json:"score"`
	Authorized bool    `json:"authorized"`
	TrackID    string  `json:"track_id,omitempty"`
}

// Known reports whether the detection carries a real identity.
func (d Detection) Known() bool {
	return IsKnownName(d.Name)
}

func (d Detection) Subject() Subject {
	name := d.Name
	if !IsKnownName(name) {
		name = UnknownName
	}
	return Subject{
		IdentityID: d.IdentityID,
		Name:       name,
		Role:       strings.TrimSpace(d.Role),
		Authorized: d.Authorized,
	}
}

func IsKnownName(name string) bool {
	name = strings.TrimSpace(name)
	return name != "" && !strings.EqualFold(name, UnknownName)
}

// DetectionBatch is everything the external detectors reported for one sampled frame of one feed.
type DetectionBatch struct {
	FeedID     int         `json:"feed_id"`
	Seq        uint64      `json:"seq,omitempty"`
	CapturedAt time.Time   `json:"captured_at"`
	Frame      Size        `json:"frame"`
	Faces      []Detection `json:"faces"`
	Doors      []BBox      `json:"doors,omitempty"`
	Persons    []BBox      `json:"persons,omitempty"`
}

// Subject is the identity attached to a violation or a door movement.
type Subject struct {
	IdentityID string `json:"identity_id,omitempty"`
	Name       string `json:"name"`
	Role       string `json:"role,omitempty"`
	Authorized bool   `json:"authorized"`
}

func UnknownSubject() Subject {
	return Subject{Name: UnknownName}
}
