package model

import (
	"fmt"
	"strconv"
	"time"
)

type AlertType string

const (
	AlertDoorAccess   AlertType = "unauthorized_door_access"
	AlertZonePresence AlertType = "zone_presence"
	AlertLineCrossing AlertType = "line_crossing"
)

type Resolution string

const (
	ResolutionNone         Resolution = "none"
	ResolutionAcknowledged Resolution = "acknowledged"
	ResolutionProblemFixed Resolution = "problem_fixed"
)

type Movement string

const (
	MovementNone        Movement = ""
	MovementAppeared    Movement = "appeared"
	MovementDisappeared Movement = "disappeared"
	MovementShifted     Movement = "shifted"
)

// ZoneViolation carries the zone specific part of a zone_presence or line_crossing violation.
type ZoneViolation struct {
	ZoneID   string   `json:"zone_id"`
	ZoneName string   `json:"zone_name"`
	ZoneType ZoneType `json:"zone_type"`
	TrackID  string   `json:"track_id,omitempty"`
	Anchor   Point    `json:"anchor"`
	BBox     BBox     `json:"bbox"`
}

// DoorViolation carries the door specific part of an unauthorized_door_access violation.
type DoorViolation struct {
	DoorID   string   `json:"door_id,omitempty"`
	DoorName string   `json:"door_name"`
	Movement Movement `json:"movement"`
}

// Violation is a candidate alert. Exactly one of Zone or Door is set, matching Type.
type Violation struct {
	Type    AlertType      `json:"alert_type"`
	FeedID  int            `json:"feed_id"`
	At      time.Time      `json:"at"`
	Subject Subject        `json:"subject"`
	Zone    *ZoneViolation `json:"zone,omitempty"`
	Door    *DoorViolation `json:"door,omitempty"`
}

func NewZoneViolation(t AlertType, feedID int, at time.Time, subject Subject, zv ZoneViolation) Violation {
	return Violation{Type: t, FeedID: feedID, At: at, Subject: subject, Zone: &zv}
}

func NewDoorViolation(feedID int, at time.Time, subject Subject, dv DoorViolation) Violation {
	return Violation{Type: AlertDoorAccess, FeedID: feedID, At: at, Subject: subject, Door: &dv}
}

// CooldownKey is (feed, zone) for zone alerts and (feed) for door alerts.
func (v Violation) CooldownKey() string {
	feed := strconv.Itoa(v.FeedID)
	if v.Zone != nil {
		return feed + ":" + v.Zone.ZoneID
	}
	return feed
}

func (v Violation) PlaceName() string {
	switch {
	case v.Zone != nil:
		return v.Zone.ZoneName
	case v.Door != nil:
		return v.Door.DoorName
	}
	return ""
}

func (v Violation) Detail() string {
	name := v.Subject.Name
	if name == "" {
		name = UnknownName
	}
	role := v.Subject.Role
	if role == "" {
		role = "no role"
	}
	switch v.Type {
	case AlertZonePresence:
		return fmt.Sprintf("%s (%s) present in restricted zone %q", name, role, v.PlaceName())
	case AlertLineCrossing:
		return fmt.Sprintf("%s (%s) crossed boundary %q", name, role, v.PlaceName())
	case AlertDoorAccess:
		mv := ""
		if v.Door != nil && v.Door.Movement != MovementNone {
			mv = " (door " + string(v.Door.Movement) + ")"
		}
		return fmt.Sprintf("%s (%s) not allowed through %q%s", name, role, v.PlaceName(), mv)
	}
	return ""
}

func (v Violation) Valid() bool {
	switch v.Type {
	case AlertZonePresence, AlertLineCrossing:
		return v.Zone != nil && v.Door == nil
	case AlertDoorAccess:
		return v.Door != nil && v.Zone == nil
	}
	return false
}

type Alert struct {
	ID               string     `json:"alert_id"`
	Timestamp        time.Time  `json:"timestamp"`
	AlertType        AlertType  `json:"alert_type"`
	FeedID           int        `json:"feed_id"`
	PersonName       string     `json:"person_name"`
	PersonRole       string     `json:"person_role,omitempty"`
	Authorized       bool       `json:"authorized"`
	ZoneName         string     `json:"zone_name,omitempty"`
	Details          string     `json:"details"`
	Acknowledged     bool       `json:"acknowledged"`
	Resolution       Resolution `json:"resolution"`
	ResolutionReason string     `json:"resolution_reason,omitempty"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

// Active alerts are those not yet fixed.
func (a Alert) Active() bool {
	return a.Resolution != ResolutionProblemFixed
}

// NotificationEvent is what external notification pipelines receive for each fired alert.
type NotificationEvent struct {
	AlertID    string    `json:"alert_id"`
	AlertType  AlertType `json:"alert_type"`
	FeedID     int       `json:"feed_id"`
	PlaceName  string    `json:"place_name"`
	PersonName string    `json:"person_name"`
	PersonRole string    `json:"person_role,omitempty"`
	Authorized bool      `json:"authorized"`
	Timestamp  time.Time `json:"timestamp"`
	Details    string    `json:"details"`
}

func NotificationFor(a Alert) NotificationEvent {
	return NotificationEvent{
		AlertID:    a.ID,
		AlertType:  a.AlertType,
		FeedID:     a.FeedID,
		PlaceName:  a.ZoneName,
		PersonName: a.PersonName,
		PersonRole: a.PersonRole,
		Authorized: a.Authorized,
		Timestamp:  a.Timestamp,
		Details:    a.Details,
	}
}
