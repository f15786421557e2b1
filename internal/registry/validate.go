package registry

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"zoneguard/internal/model"
	"zoneguard/internal/policy"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidZone = errors.New("invalid zone")
	ErrInvalidDoor = errors.New("invalid door")
	ErrInvalidArea = errors.New("invalid door area")
	ErrInvalidRole = errors.New("invalid role")
)

// ValidateZone rejects geometry the zone engine cannot evaluate.
func ValidateZone(z model.Zone) error {
	if z.FeedID < 0 {
		return fmt.Errorf("%w: feed_id must be >= 0", ErrInvalidZone)
	}
	switch z.Type {
	case model.ZonePolygon:
		if len(z.Points) < 3 {
			return fmt.Errorf("%w: polygon needs at least 3 points, got %d", ErrInvalidZone, len(z.Points))
		}
	case model.ZoneLine:
		if len(z.Points) != 2 {
			return fmt.Errorf("%w: line needs exactly 2 points, got %d", ErrInvalidZone, len(z.Points))
		}
		if z.Points[0] == z.Points[1] {
			return fmt.Errorf("%w: line endpoints coincide", ErrInvalidZone)
		}
	default:
		return fmt.Errorf("%w: unknown zone_type %q", ErrInvalidZone, z.Type)
	}
	for i, p := range z.Points {
		if !normalized(p) {
			return fmt.Errorf("%w: point %d (%v, %v) outside 0-1", ErrInvalidZone, i, p.X, p.Y)
		}
	}
	if z.RestrictionLevel != "" && !z.RestrictionLevel.Valid() {
		return fmt.Errorf("%w: unknown restriction_level %q", ErrInvalidZone, z.RestrictionLevel)
	}
	if z.Rules != nil {
		if _, _, err := policy.ParseWindow(*z.Rules); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidZone, err)
		}
	}
	return nil
}

func ValidateDoor(d model.Door) error {
	if d.FeedID < 0 {
		return fmt.Errorf("%w: feed_id must be >= 0", ErrInvalidDoor)
	}
	if !normalized(d.Point) {
		return fmt.Errorf("%w: point outside 0-1", ErrInvalidDoor)
	}
	if d.RestrictionLevel != "" && !d.RestrictionLevel.Valid() {
		return fmt.Errorf("%w: unknown restriction_level %q", ErrInvalidDoor, d.RestrictionLevel)
	}
	if d.Rules != nil {
		if _, _, err := policy.ParseWindow(*d.Rules); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidDoor, err)
		}
	}
	for _, id := range d.FaceFeedIDs {
		if id < 0 {
			return fmt.Errorf("%w: face feed id %d", ErrInvalidDoor, id)
		}
	}
	return nil
}

func ValidateArea(a model.DoorArea) error {
	if strings.TrimSpace(a.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArea)
	}
	if a.FaceFeedID < 0 || a.DoorFeedID < 0 {
		return fmt.Errorf("%w: feed ids must be >= 0", ErrInvalidArea)
	}
	return nil
}

func normalized(p model.Point) bool {
	if math.IsNaN(p.X) || math.IsNaN(p.Y) {
		return false
	}
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}
