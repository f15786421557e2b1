package model

type ZoneType string

const (
	ZonePolygon ZoneType = "polygon"
	ZoneLine    ZoneType = "line"
)

type RestrictionLevel string

const (
	LevelRestricted     RestrictionLevel = "restricted"
	LevelAuthorizedOnly RestrictionLevel = "authorized_only"
	LevelPublic         RestrictionLevel = "public"
)

func (l RestrictionLevel) Valid() bool {
	switch l {
	case LevelRestricted, LevelAuthorizedOnly, LevelPublic:
		return true
	}
	return false
}

// TimeWindow limits when a rule is enforced. Days use 0=Mon .. 6=Sun; empty means every day.
type TimeWindow struct {
	Start string `json:"time_start,omitempty" yaml:"time_start"`
	End   string `json:"time_end,omitempty" yaml:"time_end"`
	Days  []int  `json:"days,omitempty" yaml:"days"`
}

// Rule is the input of the restriction evaluator.
type Rule struct {
	Level        RestrictionLevel `json:"restriction_level"`
	AllowedRoles []string         `json:"allowed_roles,omitempty"`
	Window       *TimeWindow      `json:"rules,omitempty"`
}

// Zone is drawn on a camera view in normalized 0-1 coordinates.
type Zone struct {
	ID               string           `json:"id"`
	FeedID           int              `json:"feed_id"`
	Type             ZoneType         `json:"zone_type"`
	Name             string           `json:"name"`
	Points           []Point          `json:"points"`
	Color            string           `json:"color,omitempty"`
	Active           bool             `json:"active"`
	AuthorizedRoles  []string         `json:"authorized_roles,omitempty"`
	RestrictionLevel RestrictionLevel `json:"restriction_level,omitempty"`
	Rules            *TimeWindow      `json:"rules,omitempty"`
}

// Rule treats a zone without an explicit level as restricted to its authorized roles.
// An empty allowlist therefore makes any presence a violation.
func (z Zone) Rule() Rule {
	level := z.RestrictionLevel
	if level == "" {
		level = LevelRestricted
	}
	return Rule{Level: level, AllowedRoles: z.AuthorizedRoles, Window: z.Rules}
}

// Door is a point on the floor plan watched by one camera feed.
type Door struct {
	ID               string           `json:"id"`
	Name             string           `json:"name"`
	Point            Point            `json:"point"`
	FeedID           int              `json:"feed_id"`
	RestrictionLevel RestrictionLevel `json:"restriction_level"`
	AllowedRoles     []string         `json:"allowed_roles,omitempty"`
	Rules            *TimeWindow      `json:"rules,omitempty"`
	// FaceFeedIDs limits which feeds' sightings are attributed to this door.
	// Empty means the most recent sighting on any feed.
	FaceFeedIDs []int `json:"face_feed_ids,omitempty"`
}

func (d Door) Rule() Rule {
	level := d.RestrictionLevel
	if level == "" {
		level = LevelRestricted
	}
	return Rule{Level: level, AllowedRoles: d.AllowedRoles, Window: d.Rules}
}

// DoorArea pairs a face feed with a separate door feed. It is used when no floor plan door
// is bound to the door feed.
type DoorArea struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	FaceFeedID   int      `json:"face_feed_id"`
	DoorFeedID   int      `json:"door_feed_id"`
	AllowedRoles []string `json:"allowed_roles,omitempty"`
}

func (a DoorArea) Rule() Rule {
	return Rule{Level: LevelRestricted, AllowedRoles: a.AllowedRoles}
}
