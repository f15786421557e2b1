// Package policy decides whether a subject may be somewhere, given a restriction rule.
package policy

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"zoneguard/internal/model"
)

var ErrInvalidWindow = errors.New("invalid time window")

// Evaluate is the base decision for a role against a rule at now (in now's location).
// An empty role is an absent or unknown subject.
func Evaluate(role string, rule model.Rule, now time.Time) bool {
	role = strings.TrimSpace(role)
	if rule.Level == model.LevelPublic {
		return true
	}
	if rule.Window != nil && !WindowActive(*rule.Window, now) {
		return true
	}
	switch rule.Level {
	case model.LevelAuthorizedOnly:
		return role != ""
	case model.LevelRestricted:
		return role != "" && hasRole(rule.AllowedRoles, role)
	}
	// Unknown levels fail closed.
	return false
}

// Evaluator applies Evaluate in a fixed timezone with optional bypass roles.
type Evaluator struct {
	loc    *time.Location
	bypass []string
}

func NewEvaluator(loc *time.Location, bypassRoles []string) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{loc: loc, bypass: bypassRoles}
}

// Allowed decides for a subject. Subjects without a known identity never carry a role.
func (e *Evaluator) Allowed(subject model.Subject, rule model.Rule, at time.Time) bool {
	role := subject.Role
	if !model.IsKnownName(subject.Name) && subject.IdentityID == "" {
		role = ""
	}
	if e == nil {
		return Evaluate(role, rule, at)
	}
	if role != "" && hasRole(e.bypass, role) {
		return true
	}
	return Evaluate(role, rule, at.In(e.loc))
}

// WindowActive reports whether a rule window applies at now. Days are 0=Mon .. 6=Sun,
// empty meaning every day. A start after end spans midnight and belongs to the start day.
// A malformed window is always active so that it can only add restriction.
func WindowActive(w model.TimeWindow, now time.Time) bool {
	start, end, err := ParseWindow(w)
	if err != nil {
		return true
	}
	minute := now.Hour()*60 + now.Minute()
	today := weekday(now)
	if start <= end {
		return minute >= start && minute <= end && dayEnabled(w.Days, today)
	}
	if minute >= start {
		return dayEnabled(w.Days, today)
	}
	if minute <= end {
		return dayEnabled(w.Days, (today+6)%7)
	}
	return false
}

// ParseWindow returns start and end as minutes after midnight. Empty bounds default
// to the whole day.
func ParseWindow(w model.TimeWindow) (int, int, error) {
	start, err := parseClock(w.Start, 0)
	if err != nil {
		return 0, 0, err
	}
	end, err := parseClock(w.End, 23*60+59)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range w.Days {
		if d < 0 || d > 6 {
			return 0, 0, fmt.Errorf("%w: day %d out of range 0-6", ErrInvalidWindow, d)
		}
	}
	return start, end, nil
}

func parseClock(s string, def int) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidWindow, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func dayEnabled(days []int, day int) bool {
	if len(days) == 0 {
		return true
	}
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}

func hasRole(roles []string, role string) bool {
	for _, r := range roles {
		if strings.EqualFold(strings.TrimSpace(r), role) {
			return true
		}
	}
	return false
}
