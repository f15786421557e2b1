package zones

import "zoneguard/internal/geometry"

// LineState is the last known side of a boundary line for one tracked subject.
// The zero value is the UNKNOWN start state.
type LineState struct {
	Side geometry.Side
}

// Observe moves the state machine and reports whether the step was a crossing.
// UNKNOWN -> side sets the side without firing, side -> same side is a no-op,
// side -> other side fires once, and an UNKNOWN observation changes nothing.
func (s *LineState) Observe(side geometry.Side) bool {
	if side == geometry.SideUnknown {
		return false
	}
	crossed := s.Side.Opposite(side)
	s.Side = side
	return crossed
}
