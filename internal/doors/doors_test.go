package doors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"zoneguard/internal/model"
	"zoneguard/internal/policy"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func door() model.BBox {
	return model.BBox{X1: 100, Y1: 50, X2: 200, Y2: 300}
}

func newCorrelatorForTest(board *Sightings) *Correlator {
	return NewCorrelator(2, 0.15, 0.3, board, policy.NewEvaluator(time.UTC, nil))
}

func restrictedDoor() *Target {
	return &Target{DoorID: "d1", Name: "Vault", Rule: model.Rule{Level: model.LevelRestricted, AllowedRoles: []string{"C-Level"}}}
}

func TestStepTransitions(t *testing.T) {
	c := newCorrelatorForTest(nil)
	require.Equal(t, model.MovementNone, c.Step(nil))
	require.Equal(t, model.MovementAppeared, c.Step([]model.BBox{door()}))
	require.Equal(t, DoorPresent, c.State())
	require.Equal(t, model.MovementNone, c.Step([]model.BBox{door()}))

	jitter := door()
	jitter.X1 += 3
	jitter.X2 += 3
	require.Equal(t, model.MovementNone, c.Step([]model.BBox{jitter}))

	swung := model.BBox{X1: 100, Y1: 50, X2: 140, Y2: 300}
	require.Equal(t, model.MovementShifted, c.Step([]model.BBox{swung}))
	require.Equal(t, model.MovementDisappeared, c.Step(nil))
	require.Equal(t, DoorAbsent, c.State())
}

func TestStepUsesLargestBox(t *testing.T) {
	c := newCorrelatorForTest(nil)
	small := model.BBox{X1: 0, Y1: 0, X2: 10, Y2: 10}
	c.Step([]model.BBox{small, door()})
	require.Equal(t, model.MovementNone, c.Step([]model.BBox{door(), small}))
}

func TestSightingsLatest(t *testing.T) {
	s := NewSightings(4, 10*time.Second)
	s.Record(0, []model.Detection{{Name: "Alice", Role: "Visitor"}}, t0)
	s.Record(1, []model.Detection{{Name: "Bob", Role: "Worker"}}, t0.Add(time.Second))

	sg, ok := s.Latest(nil, t0.Add(2*time.Second))
	require.True(t, ok)
	require.Equal(t, "Bob", sg.Subject.Name)

	sg, ok = s.Latest([]int{0}, t0.Add(2*time.Second))
	require.True(t, ok)
	require.Equal(t, "Alice", sg.Subject.Name)

	_, ok = s.Latest([]int{0}, t0.Add(11*time.Second))
	require.False(t, ok)

	// Sightings after the door frame are not attributed to it.
	_, ok = s.Latest([]int{1}, t0.Add(500*time.Millisecond))
	require.False(t, ok)

	s.Forget(1)
	sg, _ = s.Latest(nil, t0.Add(2*time.Second))
	require.Equal(t, "Alice", sg.Subject.Name)
}

func TestSightingsRingOverwritesOldest(t *testing.T) {
	s := NewSightings(3, time.Minute)
	for i := 0; i < 6; i++ {
		s.Record(0, []model.Detection{{Name: "P" + string(rune('A'+i))}}, t0.Add(time.Duration(i)*time.Second))
	}
	sg, ok := s.Latest([]int{0}, t0.Add(10*time.Second))
	require.True(t, ok)
	require.Equal(t, "PF", sg.Subject.Name)
	require.Equal(t, 3, s.feeds[0].Len())
	require.Equal(t, "PD", s.feeds[0].Peek(0).Subject.Name)
}

func TestSightingsKeepConfiguredSize(t *testing.T) {
	for _, size := range []int{1, 4, 64} {
		s := NewSightings(size, time.Hour)
		for i := 0; i < size*3; i++ {
			s.Record(0, []model.Detection{{Name: "Alice"}}, t0.Add(time.Duration(i)*time.Millisecond))
			want := i + 1
			if want > size {
				want = size
			}
			require.Equal(t, want, s.feeds[0].Len(), "size %d after %d", size, i+1)
		}
		oldest := s.feeds[0].Peek(0)
		require.Equal(t, t0.Add(time.Duration(size*2)*time.Millisecond), oldest.At, "size %d", size)
	}
}

func TestSightingsTieGoesToLowestFeed(t *testing.T) {
	for i := 0; i < 20; i++ {
		s := NewSightings(4, time.Minute)
		s.Record(7, []model.Detection{{Name: "Bob"}}, t0)
		s.Record(3, []model.Detection{{Name: "Alice"}}, t0)
		s.Record(5, []model.Detection{{Name: "Carol"}}, t0)
		sg, ok := s.Latest(nil, t0.Add(time.Second))
		require.True(t, ok)
		require.Equal(t, 3, sg.FeedID)
		require.Equal(t, "Alice", sg.Subject.Name)

		sg, _ = s.Latest([]int{7, 5}, t0.Add(time.Second))
		require.Equal(t, 5, sg.FeedID)
	}
}

func TestObserveUnauthorizedMovement(t *testing.T) {
	board := NewSightings(16, 10*time.Second)
	board.Record(0, []model.Detection{{Name: "Alice", Role: "Visitor", Score: 0.9}}, t0)
	c := newCorrelatorForTest(board)

	out, v := c.Observe(nil, restrictedDoor(), t0.Add(time.Second))
	require.Nil(t, v)
	require.False(t, out.MovementDetected)
	require.NotNil(t, out.LastPerson)
	require.False(t, out.Allowed)

	out, v = c.Observe([]model.BBox{door()}, restrictedDoor(), t0.Add(2*time.Second))
	require.NotNil(t, v)
	require.True(t, out.Alert)
	require.Equal(t, model.MovementAppeared, out.Movement)
	require.Equal(t, "Vault", out.AreaName)
	require.Equal(t, model.AlertDoorAccess, v.Type)
	require.Equal(t, "Alice", v.Subject.Name)
	require.Equal(t, "2", v.CooldownKey())
}

func TestObserveAllowedAndUnknown(t *testing.T) {
	board := NewSightings(16, 10*time.Second)
	board.Record(0, []model.Detection{{Name: "Carol", Role: "C-Level"}}, t0)
	c := newCorrelatorForTest(board)
	out, v := c.Observe([]model.BBox{door()}, restrictedDoor(), t0.Add(time.Second))
	require.Nil(t, v)
	require.True(t, out.Allowed)
	require.True(t, out.MovementDetected)

	// Nobody seen within retention: Unknown and denied.
	out, v = c.Observe(nil, restrictedDoor(), t0.Add(30*time.Second))
	require.NotNil(t, v)
	require.Nil(t, out.LastPerson)
	require.Equal(t, model.UnknownName, v.Subject.Name)
	require.Equal(t, model.MovementDisappeared, v.Door.Movement)

	pub := restrictedDoor()
	pub.Rule = model.Rule{Level: model.LevelPublic}
	_, v = c.Observe([]model.BBox{door()}, pub, t0.Add(31*time.Second))
	require.Nil(t, v)
}

func TestObserveWithoutTargetIsHint(t *testing.T) {
	c := newCorrelatorForTest(NewSightings(4, time.Second))
	out, v := c.Observe([]model.BBox{door()}, nil, t0)
	require.Nil(t, v)
	require.False(t, out.Alert)
	require.NotEmpty(t, out.Hint)
}

func TestResolveTarget(t *testing.T) {
	doorsCfg := []model.Door{{ID: "d1", Name: "Vault", FeedID: 2, RestrictionLevel: model.LevelRestricted, AllowedRoles: []string{"C-Level"}}}
	areas := []model.DoorArea{
		{ID: "office1", Name: "Office 1", FaceFeedID: 0, DoorFeedID: 1, AllowedRoles: []string{"Admin"}},
		{ID: "office2", Name: "Office 2", FaceFeedID: 2, DoorFeedID: 2},
	}

	tg, ok := ResolveTarget(2, doorsCfg, areas)
	require.True(t, ok)
	require.Equal(t, "Vault", tg.Name)
	require.Empty(t, tg.FaceFeeds)

	tg, ok = ResolveTarget(1, doorsCfg, areas)
	require.True(t, ok)
	require.Equal(t, []int{0}, tg.FaceFeeds)
	require.Equal(t, model.LevelRestricted, tg.Rule.Level)

	_, ok = ResolveTarget(5, doorsCfg, areas)
	require.False(t, ok)
}
