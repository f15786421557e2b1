// Package doors correlates door movement on one feed with who was recently seen on another.
package doors

import (
	"math"
	"sync"
	"time"

	"github.com/bmharper/ringbuffer"

	"zoneguard/internal/model"
)

// Sighting is a face observed on a feed at a point in time.
type Sighting struct {
	FeedID  int
	Subject model.Subject
	At      time.Time
}

// Sightings is the shared board every face feed writes to and every door feed reads.
// Each feed keeps a ring of its most recent size sightings.
type Sightings struct {
	mu        sync.Mutex
	size      int // sightings kept per feed
	slots     int // ring allocation, a power of 2 greater than size
	retention time.Duration
	feeds     map[int]*ringbuffer.RingP[Sighting]
}

func NewSightings(size int, retention time.Duration) *Sightings {
	if size < 1 {
		size = 1
	}
	return &Sightings{
		size:      size,
		slots:     nextPowerOf2(size + 1),
		retention: retention,
		feeds:     make(map[int]*ringbuffer.RingP[Sighting]),
	}
}

func (s *Sightings) Retention() time.Duration {
	return s.retention
}

// Record appends one sighting per face, in detector order.
func (s *Sightings) Record(feedID int, faces []model.Detection, at time.Time) {
	if len(faces) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ring := s.feeds[feedID]
	if ring == nil {
		r := ringbuffer.NewRingP[Sighting](s.slots)
		ring = &r
		s.feeds[feedID] = ring
	}
	for _, f := range faces {
		if ring.Len() >= s.size {
			ring.Next()
		}
		ring.Add(Sighting{FeedID: feedID, Subject: f.Subject(), At: at})
	}
}

// Latest returns the most recent sighting in (at-retention, at] on the given feeds,
// or on any feed when feedIDs is empty. Ties go to the lowest feed id, then to the
// earliest recorded.
func (s *Sightings) Latest(feedIDs []int, at time.Time) (Sighting, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best Sighting
	found := false
	consider := func(ring *ringbuffer.RingP[Sighting]) {
		for i := 0; i < ring.Len(); i++ {
			sg := ring.Peek(i)
			if sg.At.After(at) || at.Sub(sg.At) > s.retention {
				continue
			}
			if !found || sg.At.After(best.At) || (sg.At.Equal(best.At) && sg.FeedID < best.FeedID) {
				best, found = sg, true
			}
		}
	}
	if len(feedIDs) == 0 {
		for _, ring := range s.feeds {
			consider(ring)
		}
	} else {
		for _, id := range feedIDs {
			if ring := s.feeds[id]; ring != nil {
				consider(ring)
			}
		}
	}
	return best, found
}

// Forget drops a feed's sightings.
func (s *Sightings) Forget(feedID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.feeds, feedID)
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
