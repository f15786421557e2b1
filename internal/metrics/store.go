package metrics

import (
	"sort"
	"sync"
	"time"

	"zoneguard/internal/model"
)

// Store holds per-feed counters. Feed loops add deltas, the API reads snapshots.
type Store struct {
	mu     sync.RWMutex
	byFeed map[int]*model.FeedStats
	limit  int
	now    func() time.Time
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 256
	}
	return &Store{
		byFeed: make(map[int]*model.FeedStats),
		limit:  limit,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Add(feedID int, delta model.FeedStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byFeed[feedID]
	if !ok {
		st = &model.FeedStats{FeedID: feedID}
		s.byFeed[feedID] = st
	}
	st.Add(delta)
	st.UpdatedAt = s.now()
	if len(s.byFeed) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(feedID int) (model.FeedStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byFeed[feedID]
	if !ok {
		return model.FeedStats{}, false
	}
	return *st, true
}

// GetAll returns every feed's counters ordered by feed id.
func (s *Store) GetAll() []model.FeedStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.FeedStats, 0, len(s.byFeed))
	for _, st := range s.byFeed {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeedID < out[j].FeedID })
	return out
}

// Totals sums all feeds.
func (s *Store) Totals() model.FeedStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total model.FeedStats
	total.FeedID = -1
	for _, st := range s.byFeed {
		total.Add(*st)
	}
	return total
}

func (s *Store) Remove(feedID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byFeed, feedID)
}

func (s *Store) evictOldest() {
	oldestFeed := -1
	var oldest time.Time
	for id, st := range s.byFeed {
		if oldestFeed < 0 || st.UpdatedAt.Before(oldest) {
			oldestFeed = id
			oldest = st.UpdatedAt
		}
	}
	if oldestFeed >= 0 {
		delete(s.byFeed, oldestFeed)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byFeed = make(map[int]*model.FeedStats)
}
