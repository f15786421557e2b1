package pipeline

import (
	"sync"

	"zoneguard/internal/model"
)

// Hub fans frame results out to live subscribers of a feed. Slow subscribers miss frames.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]map[chan model.FrameResult]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 8
	}
	return &Hub{
		subs:   make(map[int]map[chan model.FrameResult]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of results for feedID and a func that releases it.
// The channel is closed on release or when the feed is stopped.
func (h *Hub) Subscribe(feedID int) (<-chan model.FrameResult, func()) {
	ch := make(chan model.FrameResult, h.buffer)
	h.mu.Lock()
	set, ok := h.subs[feedID]
	if !ok {
		set = make(map[chan model.FrameResult]struct{})
		h.subs[feedID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			set := h.subs[feedID]
			if _, ok := set[ch]; !ok {
				return
			}
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, feedID)
			}
			close(ch)
		})
	}
}

func (h *Hub) Publish(res model.FrameResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[res.FeedID] {
		select {
		case ch <- res:
		default:
		}
	}
}

// CloseFeed closes every subscription of feedID.
func (h *Hub) CloseFeed(feedID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[feedID] {
		close(ch)
	}
	delete(h.subs, feedID)
}

func (h *Hub) Count(feedID int) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[feedID])
}
