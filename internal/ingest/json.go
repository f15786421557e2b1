package ingest

import (
	"time"

	"zoneguard/internal/model"
	"zoneguard/internal/normalize"
)

// ParseJSONBytes decodes one object or an array of batches that must name their feed.
func ParseJSONBytes(data []byte) ([]model.DetectionBatch, error) {
	return normalize.DecodeBatches(data, normalize.Defaults{FeedID: -1, Now: time.Now().UTC()})
}

// ParseFeedJSON decodes batches for a known feed; an explicit feed id in the payload wins.
func ParseFeedJSON(data []byte, feedID int) ([]model.DetectionBatch, error) {
	return normalize.DecodeBatches(data, normalize.Defaults{FeedID: feedID, Now: time.Now().UTC()})
}
