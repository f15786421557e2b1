// Package ingest receives detector output and forwards it as DetectionBatch values.
// Push sources (REST, TCP, replay files, Kafka) write into one channel that the
// pipeline routes by feed; HTTPDetector is polled by a feed loop directly.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"zoneguard/internal/model"
)

// SendNonBlocking drops the batch when the channel is full. Live sources use it so
// a slow pipeline never backs up a network reader.
func SendNonBlocking(ctx context.Context, out chan<- model.DetectionBatch, b model.DetectionBatch, logger *slog.Logger) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("batch channel full, dropping batch", "feed_id", b.FeedID, "seq", b.Seq, "captured_at", b.CapturedAt)
		}
		return false
	}
}

// SendBlocking waits for room. Replays use it so that no recorded frame is lost.
func SendBlocking(ctx context.Context, out chan<- model.DetectionBatch, b model.DetectionBatch) bool {
	select {
	case out <- b:
		return true
	case <-ctx.Done():
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
