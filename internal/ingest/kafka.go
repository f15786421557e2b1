package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

// StartKafka consumes JSON batches from a topic. Each message may hold one batch or an array.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.DetectionBatch, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			batches, err := ParseJSONBytes(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("kafka decode error", "partition", m.Partition, "offset", m.Offset, "err", err)
				}
				continue
			}
			for _, b := range batches {
				SendNonBlocking(ctx, out, b, logger)
			}
		}
	}()
}
