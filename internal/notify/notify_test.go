package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

type recordingWriter struct {
	mu    sync.Mutex
	msgs  []kafka.Message
	block chan struct{}
}

func (r *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
	return nil
}

func (r *recordingWriter) sent() []kafka.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]kafka.Message(nil), r.msgs...)
}

func (r *recordingWriter) Close() error { return nil }

func event() model.NotificationEvent {
	return model.NotificationEvent{
		AlertID: "a1", AlertType: model.AlertDoorAccess, FeedID: 2, PlaceName: "Vault",
		PersonName: "Alice", PersonRole: "Visitor", Timestamp: time.Date(2026, 3, 2, 12, 0, 2, 0, time.UTC),
	}
}

func TestKafkaNotifierMessage(t *testing.T) {
	w := &recordingWriter{}
	n := newKafkaNotifier(w, time.Second, 4, nil)
	require.NoError(t, n.Notify(context.Background(), event()))
	require.NoError(t, n.Close())

	msgs := w.sent()
	require.Len(t, msgs, 1)
	require.Equal(t, "2", string(msgs[0].Key))

	var got model.NotificationEvent
	require.NoError(t, json.Unmarshal(msgs[0].Value, &got))
	require.Equal(t, "Vault", got.PlaceName)
	require.Equal(t, model.AlertDoorAccess, got.AlertType)

	require.Error(t, n.Notify(context.Background(), event()))
	require.NoError(t, n.Close())
}

func TestKafkaNotifierDoesNotWaitForBroker(t *testing.T) {
	w := &recordingWriter{block: make(chan struct{})}
	n := newKafkaNotifier(w, time.Minute, 2, nil)

	start := time.Now()
	var err error
	for i := 0; i < 6 && err == nil; i++ {
		err = n.Notify(context.Background(), event())
	}
	require.Less(t, time.Since(start), time.Second)
	require.ErrorIs(t, err, ErrQueueFull)

	close(w.block)
	require.NoError(t, n.Close())
	require.NotEmpty(t, w.sent())
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, n.Notify(context.Background(), event()))
	require.Contains(t, buf.String(), `"place":"Vault"`)
	require.NoError(t, NewLogNotifier(nil).Notify(context.Background(), event()))
}

func TestFromConfig(t *testing.T) {
	ns, closers, err := FromConfig(config.NotifyConfig{Log: true}, nil)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.Empty(t, closers)

	_, _, err = FromConfig(config.NotifyConfig{Kafka: config.KafkaPublishConfig{Enabled: true}}, nil)
	require.Error(t, err)

	ns, closers, err = FromConfig(config.NotifyConfig{Kafka: config.KafkaPublishConfig{Enabled: true, Brokers: []string{"localhost:9092"}, Topic: "alerts"}}, nil)
	require.NoError(t, err)
	require.Len(t, ns, 1)
	require.Len(t, closers, 1)
	require.NoError(t, closers[0]())
}
