// Package notify hands fired alerts to external pipelines (voice, telephony, reports)
// as NotificationEvent values.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"zoneguard/internal/config"
	"zoneguard/internal/model"
)

// LogNotifier writes each event as a structured log line.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, ev model.NotificationEvent) error {
	if n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"alert_id", ev.AlertID,
		"alert_type", ev.AlertType,
		"feed_id", ev.FeedID,
		"place", ev.PlaceName,
		"person", ev.PersonName,
		"role", ev.PersonRole,
		"timestamp", ev.Timestamp,
	)
	return nil
}

// messageWriter is the part of kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrQueueFull is returned when the Kafka queue has no room; the event is dropped.
var ErrQueueFull = errors.New("notification queue full")

const defaultQueueSize = 256

// KafkaNotifier publishes events as JSON keyed by feed id, so one feed's alerts stay ordered.
// Notify only enqueues; a single worker owns the broker writes.
type KafkaNotifier struct {
	w       messageWriter
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan kafka.Message
	done   chan struct{}
}

func NewKafkaNotifier(cfg config.KafkaPublishConfig, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka notifier needs brokers and topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaNotifier(w, 5*time.Second, cfg.QueueSize, logger), nil
}

func newKafkaNotifier(w messageWriter, timeout time.Duration, queueSize int, logger *slog.Logger) *KafkaNotifier {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	n := &KafkaNotifier{
		w:       w,
		timeout: timeout,
		logger:  logger,
		queue:   make(chan kafka.Message, queueSize),
		done:    make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *KafkaNotifier) Notify(_ context.Context, ev model.NotificationEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strconv.Itoa(ev.FeedID)),
		Value: value,
		Time:  ev.Timestamp,
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return errors.New("kafka notifier closed")
	}
	select {
	case n.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

func (n *KafkaNotifier) run() {
	defer close(n.done)
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil && n.logger != nil {
			n.logger.Warn("kafka notification failed", "key", string(msg.Key), "err", err)
		}
	}
}

// Close drains the queue, then closes the writer.
func (n *KafkaNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	<-n.done
	return n.w.Close()
}

// FromConfig builds the configured notifiers. The returned closers must be closed on shutdown.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) ([]Notifier, []func() error, error) {
	var out []Notifier
	var closers []func() error
	if cfg.Log {
		out = append(out, NewLogNotifier(logger))
	}
	if cfg.Kafka.Enabled {
		k, err := NewKafkaNotifier(cfg.Kafka, logger)
		if err != nil {
			return nil, nil, err
		}
		out = append(out, k)
		closers = append(closers, k.Close)
	}
	return out, closers, nil
}

// Notifier matches alerts.Notifier.
type Notifier interface {
	Notify(ctx context.Context, ev model.NotificationEvent) error
}
