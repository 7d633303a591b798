package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type (
	// CompletionEvent is emitted every time a job reaches a terminal state.
	// The dependency engine consumes these to advance chains; the optional
	// Kafka publisher forwards them to external consumers.
	CompletionEvent struct {
		JobID        string        `json:"job_id"`
		Source       string        `json:"source"`
		Table        string        `json:"table,omitempty"`
		Status       Status        `json:"status"`
		RowsInserted int64         `json:"rows_inserted"`
		Error        string        `json:"error,omitempty"`
		Duration     time.Duration `json:"duration_ns,omitempty"`
		CompletedAt  time.Time     `json:"completed_at"`
	}

	// EventSink receives completion events. Publish must not block job
	// completion on slow consumers; sinks that do I/O handle their own
	// timeouts and swallow their own errors.
	EventSink interface {
		Publish(ctx context.Context, event CompletionEvent)
	}

	// EventBus fans completion events out to registered sinks in order.
	// Safe for concurrent use.
	EventBus struct {
		mu    sync.RWMutex
		sinks []EventSink
	}

	// KafkaPublisher forwards completion events to a Kafka topic. Optional:
	// the in-process bus remains authoritative for chain advancement.
	KafkaPublisher struct {
		writer *kafka.Writer
		logger *slog.Logger
	}

	// SinkFunc adapts a function into an EventSink.
	SinkFunc func(ctx context.Context, event CompletionEvent)
)

// Publish implements EventSink.
func (f SinkFunc) Publish(ctx context.Context, event CompletionEvent) { f(ctx, event) }

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers a sink. Sinks are invoked synchronously in
// registration order on every publish.
func (b *EventBus) Subscribe(sink EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sinks = append(b.sinks, sink)
}

// Publish delivers the event to every registered sink.
func (b *EventBus) Publish(ctx context.Context, event CompletionEvent) {
	b.mu.RLock()
	sinks := make([]EventSink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.RUnlock()

	for _, sink := range sinks {
		sink.Publish(ctx, event)
	}
}

// NewKafkaPublisher creates a completion-event publisher for the given
// brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
		logger: logger,
	}
}

// Publish implements EventSink. Write errors are logged, never surfaced:
// losing an external notification must not fail the job.
func (p *KafkaPublisher) Publish(ctx context.Context, event CompletionEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal completion event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)

		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Source),
		Value: payload,
	})
	if err != nil {
		p.logger.Error("failed to publish completion event",
			slog.String("job_id", event.JobID),
			slog.String("error", err.Error()),
		)
	}
}

// Close flushes and closes the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
