// Package eventbus is the in-process publish/subscribe layer that wakes
// producers on state transitions and carries per-stage progress broadcasts
// to observers (the dashboard, log sinks).
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

// Topic names a channel of events. Producers subscribe to the topics that
// can make them eligible to dispatch more work; UI-facing consumers
// subscribe to the progress topics.
type Topic string

const (
	TopicVideoStateTransitions Topic = "video_state_transitions"
	TopicMediaEvents           Topic = "media_events"
	TopicCRFSearchEvents       Topic = "crf_search_events"
	TopicEncodingEvents        Topic = "encoding_events"
	TopicAnalyzerEvents        Topic = "analyzer_events"
)

// Envelope is one published event. Terminal marks completion/failure events,
// which are delivered with a blocking send (bounded by a short timeout)
// rather than dropped when a subscriber's buffer is full.
type Envelope struct {
	Topic    Topic
	VideoID  uint
	Percent  float64
	FPS      float64
	ETA      float64
	Filename string
	Result   string
	Terminal bool
	Payload  any
}

// Subscriber receives Envelopes for the topics it registered for.
type Subscriber struct {
	ID     string
	topics map[Topic]bool
	Events chan Envelope
}

// Bus is the process-wide event bus. One Bus instance is shared by all
// producers, stage workers, and observers.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	logger      *slog.Logger
	nextID      uint64
}

// New creates an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		subscribers: make(map[string]*Subscriber),
		logger:      logger.With("component", "eventbus"),
	}
}

// Subscribe registers a new Subscriber for the given topics.
func (b *Bus) Subscribe(topics ...Topic) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscriber{
		ID:     subscriberID(b.nextID),
		topics: make(map[Topic]bool, len(topics)),
		Events: make(chan Envelope, 100),
	}
	for _, t := range topics {
		sub.topics[t] = true
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Events)
		delete(b.subscribers, id)
	}
}

// Publish delivers env to every subscriber registered for its topic.
// Terminal events use a blocking send bounded by a short timeout so they
// are not silently dropped by a full buffer; non-terminal events are
// dropped (with a warning log) rather than block the publisher.
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subscribers {
		if !sub.topics[env.Topic] {
			continue
		}

		if env.Terminal {
			select {
			case sub.Events <- env:
			case <-time.After(500 * time.Millisecond):
				b.logger.Error("failed to deliver terminal event, subscriber buffer full",
					slog.String("subscriber_id", sub.ID),
					slog.String("topic", string(env.Topic)),
				)
			}
			continue
		}

		select {
		case sub.Events <- env:
		default:
			b.logger.Warn("dropping event, subscriber buffer full",
				slog.String("subscriber_id", sub.ID),
				slog.String("topic", string(env.Topic)),
			)
		}
	}
}

func subscriberID(n uint64) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = hex[n&0xf]
		n >>= 4
	}
	return "sub-" + string(b)
}
