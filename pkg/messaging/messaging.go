// Package messaging abstracts the outbound event bus used to fan incident
// lifecycle events out to external systems (spec.md §9 Design Notes,
// SPEC_FULL.md §4.10). Implementations range from an in-process no-op used
// in tests and single-node deployments to a Kafka-backed bus for multi-
// consumer deployments.
package messaging

import (
	"context"
	"time"
)

// Message is one envelope placed on or read from a topic.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time

	// Ack and Nack acknowledge or reject a message obtained from
	// StreamNext. They are nil on messages constructed for Publish.
	Ack  func() error
	Nack func() error
}

// Bus is the capability every producer/consumer in this module depends on.
// It is intentionally narrow: callers never see partitions, offsets, or
// broker addresses.
type Bus interface {
	// Publish sends value to topic, blocking until the broker (or the
	// no-op implementation) has accepted it.
	Publish(ctx context.Context, topic string, key string, value []byte, headers map[string]string) error

	// Subscribe registers interest in topic. Messages arrive on the
	// returned channel until the context is cancelled or Close is called.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)

	// StreamNext pulls a single message from topic, waiting up to the
	// context deadline. It is the pull-based counterpart to Subscribe,
	// for components that want explicit backpressure over a
	// channel-based push loop. No component in this module calls it.
	StreamNext(ctx context.Context, topic string) (Message, error)

	// Close releases broker connections and stops all subscriptions.
	Close() error
}
