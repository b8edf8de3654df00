package messaging

import (
	"context"
	"sync"
)

// Noop is a Bus that keeps published messages in memory (see Published)
// and never delivers anything to subscribers. It exists for single-node
// deployments and tests that want the processor's publish call sites
// exercised without standing up a broker.
type Noop struct {
	mu        sync.Mutex
	published []Message
}

func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) Publish(_ context.Context, topic, key string, value []byte, headers map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, Message{Topic: topic, Key: key, Value: value, Headers: headers})
	return nil
}

func (n *Noop) Subscribe(ctx context.Context, _ string) (<-chan Message, error) {
	ch := make(chan Message)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (n *Noop) StreamNext(ctx context.Context, _ string) (Message, error) {
	<-ctx.Done()
	return Message{}, ctx.Err()
}

func (n *Noop) Close() error {
	return nil
}

// Published returns every message accepted by Publish, for assertions in
// tests that wire a Noop bus in place of Kafka.
func (n *Noop) Published() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.published))
	copy(out, n.published)
	return out
}
