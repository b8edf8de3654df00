package messaging

import (
	"context"
	"testing"
	"time"
)

func TestNoopPublishRecordsMessage(t *testing.T) {
	n := NewNoop()
	if err := n.Publish(context.Background(), "incidents.created", "inc-1", []byte(`{}`), map[string]string{"k": "v"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	published := n.Published()
	if len(published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(published))
	}
	if published[0].Topic != "incidents.created" || published[0].Key != "inc-1" {
		t.Fatalf("unexpected message recorded: %+v", published[0])
	}
}

func TestNoopSubscribeClosesOnContextCancel(t *testing.T) {
	n := NewNoop()
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := n.Subscribe(ctx, "incidents.created")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel to close without delivering a message")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected channel to close after context cancellation")
	}
}

func TestNoopStreamNextRespectsDeadline(t *testing.T) {
	n := NewNoop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := n.StreamNext(ctx, "incidents.created")
	if err == nil {
		t.Fatalf("expected StreamNext to return the context error once it expires")
	}
}
