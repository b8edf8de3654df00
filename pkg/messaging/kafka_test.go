package messaging

import (
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestToMessageCopiesHeadersAndPayload(t *testing.T) {
	now := time.Now()
	raw := &sarama.ConsumerMessage{
		Key:       []byte("inc-1"),
		Value:     []byte(`{"state":"Open"}`),
		Timestamp: now,
		Headers: []*sarama.RecordHeader{
			{Key: []byte("trace-id"), Value: []byte("abc123")},
		},
	}

	msg := toMessage("incidents.created", raw)

	if msg.Topic != "incidents.created" {
		t.Fatalf("expected topic to be set, got %q", msg.Topic)
	}
	if msg.Key != "inc-1" {
		t.Fatalf("expected key to round-trip, got %q", msg.Key)
	}
	if string(msg.Value) != `{"state":"Open"}` {
		t.Fatalf("expected value to round-trip, got %q", msg.Value)
	}
	if msg.Headers["trace-id"] != "abc123" {
		t.Fatalf("expected header to round-trip, got %+v", msg.Headers)
	}
	if msg.Ack == nil || msg.Nack == nil {
		t.Fatalf("expected Ack/Nack to be populated")
	}
}
