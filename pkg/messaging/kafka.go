package messaging

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
	"github.com/go-logr/logr"

	apperrors "github.com/sentrygrid/incidentops/pkg/shared/errors"
)

// KafkaConfig configures the sarama-backed bus.
type KafkaConfig struct {
	Brokers       []string
	ClientID      string
	ConsumerGroup string
}

// Kafka is a Bus backed by IBM/sarama. It multiplexes every partition of a
// subscribed topic onto one channel, mirroring the per-partition consumer
// shape sarama itself exposes (topic/partition ConsumePartition, a
// Messages() channel per partition) rather than hiding partitioning behind
// a single opaque stream.
type Kafka struct {
	cfg      KafkaConfig
	client   sarama.Client
	producer sarama.SyncProducer
	consumer sarama.Consumer
	log      logr.Logger

	mu            sync.Mutex
	subscriptions map[string]*topicSubscription
}

type topicSubscription struct {
	partitions []sarama.PartitionConsumer
	out        chan Message
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewKafka(cfg KafkaConfig, log logr.Logger) (*Kafka, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = cfg.ClientID
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("kafka", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		client.Close()
		return nil, apperrors.NewBackendUnavailableError("kafka", err)
	}

	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		producer.Close()
		client.Close()
		return nil, apperrors.NewBackendUnavailableError("kafka", err)
	}

	return &Kafka{
		cfg:           cfg,
		client:        client,
		producer:      producer,
		consumer:      consumer,
		log:           log,
		subscriptions: make(map[string]*topicSubscription),
	}, nil
}

func (k *Kafka) Publish(ctx context.Context, topic, key string, value []byte, headers map[string]string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	for hk, hv := range headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{Key: []byte(hk), Value: []byte(hv)})
	}

	done := make(chan error, 1)
	go func() {
		_, _, err := k.producer.SendMessage(msg)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.NewBackendUnavailableError("kafka", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe fans out every partition of topic onto a single channel. The
// subscription is shared across callers of the same topic: a second
// Subscribe call for a topic already being consumed reuses the existing
// fan-out channel rather than opening duplicate partition consumers.
func (k *Kafka) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	k.mu.Lock()
	sub, ok := k.subscriptions[topic]
	k.mu.Unlock()
	if ok {
		return sub.out, nil
	}

	partitionIDs, err := k.consumer.Partitions(topic)
	if err != nil {
		return nil, apperrors.NewBackendUnavailableError("kafka", err)
	}

	sub = &topicSubscription{
		out:  make(chan Message, 64),
		stop: make(chan struct{}),
	}

	for _, p := range partitionIDs {
		pc, err := k.consumer.ConsumePartition(topic, p, sarama.OffsetNewest)
		if err != nil {
			sub.closeAll()
			return nil, apperrors.NewBackendUnavailableError("kafka", err)
		}
		sub.partitions = append(sub.partitions, pc)
		go k.pump(topic, pc, sub)
	}

	k.mu.Lock()
	k.subscriptions[topic] = sub
	k.mu.Unlock()

	go func() {
		<-ctx.Done()
		k.unsubscribe(topic, sub)
	}()

	return sub.out, nil
}

func (k *Kafka) pump(topic string, pc sarama.PartitionConsumer, sub *topicSubscription) {
	for {
		select {
		case <-sub.stop:
			return
		case msg, ok := <-pc.Messages():
			if !ok {
				return
			}
			sub.out <- toMessage(topic, msg)
		case cErr, ok := <-pc.Errors():
			if !ok {
				continue
			}
			k.log.Error(cErr, "kafka partition consumer error", "topic", topic)
		}
	}
}

func toMessage(topic string, msg *sarama.ConsumerMessage) Message {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[string(h.Key)] = string(h.Value)
	}
	return Message{
		Topic:     topic,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Timestamp: msg.Timestamp,
		Ack:       func() error { return nil },
		Nack:      func() error { return nil },
	}
}

func (sub *topicSubscription) closeAll() {
	for _, pc := range sub.partitions {
		pc.AsyncClose()
	}
}

func (k *Kafka) unsubscribe(topic string, sub *topicSubscription) {
	k.mu.Lock()
	if k.subscriptions[topic] == sub {
		delete(k.subscriptions, topic)
	}
	k.mu.Unlock()

	sub.stopOnce.Do(func() { close(sub.stop) })
	sub.closeAll()
}

// StreamNext pulls a single message from topic, subscribing on first use.
func (k *Kafka) StreamNext(ctx context.Context, topic string) (Message, error) {
	ch, err := k.Subscribe(ctx, topic)
	if err != nil {
		return Message{}, err
	}
	select {
	case msg, ok := <-ch:
		if !ok {
			return Message{}, apperrors.NewBackendUnavailableError("kafka", context.Canceled)
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	subs := make([]*topicSubscription, 0, len(k.subscriptions))
	for topic, sub := range k.subscriptions {
		subs = append(subs, sub)
		delete(k.subscriptions, topic)
	}
	k.mu.Unlock()

	for _, sub := range subs {
		sub.stopOnce.Do(func() { close(sub.stop) })
		sub.closeAll()
	}

	var firstErr error
	if err := k.producer.Close(); err != nil {
		firstErr = err
	}
	if err := k.consumer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := k.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return apperrors.NewBackendUnavailableError("kafka", firstErr)
	}
	return nil
}
