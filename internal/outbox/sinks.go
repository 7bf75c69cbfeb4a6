package outbox

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	goredis "github.com/redis/go-redis/v9"

	"livraison/internal/domain"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// RedisSink feeds the fan-out hubs of every process through Pub/Sub.
type RedisSink struct {
	client  redisPublisher
	channel string
}

func NewRedisSink(client redisPublisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	return s.client.Publish(ctx, s.channel, event.Payload).Err()
}

// KafkaSink forwards events to downstream consumers. Messages are keyed by
// order id so one order's events keep their order within a partition.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, _, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(event.OrderID.String()),
		Value: sarama.ByteEncoder(event.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_id"), Value: []byte(event.ID.String())},
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("sending to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}

// ChangeHandler receives decoded order changes in process.
type ChangeHandler interface {
	Publish(source string, change domain.OrderChange) int
}

// LocalSink hands events straight to an in-process handler. It stands in for
// Redis when a single instance runs without it.
type LocalSink struct {
	handler ChangeHandler
}

func NewLocalSink(handler ChangeHandler) *LocalSink {
	return &LocalSink{handler: handler}
}

func (s *LocalSink) Name() string { return "local" }

func (s *LocalSink) Publish(ctx context.Context, event domain.OutboxEvent) error {
	change, err := domain.DecodeOrderChange(event.Payload)
	if err != nil {
		return err
	}
	s.handler.Publish("local", change)
	return nil
}
