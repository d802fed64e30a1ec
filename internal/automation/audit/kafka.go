package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"taskgate/internal/automation/models"
)

// Producer is the subset of *kgo.Client the Kafka sink uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Kafka publishes records keyed by tenant so one tenant's records stay ordered
// within a partition.
type Kafka struct {
	producer Producer
	topic    string
}

func NewKafka(producer Producer, topic string) *Kafka {
	return &Kafka{producer: producer, topic: topic}
}

// NewKafkaClient builds a franz-go client for brokers.
func NewKafkaClient(brokers []string, topic string) (*kgo.Client, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// EnsureTopic creates topic if it is missing. partitions and replication of
// -1 use the broker defaults. The admin client shares client and is not closed.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	resp, err := kadm.NewClient(client).CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, resp.Err)
	}
	return nil
}

func (k *Kafka) Append(ctx context.Context, rec models.AuditRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(rec.TenantID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "operation_type", Value: []byte(rec.OperationType)},
			{Key: "correlation_key", Value: []byte(rec.CorrelationKey)},
		},
	}
	if err := k.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}
