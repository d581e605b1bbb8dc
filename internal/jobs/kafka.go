package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ManaviP/ai-credit-network/internal/config"
)

// KafkaQueue is a Queue backed by a Kafka topic. Jobs are keyed by user id so
// recomputations for the same user land on one partition and stay ordered.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
}

// NewKafkaQueue connects a queue to the configured brokers. The reader joins
// the worker consumer group; offsets are committed after ReadMessage returns.
func NewKafkaQueue(cfg config.KafkaConfig) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Topic:    cfg.Topic,
		Balancer: &kafka.Hash{},
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		GroupID: cfg.GroupID,
		Topic:   cfg.Topic,
	})
	return &KafkaQueue{writer: writer, reader: reader}
}

// Enqueue publishes the job to the topic.
func (q *KafkaQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(job.UserID, 10)),
		Value: payload,
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks for the next job on the topic.
func (q *KafkaQueue) Dequeue(ctx context.Context) (Job, error) {
	msg, err := q.reader.ReadMessage(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("read job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return Job{}, fmt.Errorf("decode job at offset %d: %w", msg.Offset, err)
	}
	return job, nil
}

// Close shuts down both halves of the queue.
func (q *KafkaQueue) Close() error {
	werr := q.writer.Close()
	rerr := q.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
