package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"decoration-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Producer struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewProducer creates a new Kafka producer. Messages are hashed by key so
// everything about one order lands on one partition, in order.
func NewProducer(brokers []string, topic string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	return &Producer{writer: writer, logger: util.GetLogger()}
}

// PublishEvent publishes a JSON message to Kafka
func (p *Producer) PublishEvent(ctx context.Context, key string, event interface{}) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: eventBytes,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}

	p.logger.Debug("Published message",
		zap.String("topic", p.writer.Topic),
		zap.String("key", key),
		zap.String("type", fmt.Sprintf("%T", event)))
	return nil
}

// Close closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Consumer represents a Kafka consumer
type Consumer struct {
	reader *kafka.Reader
	logger *zap.Logger
}

// NewConsumer creates a consumer that starts from the oldest retained offset
// the first time its group is seen
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.FirstOffset,
	})

	return &Consumer{reader: reader, logger: util.GetLogger()}
}

// Close closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// MessageHandler is a function type for handling messages
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// StartConsuming fetches messages until ctx is done. A message is committed
// only when the handler returns nil.
func (c *Consumer) StartConsuming(ctx context.Context, handler MessageHandler) error {
	topic := c.reader.Config().Topic
	c.logger.Info("Starting Kafka consumer", zap.String("topic", topic), zap.String("group", c.reader.Config().GroupID))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer context cancelled, stopping", zap.String("topic", topic))
			return ctx.Err()
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				c.logger.Warn("Error fetching message", zap.String("topic", topic), zap.Error(err))
				time.Sleep(time.Second)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				c.logger.Error("Error handling message",
					zap.String("topic", topic),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
				continue
			}

			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				c.logger.Warn("Error committing message", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
}

// PartitionTail reads every partition of a topic from the position each
// partition had when the tail was opened. It joins no consumer group, so
// nothing is committed and the start position is fixed before the first
// read.
type PartitionTail struct {
	topic   string
	readers []*kafka.Reader
	logger  *zap.Logger
}

// NewPartitionTail resolves the partitions of topic and positions one reader
// per partition at its last offset
func NewPartitionTail(ctx context.Context, brokers []string, topic string) (*PartitionTail, error) {
	partitions, err := readPartitions(ctx, brokers, topic)
	if err != nil {
		return nil, err
	}
	if len(partitions) == 0 {
		return nil, fmt.Errorf("topic %s has no partitions", topic)
	}

	t := &PartitionTail{topic: topic, logger: util.GetLogger()}
	for _, p := range partitions {
		last, err := lastOffset(ctx, brokers, topic, p.ID)
		if err != nil {
			t.Close()
			return nil, err
		}

		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   brokers,
			Topic:     topic,
			Partition: p.ID,
			MinBytes:  1,
			MaxBytes:  10e6,
		})
		if err := reader.SetOffset(last); err != nil {
			reader.Close()
			t.Close()
			return nil, fmt.Errorf("failed to position %s/%d at %d: %w", topic, p.ID, last, err)
		}
		t.readers = append(t.readers, reader)
	}
	return t, nil
}

func readPartitions(ctx context.Context, brokers []string, topic string) ([]kafka.Partition, error) {
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(topic)
		conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return partitions, nil
	}
	return nil, fmt.Errorf("failed to read partitions of %s: %w", topic, lastErr)
}

func lastOffset(ctx context.Context, brokers []string, topic string, partition int) (int64, error) {
	var lastErr error
	for _, addr := range brokers {
		conn, err := kafka.DialLeader(ctx, "tcp", addr, topic, partition)
		if err != nil {
			lastErr = err
			continue
		}
		offset, err := conn.ReadLastOffset()
		conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return offset, nil
	}
	return 0, fmt.Errorf("failed to read last offset of %s/%d: %w", topic, partition, lastErr)
}

// Partitions returns the number of partitions being read
func (t *PartitionTail) Partitions() int {
	return len(t.readers)
}

// StartConsuming reads every partition until ctx is done. Handler errors are
// logged and the message skipped.
func (t *PartitionTail) StartConsuming(ctx context.Context, handler MessageHandler) {
	var wg sync.WaitGroup
	for _, reader := range t.readers {
		wg.Add(1)
		go func(r *kafka.Reader) {
			defer wg.Done()
			t.consume(ctx, r, handler)
		}(reader)
	}
	wg.Wait()
}

func (t *PartitionTail) consume(ctx context.Context, r *kafka.Reader, handler MessageHandler) {
	partition := r.Config().Partition
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.logger.Warn("Error reading partition",
				zap.String("topic", t.topic),
				zap.Int("partition", partition),
				zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := handler(ctx, msg); err != nil {
			t.logger.Error("Error handling message",
				zap.String("topic", t.topic),
				zap.Int("partition", partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err))
		}
	}
}

// Close closes every partition reader
func (t *PartitionTail) Close() error {
	var firstErr error
	for _, r := range t.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
