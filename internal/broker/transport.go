package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"decoration-service/internal/models"
	"decoration-service/internal/util"

	"go.uber.org/zap"
)

// KafkaTransport connects a client session to the service through Kafka:
// commands go out on the commands topic and every session tails each
// partition of the events topic from where it stood at subscription.
type KafkaTransport struct {
	commands    *CommandPublisher
	producer    *Producer
	brokers     []string
	eventsTopic string
	dialTimeout time.Duration
	logger      *zap.Logger
}

// NewKafkaTransport creates a new Kafka transport
func NewKafkaTransport(brokers []string, commandsTopic, eventsTopic string) *KafkaTransport {
	producer := NewProducer(brokers, commandsTopic)
	return &KafkaTransport{
		commands:    NewCommandPublisher(producer),
		producer:    producer,
		brokers:     brokers,
		eventsTopic: eventsTopic,
		dialTimeout: 10 * time.Second,
		logger:      util.GetLogger(),
	}
}

// Send publishes a command
func (t *KafkaTransport) Send(ctx context.Context, cmd *models.Command) error {
	if err := t.commands.PublishCommand(ctx, cmd); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	return nil
}

// Subscribe starts tailing the events topic. It returns once every partition
// reader is positioned, so any event published after Subscribe returns is
// delivered. The returned func stops the readers.
func (t *KafkaTransport) Subscribe(handler func(*models.Envelope)) (func(), error) {
	dialCtx, cancelDial := context.WithTimeout(context.Background(), t.dialTimeout)
	tail, err := NewPartitionTail(dialCtx, t.brokers, t.eventsTopic)
	cancelDial()
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", t.eventsTopic, err)
	}
	t.logger.Info("Tailing events topic",
		zap.String("topic", t.eventsTopic),
		zap.Int("partitions", tail.Partitions()))

	eh := NewEventHandler()
	eh.OnEnvelope(func(_ context.Context, env *models.Envelope) error {
		handler(env)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		tail.StartConsuming(ctx, eh.HandleMessage)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			if err := tail.Close(); err != nil {
				t.logger.Warn("Failed to close events readers", zap.String("topic", t.eventsTopic), zap.Error(err))
			}
		})
	}, nil
}

// Close closes the command producer
func (t *KafkaTransport) Close() error {
	return t.producer.Close()
}
