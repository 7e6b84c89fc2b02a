package broker

import (
	"context"
	"errors"
	"sync"

	"decoration-service/internal/models"
	"decoration-service/internal/util"

	"go.uber.org/zap"
)

// ErrNoCommandHandler is returned by Send before ServeCommands was called
var ErrNoCommandHandler = errors.New("no command handler registered")

// MemoryBus is an in-process transport. It carries commands to the service
// and fans replies and broadcasts out to every subscriber, in publish order.
type MemoryBus struct {
	mu       sync.RWMutex
	subs     map[int]func(*models.Envelope)
	nextID   int
	commands func(context.Context, *models.Command) error
	wg       sync.WaitGroup
	logger   *zap.Logger
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs:   make(map[int]func(*models.Envelope)),
		logger: util.GetLogger(),
	}
}

// ServeCommands registers the service-side command handler
func (b *MemoryBus) ServeCommands(handler func(context.Context, *models.Command) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands = handler
}

// Send delivers a command to the service asynchronously, like a broker would
func (b *MemoryBus) Send(ctx context.Context, cmd *models.Command) error {
	b.mu.RLock()
	handler := b.commands
	b.mu.RUnlock()
	if handler == nil {
		return ErrNoCommandHandler
	}

	copied := *cmd
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := handler(context.Background(), &copied); err != nil {
			b.logger.Debug("Command finished with error",
				zap.String("correlation_id", copied.CorrelationID),
				zap.Error(err))
		}
	}()
	return nil
}

// Subscribe registers a receiver of every published envelope
func (b *MemoryBus) Subscribe(handler func(*models.Envelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}, nil
}

// PublishEnvelope delivers the envelope synchronously to every subscriber.
// Each subscriber receives its own copy of the component.
func (b *MemoryBus) PublishEnvelope(ctx context.Context, env *models.Envelope) error {
	b.mu.RLock()
	handlers := make([]func(*models.Envelope), 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		copied := *env
		copied.Component = env.Component.Clone()
		h(&copied)
	}
	return nil
}

// Wait blocks until every command sent so far has been handled
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

// Subscribers returns the number of active subscriptions
func (b *MemoryBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
