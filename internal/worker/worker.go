package worker

import (
	"context"
	"log"

	"decoration-service/internal/broker"
	"decoration-service/internal/models"
	"decoration-service/internal/service"
	"decoration-service/internal/util"

	"go.uber.org/zap"
)

// CommandHandler applies one command and publishes its outcome
type CommandHandler interface {
	Handle(ctx context.Context, cmd *models.Command) error
}

// CommandWorker consumes mutation commands and feeds them to the processor
type CommandWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	processor    CommandHandler
}

// NewCommandWorker creates a new command worker
func NewCommandWorker(consumer *broker.Consumer, processor *service.CommandProcessor) *CommandWorker {
	w := &CommandWorker{
		consumer:  consumer,
		processor: processor,
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnCommand(w.handle)
	w.eventHandler = eventHandler

	return w
}

// handle never fails the message: the outcome, rejection included, has
// already been published to the requester, so redelivery would only repeat it
func (w *CommandWorker) handle(ctx context.Context, cmd *models.Command) error {
	if err := w.processor.Handle(ctx, cmd); err != nil {
		util.GetLogger().Debug("Command not applied",
			append(util.ComponentFields(cmd.OrderNumber, cmd.ItemID, cmd.ComponentID, cmd.Team),
				zap.String("correlation_id", cmd.CorrelationID),
				zap.String("kind", string(models.KindOf(err))))...)
	}
	return nil
}

// Start starts the worker
func (w *CommandWorker) Start(ctx context.Context) error {
	log.Println("Starting command worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *CommandWorker) Stop() error {
	log.Println("Stopping command worker...")
	return w.consumer.Close()
}
