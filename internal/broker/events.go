package broker

import (
	"context"
	"encoding/json"

	"decoration-service/internal/models"
	"decoration-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher publishes replies and broadcasts to the events topic
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishEnvelope publishes a reply or broadcast keyed by order number
func (ep *EventPublisher) PublishEnvelope(ctx context.Context, env *models.Envelope) error {
	return ep.producer.PublishEvent(ctx, env.OrderNumber, env)
}

// CommandPublisher sends mutation commands to the commands topic
type CommandPublisher struct {
	producer *Producer
}

// NewCommandPublisher creates a new command publisher
func NewCommandPublisher(producer *Producer) *CommandPublisher {
	return &CommandPublisher{producer: producer}
}

// PublishCommand publishes a command keyed by order number
func (cp *CommandPublisher) PublishCommand(ctx context.Context, cmd *models.Command) error {
	return cp.producer.PublishEvent(ctx, cmd.OrderNumber, cmd)
}

// EventHandler decodes messages from the decoration topics
type EventHandler struct {
	onCommand  func(context.Context, *models.Command) error
	onEnvelope func(context.Context, *models.Envelope) error
	logger     *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnCommand registers a handler for mutation commands
func (eh *EventHandler) OnCommand(handler func(context.Context, *models.Command) error) {
	eh.onCommand = handler
}

// OnEnvelope registers a handler for replies and broadcasts
func (eh *EventHandler) OnEnvelope(handler func(context.Context, *models.Envelope) error) {
	eh.onEnvelope = handler
}

type shape struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

// HandleMessage routes messages to the registered handlers. Messages that
// cannot be decoded are logged and dropped.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return eh.Route(ctx, msg.Value)
}

// Route decodes one JSON message and dispatches it
func (eh *EventHandler) Route(ctx context.Context, data []byte) error {
	var p shape
	if err := json.Unmarshal(data, &p); err != nil {
		eh.logger.Warn("Dropping undecodable message", zap.Error(err))
		return nil
	}

	switch {
	case p.EventType != "":
		if eh.onEnvelope == nil {
			return nil
		}
		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			eh.logger.Warn("Dropping malformed event", zap.String("event_type", p.EventType), zap.Error(err))
			return nil
		}
		return eh.onEnvelope(ctx, &env)

	case p.Type != "":
		if eh.onCommand == nil {
			return nil
		}
		var cmd models.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			eh.logger.Warn("Dropping malformed command", zap.Error(err))
			return nil
		}
		return eh.onCommand(ctx, &cmd)

	default:
		eh.logger.Warn("Unhandled message", zap.ByteString("value", data))
	}

	return nil
}
