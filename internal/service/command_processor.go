package service

import (
	"context"
	"errors"

	"decoration-service/internal/models"
	"decoration-service/internal/util"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// CommandProcessor validates mutation commands and routes them to the ledger service
type CommandProcessor struct {
	ledger    *LedgerService
	validate  *validator.Validate
	publisher EventPublisher
	logger    *zap.Logger
}

// NewCommandProcessor creates a new command processor
func NewCommandProcessor(ledger *LedgerService, publisher EventPublisher) *CommandProcessor {
	return &CommandProcessor{
		ledger:    ledger,
		validate:  validator.New(),
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// Validate checks the command's shape before it reaches a component lock
func (cp *CommandProcessor) Validate(cmd *models.Command) error {
	if err := cp.validate.Struct(cmd); err != nil {
		return models.NewError(validationKind(err), "%v", err)
	}

	switch cmd.Type {
	case models.CommandProductionUpdate:
		if cmd.Production == nil {
			return models.NewError(models.KindInvalidRequest, "%s requires a production payload", cmd.Type)
		}
	case models.CommandVehicleReceived, models.CommandVehicleApproved:
		if cmd.Vehicle == nil {
			return models.NewError(models.KindInvalidRequest, "%s requires a vehicle payload", cmd.Type)
		}
	}
	return nil
}

// Execute applies a command without publishing a reply. Used by synchronous
// callers that receive the outcome directly.
func (cp *CommandProcessor) Execute(ctx context.Context, cmd *models.Command) (*models.Component, error) {
	if err := cp.Validate(cmd); err != nil {
		return nil, err
	}
	return cp.route(ctx, cmd, Origin{RequestID: cmd.RequestID})
}

// Handle applies a command and publishes its outcome, correlated to the
// command, on the events stream
func (cp *CommandProcessor) Handle(ctx context.Context, cmd *models.Command) error {
	ctx, span := util.StartSpan(ctx, "CommandProcessor.Handle")
	defer span.End()

	if err := cp.Validate(cmd); err != nil {
		cp.logger.Warn("Invalid command",
			zap.String("correlation_id", cmd.CorrelationID),
			zap.String("type", cmd.Type),
			zap.Error(err))
		cp.rejectInvalid(ctx, cmd, err)
		return err
	}

	_, err := cp.route(ctx, cmd, Origin{RequestID: cmd.RequestID, CorrelationID: cmd.CorrelationID})
	return err
}

func (cp *CommandProcessor) route(ctx context.Context, cmd *models.Command, origin Origin) (*models.Component, error) {
	key := cmd.Key()

	switch cmd.Type {
	case models.CommandProductionUpdate:
		return cp.ledger.ApplyProduction(ctx, ProductionRequest{
			Origin:    origin,
			Key:       key,
			Team:      cmd.Team,
			Quantity:  cmd.Production.Quantity,
			StockUsed: cmd.Production.StockUsed,
			Notes:     cmd.Production.Notes,
			Actor:     cmd.Actor,
			At:        cmd.Timestamp,
		})

	case models.CommandDispatch:
		return cp.ledger.Dispatch(ctx, DispatchRequest{
			Origin: origin,
			Key:    key,
			Team:   cmd.Team,
			Actor:  cmd.Actor,
			At:     cmd.Timestamp,
		})

	case models.CommandVehicleReceived:
		return cp.ledger.MarkVehicleReceived(ctx, VehicleRequest{
			Origin: origin,
			Key:    key,
			Team:   cmd.Team,
			Actor:  cmd.Actor,
			Index:  cmd.Vehicle.VehicleIndex,
		})

	case models.CommandVehicleApproved:
		return cp.ledger.MarkVehicleApproved(ctx, VehicleRequest{
			Origin: origin,
			Key:    key,
			Team:   cmd.Team,
			Actor:  cmd.Actor,
			Index:  cmd.Vehicle.VehicleIndex,
		})
	}

	return nil, models.NewError(models.KindInvalidRequest, "unknown command type %q", cmd.Type)
}

func (cp *CommandProcessor) rejectInvalid(ctx context.Context, cmd *models.Command, err error) {
	if cmd.CorrelationID == "" || cp.publisher == nil {
		return
	}

	env := cp.ledger.newEnvelope(models.EventTypeMutationRejected, cmd.Key(), cmd.Team)
	env.CorrelationID = cmd.CorrelationID
	env.Rejection = models.NewRejection(err)

	if err := cp.publisher.PublishEnvelope(ctx, env); err != nil {
		cp.logger.Error("Failed to publish rejection",
			zap.String("correlation_id", cmd.CorrelationID),
			zap.Error(err))
	}
}

// validationKind reports InvalidQuantity when only the quantity split is malformed
func validationKind(err error) models.ErrorKind {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return models.KindInvalidRequest
	}
	for _, fe := range verrs {
		if fe.StructField() != "Quantity" && fe.StructField() != "StockUsed" {
			return models.KindInvalidRequest
		}
	}
	return models.KindInvalidQuantity
}
