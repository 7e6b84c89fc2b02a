package service

import (
	"context"
	"testing"

	"decoration-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func productionCommand(correlationID, team string, qty, stock int) *models.Command {
	return &models.Command{
		RequestID:     "req-" + correlationID,
		CorrelationID: correlationID,
		Type:          models.CommandProductionUpdate,
		OrderNumber:   testKey.OrderNumber,
		ItemID:        testKey.ItemID,
		ComponentID:   testKey.ComponentID,
		Team:          team,
		Actor:         "ana",
		Production:    &models.ProductionPayload{Quantity: qty, StockUsed: stock},
	}
}

func TestHandleConfirmsThenBroadcasts(t *testing.T) {
	f := newFixture(t)
	cp := NewCommandProcessor(f.svc, f.pub)

	require.NoError(t, cp.Handle(context.Background(), productionCommand("c-1", "coating", 10, 2)))

	events := f.pub.all()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventTypeMutationConfirmed, events[0].EventType)
	assert.Equal(t, "c-1", events[0].CorrelationID)
	assert.Equal(t, "coating", events[0].Team)
	assert.Equal(t, 10, events[0].Component.Record("coating").CompletedQty)
	assert.Equal(t, models.EventTypeComponentUpdated, events[1].EventType)
	assert.Equal(t, events[0].Component.Version, events[1].Component.Version)
}

func TestHandlePublishesDomainRejection(t *testing.T) {
	f := newFixture(t)
	cp := NewCommandProcessor(f.svc, f.pub)

	err := cp.Handle(context.Background(), productionCommand("c-2", "foiling", 10, 0))
	assert.ErrorIs(t, err, models.ErrSequenceViolation)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventTypeMutationRejected, events[0].EventType)
	assert.Equal(t, "c-2", events[0].CorrelationID)
	require.NotNil(t, events[0].Rejection)
	assert.Equal(t, models.KindSequenceViolation, events[0].Rejection.Kind)
	assert.Contains(t, events[0].Rejection.Message, "coating not dispatched")
	assert.Contains(t, events[0].Rejection.Message, "printing not dispatched")
}

func TestHandleRejectsMalformedCommands(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Command)
		kind   models.ErrorKind
	}{
		{"missing actor", func(c *models.Command) { c.Actor = "" }, models.KindInvalidRequest},
		{"unknown type", func(c *models.Command) { c.Type = "paint" }, models.KindInvalidRequest},
		{"missing payload", func(c *models.Command) { c.Production = nil }, models.KindInvalidRequest},
		{"zero quantity", func(c *models.Command) { c.Production.Quantity = 0 }, models.KindInvalidQuantity},
		{"stock above quantity", func(c *models.Command) { c.Production.StockUsed = 11 }, models.KindInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			cp := NewCommandProcessor(f.svc, f.pub)

			cmd := productionCommand("c-bad", "coating", 10, 0)
			tt.mutate(cmd)
			err := cp.Handle(context.Background(), cmd)
			assert.Equal(t, tt.kind, models.KindOf(err))

			events := f.pub.all()
			require.Len(t, events, 1)
			assert.Equal(t, models.EventTypeMutationRejected, events[0].EventType)
			assert.Equal(t, tt.kind, events[0].Rejection.Kind)
			assert.Equal(t, 1, int(f.component(t).Version))
		})
	}
}

func TestExecuteRoutesEveryCommandType(t *testing.T) {
	f := newFixture(t)
	cp := NewCommandProcessor(f.svc, f.pub)
	ctx := context.Background()

	comp, err := cp.Execute(ctx, productionCommand("c-3", "coating", 100, 0))
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyToDispatch, comp.Record("coating").Status)

	dispatch := productionCommand("c-4", "coating", 0, 0)
	dispatch.Type = models.CommandDispatch
	dispatch.Production = nil
	comp, err = cp.Execute(ctx, dispatch)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDispatched, comp.Record("coating").Status)

	vehicle := productionCommand("c-5", "coating", 0, 0)
	vehicle.Type = models.CommandVehicleReceived
	vehicle.Production = nil
	_, err = cp.Execute(ctx, vehicle)
	assert.ErrorIs(t, err, models.ErrInvalidRequest)

	vehicle.Vehicle = &models.VehiclePayload{VehicleIndex: 0}
	_, err = cp.Execute(ctx, vehicle)
	assert.ErrorIs(t, err, models.ErrVehicleNotFound)

	// Execute never replies
	assert.Empty(t, f.pub.ofType(models.EventTypeMutationConfirmed))
	assert.Empty(t, f.pub.ofType(models.EventTypeMutationRejected))
}
