package service

import (
	"context"
	"errors"

	"decoration-service/internal/models"
	"decoration-service/internal/redisclient"
	"decoration-service/internal/util"

	"go.uber.org/zap"
)

// StockSource reports the raw material available per team, implemented by redisclient.Client
type StockSource interface {
	GetStock(ctx context.Context, orderNumber, itemID, componentID, team string) (int, error)
	SetStock(ctx context.Context, orderNumber, itemID, componentID, team string, available int) error
}

// InventoryClient refreshes available stock from the inventory feed before a
// production update is validated
type InventoryClient struct {
	source StockSource
	logger *zap.Logger
}

// NewInventoryClient creates a new inventory client. A nil source disables
// the read-through and the stored figures are used as they are.
func NewInventoryClient(source StockSource) *InventoryClient {
	return &InventoryClient{
		source: source,
		logger: util.GetLogger(),
	}
}

// RefreshStock overwrites AvailableStock on the team's record with the latest
// reported figure. Failures are logged and the stored value is kept. A figure
// below what was already consumed is clamped to inventory_used.
func (ic *InventoryClient) RefreshStock(ctx context.Context, key models.ComponentKey, comp *models.Component, team string) {
	if ic == nil || ic.source == nil {
		return
	}
	rec := comp.Record(team)
	if rec == nil {
		return
	}

	ctx, span := util.StartSpan(ctx, "InventoryClient.RefreshStock")
	defer span.End()

	available, err := ic.source.GetStock(ctx, key.OrderNumber, key.ItemID, key.ComponentID, team)
	if errors.Is(err, redisclient.ErrStockNotFound) {
		return
	}
	if err != nil {
		ic.logger.Warn("Stock read failed, using stored figure",
			append(util.ComponentFields(key.OrderNumber, key.ItemID, key.ComponentID, team), zap.Error(err))...)
		return
	}

	if available < rec.InventoryUsed {
		ic.logger.Warn("Reported stock below consumed stock, clamping",
			append(util.ComponentFields(key.OrderNumber, key.ItemID, key.ComponentID, team),
				zap.Int("reported", available),
				zap.Int("inventory_used", rec.InventoryUsed))...)
		available = rec.InventoryUsed
	}
	rec.AvailableStock = available
}

// ReportStock publishes a new stock figure for a team
func (ic *InventoryClient) ReportStock(ctx context.Context, key models.ComponentKey, team string, available int) error {
	if ic == nil || ic.source == nil {
		return models.NewError(models.KindInvalidRequest, "inventory feed is not configured")
	}
	if available < 0 {
		return models.NewError(models.KindInvalidQuantity, "available stock must not be negative, got %d", available)
	}

	ctx, span := util.StartSpan(ctx, "InventoryClient.ReportStock")
	defer span.End()

	return ic.source.SetStock(ctx, key.OrderNumber, key.ItemID, key.ComponentID, team, available)
}
