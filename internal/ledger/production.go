package ledger

import (
	"time"

	"decoration-service/internal/models"
	"decoration-service/internal/sequence"
)

// ProductionUpdate is one report of progress by a team. StockUsed is the part
// of Quantity the caller designates as taken from pre-existing stock; the
// rest is fresh production.
type ProductionUpdate struct {
	Team      string
	Quantity  int
	StockUsed int
	Notes     string
	Actor     string
	At        time.Time
}

// ApplyProduction validates the update against the sequence policy and the
// record's remaining quantity and stock, then applies it.
func ApplyProduction(p *sequence.Policy, c *models.Component, u ProductionUpdate) (*models.DecorationRecord, error) {
	rec := c.Record(u.Team)
	if rec == nil || c.Type != models.ComponentTypeGlass {
		return nil, models.NewError(models.KindNotAssigned, "%s has no assignment on component %s", u.Team, c.ComponentID)
	}
	if ok, reason := p.CanWork(c, u.Team); !ok {
		return nil, models.NewError(models.KindSequenceViolation, "%s cannot work on component %s: %s", u.Team, c.ComponentID, reason)
	}
	if p.IsVehicleApprover(c, u.Team) && !p.VehiclesApproved(c) {
		return nil, models.NewError(models.KindVehiclesNotApproved, "inbound vehicles for component %s are not received and approved", c.ComponentID)
	}
	if u.Quantity < 1 {
		return nil, models.NewError(models.KindInvalidQuantity, "quantity must be at least 1, got %d", u.Quantity)
	}
	if u.StockUsed < 0 || u.StockUsed > u.Quantity {
		return nil, models.NewError(models.KindInvalidQuantity, "stock used %d must be between 0 and quantity %d", u.StockUsed, u.Quantity)
	}
	if remaining := Remaining(rec); u.Quantity > remaining {
		return nil, models.NewError(models.KindOverAllocation, "requested %d exceeds remaining %d", u.Quantity, remaining)
	}
	if stock := StockRemaining(rec); u.StockUsed > stock {
		return nil, models.NewError(models.KindStockExceeded, "requested stock %d exceeds available %d", u.StockUsed, stock)
	}

	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	rec.CompletedQty += u.Quantity
	rec.InventoryUsed += u.StockUsed
	Recompute(rec)
	rec.History = append(rec.History, models.ProductionEntry{
		Date:             at,
		Actor:            u.Actor,
		QuantityProduced: u.Quantity - u.StockUsed,
		StockUsed:        u.StockUsed,
		Notes:            u.Notes,
	})
	c.Version++

	return rec, nil
}
