// Package ledger applies the production, dispatch and vehicle protocols to a
// component's decoration ledger. Every operation validates completely before
// it writes, so a returned error always means the component is untouched.
package ledger

import (
	"fmt"

	"decoration-service/internal/models"
)

// DeriveStatus is the only place a decoration status is computed
func DeriveStatus(completed, total int, dispatched bool) models.DecorationStatus {
	switch {
	case dispatched:
		return models.StatusDispatched
	case completed == 0:
		return models.StatusPending
	case completed < total:
		return models.StatusInProgress
	default:
		return models.StatusReadyToDispatch
	}
}

// Recompute refreshes the record's status from its quantities and dispatch metadata
func Recompute(rec *models.DecorationRecord) {
	rec.Status = DeriveStatus(rec.CompletedQty, rec.TotalQuantity, rec.DispatchedAt != nil)
}

// Remaining is the quantity the team still owes
func Remaining(rec *models.DecorationRecord) int {
	return rec.TotalQuantity - rec.CompletedQty
}

// StockRemaining is the pre-existing stock the team can still draw on
func StockRemaining(rec *models.DecorationRecord) int {
	return rec.AvailableStock - rec.InventoryUsed
}

// DeriveOrderStatus rolls the decoration records of an order up into an order status
func DeriveOrderStatus(order *models.Order) models.OrderStatus {
	records, dispatched, started := 0, 0, 0
	for _, item := range order.Items {
		for _, comp := range item.Components {
			for _, rec := range comp.Decorations {
				records++
				if rec.Status == models.StatusDispatched {
					dispatched++
				}
				if rec.CompletedQty > 0 || rec.Status == models.StatusDispatched {
					started++
				}
			}
		}
	}

	switch {
	case records > 0 && dispatched == records:
		return models.OrderStatusDispatched
	case started > 0:
		return models.OrderStatusInProgress
	default:
		return models.OrderStatusPendingPI
	}
}

// CheckInvariants verifies the quantity and status invariants of a component
func CheckInvariants(c *models.Component) error {
	if c.TotalQuantity < 1 {
		return fmt.Errorf("component %s: total quantity must be positive", c.ComponentID)
	}
	if len(c.Decorations) > 0 && c.Type != models.ComponentTypeGlass {
		return fmt.Errorf("component %s: only glass components carry decorations", c.ComponentID)
	}
	for team, rec := range c.Decorations {
		if rec.Team != team {
			return fmt.Errorf("component %s: record keyed %q belongs to %q", c.ComponentID, team, rec.Team)
		}
		if rec.TotalQuantity < 1 {
			return fmt.Errorf("component %s/%s: total quantity must be positive", c.ComponentID, team)
		}
		if rec.CompletedQty < 0 || rec.CompletedQty > rec.TotalQuantity {
			return fmt.Errorf("component %s/%s: completed %d outside [0, %d]", c.ComponentID, team, rec.CompletedQty, rec.TotalQuantity)
		}
		if rec.InventoryUsed < 0 || rec.InventoryUsed > rec.AvailableStock {
			return fmt.Errorf("component %s/%s: inventory used %d outside [0, %d]", c.ComponentID, team, rec.InventoryUsed, rec.AvailableStock)
		}
		if rec.DispatchedAt != nil && rec.CompletedQty < rec.TotalQuantity {
			return fmt.Errorf("component %s/%s: dispatched with %d of %d completed", c.ComponentID, team, rec.CompletedQty, rec.TotalQuantity)
		}
		if want := DeriveStatus(rec.CompletedQty, rec.TotalQuantity, rec.DispatchedAt != nil); rec.Status != want {
			return fmt.Errorf("component %s/%s: status %s, expected %s", c.ComponentID, team, rec.Status, want)
		}
	}
	for i, v := range c.Vehicles {
		if v.Approved && !v.Received && v.Status != models.VehicleDelivered {
			return fmt.Errorf("component %s: vehicle %d approved before receipt", c.ComponentID, i)
		}
	}
	return nil
}
