package ledger

import (
	"fmt"
	"time"

	"decoration-service/internal/models"
	"decoration-service/internal/sequence"
)

// RollbackNote marks the audit entry written by a full-order rollback
const RollbackNote = "order rolled back"

// Reset returns a component to its initial state: all quantities back to zero
// (restoring consumed stock), dispatch metadata cleared and vehicles back to
// PENDING. History is kept; a compensating entry is appended to every record
// that had progress so the history still sums to the completed quantity.
func Reset(c *models.Component, actor string, at time.Time) {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	for _, rec := range c.Decorations {
		if rec.CompletedQty > 0 || rec.InventoryUsed > 0 {
			rec.History = append(rec.History, models.ProductionEntry{
				Date:             at,
				Actor:            actor,
				QuantityProduced: -(rec.CompletedQty - rec.InventoryUsed),
				StockUsed:        -rec.InventoryUsed,
				Notes:            RollbackNote,
			})
		}
		rec.CompletedQty = 0
		rec.InventoryUsed = 0
		rec.DispatchedBy = ""
		rec.DispatchedAt = nil
		Recompute(rec)
	}
	for i := range c.Vehicles {
		c.Vehicles[i].Status = models.VehiclePending
		c.Vehicles[i].Received = false
		c.Vehicles[i].Approved = false
	}
	c.Version++
}

// PrepareOrder normalises an order arriving from intake: team names are
// canonicalised, statuses derived, versions initialised and invariants
// checked against the sequence.
func PrepareOrder(p *sequence.Policy, order *models.Order) error {
	if order.OrderNumber == "" {
		return models.NewError(models.KindInvalidRequest, "order number is required")
	}
	if len(order.Items) == 0 {
		return models.NewError(models.KindInvalidRequest, "order %s has no items", order.OrderNumber)
	}

	items := make(map[string]bool, len(order.Items))
	for i := range order.Items {
		item := &order.Items[i]
		if item.ItemID == "" || items[item.ItemID] {
			return models.NewError(models.KindInvalidRequest, "item id %q is empty or duplicated", item.ItemID)
		}
		items[item.ItemID] = true

		comps := make(map[string]bool, len(item.Components))
		for j := range item.Components {
			comp := &item.Components[j]
			if comp.ComponentID == "" || comps[comp.ComponentID] {
				return models.NewError(models.KindInvalidRequest, "component id %q is empty or duplicated in item %s", comp.ComponentID, item.ItemID)
			}
			comps[comp.ComponentID] = true

			if err := prepareComponent(p, comp); err != nil {
				return models.NewError(models.KindInvalidRequest, "item %s: %v", item.ItemID, err)
			}
		}
	}

	order.Status = DeriveOrderStatus(order)
	return nil
}

func prepareComponent(p *sequence.Policy, comp *models.Component) error {
	if comp.Type == "" {
		comp.Type = models.ComponentTypeGlass
	}

	decorations := make(map[string]*models.DecorationRecord, len(comp.Decorations))
	for key, rec := range comp.Decorations {
		if rec == nil {
			return fmt.Errorf("component %s: empty record for %q", comp.ComponentID, key)
		}
		team := sequence.Normalize(key)
		if !p.Contains(team) {
			return fmt.Errorf("component %s: team %q is not part of the sequence", comp.ComponentID, key)
		}
		if _, dup := decorations[team]; dup {
			return fmt.Errorf("component %s: team %q assigned twice", comp.ComponentID, team)
		}
		rec.Team = team
		if rec.TotalQuantity == 0 {
			rec.TotalQuantity = comp.TotalQuantity
		}
		Recompute(rec)
		decorations[team] = rec
	}
	comp.Decorations = decorations

	for i := range comp.Vehicles {
		if comp.Vehicles[i].Status == "" {
			comp.Vehicles[i].Status = models.VehiclePending
		}
	}
	if comp.Version == 0 {
		comp.Version = 1
	}
	return CheckInvariants(comp)
}
