package models

import (
	"fmt"
	"time"
)

// ComponentTypeGlass is the only component type that carries decorations
const ComponentTypeGlass = "glass"

// DecorationStatus is the per-team production status of a component
type DecorationStatus string

// Decoration statuses
const (
	StatusPending         DecorationStatus = "PENDING"
	StatusInProgress      DecorationStatus = "IN_PROGRESS"
	StatusReadyToDispatch DecorationStatus = "READY_TO_DISPATCH"
	StatusDispatched      DecorationStatus = "DISPATCHED"
)

// VehicleStatus tracks an inbound vehicle
type VehicleStatus string

// Vehicle statuses
const (
	VehiclePending   VehicleStatus = "PENDING"
	VehicleInTransit VehicleStatus = "IN_TRANSIT"
	VehicleDelivered VehicleStatus = "DELIVERED"
)

// OrderStatus is rolled up from the decoration records of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPendingPI  OrderStatus = "PENDING_PI"
	OrderStatusInProgress OrderStatus = "IN_PROGRESS"
	OrderStatusDispatched OrderStatus = "DISPATCHED"
)

// Order represents a customer order and its item tree
type Order struct {
	OrderNumber string      `db:"order_number" json:"order_number"`
	Status      OrderStatus `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
	Items       []Item      `db:"-" json:"items"`
}

// Item represents one line of an order
type Item struct {
	ItemID     string      `db:"item_id" json:"item_id"`
	Name       string      `db:"name" json:"name"`
	Components []Component `db:"-" json:"components"`
}

// Component is one physical sub-part of an item that goes through decoration
type Component struct {
	ComponentID        string                       `db:"component_id" json:"component_id"`
	Type               string                       `db:"type" json:"type"`
	Name               string                       `db:"name" json:"name"`
	TotalQuantity      int                          `db:"total_quantity" json:"total_quantity"`
	DecorationApproved bool                         `db:"decoration_approved" json:"decoration_approved"`
	Version            int64                        `db:"version" json:"version"`
	Decorations        map[string]*DecorationRecord `db:"-" json:"decorations"`
	Vehicles           []VehicleRecord              `db:"-" json:"vehicles"`
}

// DecorationRecord is the production ledger entry of one team on one component
type DecorationRecord struct {
	Team           string            `db:"team" json:"team"`
	TotalQuantity  int               `db:"total_quantity" json:"total_quantity"`
	CompletedQty   int               `db:"completed_qty" json:"completed_qty"`
	AvailableStock int               `db:"available_stock" json:"available_stock"`
	InventoryUsed  int               `db:"inventory_used" json:"inventory_used"`
	Status         DecorationStatus  `db:"status" json:"status"`
	DispatchedBy   string            `db:"dispatched_by" json:"dispatched_by,omitempty"`
	DispatchedAt   *time.Time        `db:"dispatched_at" json:"dispatched_at,omitempty"`
	History        []ProductionEntry `db:"-" json:"history"`
}

// ProductionEntry is an append-only audit line of a decoration record
type ProductionEntry struct {
	Date             time.Time `db:"date" json:"date"`
	Actor            string    `db:"actor" json:"actor"`
	QuantityProduced int       `db:"quantity_produced" json:"quantity_produced"`
	StockUsed        int       `db:"stock_used" json:"stock_used"`
	Notes            string    `db:"notes" json:"notes,omitempty"`
}

// VehicleRecord is an inbound delivery of raw material to a component
type VehicleRecord struct {
	Plate       string        `db:"plate" json:"plate"`
	Destination string        `db:"destination" json:"destination"`
	DepartureAt time.Time     `db:"departure_at" json:"departure_at"`
	Status      VehicleStatus `db:"status" json:"status"`
	Received    bool          `db:"received" json:"received"`
	Approved    bool          `db:"approved" json:"approved"`
}

// ComponentKey addresses a component inside the order tree
type ComponentKey struct {
	OrderNumber string `json:"order_number"`
	ItemID      string `json:"item_id"`
	ComponentID string `json:"component_id"`
}

func (k ComponentKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.OrderNumber, k.ItemID, k.ComponentID)
}

// Record returns the decoration record of a team, or nil
func (c *Component) Record(team string) *DecorationRecord {
	if c == nil || c.Decorations == nil {
		return nil
	}
	return c.Decorations[team]
}

// Clone returns a deep copy of the component
func (c *Component) Clone() *Component {
	if c == nil {
		return nil
	}
	out := *c
	if c.Decorations != nil {
		out.Decorations = make(map[string]*DecorationRecord, len(c.Decorations))
		for team, rec := range c.Decorations {
			out.Decorations[team] = rec.Clone()
		}
	}
	if c.Vehicles != nil {
		out.Vehicles = append([]VehicleRecord(nil), c.Vehicles...)
	}
	return &out
}

// Clone returns a deep copy of the record
func (r *DecorationRecord) Clone() *DecorationRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.DispatchedAt != nil {
		at := *r.DispatchedAt
		out.DispatchedAt = &at
	}
	if r.History != nil {
		out.History = append([]ProductionEntry(nil), r.History...)
	}
	return &out
}

// Clone returns a deep copy of the order tree
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	out := *o
	out.Items = make([]Item, len(o.Items))
	for i, item := range o.Items {
		out.Items[i] = item
		out.Items[i].Components = make([]Component, len(item.Components))
		for j := range item.Components {
			out.Items[i].Components[j] = *item.Components[j].Clone()
		}
	}
	return &out
}

// Component finds a component by item and component id
func (o *Order) Component(itemID, componentID string) *Component {
	for i := range o.Items {
		if o.Items[i].ItemID != itemID {
			continue
		}
		for j := range o.Items[i].Components {
			if o.Items[i].Components[j].ComponentID == componentID {
				return &o.Items[i].Components[j]
			}
		}
	}
	return nil
}

// ReplaceComponent swaps a component in place. Returns false when it does not exist.
func (o *Order) ReplaceComponent(itemID string, comp *Component) bool {
	existing := o.Component(itemID, comp.ComponentID)
	if existing == nil {
		return false
	}
	*existing = *comp.Clone()
	return true
}

// Keys lists every component key of the order in tree order
func (o *Order) Keys() []ComponentKey {
	var keys []ComponentKey
	for _, item := range o.Items {
		for _, comp := range item.Components {
			keys = append(keys, ComponentKey{
				OrderNumber: o.OrderNumber,
				ItemID:      item.ItemID,
				ComponentID: comp.ComponentID,
			})
		}
	}
	return keys
}

// HistoryAppend is one audit entry written alongside a component change
type HistoryAppend struct {
	Team  string
	Entry ProductionEntry
}

// ComponentChange describes what a repository must persist for one mutation.
// ExpectedVersion is the version the component had when it was loaded.
type ComponentChange struct {
	ExpectedVersion int64
	Appends         []HistoryAppend
	RequestID       string
}
