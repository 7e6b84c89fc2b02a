package models

import (
	"errors"
	"time"
)

// Command types
const (
	CommandProductionUpdate = "production_update"
	CommandDispatch         = "dispatch"
	CommandVehicleReceived  = "vehicle_received"
	CommandVehicleApproved  = "vehicle_approved"
)

// Event types
const (
	EventTypeMutationConfirmed = "MUTATION_CONFIRMED"
	EventTypeMutationRejected  = "MUTATION_REJECTED"
	EventTypeComponentUpdated  = "COMPONENT_UPDATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Command is a mutation request sent by a client to the authoritative service
type Command struct {
	RequestID     string             `json:"request_id" validate:"required"`
	CorrelationID string             `json:"correlation_id" validate:"required"`
	Type          string             `json:"type" validate:"required,oneof=production_update dispatch vehicle_received vehicle_approved"`
	OrderNumber   string             `json:"order_number" validate:"required"`
	ItemID        string             `json:"item_id" validate:"required"`
	ComponentID   string             `json:"component_id" validate:"required"`
	Team          string             `json:"team" validate:"required"`
	Actor         string             `json:"actor" validate:"required"`
	Timestamp     time.Time          `json:"timestamp"`
	Production    *ProductionPayload `json:"production,omitempty" validate:"omitempty"`
	Vehicle       *VehiclePayload    `json:"vehicle,omitempty" validate:"omitempty"`
}

// ProductionPayload carries the quantity split of a production update
type ProductionPayload struct {
	Quantity  int    `json:"quantity" validate:"gte=1"`
	StockUsed int    `json:"stock_used" validate:"gte=0,ltefield=Quantity"`
	Notes     string `json:"notes,omitempty" validate:"max=1000"`
}

// VehiclePayload addresses one vehicle of a component
type VehiclePayload struct {
	VehicleIndex int `json:"vehicle_index" validate:"gte=0"`
}

// Key returns the component addressed by the command
func (c *Command) Key() ComponentKey {
	return ComponentKey{OrderNumber: c.OrderNumber, ItemID: c.ItemID, ComponentID: c.ComponentID}
}

// Rejection is the wire form of a domain error
type Rejection struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// NewRejection converts an error into its wire form. Errors that are not
// domain errors travel as Internal with their full text.
func NewRejection(err error) *Rejection {
	var de *Error
	if errors.As(err, &de) {
		return &Rejection{Kind: de.Kind, Message: de.Message}
	}
	return &Rejection{Kind: KindInternal, Message: err.Error()}
}

// Err converts the rejection back into a domain error
func (r *Rejection) Err() error {
	return &Error{Kind: r.Kind, Message: r.Message}
}

// Envelope is any event emitted by the authoritative service: a reply
// (confirmation or rejection) correlated to a command, or a broadcast of the
// new component state to every observer of the order.
type Envelope struct {
	BaseEvent
	CorrelationID string     `json:"correlation_id,omitempty"`
	OrderNumber   string     `json:"order_number"`
	ItemID        string     `json:"item_id"`
	ComponentID   string     `json:"component_id"`
	Team          string     `json:"team,omitempty"`
	Component     *Component `json:"component,omitempty"`
	Rejection     *Rejection `json:"rejection,omitempty"`
}

// Key returns the component addressed by the envelope
func (e *Envelope) Key() ComponentKey {
	return ComponentKey{OrderNumber: e.OrderNumber, ItemID: e.ItemID, ComponentID: e.ComponentID}
}
