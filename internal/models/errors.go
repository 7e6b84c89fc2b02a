package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected mutation
type ErrorKind string

// Error kinds
const (
	KindNotAssigned         ErrorKind = "NotAssigned"
	KindSequenceViolation   ErrorKind = "SequenceViolation"
	KindVehiclesNotApproved ErrorKind = "VehiclesNotApproved"
	KindOverAllocation      ErrorKind = "OverAllocation"
	KindStockExceeded       ErrorKind = "StockExceeded"
	KindNotReady            ErrorKind = "NotReady"
	KindInvalidQuantity     ErrorKind = "InvalidQuantity"
	KindVehicleNotFound     ErrorKind = "VehicleNotFound"
	KindVehicleNotReceived  ErrorKind = "VehicleNotReceived"
	KindComponentNotFound   ErrorKind = "ComponentNotFound"
	KindOrderNotFound       ErrorKind = "OrderNotFound"
	KindOrderExists         ErrorKind = "OrderExists"
	KindInvalidRequest      ErrorKind = "InvalidRequest"
	KindConflict            ErrorKind = "Conflict"

	// client side only
	KindMutationInFlight ErrorKind = "MutationInFlight"
	KindTimeout          ErrorKind = "Timeout"
	KindSessionClosed    ErrorKind = "SessionClosed"

	KindInternal ErrorKind = "Internal"
)

// Error is a domain rejection. Two errors match under errors.Is when their
// kinds are equal and the target carries no message.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches sentinel errors by kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinel errors, use with errors.Is
var (
	ErrNotAssigned         = &Error{Kind: KindNotAssigned}
	ErrSequenceViolation   = &Error{Kind: KindSequenceViolation}
	ErrVehiclesNotApproved = &Error{Kind: KindVehiclesNotApproved}
	ErrOverAllocation      = &Error{Kind: KindOverAllocation}
	ErrStockExceeded       = &Error{Kind: KindStockExceeded}
	ErrNotReady            = &Error{Kind: KindNotReady}
	ErrInvalidQuantity     = &Error{Kind: KindInvalidQuantity}
	ErrVehicleNotFound     = &Error{Kind: KindVehicleNotFound}
	ErrVehicleNotReceived  = &Error{Kind: KindVehicleNotReceived}
	ErrComponentNotFound   = &Error{Kind: KindComponentNotFound}
	ErrOrderNotFound       = &Error{Kind: KindOrderNotFound}
	ErrOrderExists         = &Error{Kind: KindOrderExists}
	ErrInvalidRequest      = &Error{Kind: KindInvalidRequest}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrMutationInFlight    = &Error{Kind: KindMutationInFlight}
	ErrTimeout             = &Error{Kind: KindTimeout}
	ErrSessionClosed       = &Error{Kind: KindSessionClosed}
)

// NewError builds a domain error with a formatted message
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind of a domain error; anything else is Internal
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}
