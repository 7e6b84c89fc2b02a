package models

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMatchesSentinelByKind(t *testing.T) {
	err := NewError(KindOverAllocation, "requested %d, remaining %d", 70, 60)

	assert.True(t, errors.Is(err, ErrOverAllocation))
	assert.False(t, errors.Is(err, ErrStockExceeded))
	assert.Equal(t, "OverAllocation: requested 70, remaining 60", err.Error())

	wrapped := fmt.Errorf("failed to apply update: %w", err)
	assert.True(t, errors.Is(wrapped, ErrOverAllocation))
	assert.Equal(t, KindOverAllocation, KindOf(wrapped))
}

func TestKindOfUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestRejectionRoundTrip(t *testing.T) {
	r := &Rejection{Kind: KindStockExceeded, Message: "only 5 left"}
	err := r.Err()
	assert.True(t, errors.Is(err, ErrStockExceeded))
	assert.Equal(t, "StockExceeded: only 5 left", err.Error())
}

func TestComponentCloneIsDeep(t *testing.T) {
	at := time.Now()
	comp := &Component{
		ComponentID:   "c1",
		Type:          ComponentTypeGlass,
		TotalQuantity: 100,
		Decorations: map[string]*DecorationRecord{
			"coating": {
				Team:          "coating",
				TotalQuantity: 100,
				DispatchedAt:  &at,
				History:       []ProductionEntry{{Actor: "alice", QuantityProduced: 10}},
			},
		},
		Vehicles: []VehicleRecord{{Plate: "KA-01"}},
	}

	clone := comp.Clone()
	clone.Decorations["coating"].CompletedQty = 50
	clone.Decorations["coating"].History[0].Actor = "bob"
	*clone.Decorations["coating"].DispatchedAt = at.Add(time.Hour)
	clone.Vehicles[0].Received = true

	rec := comp.Record("coating")
	require.NotNil(t, rec)
	assert.Equal(t, 0, rec.CompletedQty)
	assert.Equal(t, "alice", rec.History[0].Actor)
	assert.Equal(t, at, *rec.DispatchedAt)
	assert.False(t, comp.Vehicles[0].Received)
}

func TestOrderComponentLookupAndReplace(t *testing.T) {
	order := &Order{
		OrderNumber: "SO-1",
		Items: []Item{
			{ItemID: "i1", Components: []Component{{ComponentID: "c1", TotalQuantity: 10}}},
			{ItemID: "i2", Components: []Component{{ComponentID: "c1", TotalQuantity: 20}}},
		},
	}

	assert.Equal(t, 20, order.Component("i2", "c1").TotalQuantity)
	assert.Nil(t, order.Component("i3", "c1"))

	ok := order.ReplaceComponent("i1", &Component{ComponentID: "c1", TotalQuantity: 15})
	assert.True(t, ok)
	assert.Equal(t, 15, order.Component("i1", "c1").TotalQuantity)
	assert.False(t, order.ReplaceComponent("i1", &Component{ComponentID: "missing"}))

	assert.Equal(t, []ComponentKey{
		{OrderNumber: "SO-1", ItemID: "i1", ComponentID: "c1"},
		{OrderNumber: "SO-1", ItemID: "i2", ComponentID: "c1"},
	}, order.Keys())
	assert.Equal(t, "SO-1/i1/c1", order.Keys()[0].String())
}
