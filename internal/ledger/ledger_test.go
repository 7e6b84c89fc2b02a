package ledger

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"decoration-service/internal/models"
	"decoration-service/internal/sequence"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var policy = sequence.MustPolicy("coating", "printing", "foiling")

func newComponent(teams ...string) *models.Component {
	c := &models.Component{
		ComponentID:        "c1",
		Type:               models.ComponentTypeGlass,
		TotalQuantity:      100,
		DecorationApproved: true,
		Version:            1,
		Decorations:        map[string]*models.DecorationRecord{},
	}
	for _, team := range teams {
		c.Decorations[team] = &models.DecorationRecord{
			Team:           team,
			TotalQuantity:  100,
			AvailableStock: 30,
			Status:         models.StatusPending,
		}
	}
	return c
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		completed  int
		total      int
		dispatched bool
		want       models.DecorationStatus
	}{
		{0, 100, false, models.StatusPending},
		{1, 100, false, models.StatusInProgress},
		{99, 100, false, models.StatusInProgress},
		{100, 100, false, models.StatusReadyToDispatch},
		{100, 100, true, models.StatusDispatched},
	}
	for _, tt := range tests {
		got := DeriveStatus(tt.completed, tt.total, tt.dispatched)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, got, DeriveStatus(tt.completed, tt.total, tt.dispatched), "derivation must be idempotent")
	}
}

// Scenario A
func TestApplyProductionSplitsStockAndProduction(t *testing.T) {
	c := newComponent("coating", "printing")
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rec, err := ApplyProduction(policy, c, ProductionUpdate{
		Team: "coating", Quantity: 40, StockUsed: 10, Notes: "first shift", Actor: "alice", At: at,
	})
	require.NoError(t, err)

	assert.Equal(t, 40, rec.CompletedQty)
	assert.Equal(t, 10, rec.InventoryUsed)
	assert.Equal(t, models.StatusInProgress, rec.Status)
	assert.Equal(t, int64(2), c.Version)
	require.Len(t, rec.History, 1)
	assert.Equal(t, models.ProductionEntry{
		Date: at, Actor: "alice", QuantityProduced: 30, StockUsed: 10, Notes: "first shift",
	}, rec.History[0])
	assert.NoError(t, CheckInvariants(c))
}

// Scenario B
func TestApplyProductionRejectsOverAllocation(t *testing.T) {
	c := newComponent("coating")
	_, err := ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 40, StockUsed: 10, Actor: "alice"})
	require.NoError(t, err)
	before := c.Clone()

	_, err = ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 70, Actor: "alice"})
	assert.True(t, errors.Is(err, models.ErrOverAllocation))
	assert.Equal(t, before, c, "rejected update must not mutate state")
}

func TestApplyProductionRejections(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(c *models.Component)
		update ProductionUpdate
		want   error
	}{
		{
			name:   "not assigned",
			update: ProductionUpdate{Team: "foiling", Quantity: 1},
			want:   models.ErrNotAssigned,
		},
		{
			name:   "upstream not dispatched",
			update: ProductionUpdate{Team: "printing", Quantity: 1},
			want:   models.ErrSequenceViolation,
		},
		{
			name:   "decoration not approved",
			setup:  func(c *models.Component) { c.DecorationApproved = false },
			update: ProductionUpdate{Team: "coating", Quantity: 1},
			want:   models.ErrSequenceViolation,
		},
		{
			name:   "vehicles not approved",
			setup:  func(c *models.Component) { c.Vehicles = []models.VehicleRecord{{Plate: "KA-01", Received: true}} },
			update: ProductionUpdate{Team: "coating", Quantity: 1},
			want:   models.ErrVehiclesNotApproved,
		},
		{
			name:   "zero quantity",
			update: ProductionUpdate{Team: "coating", Quantity: 0},
			want:   models.ErrInvalidQuantity,
		},
		{
			name:   "stock larger than quantity",
			update: ProductionUpdate{Team: "coating", Quantity: 5, StockUsed: 6},
			want:   models.ErrInvalidQuantity,
		},
		{
			name:   "stock exceeded",
			update: ProductionUpdate{Team: "coating", Quantity: 50, StockUsed: 31},
			want:   models.ErrStockExceeded,
		},
		{
			name:  "non glass component",
			setup: func(c *models.Component) { c.Type = "cap" },
			update: ProductionUpdate{Team: "coating", Quantity: 1},
			want:   models.ErrNotAssigned,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newComponent("coating", "printing")
			if tt.setup != nil {
				tt.setup(c)
			}
			before := c.Clone()

			_, err := ApplyProduction(policy, c, tt.update)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, before, c)
		})
	}
}

func TestApplyProductionStockIsCumulative(t *testing.T) {
	c := newComponent("coating")
	_, err := ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 20, StockUsed: 20})
	require.NoError(t, err)

	_, err = ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 20, StockUsed: 11})
	assert.True(t, errors.Is(err, models.ErrStockExceeded))

	rec, err := ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 20, StockUsed: 10})
	require.NoError(t, err)
	assert.Equal(t, 30, rec.InventoryUsed)
	assert.Equal(t, 40, rec.CompletedQty)
}

// Scenario C
func TestDispatchUnblocksNextTeam(t *testing.T) {
	c := newComponent("coating", "printing")

	ok, reason := policy.CanWork(c, "printing")
	assert.False(t, ok)
	assert.Equal(t, "coating not dispatched", reason)

	rec, err := ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 100, StockUsed: 30})
	require.NoError(t, err)
	assert.Equal(t, models.StatusReadyToDispatch, rec.Status)

	at := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	rec, changed, err := Dispatch(c, "coating", "bob", at)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusDispatched, rec.Status)
	assert.Equal(t, "bob", rec.DispatchedBy)
	assert.Equal(t, at, *rec.DispatchedAt)

	ok, reason = policy.CanWork(c, "printing")
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestDispatchIsIdempotent(t *testing.T) {
	c := newComponent("coating")
	_, err := ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 100})
	require.NoError(t, err)

	_, changed, err := Dispatch(c, "coating", "bob", time.Now())
	require.NoError(t, err)
	require.True(t, changed)
	first := c.Clone()

	rec, changed, err := Dispatch(c, "coating", "carol", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "bob", rec.DispatchedBy)
	assert.Equal(t, first, c)
	assert.Len(t, rec.History, 1, "dispatch must not add audit entries")
}

func TestDispatchRequiresReady(t *testing.T) {
	c := newComponent("coating")
	_, err := ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 99})
	require.NoError(t, err)

	_, _, err = Dispatch(c, "coating", "bob", time.Now())
	assert.True(t, errors.Is(err, models.ErrNotReady))

	_, _, err = Dispatch(c, "printing", "bob", time.Now())
	assert.True(t, errors.Is(err, models.ErrNotAssigned))
}

// Scenario D
func TestVehicleApproverBlockedUntilApproved(t *testing.T) {
	c := newComponent("printing", "foiling")
	c.Vehicles = []models.VehicleRecord{{Plate: "KA-01", Status: models.VehicleInTransit}}

	_, err := ApplyProduction(policy, c, ProductionUpdate{Team: "printing", Quantity: 10})
	assert.True(t, errors.Is(err, models.ErrVehiclesNotApproved))

	_, err = MarkApproved(policy, c, "printing", 0)
	assert.True(t, errors.Is(err, models.ErrVehicleNotReceived))
	assert.False(t, c.Vehicles[0].Approved)

	changed, err := MarkReceived(policy, c, "printing", 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.VehicleDelivered, c.Vehicles[0].Status)

	changed, err = MarkReceived(policy, c, "printing", 0)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = MarkApproved(policy, c, "printing", 0)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = MarkApproved(policy, c, "printing", 0)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = ApplyProduction(policy, c, ProductionUpdate{Team: "printing", Quantity: 10})
	assert.NoError(t, err)
}

func TestVehicleOperationsRestrictedToApprover(t *testing.T) {
	c := newComponent("coating", "printing")
	c.Vehicles = []models.VehicleRecord{{Plate: "KA-01"}}

	_, err := MarkReceived(policy, c, "printing", 0)
	assert.True(t, errors.Is(err, models.ErrSequenceViolation))

	_, err = MarkReceived(policy, c, "coating", 3)
	assert.True(t, errors.Is(err, models.ErrVehicleNotFound))

	_, err = MarkReceived(policy, c, "foiling", 0)
	assert.True(t, errors.Is(err, models.ErrNotAssigned))

	changed, err := MarkReceived(policy, c, "", 0)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestApprovalOnDeliveredVehicleWithoutReceipt(t *testing.T) {
	c := newComponent("coating")
	c.Vehicles = []models.VehicleRecord{{Plate: "KA-01", Status: models.VehicleDelivered}}

	changed, err := MarkApproved(policy, c, "coating", 0)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoError(t, CheckInvariants(c))
}

// Out-of-order updates must always be rejected and leave the ledger intact.
func TestOutOfOrderUpdatesAlwaysRejected(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	teams := []string{"coating", "printing", "foiling"}

	for i := 0; i < 500; i++ {
		c := newComponent(teams...)
		// advance a random prefix of the sequence to DISPATCHED
		done := rng.Intn(len(teams))
		for _, team := range teams[:done] {
			_, err := ApplyProduction(policy, c, ProductionUpdate{Team: team, Quantity: 100})
			require.NoError(t, err)
			_, _, err = Dispatch(c, team, "op", time.Now())
			require.NoError(t, err)
		}
		// partially advance the current team so it is never dispatched
		if q := rng.Intn(100); q > 0 {
			_, err := ApplyProduction(policy, c, ProductionUpdate{Team: teams[done], Quantity: q})
			require.NoError(t, err)
		}

		for _, team := range teams[done+1:] {
			before := c.Clone()
			q := 1 + rng.Intn(100)
			_, err := ApplyProduction(policy, c, ProductionUpdate{Team: team, Quantity: q, StockUsed: rng.Intn(q + 1)})
			require.True(t, errors.Is(err, models.ErrSequenceViolation), "team %s after %d dispatched: %v", team, done, err)
			require.Equal(t, before, c)
		}
		require.NoError(t, CheckInvariants(c))
	}
}

// Random update streams never break the quantity invariants.
func TestInvariantsHoldUnderRandomUpdates(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newComponent("coating")

	for i := 0; i < 1000; i++ {
		q := rng.Intn(30) - 2
		s := rng.Intn(10) - 1
		_, _ = ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: q, StockUsed: s})
		require.NoError(t, CheckInvariants(c))
	}

	rec := c.Record("coating")
	total, stock := 0, 0
	for _, h := range rec.History {
		total += h.QuantityProduced + h.StockUsed
		stock += h.StockUsed
	}
	assert.Equal(t, rec.CompletedQty, total)
	assert.Equal(t, rec.InventoryUsed, stock)
}

func TestReset(t *testing.T) {
	c := newComponent("coating", "printing")
	c.Vehicles = []models.VehicleRecord{{Plate: "KA-01"}}
	_, err := MarkReceived(policy, c, "coating", 0)
	require.NoError(t, err)
	_, err = MarkApproved(policy, c, "coating", 0)
	require.NoError(t, err)
	_, err = ApplyProduction(policy, c, ProductionUpdate{Team: "coating", Quantity: 100, StockUsed: 25})
	require.NoError(t, err)
	_, _, err = Dispatch(c, "coating", "bob", time.Now())
	require.NoError(t, err)

	Reset(c, "admin", time.Now())

	rec := c.Record("coating")
	assert.Equal(t, 0, rec.CompletedQty)
	assert.Equal(t, 0, rec.InventoryUsed)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Nil(t, rec.DispatchedAt)
	assert.Empty(t, rec.DispatchedBy)
	require.Len(t, rec.History, 2)
	assert.Equal(t, RollbackNote, rec.History[1].Notes)
	assert.Equal(t, -75, rec.History[1].QuantityProduced)
	assert.Equal(t, -25, rec.History[1].StockUsed)
	assert.Len(t, c.Record("printing").History, 0)
	assert.Equal(t, models.VehicleRecord{Plate: "KA-01", Status: models.VehiclePending}, c.Vehicles[0])
	assert.NoError(t, CheckInvariants(c))
}

func TestDeriveOrderStatus(t *testing.T) {
	c := newComponent("coating")
	order := &models.Order{Items: []models.Item{{ItemID: "i1", Components: []models.Component{*c}}}}
	assert.Equal(t, models.OrderStatusPendingPI, DeriveOrderStatus(order))

	comp := order.Component("i1", "c1")
	_, err := ApplyProduction(policy, comp, ProductionUpdate{Team: "coating", Quantity: 100})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusInProgress, DeriveOrderStatus(order))

	_, _, err = Dispatch(comp, "coating", "bob", time.Now())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDispatched, DeriveOrderStatus(order))
}

func TestPrepareOrder(t *testing.T) {
	order := &models.Order{
		OrderNumber: "SO-1",
		Items: []models.Item{{
			ItemID: "i1",
			Components: []models.Component{{
				ComponentID:   "c1",
				TotalQuantity: 50,
				Decorations: map[string]*models.DecorationRecord{
					"Coating": {AvailableStock: 10},
				},
				Vehicles: []models.VehicleRecord{{Plate: "KA-01"}},
			}},
		}},
	}

	require.NoError(t, PrepareOrder(policy, order))
	comp := order.Component("i1", "c1")
	assert.Equal(t, models.ComponentTypeGlass, comp.Type)
	assert.Equal(t, int64(1), comp.Version)
	rec := comp.Record("coating")
	require.NotNil(t, rec)
	assert.Equal(t, "coating", rec.Team)
	assert.Equal(t, 50, rec.TotalQuantity)
	assert.Equal(t, models.StatusPending, rec.Status)
	assert.Equal(t, models.VehiclePending, comp.Vehicles[0].Status)
	assert.Equal(t, models.OrderStatusPendingPI, order.Status)

	bad := order.Clone()
	bad.Items[0].Components[0].Decorations["etching"] = &models.DecorationRecord{}
	assert.True(t, errors.Is(PrepareOrder(policy, bad), models.ErrInvalidRequest))

	dup := order.Clone()
	dup.Items = append(dup.Items, dup.Items[0])
	assert.True(t, errors.Is(PrepareOrder(policy, dup), models.ErrInvalidRequest))
}

func TestPrepareOrderRejectsPartialDispatch(t *testing.T) {
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	order := &models.Order{
		OrderNumber: "SO-2",
		Items: []models.Item{{
			ItemID: "i1",
			Components: []models.Component{{
				ComponentID:   "c1",
				TotalQuantity: 50,
				Decorations: map[string]*models.DecorationRecord{
					"coating": {CompletedQty: 20, DispatchedBy: "ana", DispatchedAt: &at},
				},
			}},
		}},
	}
	assert.True(t, errors.Is(PrepareOrder(policy, order), models.ErrInvalidRequest))

	order.Items[0].Components[0].Decorations["coating"].CompletedQty = 50
	require.NoError(t, PrepareOrder(policy, order))
	assert.Equal(t, models.StatusDispatched, order.Component("i1", "c1").Record("coating").Status)
}
