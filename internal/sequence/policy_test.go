package sequence

import (
	"errors"
	"testing"

	"decoration-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func component(statuses map[string]models.DecorationStatus, vehicles ...models.VehicleRecord) *models.Component {
	c := &models.Component{
		ComponentID:        "c1",
		Type:               models.ComponentTypeGlass,
		TotalQuantity:      100,
		DecorationApproved: true,
		Decorations:        map[string]*models.DecorationRecord{},
		Vehicles:           vehicles,
	}
	for team, status := range statuses {
		c.Decorations[team] = &models.DecorationRecord{Team: team, TotalQuantity: 100, Status: status}
	}
	return c
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy([]string{" Coating", "printing ", "FOILING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"coating", "printing", "foiling"}, p.Teams())

	_, err = NewPolicy(nil)
	assert.Error(t, err)

	_, err = NewPolicy([]string{"coating", "Coating"})
	assert.Error(t, err)

	_, err = NewPolicy([]string{"coating", " "})
	assert.Error(t, err)
}

func TestDecorationStatus(t *testing.T) {
	p := MustPolicy("coating", "printing")
	c := component(map[string]models.DecorationStatus{"coating": models.StatusInProgress})

	status, err := p.DecorationStatus(c, "coating")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, status)

	_, err = p.DecorationStatus(c, "printing")
	assert.True(t, errors.Is(err, models.ErrNotAssigned))
}

func TestCanWork(t *testing.T) {
	p := MustPolicy("coating", "printing", "foiling")

	tests := []struct {
		name     string
		comp     *models.Component
		team     string
		want     bool
		contains string
	}{
		{
			name: "first team",
			comp: component(map[string]models.DecorationStatus{"coating": models.StatusPending, "printing": models.StatusPending}),
			team: "coating",
			want: true,
		},
		{
			name:     "upstream not dispatched",
			comp:     component(map[string]models.DecorationStatus{"coating": models.StatusReadyToDispatch, "printing": models.StatusPending}),
			team:     "printing",
			contains: "coating not dispatched",
		},
		{
			name: "upstream dispatched",
			comp: component(map[string]models.DecorationStatus{"coating": models.StatusDispatched, "printing": models.StatusPending}),
			team: "printing",
			want: true,
		},
		{
			name: "skipped team is transparent",
			comp: component(map[string]models.DecorationStatus{"coating": models.StatusDispatched, "foiling": models.StatusPending}),
			team: "foiling",
			want: true,
		},
		{
			name:     "not assigned",
			comp:     component(map[string]models.DecorationStatus{"coating": models.StatusPending}),
			team:     "printing",
			contains: "printing has no assignment",
		},
		{
			name:     "unknown team",
			comp:     component(map[string]models.DecorationStatus{"etching": models.StatusPending}),
			team:     "etching",
			contains: "not part of the team sequence",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, reason := p.CanWork(tt.comp, tt.team)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				assert.Empty(t, reason)
			} else {
				assert.Contains(t, reason, tt.contains)
			}
		})
	}
}

func TestCanWorkRequiresDecorationApproval(t *testing.T) {
	p := MustPolicy("coating", "printing")
	c := component(map[string]models.DecorationStatus{"coating": models.StatusPending})
	c.DecorationApproved = false

	ok, reason := p.CanWork(c, "coating")
	assert.False(t, ok)
	assert.Equal(t, "decoration not approved", reason)
}

func TestIsVehicleApprover(t *testing.T) {
	p := MustPolicy("coating", "printing", "foiling")

	c := component(map[string]models.DecorationStatus{"coating": models.StatusPending, "printing": models.StatusPending})
	assert.True(t, p.IsVehicleApprover(c, "coating"))
	assert.False(t, p.IsVehicleApprover(c, "printing"))
	assert.False(t, p.IsVehicleApprover(c, "foiling"))

	c = component(map[string]models.DecorationStatus{"printing": models.StatusPending, "foiling": models.StatusPending})
	assert.True(t, p.IsVehicleApprover(c, "printing"))
	assert.False(t, p.IsVehicleApprover(c, "coating"))
}

func TestVehiclesApproved(t *testing.T) {
	p := MustPolicy("coating")

	assert.True(t, p.VehiclesApproved(component(nil)), "no vehicles is vacuously approved")

	tests := []struct {
		name    string
		vehicle models.VehicleRecord
		want    bool
	}{
		{"received and approved", models.VehicleRecord{Received: true, Approved: true}, true},
		{"delivered and approved", models.VehicleRecord{Status: models.VehicleDelivered, Approved: true}, true},
		{"received only", models.VehicleRecord{Received: true}, false},
		{"in transit", models.VehicleRecord{Status: models.VehicleInTransit}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := component(nil, models.VehicleRecord{Received: true, Approved: true}, tt.vehicle)
			assert.Equal(t, tt.want, p.VehiclesApproved(c))
		})
	}
}

func TestWaitingMessage(t *testing.T) {
	p := MustPolicy("coating", "printing")

	c := component(map[string]models.DecorationStatus{"coating": models.StatusInProgress, "printing": models.StatusPending},
		models.VehicleRecord{Plate: "KA-01"})
	assert.Equal(t, "Waiting for coating to dispatch", p.WaitingMessage(c, "printing"))
	assert.Equal(t, "Waiting for vehicle approval (1 of 1 pending)", p.WaitingMessage(c, "coating"))
	assert.Equal(t, "No decoration work assigned to foiling", p.WaitingMessage(c, "foiling"))

	c.Vehicles[0].Received = true
	c.Vehicles[0].Approved = true
	assert.Empty(t, p.WaitingMessage(c, "coating"))

	c.DecorationApproved = false
	assert.Equal(t, "Waiting for decoration approval", p.WaitingMessage(c, "coating"))

	c.Decorations["coating"].Status = models.StatusDispatched
	assert.Equal(t, "Dispatched", p.WaitingMessage(c, "coating"))
}
