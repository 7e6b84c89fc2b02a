package ledger

import (
	"decoration-service/internal/models"
	"decoration-service/internal/sequence"
)

// MarkReceived confirms physical receipt of a vehicle. A vehicle that is
// already received or delivered is left as is.
func MarkReceived(p *sequence.Policy, c *models.Component, team string, index int) (changed bool, err error) {
	v, err := vehicleFor(p, c, team, index)
	if err != nil {
		return false, err
	}
	if sequence.VehicleReceived(*v) {
		return false, nil
	}

	v.Received = true
	v.Status = models.VehicleDelivered
	c.Version++
	return true, nil
}

// MarkApproved approves a received vehicle. Approving twice is a no-op.
func MarkApproved(p *sequence.Policy, c *models.Component, team string, index int) (changed bool, err error) {
	v, err := vehicleFor(p, c, team, index)
	if err != nil {
		return false, err
	}
	if v.Approved {
		return false, nil
	}
	if !sequence.VehicleReceived(*v) {
		return false, models.NewError(models.KindVehicleNotReceived, "vehicle %d (%s) on component %s has not been received", index, v.Plate, c.ComponentID)
	}

	v.Approved = true
	c.Version++
	return true, nil
}

// vehicleFor resolves the vehicle and checks that team is the component's
// vehicle approver. An empty team skips the check.
func vehicleFor(p *sequence.Policy, c *models.Component, team string, index int) (*models.VehicleRecord, error) {
	if index < 0 || index >= len(c.Vehicles) {
		return nil, models.NewError(models.KindVehicleNotFound, "component %s has no vehicle %d", c.ComponentID, index)
	}
	if team != "" {
		if !p.HasAssignment(c, team) {
			return nil, models.NewError(models.KindNotAssigned, "%s has no assignment on component %s", team, c.ComponentID)
		}
		if !p.IsVehicleApprover(c, team) {
			return nil, models.NewError(models.KindSequenceViolation, "%s is not responsible for inbound vehicles on component %s", team, c.ComponentID)
		}
	}
	return &c.Vehicles[index], nil
}
