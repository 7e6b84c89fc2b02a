// Package sequence encodes the fixed team ordering of a deployment and the
// predicates deciding whether a team may act on a component. Every function
// here is pure: it only reads the component it is given.
package sequence

import (
	"fmt"
	"strings"

	"decoration-service/internal/models"
)

// Policy holds the deployment-configured ordering of decoration teams
type Policy struct {
	teams []string
	index map[string]int
}

// NewPolicy creates a policy from an ordered list of team names
func NewPolicy(teams []string) (*Policy, error) {
	if len(teams) == 0 {
		return nil, fmt.Errorf("team sequence must not be empty")
	}

	p := &Policy{index: make(map[string]int, len(teams))}
	for _, raw := range teams {
		team := Normalize(raw)
		if team == "" {
			return nil, fmt.Errorf("team sequence contains an empty name")
		}
		if _, dup := p.index[team]; dup {
			return nil, fmt.Errorf("team %q appears twice in sequence", team)
		}
		p.index[team] = len(p.teams)
		p.teams = append(p.teams, team)
	}
	return p, nil
}

// MustPolicy is NewPolicy for static sequences; it panics on error
func MustPolicy(teams ...string) *Policy {
	p, err := NewPolicy(teams)
	if err != nil {
		panic(err)
	}
	return p
}

// Normalize canonicalises a team name
func Normalize(team string) string {
	return strings.ToLower(strings.TrimSpace(team))
}

// Teams returns the sequence in order
func (p *Policy) Teams() []string {
	return append([]string(nil), p.teams...)
}

// Contains reports whether a team is part of the sequence
func (p *Policy) Contains(team string) bool {
	_, ok := p.index[team]
	return ok
}

// HasAssignment reports whether the team has a decoration record on the component
func (p *Policy) HasAssignment(c *models.Component, team string) bool {
	return c.Record(team) != nil
}

// DecorationStatus returns the status of the team's record
func (p *Policy) DecorationStatus(c *models.Component, team string) (models.DecorationStatus, error) {
	rec := c.Record(team)
	if rec == nil {
		return "", models.NewError(models.KindNotAssigned, "%s has no assignment on component %s", team, c.ComponentID)
	}
	return rec.Status, nil
}

// Upstream returns the assigned teams before the given team that have not dispatched yet
func (p *Policy) Upstream(c *models.Component, team string) []string {
	pos, ok := p.index[team]
	if !ok {
		return nil
	}
	var blocking []string
	for _, prev := range p.teams[:pos] {
		rec := c.Record(prev)
		if rec == nil {
			continue
		}
		if rec.Status != models.StatusDispatched {
			blocking = append(blocking, prev)
		}
	}
	return blocking
}

// CanWork reports whether the team may report progress on the component. The
// reason lists every failed precondition and is meant for display only.
func (p *Policy) CanWork(c *models.Component, team string) (bool, string) {
	var reasons []string

	if !p.HasAssignment(c, team) {
		reasons = append(reasons, fmt.Sprintf("%s has no assignment on this component", team))
	}
	if !p.Contains(team) {
		reasons = append(reasons, fmt.Sprintf("%s is not part of the team sequence", team))
	}
	for _, prev := range p.Upstream(c, team) {
		reasons = append(reasons, fmt.Sprintf("%s not dispatched", prev))
	}
	if !c.DecorationApproved {
		reasons = append(reasons, "decoration not approved")
	}

	if len(reasons) > 0 {
		return false, strings.Join(reasons, "; ")
	}
	return true, ""
}

// IsVehicleApprover reports whether the team is the first assigned team in
// sequence, i.e. the one receiving inbound material for the component
func (p *Policy) IsVehicleApprover(c *models.Component, team string) bool {
	if !p.HasAssignment(c, team) {
		return false
	}
	for _, t := range p.teams {
		if c.Record(t) != nil {
			return t == team
		}
	}
	return false
}

// VehiclesApproved reports whether every inbound vehicle was received and approved
func (p *Policy) VehiclesApproved(c *models.Component) bool {
	return VehiclesApproved(c)
}

// VehiclesApproved is true when every vehicle was received (or delivered) and
// approved; a component without vehicles is trivially approved
func VehiclesApproved(c *models.Component) bool {
	for _, v := range c.Vehicles {
		if !VehicleReceived(v) || !v.Approved {
			return false
		}
	}
	return true
}

// VehicleReceived reports whether the vehicle counts as physically received
func VehicleReceived(v models.VehicleRecord) bool {
	return v.Received || v.Status == models.VehicleDelivered
}

// WaitingMessage explains to a team why it cannot act yet. It must never be
// used to gate a mutation.
func (p *Policy) WaitingMessage(c *models.Component, team string) string {
	if !p.HasAssignment(c, team) {
		return "No decoration work assigned to " + team
	}
	if !p.Contains(team) {
		return team + " is not part of the team sequence"
	}
	if rec := c.Record(team); rec.Status == models.StatusDispatched {
		return "Dispatched"
	}
	if blocking := p.Upstream(c, team); len(blocking) > 0 {
		return "Waiting for " + strings.Join(blocking, ", ") + " to dispatch"
	}
	if !c.DecorationApproved {
		return "Waiting for decoration approval"
	}
	if p.IsVehicleApprover(c, team) && !p.VehiclesApproved(c) {
		pending := 0
		for _, v := range c.Vehicles {
			if !VehicleReceived(v) || !v.Approved {
				pending++
			}
		}
		return fmt.Sprintf("Waiting for vehicle approval (%d of %d pending)", pending, len(c.Vehicles))
	}
	return ""
}
