package ledger

import (
	"time"

	"decoration-service/internal/models"
)

// Dispatch moves a READY_TO_DISPATCH record to DISPATCHED. Dispatching an
// already dispatched record changes nothing and reports changed == false.
func Dispatch(c *models.Component, team, actor string, at time.Time) (rec *models.DecorationRecord, changed bool, err error) {
	rec = c.Record(team)
	if rec == nil || c.Type != models.ComponentTypeGlass {
		return nil, false, models.NewError(models.KindNotAssigned, "%s has no assignment on component %s", team, c.ComponentID)
	}

	switch rec.Status {
	case models.StatusDispatched:
		return rec, false, nil
	case models.StatusReadyToDispatch:
	default:
		return nil, false, models.NewError(models.KindNotReady, "%s is %s on component %s (%d of %d done)",
			team, rec.Status, c.ComponentID, rec.CompletedQty, rec.TotalQuantity)
	}

	if at.IsZero() {
		at = time.Now().UTC()
	}
	rec.DispatchedBy = actor
	rec.DispatchedAt = &at
	Recompute(rec)
	c.Version++

	return rec, true, nil
}
