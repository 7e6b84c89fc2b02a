package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"decoration-service/internal/ledger"
	"decoration-service/internal/models"
	"decoration-service/internal/sequence"
	"decoration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository persists order trees. Implemented by store.Store and store.MemoryStore.
type Repository interface {
	Ping(ctx context.Context) error
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, orderNumber string) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	GetComponent(ctx context.Context, key models.ComponentKey) (*models.Component, error)
	SaveComponent(ctx context.Context, key models.ComponentKey, comp *models.Component, change *models.ComponentChange) error
	UpdateOrderStatus(ctx context.Context, orderNumber string, status models.OrderStatus) error
	IsRequestProcessed(ctx context.Context, requestID string) (bool, error)
}

// EventPublisher emits replies and broadcasts
type EventPublisher interface {
	PublishEnvelope(ctx context.Context, env *models.Envelope) error
}

// Origin identifies the command a mutation answers. With a CorrelationID the
// outcome is published as a reply; with a RequestID the mutation is applied
// at most once.
type Origin struct {
	RequestID     string
	CorrelationID string
}

// ProductionRequest reports progress by a team on a component
type ProductionRequest struct {
	Origin
	Key       models.ComponentKey
	Team      string
	Quantity  int
	StockUsed int
	Notes     string
	Actor     string
	At        time.Time
}

// DispatchRequest hands a component over to the next team
type DispatchRequest struct {
	Origin
	Key   models.ComponentKey
	Team  string
	Actor string
	At    time.Time
}

// VehicleRequest addresses one inbound vehicle of a component
type VehicleRequest struct {
	Origin
	Key   models.ComponentKey
	Team  string
	Actor string
	Index int
}

// TeamStatus is what a team sees for one component
type TeamStatus struct {
	OrderNumber       string                  `json:"order_number"`
	ItemID            string                  `json:"item_id"`
	ComponentID       string                  `json:"component_id"`
	Team              string                  `json:"team"`
	Assigned          bool                    `json:"assigned"`
	Status            models.DecorationStatus `json:"status,omitempty"`
	CanWork           bool                    `json:"can_work"`
	Reason            string                  `json:"reason,omitempty"`
	IsVehicleApprover bool                    `json:"is_vehicle_approver"`
	VehiclesApproved  bool                    `json:"vehicles_approved"`
	WaitingMessage    string                  `json:"waiting_message,omitempty"`
	Remaining         int                     `json:"remaining"`
	StockRemaining    int                     `json:"stock_remaining"`
	Version           int64                   `json:"version"`
}

// LedgerService is the authoritative writer of decoration ledgers. Every
// mutation of a component runs under that component's lock, and its reply
// and broadcast are published before the lock is released.
type LedgerService struct {
	repo      Repository
	policy    *sequence.Policy
	locks     *Locks
	inventory *InventoryClient
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewLedgerService creates a new ledger service. inventory and publisher may be nil.
func NewLedgerService(
	repo Repository,
	policy *sequence.Policy,
	locks *Locks,
	inventory *InventoryClient,
	publisher EventPublisher,
) *LedgerService {
	if locks == nil {
		locks = NewLocks(nil, 0)
	}
	return &LedgerService{
		repo:      repo,
		policy:    policy,
		locks:     locks,
		inventory: inventory,
		publisher: publisher,
		logger:    util.GetLogger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Policy returns the team sequence the service enforces
func (s *LedgerService) Policy() *sequence.Policy {
	return s.policy
}

// Ready checks the repository connection
func (s *LedgerService) Ready(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// CreateOrder validates and stores a new order coming from intake
func (s *LedgerService) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.CreateOrder")
	defer span.End()

	if err := ledger.PrepareOrder(s.policy, order); err != nil {
		return nil, err
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created",
		zap.String("order_number", order.OrderNumber),
		zap.Int("items", len(order.Items)),
		zap.String("status", string(order.Status)))

	return s.repo.GetOrder(ctx, order.OrderNumber)
}

// GetOrder returns the full order snapshot
func (s *LedgerService) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.GetOrder")
	defer span.End()

	return s.repo.GetOrder(ctx, orderNumber)
}

// ListOrders returns order headers
func (s *LedgerService) ListOrders(ctx context.Context) ([]models.Order, error) {
	return s.repo.ListOrders(ctx)
}

// TeamStatus answers whether a team can act on a component and why not
func (s *LedgerService) TeamStatus(ctx context.Context, key models.ComponentKey, team string) (*TeamStatus, error) {
	ctx, span := util.StartComponentSpan(ctx, "LedgerService.TeamStatus", key.String(), team)
	defer span.End()

	team = sequence.Normalize(team)
	comp, err := s.repo.GetComponent(ctx, key)
	if err != nil {
		return nil, err
	}

	canWork, reason := s.policy.CanWork(comp, team)
	ts := &TeamStatus{
		OrderNumber:       key.OrderNumber,
		ItemID:            key.ItemID,
		ComponentID:       key.ComponentID,
		Team:              team,
		Assigned:          s.policy.HasAssignment(comp, team),
		CanWork:           canWork,
		Reason:            reason,
		IsVehicleApprover: s.policy.IsVehicleApprover(comp, team),
		VehiclesApproved:  s.policy.VehiclesApproved(comp),
		WaitingMessage:    s.policy.WaitingMessage(comp, team),
		Version:           comp.Version,
	}
	if rec := comp.Record(team); rec != nil {
		ts.Status = rec.Status
		ts.Remaining = ledger.Remaining(rec)
		ts.StockRemaining = ledger.StockRemaining(rec)
	}
	return ts, nil
}

// ApplyProduction records progress by a team, splitting it into fresh
// production and stock drawn from inventory
func (s *LedgerService) ApplyProduction(ctx context.Context, req ProductionRequest) (*models.Component, error) {
	team := sequence.Normalize(req.Team)
	ctx, span := util.StartComponentSpan(ctx, "LedgerService.ApplyProduction", req.Key.String(), team)
	defer span.End()

	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	return s.mutate(ctx, models.CommandProductionUpdate, req.Key, team, req.Origin, func(c *models.Component) (bool, error) {
		s.inventory.RefreshStock(ctx, req.Key, c, team)
		_, err := ledger.ApplyProduction(s.policy, c, ledger.ProductionUpdate{
			Team:      team,
			Quantity:  req.Quantity,
			StockUsed: req.StockUsed,
			Notes:     req.Notes,
			Actor:     req.Actor,
			At:        at,
		})
		if err != nil {
			return false, err
		}
		return true, nil
	}, func() {
		util.QuantityProducedTotal.WithLabelValues(team).Add(float64(req.Quantity - req.StockUsed))
		util.StockUsedTotal.WithLabelValues(team).Add(float64(req.StockUsed))
	})
}

// Dispatch hands a finished component to the next team in sequence
func (s *LedgerService) Dispatch(ctx context.Context, req DispatchRequest) (*models.Component, error) {
	team := sequence.Normalize(req.Team)
	ctx, span := util.StartComponentSpan(ctx, "LedgerService.Dispatch", req.Key.String(), team)
	defer span.End()

	at := req.At
	if at.IsZero() {
		at = s.now()
	}

	return s.mutate(ctx, models.CommandDispatch, req.Key, team, req.Origin, func(c *models.Component) (bool, error) {
		_, changed, err := ledger.Dispatch(c, team, req.Actor, at)
		return changed, err
	}, nil)
}

// MarkVehicleReceived confirms receipt of an inbound vehicle
func (s *LedgerService) MarkVehicleReceived(ctx context.Context, req VehicleRequest) (*models.Component, error) {
	team := sequence.Normalize(req.Team)
	ctx, span := util.StartComponentSpan(ctx, "LedgerService.MarkVehicleReceived", req.Key.String(), team)
	defer span.End()

	return s.mutate(ctx, models.CommandVehicleReceived, req.Key, team, req.Origin, func(c *models.Component) (bool, error) {
		return ledger.MarkReceived(s.policy, c, team, req.Index)
	}, nil)
}

// MarkVehicleApproved approves a received inbound vehicle
func (s *LedgerService) MarkVehicleApproved(ctx context.Context, req VehicleRequest) (*models.Component, error) {
	team := sequence.Normalize(req.Team)
	ctx, span := util.StartComponentSpan(ctx, "LedgerService.MarkVehicleApproved", req.Key.String(), team)
	defer span.End()

	return s.mutate(ctx, models.CommandVehicleApproved, req.Key, team, req.Origin, func(c *models.Component) (bool, error) {
		return ledger.MarkApproved(s.policy, c, team, req.Index)
	}, nil)
}

// ReportStock forwards an inventory figure for a team to the stock feed
func (s *LedgerService) ReportStock(ctx context.Context, key models.ComponentKey, team string, available int) error {
	team = sequence.Normalize(team)
	comp, err := s.repo.GetComponent(ctx, key)
	if err != nil {
		return err
	}
	if !s.policy.HasAssignment(comp, team) {
		return models.NewError(models.KindNotAssigned, "%s has no assignment on component %s", team, key.ComponentID)
	}
	return s.inventory.ReportStock(ctx, key, team, available)
}

// RollbackOrder resets every component of the order to its initial state.
// Components are reset one at a time under their own lock; the order is not
// rolled back atomically as a whole.
func (s *LedgerService) RollbackOrder(ctx context.Context, orderNumber, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "LedgerService.RollbackOrder")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	s.logger.Warn("Rolling back order",
		zap.String("order_number", orderNumber),
		zap.String("actor", actor))

	at := s.now()
	for _, key := range order.Keys() {
		_, err := s.mutate(ctx, "rollback", key, "", Origin{}, func(c *models.Component) (bool, error) {
			ledger.Reset(c, actor, at)
			return true, nil
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to roll back component %s: %w", key, err)
		}
	}

	return s.repo.GetOrder(ctx, orderNumber)
}

// mutate runs fn against a private copy of the component under the component
// lock and persists the copy only if fn succeeded and changed something.
// applied, when set, runs once the copy has been saved.
func (s *LedgerService) mutate(
	ctx context.Context,
	op string,
	key models.ComponentKey,
	team string,
	origin Origin,
	fn func(*models.Component) (bool, error),
	applied func(),
) (*models.Component, error) {
	start := time.Now()
	defer func() {
		util.MutationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	unlock, err := s.locks.Component(ctx, key.String())
	if err != nil {
		return s.fail(ctx, op, key, team, origin, err)
	}
	defer unlock()

	fields := util.ComponentFields(key.OrderNumber, key.ItemID, key.ComponentID, team)

	if origin.RequestID != "" {
		done, err := s.repo.IsRequestProcessed(ctx, origin.RequestID)
		if err != nil {
			return s.fail(ctx, op, key, team, origin, fmt.Errorf("failed to check request: %w", err))
		}
		if done {
			current, err := s.repo.GetComponent(ctx, key)
			if err != nil {
				return s.fail(ctx, op, key, team, origin, err)
			}
			s.logger.Info("Request already processed",
				append(fields, zap.String("operation", op), zap.String("request_id", origin.RequestID))...)
			util.MutationsTotal.WithLabelValues(op, util.ResultDuplicate).Inc()
			s.confirm(ctx, origin, key, team, current)
			return current, nil
		}
	}

	current, err := s.repo.GetComponent(ctx, key)
	if err != nil {
		return s.fail(ctx, op, key, team, origin, err)
	}

	working := current.Clone()
	changed, err := fn(working)
	if err != nil {
		return s.fail(ctx, op, key, team, origin, err)
	}
	if !changed {
		util.MutationsTotal.WithLabelValues(op, util.ResultNoop).Inc()
		s.confirm(ctx, origin, key, team, current)
		return current, nil
	}

	change := &models.ComponentChange{
		ExpectedVersion: current.Version,
		Appends:         historyAppends(current, working),
		RequestID:       origin.RequestID,
	}
	if err := s.repo.SaveComponent(ctx, key, working, change); err != nil {
		return s.fail(ctx, op, key, team, origin, fmt.Errorf("failed to save component: %w", err))
	}

	util.MutationsTotal.WithLabelValues(op, util.ResultApplied).Inc()
	if applied != nil {
		applied()
	}
	s.logger.Info("Component updated",
		append(fields, zap.String("operation", op), zap.Int64("version", working.Version))...)

	s.confirm(ctx, origin, key, team, working)
	s.broadcast(ctx, key, working)
	s.rollup(ctx, key.OrderNumber)

	return working, nil
}

func (s *LedgerService) fail(ctx context.Context, op string, key models.ComponentKey, team string, origin Origin, err error) (*models.Component, error) {
	fields := append(util.ComponentFields(key.OrderNumber, key.ItemID, key.ComponentID, team),
		zap.String("operation", op), zap.Error(err))

	kind := models.KindOf(err)
	if kind == models.KindInternal {
		util.MutationsTotal.WithLabelValues(op, util.ResultError).Inc()
		s.logger.Error("Mutation failed", fields...)
	} else {
		util.MutationsTotal.WithLabelValues(op, util.ResultRejected).Inc()
		util.RejectionsTotal.WithLabelValues(string(kind)).Inc()
		s.logger.Info("Mutation rejected", append(fields, zap.String("kind", string(kind)))...)
	}

	s.reject(ctx, origin, key, team, err)
	return nil, err
}

// historyAppends lists the audit entries added to working since it was copied from current
func historyAppends(current, working *models.Component) []models.HistoryAppend {
	teams := make([]string, 0, len(working.Decorations))
	for team := range working.Decorations {
		teams = append(teams, team)
	}
	sort.Strings(teams)

	var appends []models.HistoryAppend
	for _, team := range teams {
		seen := 0
		if rec := current.Record(team); rec != nil {
			seen = len(rec.History)
		}
		for _, entry := range working.Decorations[team].History[seen:] {
			appends = append(appends, models.HistoryAppend{Team: team, Entry: entry})
		}
	}
	return appends
}

// rollup recomputes the order status after a component changed
func (s *LedgerService) rollup(ctx context.Context, orderNumber string) {
	unlock, err := s.locks.Order(ctx, orderNumber)
	if err != nil {
		s.logger.Warn("Skipping order status rollup", zap.String("order_number", orderNumber), zap.Error(err))
		return
	}
	defer unlock()

	order, err := s.repo.GetOrder(ctx, orderNumber)
	if err != nil {
		s.logger.Error("Failed to load order for rollup", zap.String("order_number", orderNumber), zap.Error(err))
		return
	}

	status := ledger.DeriveOrderStatus(order)
	if status == order.Status {
		return
	}
	if err := s.repo.UpdateOrderStatus(ctx, orderNumber, status); err != nil {
		s.logger.Error("Failed to update order status", zap.String("order_number", orderNumber), zap.Error(err))
		return
	}

	s.logger.Info("Order status changed",
		zap.String("order_number", orderNumber),
		zap.String("from", string(order.Status)),
		zap.String("to", string(status)))
}

func (s *LedgerService) newEnvelope(eventType string, key models.ComponentKey, team string) *models.Envelope {
	return &models.Envelope{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.now(),
		},
		OrderNumber: key.OrderNumber,
		ItemID:      key.ItemID,
		ComponentID: key.ComponentID,
		Team:        team,
	}
}

func (s *LedgerService) confirm(ctx context.Context, origin Origin, key models.ComponentKey, team string, comp *models.Component) {
	if origin.CorrelationID == "" || s.publisher == nil {
		return
	}
	env := s.newEnvelope(models.EventTypeMutationConfirmed, key, team)
	env.CorrelationID = origin.CorrelationID
	env.Component = comp
	s.publish(ctx, env)
}

func (s *LedgerService) reject(ctx context.Context, origin Origin, key models.ComponentKey, team string, err error) {
	if origin.CorrelationID == "" || s.publisher == nil {
		return
	}
	env := s.newEnvelope(models.EventTypeMutationRejected, key, team)
	env.CorrelationID = origin.CorrelationID
	env.Rejection = models.NewRejection(err)
	s.publish(ctx, env)
}

func (s *LedgerService) broadcast(ctx context.Context, key models.ComponentKey, comp *models.Component) {
	if s.publisher == nil {
		return
	}
	env := s.newEnvelope(models.EventTypeComponentUpdated, key, "")
	env.Component = comp
	if s.publish(ctx, env) {
		util.BroadcastsTotal.WithLabelValues("published").Inc()
	} else {
		util.BroadcastsTotal.WithLabelValues("failed").Inc()
	}
}

func (s *LedgerService) publish(ctx context.Context, env *models.Envelope) bool {
	if err := s.publisher.PublishEnvelope(ctx, env); err != nil {
		s.logger.Error("Failed to publish event",
			zap.String("event_type", env.EventType),
			zap.String("correlation_id", env.CorrelationID),
			zap.String("component", env.Key().String()),
			zap.Error(err))
		return false
	}
	return true
}
