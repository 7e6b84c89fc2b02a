// Package client keeps an optimistic local view of orders on top of the
// authoritative decoration service. A mutation is applied to the view at
// once, sent as a command, and then either confirmed by the service's reply
// or rolled back on rejection, timeout or session close.
package client

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"decoration-service/internal/ledger"
	"decoration-service/internal/models"
	"decoration-service/internal/sequence"
	"decoration-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultConfirmTimeout bounds the wait for a reply
const DefaultConfirmTimeout = 15 * time.Second

// Transport carries commands to the service and its events back
type Transport interface {
	Send(ctx context.Context, cmd *models.Command) error
	Subscribe(handler func(*models.Envelope)) (func(), error)
}

// SnapshotLoader fetches the authoritative order tree
type SnapshotLoader interface {
	LoadOrder(ctx context.Context, orderNumber string) (*models.Order, error)
}

// LoaderFunc adapts a function to SnapshotLoader
type LoaderFunc func(ctx context.Context, orderNumber string) (*models.Order, error)

// LoadOrder calls f
func (f LoaderFunc) LoadOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	return f(ctx, orderNumber)
}

// Options configures a session
type Options struct {
	Actor          string
	ConfirmTimeout time.Duration
}

// UnconfirmedError reports a mutation whose outcome is unknown because no
// reply arrived in time. It matches models.ErrTimeout. Passing RequestID to
// Session.Retry resends the same mutation, which the service applies at most
// once.
type UnconfirmedError struct {
	RequestID string
	err       error
}

func (e *UnconfirmedError) Error() string {
	return e.err.Error()
}

func (e *UnconfirmedError) Unwrap() error {
	return e.err
}

type pendingKey struct {
	key  models.ComponentKey
	team string
}

type outcome struct {
	comp *models.Component
	err  error
}

type mutation struct {
	pk            pendingKey
	cmd           *models.Command
	correlationID string
	seq           uint64
	apply         func(*models.Component) error
	result        chan outcome
	timer         *time.Timer
	started       time.Time
}

// Session is one client's view of the orders it has loaded. It is safe for
// concurrent use.
type Session struct {
	transport Transport
	loader    SnapshotLoader
	policy    *sequence.Policy
	actor     string
	timeout   time.Duration
	logger    *zap.Logger

	mu            sync.Mutex
	orders        map[string]*models.Order
	views         map[models.ComponentKey]*models.Component
	pending       map[pendingKey]*mutation
	byCorrelation map[string]*mutation
	unconfirmed   map[string]*mutation
	seq           uint64
	watchers      map[int]func(models.ComponentKey, *models.Component)
	nextWatcher   int
	closed        bool
	unsubscribe   func()
}

// NewSession subscribes to the transport and returns an empty session
func NewSession(transport Transport, loader SnapshotLoader, policy *sequence.Policy, opts Options) (*Session, error) {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = DefaultConfirmTimeout
	}

	s := &Session{
		transport:     transport,
		loader:        loader,
		policy:        policy,
		actor:         opts.Actor,
		timeout:       opts.ConfirmTimeout,
		logger:        util.GetLogger().With(zap.String("actor", opts.Actor)),
		orders:        make(map[string]*models.Order),
		views:         make(map[models.ComponentKey]*models.Component),
		pending:       make(map[pendingKey]*mutation),
		byCorrelation: make(map[string]*mutation),
		unconfirmed:   make(map[string]*mutation),
		watchers:      make(map[int]func(models.ComponentKey, *models.Component)),
	}

	unsubscribe, err := transport.Subscribe(s.handleEnvelope)
	if err != nil {
		return nil, err
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

// Load fetches the authoritative snapshot of an order. Components already
// known at a newer version keep their state.
func (s *Session) Load(ctx context.Context, orderNumber string) (*models.Order, error) {
	order, err := s.loader.LoadOrder(ctx, orderNumber)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, models.ErrSessionClosed
	}
	if existing, ok := s.orders[orderNumber]; ok {
		for _, key := range order.Keys() {
			if known := existing.Component(key.ItemID, key.ComponentID); known != nil {
				if loaded := order.Component(key.ItemID, key.ComponentID); loaded.Version < known.Version {
					*loaded = *known.Clone()
				}
			}
		}
	}
	s.orders[orderNumber] = order
	for _, key := range order.Keys() {
		s.rebuild(key)
	}
	snapshot := s.snapshot(orderNumber)
	s.mu.Unlock()

	return snapshot, nil
}

// Snapshot returns the current view of an order, tentative changes included
func (s *Session) Snapshot(orderNumber string) (*models.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot(orderNumber)
	return snapshot, snapshot != nil
}

// Component returns the current view of one component
func (s *Session) Component(key models.ComponentKey) (*models.Component, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	comp := s.view(key)
	return comp.Clone(), comp != nil
}

// Pending returns the number of mutations awaiting a reply
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Watch registers fn to be called with the new view whenever a component's
// view changes. The returned func removes the watcher.
func (s *Session) Watch(fn func(models.ComponentKey, *models.Component)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.watchers, id)
	}
}

// ReportProduction records progress by a team
func (s *Session) ReportProduction(ctx context.Context, key models.ComponentKey, team string, quantity, stockUsed int, notes string) (*models.Component, error) {
	team = sequence.Normalize(team)
	cmd := s.newCommand(models.CommandProductionUpdate, key, team)
	cmd.Production = &models.ProductionPayload{Quantity: quantity, StockUsed: stockUsed, Notes: notes}

	return s.submit(ctx, cmd, func(c *models.Component) error {
		_, err := ledger.ApplyProduction(s.policy, c, ledger.ProductionUpdate{
			Team:      team,
			Quantity:  quantity,
			StockUsed: stockUsed,
			Notes:     notes,
			Actor:     s.actor,
			At:        cmd.Timestamp,
		})
		return err
	})
}

// Dispatch hands the component over to the next team
func (s *Session) Dispatch(ctx context.Context, key models.ComponentKey, team string) (*models.Component, error) {
	team = sequence.Normalize(team)
	cmd := s.newCommand(models.CommandDispatch, key, team)

	return s.submit(ctx, cmd, func(c *models.Component) error {
		_, _, err := ledger.Dispatch(c, team, s.actor, cmd.Timestamp)
		return err
	})
}

// MarkVehicleReceived confirms receipt of an inbound vehicle
func (s *Session) MarkVehicleReceived(ctx context.Context, key models.ComponentKey, team string, index int) (*models.Component, error) {
	team = sequence.Normalize(team)
	cmd := s.newCommand(models.CommandVehicleReceived, key, team)
	cmd.Vehicle = &models.VehiclePayload{VehicleIndex: index}

	return s.submit(ctx, cmd, func(c *models.Component) error {
		_, err := ledger.MarkReceived(s.policy, c, team, index)
		return err
	})
}

// MarkVehicleApproved approves a received inbound vehicle
func (s *Session) MarkVehicleApproved(ctx context.Context, key models.ComponentKey, team string, index int) (*models.Component, error) {
	team = sequence.Normalize(team)
	cmd := s.newCommand(models.CommandVehicleApproved, key, team)
	cmd.Vehicle = &models.VehiclePayload{VehicleIndex: index}

	return s.submit(ctx, cmd, func(c *models.Component) error {
		_, err := ledger.MarkApproved(s.policy, c, team, index)
		return err
	})
}

// Retry resends a mutation that timed out under its original request id and
// a new correlation id. If the first attempt was applied after all, the
// service answers with the current component instead of applying it again.
func (s *Session) Retry(ctx context.Context, requestID string) (*models.Component, error) {
	s.mu.Lock()
	m, ok := s.unconfirmed[requestID]
	if ok {
		delete(s.unconfirmed, requestID)
	}
	s.mu.Unlock()
	if !ok {
		return nil, models.NewError(models.KindInvalidRequest, "no unconfirmed mutation with request id %s", requestID)
	}

	cmd := *m.cmd
	cmd.CorrelationID = uuid.New().String()
	util.ClientMutationsTotal.WithLabelValues("retried").Inc()

	comp, err := s.submit(ctx, &cmd, m.apply)
	if errors.Is(err, models.ErrMutationInFlight) {
		// still retryable once the other mutation settles
		s.mu.Lock()
		if !s.closed {
			s.unconfirmed[requestID] = m
		}
		s.mu.Unlock()
	}
	return comp, err
}

// Close unsubscribes from the transport and fails every pending mutation
// with SessionClosed, restoring the authoritative view
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	changed := make(map[models.ComponentKey]bool)
	for _, m := range s.pending {
		m.timer.Stop()
		m.result <- outcome{err: models.NewError(models.KindSessionClosed, "session closed with mutation %s pending", m.correlationID)}
		changed[m.pk.key] = true
		util.ClientMutationsTotal.WithLabelValues("closed").Inc()
	}
	s.pending = make(map[pendingKey]*mutation)
	s.byCorrelation = make(map[string]*mutation)
	s.unconfirmed = make(map[string]*mutation)
	for key := range changed {
		s.rebuild(key)
	}
	unsubscribe := s.unsubscribe
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

func (s *Session) newCommand(cmdType string, key models.ComponentKey, team string) *models.Command {
	return &models.Command{
		RequestID:     uuid.New().String(),
		CorrelationID: uuid.New().String(),
		Type:          cmdType,
		OrderNumber:   key.OrderNumber,
		ItemID:        key.ItemID,
		ComponentID:   key.ComponentID,
		Team:          team,
		Actor:         s.actor,
		Timestamp:     time.Now().UTC(),
	}
}

// submit applies the mutation tentatively, sends it and waits for the
// authoritative outcome. A mutation that fails locally is still sent with no
// tentative effect; the service's answer decides.
func (s *Session) submit(ctx context.Context, cmd *models.Command, apply func(*models.Component) error) (*models.Component, error) {
	key := cmd.Key()

	if err := s.ensureLoaded(ctx, key.OrderNumber); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, models.ErrSessionClosed
	}
	if s.base(key) == nil {
		s.mu.Unlock()
		return nil, models.NewError(models.KindComponentNotFound, "component %s not found", key)
	}

	pk := pendingKey{key: key, team: cmd.Team}
	if inFlight, busy := s.pending[pk]; busy {
		s.mu.Unlock()
		util.ClientMutationsTotal.WithLabelValues("in_flight").Inc()
		return nil, models.NewError(models.KindMutationInFlight, "%s already has mutation %s pending on %s", cmd.Team, inFlight.correlationID, key)
	}

	s.seq++
	m := &mutation{
		pk:            pk,
		cmd:           cmd,
		correlationID: cmd.CorrelationID,
		seq:           s.seq,
		apply:         apply,
		result:        make(chan outcome, 1),
		started:       time.Now(),
	}

	trial := s.view(key).Clone()
	if err := apply(trial); err != nil {
		s.logger.Debug("Tentative apply failed, sending anyway",
			append(util.ComponentFields(key.OrderNumber, key.ItemID, key.ComponentID, cmd.Team), zap.Error(err))...)
	}

	s.pending[pk] = m
	s.byCorrelation[m.correlationID] = m
	m.timer = time.AfterFunc(s.timeout, func() { s.expire(m.correlationID) })
	s.rebuild(key)
	notify := s.collect(key)
	s.mu.Unlock()
	notify()

	if err := s.transport.Send(ctx, cmd); err != nil {
		s.mu.Lock()
		s.drop(m)
		notify := s.collect(key)
		s.mu.Unlock()
		notify()
		util.ClientMutationsTotal.WithLabelValues("send_failed").Inc()
		return nil, err
	}

	select {
	case res := <-m.result:
		return res.comp, res.err
	case <-ctx.Done():
		// the mutation stays pending until its reply or timeout arrives
		return nil, ctx.Err()
	}
}

func (s *Session) ensureLoaded(ctx context.Context, orderNumber string) error {
	s.mu.Lock()
	_, loaded := s.orders[orderNumber]
	s.mu.Unlock()
	if loaded {
		return nil
	}
	_, err := s.Load(ctx, orderNumber)
	return err
}

// handleEnvelope is the single transport listener. Replies are routed to
// their mutation by correlation id; anything else carrying a component is
// treated as a broadcast.
func (s *Session) handleEnvelope(env *models.Envelope) {
	key := env.Key()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	m := s.byCorrelation[env.CorrelationID]
	if env.CorrelationID == "" || m == nil {
		if env.Component == nil || !s.adopt(key, env.Component) {
			s.mu.Unlock()
			return
		}
		s.rebuild(key)
		notify := s.collect(key)
		s.mu.Unlock()
		notify()
		return
	}

	s.drop(m)
	util.ClientConfirmLatency.Observe(time.Since(m.started).Seconds())

	switch {
	case env.EventType == models.EventTypeMutationRejected && env.Rejection != nil:
		util.ClientMutationsTotal.WithLabelValues("rejected").Inc()
		m.result <- outcome{err: env.Rejection.Err()}
	case env.Component != nil:
		s.adopt(key, env.Component)
		s.rebuild(key)
		util.ClientMutationsTotal.WithLabelValues("confirmed").Inc()
		m.result <- outcome{comp: env.Component.Clone()}
	default:
		m.result <- outcome{err: models.NewError(models.KindInternal, "reply %s carries neither component nor rejection", env.EventID)}
	}

	notify := s.collect(key)
	s.mu.Unlock()
	notify()
}

func (s *Session) expire(correlationID string) {
	s.mu.Lock()
	m := s.byCorrelation[correlationID]
	if m == nil {
		s.mu.Unlock()
		return
	}
	s.drop(m)
	s.unconfirmed[m.cmd.RequestID] = m
	notify := s.collect(m.pk.key)
	s.mu.Unlock()
	notify()

	util.ClientMutationsTotal.WithLabelValues("timeout").Inc()
	s.logger.Warn("Mutation timed out, rolled back",
		append(util.ComponentFields(m.pk.key.OrderNumber, m.pk.key.ItemID, m.pk.key.ComponentID, m.pk.team),
			zap.String("correlation_id", correlationID),
			zap.String("request_id", m.cmd.RequestID))...)
	m.result <- outcome{err: &UnconfirmedError{
		RequestID: m.cmd.RequestID,
		err:       models.NewError(models.KindTimeout, "no reply to %s within %s", correlationID, s.timeout),
	}}
}

// drop forgets a pending mutation and rebuilds its component view. Caller holds mu.
func (s *Session) drop(m *mutation) {
	if m.timer != nil {
		m.timer.Stop()
	}
	delete(s.pending, m.pk)
	delete(s.byCorrelation, m.correlationID)
	s.rebuild(m.pk.key)
}

// adopt replaces the authoritative copy if comp is newer. Caller holds mu.
func (s *Session) adopt(key models.ComponentKey, comp *models.Component) bool {
	base := s.base(key)
	if base == nil || comp.Version <= base.Version {
		return false
	}
	return s.orders[key.OrderNumber].ReplaceComponent(key.ItemID, comp)
}

// rebuild recomputes the view of a component as the authoritative copy with
// every pending mutation re-applied in submission order. Caller holds mu.
func (s *Session) rebuild(key models.ComponentKey) {
	var muts []*mutation
	for pk, m := range s.pending {
		if pk.key == key {
			muts = append(muts, m)
		}
	}
	base := s.base(key)
	if len(muts) == 0 || base == nil {
		delete(s.views, key)
		return
	}

	sort.Slice(muts, func(i, j int) bool { return muts[i].seq < muts[j].seq })
	working := base.Clone()
	for _, m := range muts {
		_ = m.apply(working)
	}
	s.views[key] = working
}

func (s *Session) base(key models.ComponentKey) *models.Component {
	order, ok := s.orders[key.OrderNumber]
	if !ok {
		return nil
	}
	return order.Component(key.ItemID, key.ComponentID)
}

func (s *Session) view(key models.ComponentKey) *models.Component {
	if v, ok := s.views[key]; ok {
		return v
	}
	return s.base(key)
}

func (s *Session) snapshot(orderNumber string) *models.Order {
	order, ok := s.orders[orderNumber]
	if !ok {
		return nil
	}
	out := order.Clone()
	for key, v := range s.views {
		if key.OrderNumber == orderNumber {
			out.ReplaceComponent(key.ItemID, v)
		}
	}
	return out
}

// collect captures watcher calls for a component while mu is held; the
// returned func runs them after mu is released
func (s *Session) collect(key models.ComponentKey) func() {
	if len(s.watchers) == 0 {
		return func() {}
	}
	view := s.view(key).Clone()
	fns := make([]func(models.ComponentKey, *models.Component), 0, len(s.watchers))
	for _, fn := range s.watchers {
		fns = append(fns, fn)
	}
	return func() {
		for _, fn := range fns {
			fn(key, view)
		}
	}
}
