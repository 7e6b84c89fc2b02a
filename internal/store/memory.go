package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"decoration-service/internal/models"
)

// MemoryStore keeps order trees in process memory. It is used for the
// memory store driver and in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	orders    map[string]*models.Order
	processed map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[string]*models.Order),
		processed: make(map[string]string),
	}
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// CreateOrder stores a copy of the order tree
func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.OrderNumber]; exists {
		return models.NewError(models.KindOrderExists, "order %s already exists", order.OrderNumber)
	}

	now := time.Now().UTC()
	stored := order.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	m.orders[order.OrderNumber] = stored
	return nil
}

// GetOrder returns a copy of the order tree
func (m *MemoryStore) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderNumber]
	if !ok {
		return nil, models.NewError(models.KindOrderNotFound, "order %s not found", orderNumber)
	}
	return order.Clone(), nil
}

// GetComponent returns a copy of one component
func (m *MemoryStore) GetComponent(ctx context.Context, key models.ComponentKey) (*models.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	comp := m.lookup(key)
	if comp == nil {
		return nil, models.NewError(models.KindComponentNotFound, "component %s not found", key)
	}
	return comp.Clone(), nil
}

func (m *MemoryStore) lookup(key models.ComponentKey) *models.Component {
	order, ok := m.orders[key.OrderNumber]
	if !ok {
		return nil
	}
	return order.Component(key.ItemID, key.ComponentID)
}

// SaveComponent replaces a component if its stored version still matches
func (m *MemoryStore) SaveComponent(ctx context.Context, key models.ComponentKey, comp *models.Component, change *models.ComponentChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.lookup(key)
	if existing == nil {
		return models.NewError(models.KindComponentNotFound, "component %s not found", key)
	}
	if existing.Version != change.ExpectedVersion {
		return models.NewError(models.KindConflict, "component %s changed concurrently (expected version %d)", key, change.ExpectedVersion)
	}

	*existing = *comp.Clone()
	m.orders[key.OrderNumber].UpdatedAt = time.Now().UTC()
	if change.RequestID != "" {
		m.processed[change.RequestID] = key.OrderNumber
	}
	return nil
}

// UpdateOrderStatus sets the rolled-up order status
func (m *MemoryStore) UpdateOrderStatus(ctx context.Context, orderNumber string, status models.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderNumber]
	if !ok {
		return models.NewError(models.KindOrderNotFound, "order %s not found", orderNumber)
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	return nil
}

// IsRequestProcessed reports whether a request id was already applied
func (m *MemoryStore) IsRequestProcessed(ctx context.Context, requestID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.processed[requestID]
	return ok, nil
}

// ListOrders returns order headers, most recent first
func (m *MemoryStore) ListOrders(ctx context.Context) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	orders := make([]models.Order, 0, len(m.orders))
	for _, o := range m.orders {
		orders = append(orders, models.Order{
			OrderNumber: o.OrderNumber,
			Status:      o.Status,
			CreatedAt:   o.CreatedAt,
			UpdatedAt:   o.UpdatedAt,
		})
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].OrderNumber < orders[j].OrderNumber
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}
