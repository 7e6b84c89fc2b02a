package store

import (
	"context"
	"database/sql"
	"fmt"

	"decoration-service/internal/models"

	"github.com/jmoiron/sqlx"
)

type itemRef struct {
	ItemID string `db:"item_id"`
}

type componentRef struct {
	ItemID      string `db:"item_id"`
	ComponentID string `db:"component_id"`
}

type componentRow struct {
	itemRef
	models.Component
}

type decorationRow struct {
	componentRef
	models.DecorationRecord
}

type vehicleRow struct {
	componentRef
	Idx int `db:"idx"`
	models.VehicleRecord
}

type historyRow struct {
	componentRef
	Team string `db:"team"`
	models.ProductionEntry
}

const (
	componentColumns  = "item_id, component_id, type, name, total_quantity, decoration_approved, version"
	decorationColumns = "item_id, component_id, team, total_quantity, completed_qty, available_stock, inventory_used, status, COALESCE(dispatched_by, '') AS dispatched_by, dispatched_at"
	vehicleColumns    = "item_id, component_id, idx, plate, destination, departure_at, status, received, approved"
	historyColumns    = "item_id, component_id, team, date, actor, quantity_produced, stock_used, notes"
)

// CreateOrder persists a full order tree coming from intake
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO orders (order_number, status) VALUES ($1, $2) ON CONFLICT (order_number) DO NOTHING",
		order.OrderNumber, order.Status)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindOrderExists, "order %s already exists", order.OrderNumber)
	}

	for i, item := range order.Items {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_number, item_id, name, position) VALUES ($1, $2, $3, $4)",
			order.OrderNumber, item.ItemID, item.Name, i); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", item.ItemID, err)
		}

		for j := range item.Components {
			comp := &item.Components[j]
			key := models.ComponentKey{OrderNumber: order.OrderNumber, ItemID: item.ItemID, ComponentID: comp.ComponentID}
			if err := insertComponent(ctx, tx, key, j, comp); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func insertComponent(ctx context.Context, tx *sqlx.Tx, key models.ComponentKey, position int, comp *models.Component) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO components (order_number, item_id, component_id, position, type, name, total_quantity, decoration_approved, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.OrderNumber, key.ItemID, key.ComponentID, position,
		comp.Type, comp.Name, comp.TotalQuantity, comp.DecorationApproved, comp.Version); err != nil {
		return fmt.Errorf("failed to insert component %s: %w", key, err)
	}

	for team, rec := range comp.Decorations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO decoration_records (order_number, item_id, component_id, team, total_quantity, completed_qty,
				available_stock, inventory_used, status, dispatched_by, dispatched_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11)`,
			key.OrderNumber, key.ItemID, key.ComponentID, team, rec.TotalQuantity, rec.CompletedQty,
			rec.AvailableStock, rec.InventoryUsed, rec.Status, rec.DispatchedBy, rec.DispatchedAt); err != nil {
			return fmt.Errorf("failed to insert decoration record %s/%s: %w", key, team, err)
		}
		for _, entry := range rec.History {
			if err := insertHistory(ctx, tx, key, team, entry); err != nil {
				return err
			}
		}
	}

	for idx, v := range comp.Vehicles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO vehicle_records (order_number, item_id, component_id, idx, plate, destination, departure_at, status, received, approved)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			key.OrderNumber, key.ItemID, key.ComponentID, idx,
			v.Plate, v.Destination, v.DepartureAt, v.Status, v.Received, v.Approved); err != nil {
			return fmt.Errorf("failed to insert vehicle %s/%d: %w", key, idx, err)
		}
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, key models.ComponentKey, team string, entry models.ProductionEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO production_history (order_number, item_id, component_id, team, date, actor, quantity_produced, stock_used, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		key.OrderNumber, key.ItemID, key.ComponentID, team,
		entry.Date, entry.Actor, entry.QuantityProduced, entry.StockUsed, entry.Notes)
	if err != nil {
		return fmt.Errorf("failed to append history %s/%s: %w", key, team, err)
	}
	return nil
}

// GetOrder loads the full Order→Item→Component tree
func (s *Store) GetOrder(ctx context.Context, orderNumber string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT order_number, status, created_at, updated_at FROM orders WHERE order_number = $1", orderNumber)
	if err == sql.ErrNoRows {
		return nil, models.NewError(models.KindOrderNotFound, "order %s not found", orderNumber)
	}
	if err != nil {
		return nil, err
	}

	var items []models.Item
	if err := s.db.SelectContext(ctx, &items,
		"SELECT item_id, name FROM order_items WHERE order_number = $1 ORDER BY position", orderNumber); err != nil {
		return nil, fmt.Errorf("failed to load items: %w", err)
	}

	comps, err := s.loadComponents(ctx, s.db, orderNumber, "", "")
	if err != nil {
		return nil, err
	}

	byItem := make(map[string][]models.Component)
	for _, row := range comps {
		byItem[row.ItemID] = append(byItem[row.ItemID], row.Component)
	}
	for i := range items {
		items[i].Components = byItem[items[i].ItemID]
	}
	order.Items = items

	return &order, nil
}

// GetComponent loads one component with its records, vehicles and history
func (s *Store) GetComponent(ctx context.Context, key models.ComponentKey) (*models.Component, error) {
	comps, err := s.loadComponents(ctx, s.db, key.OrderNumber, key.ItemID, key.ComponentID)
	if err != nil {
		return nil, err
	}
	if len(comps) == 0 {
		return nil, models.NewError(models.KindComponentNotFound, "component %s not found", key)
	}
	comp := comps[0].Component
	return &comp, nil
}

// loadComponents loads the components of an order, optionally narrowed to
// one component. Empty itemID and componentID select the whole order.
func (s *Store) loadComponents(ctx context.Context, q sqlx.QueryerContext, orderNumber, itemID, componentID string) ([]componentRow, error) {
	filter := "order_number = $1"
	args := []interface{}{orderNumber}
	if itemID != "" {
		filter += " AND item_id = $2 AND component_id = $3"
		args = append(args, itemID, componentID)
	}

	var comps []componentRow
	if err := sqlx.SelectContext(ctx, q, &comps,
		"SELECT "+componentColumns+" FROM components WHERE "+filter+" ORDER BY item_id, position", args...); err != nil {
		return nil, fmt.Errorf("failed to load components: %w", err)
	}
	if len(comps) == 0 {
		return nil, nil
	}

	var decorations []decorationRow
	if err := sqlx.SelectContext(ctx, q, &decorations,
		"SELECT "+decorationColumns+" FROM decoration_records WHERE "+filter, args...); err != nil {
		return nil, fmt.Errorf("failed to load decoration records: %w", err)
	}

	var vehicles []vehicleRow
	if err := sqlx.SelectContext(ctx, q, &vehicles,
		"SELECT "+vehicleColumns+" FROM vehicle_records WHERE "+filter+" ORDER BY idx", args...); err != nil {
		return nil, fmt.Errorf("failed to load vehicles: %w", err)
	}

	var history []historyRow
	if err := sqlx.SelectContext(ctx, q, &history,
		"SELECT "+historyColumns+" FROM production_history WHERE "+filter+" ORDER BY id", args...); err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	index := make(map[componentRef]*models.Component, len(comps))
	for i := range comps {
		comps[i].Decorations = make(map[string]*models.DecorationRecord)
		index[componentRef{ItemID: comps[i].ItemID, ComponentID: comps[i].ComponentID}] = &comps[i].Component
	}
	for i := range decorations {
		if comp := index[decorations[i].componentRef]; comp != nil {
			rec := decorations[i].DecorationRecord
			comp.Decorations[rec.Team] = &rec
		}
	}
	for _, v := range vehicles {
		if comp := index[v.componentRef]; comp != nil {
			comp.Vehicles = append(comp.Vehicles, v.VehicleRecord)
		}
	}
	for _, h := range history {
		if comp := index[h.componentRef]; comp != nil {
			if rec := comp.Decorations[h.Team]; rec != nil {
				rec.History = append(rec.History, h.ProductionEntry)
			}
		}
	}

	return comps, nil
}

// SaveComponent persists a mutated component in one transaction. The write
// is rejected with a Conflict error if another writer bumped the version
// since the component was loaded.
func (s *Store) SaveComponent(ctx context.Context, key models.ComponentKey, comp *models.Component, change *models.ComponentChange) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE components SET version = $1
		WHERE order_number = $2 AND item_id = $3 AND component_id = $4 AND version = $5`,
		comp.Version, key.OrderNumber, key.ItemID, key.ComponentID, change.ExpectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update component: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindConflict, "component %s changed concurrently (expected version %d)", key, change.ExpectedVersion)
	}

	for team, rec := range comp.Decorations {
		if _, err := tx.ExecContext(ctx, `
			UPDATE decoration_records
			SET completed_qty = $1, available_stock = $2, inventory_used = $3, status = $4,
				dispatched_by = NULLIF($5, ''), dispatched_at = $6
			WHERE order_number = $7 AND item_id = $8 AND component_id = $9 AND team = $10`,
			rec.CompletedQty, rec.AvailableStock, rec.InventoryUsed, rec.Status,
			rec.DispatchedBy, rec.DispatchedAt,
			key.OrderNumber, key.ItemID, key.ComponentID, team); err != nil {
			return fmt.Errorf("failed to update decoration record %s/%s: %w", key, team, err)
		}
	}

	for idx, v := range comp.Vehicles {
		if _, err := tx.ExecContext(ctx, `
			UPDATE vehicle_records SET status = $1, received = $2, approved = $3
			WHERE order_number = $4 AND item_id = $5 AND component_id = $6 AND idx = $7`,
			v.Status, v.Received, v.Approved,
			key.OrderNumber, key.ItemID, key.ComponentID, idx); err != nil {
			return fmt.Errorf("failed to update vehicle %s/%d: %w", key, idx, err)
		}
	}

	for _, a := range change.Appends {
		if err := insertHistory(ctx, tx, key, a.Team, a.Entry); err != nil {
			return err
		}
	}

	if change.RequestID != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO processed_requests (request_id, order_number) VALUES ($1, $2)",
			change.RequestID, key.OrderNumber); err != nil {
			return fmt.Errorf("failed to mark request processed: %w", err)
		}
	}

	return tx.Commit()
}

// UpdateOrderStatus updates the rolled-up order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderNumber string, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE order_number = $2",
		status, orderNumber)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.NewError(models.KindOrderNotFound, "order %s not found", orderNumber)
	}
	return nil
}

// ListOrders returns order headers, most recent first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT order_number, status, created_at, updated_at FROM orders ORDER BY created_at DESC")
	return orders, err
}
