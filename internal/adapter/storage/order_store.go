package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const orderColumns = `id, order_number, checkout_session_id, user_id, customer_email, status,
	payment_status, payment_method, payment_intent_id, subtotal, shipping_cost, tax, total,
	currency, shipping_address, billing_address, shipping_method, tracking_number, carrier,
	customer_notes, created_at, updated_at, shipped_at, delivered_at, cancelled_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o                         domain.Order
		sessionID                 sql.NullString
		shipping, billing         string
		shipped, delivered, cancl sql.NullTime
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &sessionID, &o.UserID, &o.CustomerEmail, &o.Status,
		&o.PaymentStatus, &o.PaymentMethod, &o.PaymentIntentID, &o.Subtotal, &o.ShippingCost,
		&o.Tax, &o.Total, &o.Currency, &shipping, &billing, &o.ShippingMethod, &o.TrackingNumber,
		&o.Carrier, &o.CustomerNotes, &o.CreatedAt, &o.UpdatedAt, &shipped, &delivered, &cancl)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(shipping), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal([]byte(billing), &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	o.CheckoutSessionID = sessionID.String
	o.CreatedAt = utc(o.CreatedAt)
	o.UpdatedAt = utc(o.UpdatedAt)
	o.ShippedAt = timePtr(shipped)
	o.DeliveredAt = timePtr(delivered)
	o.CancelledAt = timePtr(cancl)
	return &o, nil
}

func (s *SQLStore) PlaceOrder(ctx context.Context, order domain.Order, cartID string) (*domain.Order, bool, error) {
	if order.CheckoutSessionID != "" {
		existing, err := s.GetOrderBySession(ctx, order.CheckoutSessionID)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, false, err
		}
	}

	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return nil, false, fmt.Errorf("encode shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return nil, false, fmt.Errorf("encode billing address: %w", err)
	}

	err = s.inTx(ctx, "place order", func(tx *sql.Tx) error {
		_, err := s.exec(ctx, tx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, order.OrderNumber, nullString(order.CheckoutSessionID), order.UserID,
			order.CustomerEmail, string(order.Status), string(order.PaymentStatus), order.PaymentMethod,
			order.PaymentIntentID, order.Subtotal, order.ShippingCost, order.Tax, order.Total,
			order.Currency, string(shipping), string(billing), order.ShippingMethod,
			order.TrackingNumber, order.Carrier, order.CustomerNotes, utc(order.CreatedAt),
			utc(order.UpdatedAt), nullTime(order.ShippedAt), nullTime(order.DeliveredAt),
			nullTime(order.CancelledAt),
		)
		if isDuplicate(err) {
			return domain.ErrDuplicate
		}
		if err != nil {
			return persistErr("insert order", err)
		}

		var shortages []domain.Shortage
		for _, item := range order.Items {
			mv, err := s.takeStock(ctx, tx, item.ProductID, item.Quantity,
				"order "+order.OrderNumber, order.ID, "system")
			if err != nil {
				return err
			}
			if mv == nil {
				available, err := s.availableStock(ctx, tx, item.ProductID)
				if err != nil {
					return err
				}
				shortages = append(shortages, domain.Shortage{
					ProductID: item.ProductID,
					Name:      item.Name,
					Requested: item.Quantity,
					Available: available,
				})
				continue
			}

			if _, err := s.exec(ctx, tx, `
				INSERT INTO order_items (id, order_id, product_id, sku, name, unit_price, quantity, total)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				item.ID, order.ID, item.ProductID, item.SKU, item.Name, item.UnitPrice,
				item.Quantity, item.Total,
			); err != nil {
				return persistErr("insert order item", err)
			}
		}
		if len(shortages) > 0 {
			return &domain.InsufficientStockError{Shortages: shortages}
		}

		// Only the ordered lines leave the cart.
		if cartID != "" {
			for _, item := range order.Items {
				if _, err := s.exec(ctx, tx, `DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`,
					cartID, item.ProductID); err != nil {
					return persistErr("clear ordered cart items", err)
				}
			}
		}
		return nil
	})

	if errors.Is(err, domain.ErrDuplicate) && order.CheckoutSessionID != "" {
		// A concurrent confirmation for the same session won the insert.
		existing, getErr := s.GetOrderBySession(ctx, order.CheckoutSessionID)
		if getErr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	placed, err := s.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, false, err
	}
	return placed, true, nil
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "id", orderID)
}

func (s *SQLStore) GetOrderBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "checkout_session_id", sessionID)
}

func (s *SQLStore) GetOrderByNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return s.getOrderWhere(ctx, "order_number", orderNumber)
}

// getOrderWhere loads one order and its items by a unique column.
func (s *SQLStore) getOrderWhere(ctx context.Context, column, value string) (*domain.Order, error) {
	order, err := scanOrder(s.queryRow(ctx, s.db,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = ?`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", value)
	}
	if err != nil {
		return nil, persistErr("get order", err)
	}

	items, err := s.orderItems(ctx, s.db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *SQLStore) orderItems(ctx context.Context, q queryer, orderID string) ([]domain.OrderItem, error) {
	rows, err := s.query(ctx, q, `
		SELECT id, order_id, product_id, sku, name, unit_price, quantity, total
		FROM order_items WHERE order_id = ? ORDER BY sku, id`, orderID)
	if err != nil {
		return nil, persistErr("list order items", err)
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.SKU, &item.Name,
			&item.UnitPrice, &item.Quantity, &item.Total); err != nil {
			return nil, persistErr("list order items", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list order items", err)
	}
	return items, nil
}

func (s *SQLStore) ApplyStatusChange(ctx context.Context, change domain.StatusChange) (*domain.Order, error) {
	at := utc(change.At)
	if at.IsZero() {
		at = s.now()
	}

	err := s.inTx(ctx, "apply status change", func(tx *sql.Tx) error {
		set := `status = ?, updated_at = ?`
		args := []any{string(change.To), at}
		if change.TrackingNumber != "" {
			set += `, tracking_number = ?`
			args = append(args, change.TrackingNumber)
		}
		if change.Carrier != "" {
			set += `, carrier = ?`
			args = append(args, change.Carrier)
		}
		switch change.To {
		case domain.OrderStatusShipped:
			set += `, shipped_at = ?`
			args = append(args, at)
		case domain.OrderStatusDelivered:
			set += `, delivered_at = ?`
			args = append(args, at)
		case domain.OrderStatusCancelled:
			set += `, cancelled_at = ?`
			args = append(args, at)
		}
		args = append(args, change.OrderID, string(change.From))

		result, err := s.exec(ctx, tx, `UPDATE orders SET `+set+` WHERE id = ? AND status = ?`, args...)
		if err != nil {
			return persistErr("update order status", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			var current domain.OrderStatus
			err := s.queryRow(ctx, tx, `SELECT status FROM orders WHERE id = ?`, change.OrderID).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return notFound("order", change.OrderID)
			}
			if err != nil {
				return persistErr("read order status", err)
			}
			return &domain.IllegalTransitionError{OrderID: change.OrderID, From: current, To: change.To}
		}

		if _, err := s.exec(ctx, tx, `
			INSERT INTO order_status_history
				(id, order_id, from_status, to_status, changed_by, changed_at, automated, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), change.OrderID, string(change.From), string(change.To),
			change.ChangedBy, at, change.Automated, change.Notes,
		); err != nil {
			return persistErr("insert status history", err)
		}

		if change.To != domain.OrderStatusCancelled {
			return nil
		}
		items, err := s.orderItems(ctx, tx, change.OrderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := s.moveStock(ctx, tx, item.ProductID, domain.MovementIn, item.Quantity,
				"order cancelled", change.OrderID, change.ChangedBy); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, change.OrderID)
}

func (s *SQLStore) UpdateTracking(ctx context.Context, orderID, trackingNumber, carrier string, at time.Time) error {
	result, err := s.exec(ctx, s.db, `
		UPDATE orders SET tracking_number = ?, carrier = ?, updated_at = ? WHERE id = ?`,
		trackingNumber, carrier, utc(at), orderID,
	)
	if err != nil {
		return persistErr("update tracking", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// MySQL reports zero affected rows for a no-op update.
		var exists int
		if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM orders WHERE id = ?`, orderID).Scan(&exists); err != nil {
			return persistErr("update tracking", err)
		}
		if exists == 0 {
			return notFound("order", orderID)
		}
	}
	return nil
}

func (s *SQLStore) AppendTrackingEvent(ctx context.Context, event domain.TrackingEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_, err := s.exec(ctx, s.db, `
		INSERT INTO order_tracking_events
			(id, order_id, status, tracking_number, carrier, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.OrderID, string(event.Status), event.TrackingNumber, event.Carrier,
		event.Description, utc(event.CreatedAt),
	)
	if err != nil {
		return persistErr("insert tracking event", err)
	}
	return nil
}

func (s *SQLStore) ListTrackingEvents(ctx context.Context, orderID string) ([]domain.TrackingEvent, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, order_id, status, tracking_number, carrier, description, created_at
		FROM order_tracking_events WHERE order_id = ? ORDER BY seq ASC`, orderID)
	if err != nil {
		return nil, persistErr("list tracking events", err)
	}
	defer rows.Close()

	var events []domain.TrackingEvent
	for rows.Next() {
		var e domain.TrackingEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.Status, &e.TrackingNumber, &e.Carrier,
			&e.Description, &e.CreatedAt); err != nil {
			return nil, persistErr("list tracking events", err)
		}
		e.CreatedAt = utc(e.CreatedAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list tracking events", err)
	}
	return events, nil
}

func (s *SQLStore) ListStatusHistory(ctx context.Context, orderID string) ([]domain.OrderStatusHistory, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, order_id, from_status, to_status, changed_by, changed_at, automated, notes
		FROM order_status_history WHERE order_id = ? ORDER BY seq ASC`, orderID)
	if err != nil {
		return nil, persistErr("list status history", err)
	}
	defer rows.Close()

	var history []domain.OrderStatusHistory
	for rows.Next() {
		var h domain.OrderStatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.FromStatus, &h.ToStatus, &h.ChangedBy,
			&h.ChangedAt, &h.Automated, &h.Notes); err != nil {
			return nil, persistErr("list status history", err)
		}
		h.ChangedAt = utc(h.ChangedAt)
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list status history", err)
	}
	return history, nil
}
