package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

func (s *SQLStore) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var cart domain.Cart
	err := s.queryRow(ctx, s.db,
		`SELECT id, user_id, session_id, updated_at FROM carts WHERE id = ?`, cartID,
	).Scan(&cart.ID, &cart.UserID, &cart.SessionID, &cart.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("cart", cartID)
	}
	if err != nil {
		return nil, persistErr("get cart", err)
	}
	cart.UpdatedAt = utc(cart.UpdatedAt)

	rows, err := s.query(ctx, s.db, `
		SELECT product_id, sku, name, quantity, unit_price
		FROM cart_items WHERE cart_id = ? ORDER BY added_at, product_id`, cartID)
	if err != nil {
		return nil, persistErr("get cart items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ProductID, &item.SKU, &item.Name, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, persistErr("get cart items", err)
		}
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("get cart items", err)
	}
	return &cart, nil
}

func (s *SQLStore) CreateCart(ctx context.Context, cart domain.Cart) error {
	updated := utc(cart.UpdatedAt)
	if updated.IsZero() {
		updated = s.now()
	}
	_, err := s.exec(ctx, s.db,
		`INSERT INTO carts (id, user_id, session_id, updated_at) VALUES (?, ?, ?, ?)`,
		cart.ID, cart.UserID, cart.SessionID, updated,
	)
	if isDuplicate(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return persistErr("create cart", err)
	}
	return nil
}

// UpsertCartItem replaces the cart's line for the item's product.
func (s *SQLStore) UpsertCartItem(ctx context.Context, cartID string, item domain.CartItem) error {
	return s.inTx(ctx, "upsert cart item", func(tx *sql.Tx) error {
		now := s.now()
		result, err := s.exec(ctx, tx, `UPDATE carts SET updated_at = ? WHERE id = ?`, now, cartID)
		if err != nil {
			return persistErr("touch cart", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return notFound("cart", cartID)
		}

		addedAt := now
		err = s.queryRow(ctx, tx,
			`SELECT added_at FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, item.ProductID,
		).Scan(&addedAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return persistErr("upsert cart item", err)
		}

		if _, err := s.exec(ctx, tx,
			`DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, item.ProductID,
		); err != nil {
			return persistErr("upsert cart item", err)
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO cart_items (cart_id, product_id, sku, name, quantity, unit_price, added_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cartID, item.ProductID, item.SKU, item.Name, item.Quantity, item.UnitPrice, utc(addedAt),
		); err != nil {
			return persistErr("upsert cart item", err)
		}
		return nil
	})
}

func (s *SQLStore) RemoveCartItem(ctx context.Context, cartID, productID string) error {
	return s.inTx(ctx, "remove cart item", func(tx *sql.Tx) error {
		result, err := s.exec(ctx, tx,
			`DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?`, cartID, productID)
		if err != nil {
			return persistErr("remove cart item", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return notFound("cart item", productID)
		}
		if _, err := s.exec(ctx, tx, `UPDATE carts SET updated_at = ? WHERE id = ?`, s.now(), cartID); err != nil {
			return persistErr("touch cart", err)
		}
		return nil
	})
}

func (s *SQLStore) ClearCart(ctx context.Context, cartID string) error {
	return s.inTx(ctx, "clear cart", func(tx *sql.Tx) error {
		result, err := s.exec(ctx, tx, `UPDATE carts SET updated_at = ? WHERE id = ?`, s.now(), cartID)
		if err != nil {
			return persistErr("clear cart", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return notFound("cart", cartID)
		}
		if _, err := s.exec(ctx, tx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
			return persistErr("clear cart", err)
		}
		return nil
	})
}

// GetUser implements port.CustomerDirectory.
func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var u domain.User
	err := s.queryRow(ctx, s.db,
		`SELECT id, name, email, role FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("user", userID)
	}
	if err != nil {
		return nil, persistErr("get user", err)
	}
	return &u, nil
}

func (s *SQLStore) SaveUser(ctx context.Context, user domain.User) error {
	_, err := s.exec(ctx, s.db,
		`INSERT INTO users (id, name, email, role) VALUES (?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, string(user.Role),
	)
	if isDuplicate(err) {
		return domain.ErrDuplicate
	}
	if err != nil {
		return persistErr("save user", err)
	}
	return nil
}

func (s *SQLStore) SavedAddresses(ctx context.Context, userID string) ([]domain.SavedAddress, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, address, is_default FROM user_addresses
		WHERE user_id = ? ORDER BY is_default DESC, id`, userID)
	if err != nil {
		return nil, persistErr("list addresses", err)
	}
	defer rows.Close()

	var addresses []domain.SavedAddress
	for rows.Next() {
		var (
			a   domain.SavedAddress
			raw string
		)
		if err := rows.Scan(&a.ID, &raw, &a.IsDefault); err != nil {
			return nil, persistErr("list addresses", err)
		}
		if err := json.Unmarshal([]byte(raw), &a.Address); err != nil {
			return nil, persistErr("decode address", err)
		}
		addresses = append(addresses, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list addresses", err)
	}
	return addresses, nil
}

func (s *SQLStore) SaveAddress(ctx context.Context, userID string, address domain.SavedAddress) error {
	raw, err := json.Marshal(address.Address)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db,
		`INSERT INTO user_addresses (id, user_id, address, is_default) VALUES (?, ?, ?, ?)`,
		address.ID, userID, string(raw), address.IsDefault,
	)
	if err != nil {
		return persistErr("save address", err)
	}
	return nil
}

func (s *SQLStore) PaymentMethods(ctx context.Context, userID string) ([]domain.PaymentMethodRef, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, type, last4, is_default FROM payment_methods
		WHERE user_id = ? ORDER BY is_default DESC, id`, userID)
	if err != nil {
		return nil, persistErr("list payment methods", err)
	}
	defer rows.Close()

	var methods []domain.PaymentMethodRef
	for rows.Next() {
		var m domain.PaymentMethodRef
		if err := rows.Scan(&m.ID, &m.Type, &m.Last4, &m.IsDefault); err != nil {
			return nil, persistErr("list payment methods", err)
		}
		methods = append(methods, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list payment methods", err)
	}
	return methods, nil
}
