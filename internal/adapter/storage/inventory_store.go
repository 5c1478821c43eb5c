package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

const inventoryColumns = `id, sku, name, stock_quantity, low_stock_threshold, updated_at`

func scanInventory(row interface{ Scan(...any) error }) (*domain.InventoryLevel, error) {
	var level domain.InventoryLevel
	if err := row.Scan(&level.ProductID, &level.SKU, &level.Name, &level.StockQuantity,
		&level.LowStockThreshold, &level.UpdatedAt); err != nil {
		return nil, err
	}
	level.UpdatedAt = utc(level.UpdatedAt)
	return &level, nil
}

func (s *SQLStore) GetInventory(ctx context.Context, productID string) (*domain.InventoryLevel, error) {
	level, err := scanInventory(s.queryRow(ctx, s.db,
		`SELECT `+inventoryColumns+` FROM products WHERE id = ?`, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("product", productID)
	}
	if err != nil {
		return nil, persistErr("get inventory", err)
	}
	return level, nil
}

func (s *SQLStore) ListInventory(ctx context.Context) ([]domain.InventoryLevel, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+inventoryColumns+` FROM products ORDER BY sku`)
	if err != nil {
		return nil, persistErr("list inventory", err)
	}
	defer rows.Close()

	var levels []domain.InventoryLevel
	for rows.Next() {
		level, err := scanInventory(rows)
		if err != nil {
			return nil, persistErr("list inventory", err)
		}
		levels = append(levels, *level)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list inventory", err)
	}
	return levels, nil
}

func (s *SQLStore) CreateInventory(ctx context.Context, level domain.InventoryLevel, performedBy string) error {
	if level.StockQuantity < 0 {
		return domain.NewValidationError("stock_quantity", "must not be negative")
	}
	return s.inTx(ctx, "create inventory", func(tx *sql.Tx) error {
		now := s.now()
		_, err := s.exec(ctx, tx, `
			INSERT INTO products (id, sku, name, price, active, stock_quantity, low_stock_threshold, updated_at)
			VALUES (?, ?, ?, 0, TRUE, 0, ?, ?)`,
			level.ProductID, level.SKU, level.Name, level.LowStockThreshold, now,
		)
		if isDuplicate(err) {
			return fmt.Errorf("product %s: %w", level.ProductID, domain.ErrDuplicate)
		}
		if err != nil {
			return persistErr("insert product", err)
		}
		if level.StockQuantity == 0 {
			return nil
		}
		_, err = s.moveStock(ctx, tx, level.ProductID, domain.MovementIn, level.StockQuantity,
			"initial stock", "", performedBy)
		return err
	})
}

// SaveProduct stores the catalog fields of a product, creating it with
// zero stock when it does not exist yet.
func (s *SQLStore) SaveProduct(ctx context.Context, product port.ProductSnapshot) error {
	return s.inTx(ctx, "save product", func(tx *sql.Tx) error {
		var exists int
		err := s.queryRow(ctx, tx, `SELECT COUNT(*) FROM products WHERE id = ?`, product.ID).Scan(&exists)
		if err != nil {
			return persistErr("save product", err)
		}
		if exists > 0 {
			_, err = s.exec(ctx, tx, `
				UPDATE products SET sku = ?, name = ?, price = ?, active = ?, updated_at = ?
				WHERE id = ?`,
				product.SKU, product.Name, product.Price, product.Active, s.now(), product.ID,
			)
		} else {
			_, err = s.exec(ctx, tx, `
				INSERT INTO products (id, sku, name, price, active, stock_quantity, low_stock_threshold, updated_at)
				VALUES (?, ?, ?, ?, ?, 0, 5, ?)`,
				product.ID, product.SKU, product.Name, product.Price, product.Active, s.now(),
			)
		}
		if err != nil {
			return persistErr("save product", err)
		}
		return nil
	})
}

// GetProduct implements port.CatalogReader.
func (s *SQLStore) GetProduct(ctx context.Context, productID string) (*port.ProductSnapshot, error) {
	var p port.ProductSnapshot
	err := s.queryRow(ctx, s.db,
		`SELECT id, sku, name, price, active FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("product", productID)
	}
	if err != nil {
		return nil, persistErr("get product", err)
	}
	return &p, nil
}

func (s *SQLStore) DecrementStock(ctx context.Context, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error) {
	if quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}
	var movement *domain.InventoryMovement
	err := s.inTx(ctx, "decrement stock", func(tx *sql.Tx) error {
		mv, err := s.takeStock(ctx, tx, productID, quantity, reason, referenceID, performedBy)
		if err != nil {
			return err
		}
		if mv == nil {
			available, err := s.availableStock(ctx, tx, productID)
			if err != nil {
				return err
			}
			return &domain.InsufficientStockError{Shortages: []domain.Shortage{{
				ProductID: productID,
				Requested: quantity,
				Available: available,
			}}}
		}
		movement = mv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *SQLStore) IncrementStock(ctx context.Context, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error) {
	if quantity <= 0 {
		return nil, domain.NewValidationError("quantity", "must be positive")
	}
	var movement *domain.InventoryMovement
	err := s.inTx(ctx, "increment stock", func(tx *sql.Tx) error {
		mv, err := s.moveStock(ctx, tx, productID, domain.MovementIn, quantity, reason, referenceID, performedBy)
		movement = mv
		return err
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *SQLStore) AdjustStock(ctx context.Context, productID string, newQuantity int, reason, performedBy string) (*domain.InventoryMovement, error) {
	if newQuantity < 0 {
		return nil, domain.NewValidationError("quantity", "must not be negative")
	}
	var movement *domain.InventoryMovement
	err := s.inTx(ctx, "adjust stock", func(tx *sql.Tx) error {
		var before int
		err := s.queryRow(ctx, tx,
			`SELECT stock_quantity FROM products WHERE id = ? FOR UPDATE`, productID,
		).Scan(&before)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("product", productID)
		}
		if err != nil {
			return persistErr("adjust stock", err)
		}

		now := s.now()
		if _, err := s.exec(ctx, tx,
			`UPDATE products SET stock_quantity = ?, updated_at = ? WHERE id = ?`,
			newQuantity, now, productID,
		); err != nil {
			return persistErr("adjust stock", err)
		}

		delta := newQuantity - before
		if delta < 0 {
			delta = -delta
		}
		mv := domain.InventoryMovement{
			ID:             uuid.NewString(),
			ProductID:      productID,
			Type:           domain.MovementAdjustment,
			Quantity:       delta,
			QuantityBefore: before,
			QuantityAfter:  newQuantity,
			Reason:         reason,
			PerformedBy:    performedBy,
			CreatedAt:      now,
		}
		if err := s.insertMovement(ctx, tx, mv); err != nil {
			return err
		}
		movement = &mv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *SQLStore) ListMovements(ctx context.Context, productID string, filter domain.MovementFilter) ([]domain.InventoryMovement, error) {
	var (
		where = []string{"product_id = ?"}
		args  = []any{productID}
	)
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, filter.To.UTC())
	}

	query := `SELECT id, product_id, type, quantity, quantity_before, quantity_after,
		reason, reference_id, performed_by, created_at
		FROM inventory_movements WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq ASC`
	query, args = paginate(query, args, filter.Limit, filter.Offset)

	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, persistErr("list movements", err)
	}
	defer rows.Close()

	var movements []domain.InventoryMovement
	for rows.Next() {
		var m domain.InventoryMovement
		if err := rows.Scan(&m.ID, &m.ProductID, &m.Type, &m.Quantity, &m.QuantityBefore,
			&m.QuantityAfter, &m.Reason, &m.ReferenceID, &m.PerformedBy, &m.CreatedAt); err != nil {
			return nil, persistErr("list movements", err)
		}
		m.CreatedAt = utc(m.CreatedAt)
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list movements", err)
	}
	return movements, nil
}

// takeStock decrements stock only if it covers quantity. It returns a
// nil movement, and writes nothing, when the product is short or missing.
func (s *SQLStore) takeStock(ctx context.Context, tx *sql.Tx, productID string, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error) {
	now := s.now()
	result, err := s.exec(ctx, tx, `
		UPDATE products
		SET stock_quantity = stock_quantity - ?, updated_at = ?
		WHERE id = ? AND stock_quantity >= ?`,
		quantity, now, productID, quantity,
	)
	if err != nil {
		return nil, persistErr("take stock", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, nil
	}

	// The updated row stays locked until the transaction ends, so the
	// quantity read back is the one this update produced.
	var after int
	if err := s.queryRow(ctx, tx,
		`SELECT stock_quantity FROM products WHERE id = ?`, productID,
	).Scan(&after); err != nil {
		return nil, persistErr("take stock", err)
	}

	mv := domain.InventoryMovement{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Type:           domain.MovementOut,
		Quantity:       quantity,
		QuantityBefore: after + quantity,
		QuantityAfter:  after,
		Reason:         reason,
		ReferenceID:    referenceID,
		PerformedBy:    performedBy,
		CreatedAt:      now,
	}
	if err := s.insertMovement(ctx, tx, mv); err != nil {
		return nil, err
	}
	return &mv, nil
}

// moveStock adds quantity to a product and books the movement.
func (s *SQLStore) moveStock(ctx context.Context, tx *sql.Tx, productID string, typ domain.MovementType, quantity int, reason, referenceID, performedBy string) (*domain.InventoryMovement, error) {
	now := s.now()
	result, err := s.exec(ctx, tx, `
		UPDATE products
		SET stock_quantity = stock_quantity + ?, updated_at = ?
		WHERE id = ?`,
		quantity, now, productID,
	)
	if err != nil {
		return nil, persistErr("add stock", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return nil, notFound("product", productID)
	}

	var after int
	if err := s.queryRow(ctx, tx,
		`SELECT stock_quantity FROM products WHERE id = ?`, productID,
	).Scan(&after); err != nil {
		return nil, persistErr("add stock", err)
	}

	mv := domain.InventoryMovement{
		ID:             uuid.NewString(),
		ProductID:      productID,
		Type:           typ,
		Quantity:       quantity,
		QuantityBefore: after - quantity,
		QuantityAfter:  after,
		Reason:         reason,
		ReferenceID:    referenceID,
		PerformedBy:    performedBy,
		CreatedAt:      now,
	}
	if err := s.insertMovement(ctx, tx, mv); err != nil {
		return nil, err
	}
	return &mv, nil
}

// availableStock reads the current quantity, treating a missing product
// as zero stock.
func (s *SQLStore) availableStock(ctx context.Context, tx *sql.Tx, productID string) (int, error) {
	var available int
	err := s.queryRow(ctx, tx,
		`SELECT stock_quantity FROM products WHERE id = ?`, productID,
	).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, persistErr("read stock", err)
	}
	return available, nil
}

func (s *SQLStore) insertMovement(ctx context.Context, tx *sql.Tx, m domain.InventoryMovement) error {
	_, err := s.exec(ctx, tx, `
		INSERT INTO inventory_movements
			(id, product_id, type, quantity, quantity_before, quantity_after,
			 reason, reference_id, performed_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProductID, string(m.Type), m.Quantity, m.QuantityBefore, m.QuantityAfter,
		m.Reason, m.ReferenceID, m.PerformedBy, utc(m.CreatedAt),
	)
	if err != nil {
		return persistErr("insert movement", err)
	}
	return nil
}

// paginate appends LIMIT/OFFSET. Offset without a limit reads to the end.
func paginate(query string, args []any, limit, offset int) (string, []any) {
	if limit <= 0 && offset <= 0 {
		return query, args
	}
	if limit <= 0 {
		limit = math.MaxInt32
	}
	query += ` LIMIT ? OFFSET ?`
	return query, append(args, limit, offset)
}
