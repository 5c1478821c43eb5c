package domain

import (
	"fmt"
	"time"
)

type MovementType string

const (
	MovementIn         MovementType = "in"
	MovementOut        MovementType = "out"
	MovementAdjustment MovementType = "adjustment"
)

// InventoryLevel is the current stock of one product.
type InventoryLevel struct {
	ProductID         string
	SKU               string
	Name              string
	StockQuantity     int
	LowStockThreshold int
	UpdatedAt         time.Time
}

func (l InventoryLevel) LowStock() bool {
	return l.StockQuantity <= l.LowStockThreshold
}

// InventoryMovement is one append-only stock change. Quantity is the
// magnitude of the change; QuantityAfter-QuantityBefore carries the sign.
type InventoryMovement struct {
	ID             string
	ProductID      string
	Type           MovementType
	Quantity       int
	QuantityBefore int
	QuantityAfter  int
	Reason         string
	ReferenceID    string
	PerformedBy    string
	CreatedAt      time.Time
}

func (m InventoryMovement) Delta() int {
	return m.QuantityAfter - m.QuantityBefore
}

// StockRequest is one product quantity to take out of stock.
type StockRequest struct {
	ProductID string
	Name      string
	Quantity  int
}

type MovementFilter struct {
	Type   MovementType
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// MovementSummary aggregates movements of one product over a window.
type MovementSummary struct {
	ProductID   string
	TotalIn     int
	TotalOut    int
	Adjustments int
	Movements   int
}

// ReplayMovements rebuilds a stock quantity from zero by applying
// movements in order. Every movement's QuantityBefore must equal the
// running total; a gap means the ledger and the stock column diverged.
func ReplayMovements(movements []InventoryMovement) (int, error) {
	running := 0
	for i, m := range movements {
		if m.QuantityBefore != running {
			return running, fmt.Errorf("movement %d (%s): quantity before %d does not match running total %d",
				i, m.ID, m.QuantityBefore, running)
		}
		if abs(m.Delta()) != m.Quantity {
			return running, fmt.Errorf("movement %d (%s): quantity %d does not match delta %d",
				i, m.ID, m.Quantity, m.Delta())
		}
		running = m.QuantityAfter
	}
	return running, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
