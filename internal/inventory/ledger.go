// Package inventory holds the stock ledger contract used by order
// fulfillment. Implementations live with the stores and always act inside
// the caller's unit of work; they never commit on their own.
package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nazeru/order-fulfillment/internal/order/domain"
)

// Ledger reserves and releases available quantity of products.
//
// Reserve fails with *domain.InsufficientStockError when the available
// quantity is lower than requested and with domain.ErrNotFound when the
// product does not exist. A successful Reserve has already decremented the
// quantity in the current transaction. Release increments it back.
type Ledger interface {
	Reserve(ctx context.Context, productID uuid.UUID, quantity int) error
	Release(ctx context.Context, productID uuid.UUID, quantity int) error
}

func CheckQuantity(productID uuid.UUID, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("product %s: %w", productID, domain.ErrInvalidQuantity)
	}
	return nil
}

// RestoreLines releases the quantity of every line back to its product.
func RestoreLines(ctx context.Context, l Ledger, lines []domain.OrderLine) error {
	for _, line := range lines {
		if err := l.Release(ctx, line.ProductID, line.Quantity); err != nil {
			return fmt.Errorf("release %d of product %s: %w", line.Quantity, line.ProductID, err)
		}
	}
	return nil
}
