package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// StockEditLockKey builds the redis key serialising stock edits of one product.
func StockEditLockKey(outletID, productID uuid.UUID) string {
	return fmt.Sprintf("stock:%s:%s", outletID, productID)
}
