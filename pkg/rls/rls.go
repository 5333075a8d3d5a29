package rls

import (
	"fmt"

	"gorm.io/gorm"
)

// WithCustomer scopes the current transaction to one tenant via a
// session variable consumed by row-level-security policies. Only
// meaningful on postgres; callers guard on the active dialect.
func WithCustomer(tx *gorm.DB, customerID int64) error {
	return tx.Exec(
		"SET LOCAL app.current_customer_id = ?",
		fmt.Sprintf("%d", customerID),
	).Error
}
