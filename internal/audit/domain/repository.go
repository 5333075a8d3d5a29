package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *AuditEvent) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditEvent, error)
	// DeleteOlderThan prunes events owned by customers on the given plan
	// whose created_at precedes cutoff. Returns the rows removed.
	DeleteOlderThan(ctx context.Context, db *gorm.DB, plan string, cutoff time.Time) (int64, error)
}
