package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/sendora/pkg/db/pagination"
)

// Event is the payload callers hand to Record. Actor, correlation id,
// and client metadata are resolved from the context.
type Event struct {
	CustomerID snowflake.ID
	Action     string
	Reason     string
	Metadata   map[string]any
}

type ListEventsRequest struct {
	pagination.Pagination
	CustomerID string
	Action     string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListEventsResponse struct {
	pagination.PageInfo
	Events []AuditEvent `json:"events"`
}

type Service interface {
	// Record appends an audit event. It never fails the enclosing
	// operation: write errors are logged and swallowed.
	Record(ctx context.Context, event Event)
	List(ctx context.Context, req ListEventsRequest) (ListEventsResponse, error)
	// PruneOlderThan removes events for customers on the given plan older
	// than cutoff, returning the number of rows removed.
	PruneOlderThan(ctx context.Context, plan string, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidCustomer  = errors.New("invalid_customer")
	ErrInvalidAction    = errors.New("invalid_action")
	ErrInvalidPlan      = errors.New("invalid_plan")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
)
