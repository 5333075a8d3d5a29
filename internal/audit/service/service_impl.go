package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/sendora/internal/audit/domain"
	"github.com/smallbiznis/sendora/internal/audit/masking"
	"github.com/smallbiznis/sendora/internal/clock"
	"github.com/smallbiznis/sendora/internal/tenantcontext"
	"github.com/smallbiznis/sendora/pkg/db/pagination"
	"github.com/smallbiznis/sendora/pkg/rls"
	"github.com/smallbiznis/sendora/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Record appends an audit event. Failures are logged and swallowed so a
// broken audit path can never abort the mutation it describes.
func (s *Service) Record(ctx context.Context, event auditdomain.Event) {
	action := strings.TrimSpace(event.Action)
	if action == "" {
		s.log.Error("audit event dropped", zap.Error(auditdomain.ErrInvalidAction))
		return
	}
	if event.CustomerID == 0 {
		s.log.Error("audit event dropped",
			zap.String("action", action),
			zap.Error(auditdomain.ErrInvalidCustomer),
		)
		return
	}

	actorType, actorID := tenantcontext.ActorFromContext(ctx)
	_, correlationID := correlation.EnsureCorrelationID(ctx)

	entry := auditdomain.AuditEvent{
		ID:            s.genID.Generate(),
		CustomerID:    event.CustomerID,
		ActorType:     actorType,
		Action:        action,
		Metadata:      datatypes.JSONMap(masking.MaskJSON(event.Metadata)),
		CorrelationID: correlationID,
		CreatedAt:     s.clock.Now(),
	}
	if trimmed := strings.TrimSpace(actorID); trimmed != "" {
		entry.ActorID = &trimmed
	}
	if reason := strings.TrimSpace(event.Reason); reason != "" {
		entry.Reason = &reason
	}
	if ip := tenantcontext.ClientIPFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if ua := tenantcontext.UserAgentFromContext(ctx); ua != "" {
		entry.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Error("failed to write audit event",
			zap.String("action", action),
			zap.String("customer_id", event.CustomerID.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) List(ctx context.Context, req auditdomain.ListEventsRequest) (auditdomain.ListEventsResponse, error) {
	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil || customerID == 0 {
		return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidCustomer
	}

	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidTimeRange
	}

	var cursor *auditdomain.EventCursor
	if strings.TrimSpace(req.PageToken) != "" {
		decoded, err := pagination.DecodeCursor(req.PageToken)
		if err != nil {
			return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidPageToken
		}
		createdAt, err := time.Parse(time.RFC3339Nano, decoded.CreatedAt)
		if err != nil {
			return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(strings.TrimSpace(decoded.ID))
		if err != nil || id == 0 {
			return auditdomain.ListEventsResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.EventCursor{ID: id, CreatedAt: createdAt}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 250 {
		pageSize = 250
	}

	items, err := s.scopedList(ctx, auditdomain.ListFilter{
		CustomerID: customerID,
		Action:     req.Action,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListEventsResponse{}, err
	}

	items, pageInfo, err := pagination.Trim(items, pageSize, func(item *auditdomain.AuditEvent) pagination.Cursor {
		return pagination.Cursor{
			ID:        item.ID.String(),
			CreatedAt: item.CreatedAt.Format(time.RFC3339Nano),
		}
	})
	if err != nil {
		return auditdomain.ListEventsResponse{}, err
	}

	events := make([]auditdomain.AuditEvent, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		events = append(events, *item)
	}

	return auditdomain.ListEventsResponse{PageInfo: pageInfo, Events: events}, nil
}

// scopedList reads events inside a transaction pinned to one tenant.
// On postgres the session variable feeds the row-level-security policy,
// so a filter bug cannot leak another tenant's trail. Other dialects
// rely on the WHERE clause alone.
func (s *Service) scopedList(ctx context.Context, filter auditdomain.ListFilter) ([]*auditdomain.AuditEvent, error) {
	if !strings.EqualFold(s.db.Dialector.Name(), "postgres") {
		return s.repo.List(ctx, s.db, filter)
	}

	var items []*auditdomain.AuditEvent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithCustomer(tx, int64(filter.CustomerID)); err != nil {
			return err
		}
		var listErr error
		items, listErr = s.repo.List(ctx, tx, filter)
		return listErr
	})
	return items, err
}

func (s *Service) PruneOlderThan(ctx context.Context, plan string, cutoff time.Time) (int64, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return 0, auditdomain.ErrInvalidPlan
	}
	return s.repo.DeleteOlderThan(ctx, s.db, plan, cutoff)
}
