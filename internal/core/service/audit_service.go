package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/port"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

type AuditService struct {
	repo   port.AuditRepository
	clock  clock.Clock
	logger *slog.Logger
}

func NewAuditService(repo port.AuditRepository, clk clock.Clock, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:   repo,
		clock:  clk,
		logger: logger.With(slog.String("component", "audit")),
	}
}

// Record appends one entry. ID and CreatedAt are assigned here.
func (s *AuditService) Record(ctx context.Context, entry domain.AuditLogEntry) error {
	if entry.ActorID == "" || entry.Action == "" || entry.ResourceType == "" {
		return domain.NewValidationError("audit", "actor, action and resource type are required")
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = s.clock.Now()

	if err := s.repo.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}

	s.logger.Info("audit entry recorded",
		slog.String("actor_id", entry.ActorID),
		slog.String("action", entry.Action),
		slog.String("resource_type", entry.ResourceType),
		slog.String("resource_id", entry.ResourceID),
	)
	return nil
}

// RecordAction is Record for the common case of a privileged call
// arriving with request metadata.
func (s *AuditService) RecordAction(ctx context.Context, actorID, action, resourceType, resourceID string,
	oldValues, newValues map[string]any, meta domain.RequestMeta) error {
	return s.Record(ctx, domain.AuditLogEntry{
		ActorID:      actorID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		OldValues:    oldValues,
		NewValues:    newValues,
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
	})
}

func (s *AuditService) Query(ctx context.Context, filter domain.AuditFilter) (*domain.AuditPage, error) {
	switch {
	case filter.Limit < 0:
		return nil, domain.NewValidationError("limit", "must not be negative")
	case filter.Limit > MaxAuditLimit:
		return nil, domain.NewValidationError("limit", fmt.Sprintf("must not exceed %d", MaxAuditLimit))
	case filter.Offset < 0:
		return nil, domain.NewValidationError("offset", "must not be negative")
	case filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start):
		return nil, domain.NewValidationError("end_date", "must not be before start_date")
	}
	if filter.Limit == 0 {
		filter.Limit = DefaultAuditLimit
	}

	logs, total, err := s.repo.QueryAudit(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	return &domain.AuditPage{
		Logs:    logs,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		Total:   total,
		HasMore: filter.Offset+len(logs) < total,
	}, nil
}
