package service

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
	"github.com/rl1809/order-fulfillment/internal/token"
)

const minImpersonationReason = 10

// Validation outcomes. Each also matches domain.ErrUnauthorized.
var (
	ErrImpersonationExpired  error = &domain.AuthError{Reason: "impersonation session expired"}
	ErrImpersonationRevoked  error = &domain.AuthError{Reason: "impersonation session ended"}
	ErrImpersonationNotFound error = &domain.AuthError{Reason: "impersonation session not found"}
	ErrInvalidToken          error = &domain.AuthError{Reason: "invalid impersonation token"}
)

type ImpersonationConfig struct {
	DefaultTTL         time.Duration
	MinTTL             time.Duration
	MaxTTL             time.Duration
	MaxSessionsPerHour int
	// Production restricts targets to customers.
	Production bool
}

// ClampTTL applies the default for zero and keeps ttl within bounds.
func (c ImpersonationConfig) ClampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = c.DefaultTTL
	}
	if ttl < c.MinTTL {
		ttl = c.MinTTL
	}
	if ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}

type ImpersonationService struct {
	sessions   port.ImpersonationRepository
	users      port.CustomerDirectory
	audit      *AuditService
	publicKey  ed25519.PublicKey
	privateKey ed25519.PrivateKey
	clock      clock.Clock
	cfg        ImpersonationConfig
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func NewImpersonationService(sessions port.ImpersonationRepository, users port.CustomerDirectory, audit *AuditService,
	publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey, clk clock.Clock, cfg ImpersonationConfig,
	m *metrics.Metrics, logger *slog.Logger) *ImpersonationService {
	return &ImpersonationService{
		sessions:   sessions,
		users:      users,
		audit:      audit,
		publicKey:  publicKey,
		privateKey: privateKey,
		clock:      clk,
		cfg:        cfg,
		metrics:    m,
		logger:     logger.With(slog.String("component", "impersonation")),
	}
}

// Start opens a session for adminID acting as targetUserID and returns
// the signed token. An active session for the same pair is ended first.
func (s *ImpersonationService) Start(ctx context.Context, adminID, targetUserID string, ttl time.Duration,
	reason string, meta domain.RequestMeta) (*domain.ImpersonationGrant, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < minImpersonationReason {
		return nil, domain.NewValidationError("reason", fmt.Sprintf("must be at least %d characters", minImpersonationReason))
	}
	if targetUserID == "" {
		return nil, domain.NewValidationError("target_user_id", "is required")
	}
	if adminID == targetUserID {
		return nil, domain.NewValidationError("target_user_id", "cannot impersonate yourself")
	}

	admin, err := s.users.GetUser(ctx, adminID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.AuthError{Reason: "unknown admin"}
		}
		return nil, fmt.Errorf("load admin: %w", err)
	}
	if !admin.Role.IsAdmin() {
		return nil, &domain.AuthError{Reason: "admin role required"}
	}

	target, err := s.users.GetUser(ctx, targetUserID)
	if err != nil {
		return nil, err
	}
	if target.Role.Level() >= admin.Role.Level() {
		return nil, &domain.AuthError{Reason: "cannot impersonate a user with an equal or higher role"}
	}
	if s.cfg.Production && target.Role != domain.RoleCustomer {
		return nil, &domain.AuthError{Reason: "only customers can be impersonated in production"}
	}

	now := s.clock.Now()
	count, err := s.sessions.CountSessionsSince(ctx, adminID, now.Add(-time.Hour))
	if err != nil {
		return nil, fmt.Errorf("count impersonation sessions: %w", err)
	}
	if s.cfg.MaxSessionsPerHour > 0 && count >= s.cfg.MaxSessionsPerHour {
		return nil, domain.ErrRateLimited
	}

	session := domain.ImpersonationSession{
		LogID:        uuid.NewString(),
		AdminID:      adminID,
		TargetUserID: targetUserID,
		TokenID:      uuid.NewString(),
		Reason:       reason,
		IPAddress:    meta.IP,
		UserAgent:    meta.UserAgent,
		StartedAt:    now,
		ExpiresAt:    now.Add(s.cfg.ClampTTL(ttl)),
	}

	signed, err := token.Mint(s.privateKey, &token.Claims{
		ID:           session.TokenID,
		AdminID:      adminID,
		TargetUserID: targetUserID,
		SessionID:    session.LogID,
		IssuedAt:     now.Unix(),
		ExpiresAt:    session.ExpiresAt.Unix(),
	})
	if err != nil {
		return nil, fmt.Errorf("mint impersonation token: %w", err)
	}

	if err := s.sessions.StartSession(ctx, session); err != nil {
		return nil, fmt.Errorf("store impersonation session: %w", err)
	}

	if err := s.audit.RecordAction(ctx, adminID, domain.AuditImpersonateStart, domain.ResourceImpersonation, targetUserID,
		nil, map[string]any{
			"log_id":     session.LogID,
			"target":     target.Email,
			"reason":     reason,
			"expires_at": session.ExpiresAt,
		}, meta); err != nil {
		s.logger.Error("audit impersonation start", slog.String("log_id", session.LogID), slog.Any("error", err))
	}

	s.metrics.ImpersonationStarted()
	s.logger.Info("impersonation started",
		slog.String("admin_id", adminID),
		slog.String("target_user_id", targetUserID),
		slog.Time("expires_at", session.ExpiresAt),
	)

	return &domain.ImpersonationGrant{Token: signed, Session: session, Target: *target}, nil
}

// Validate checks the signature and then the persisted session, so an
// ended session is rejected even though its token still verifies.
func (s *ImpersonationService) Validate(ctx context.Context, signed string) (*domain.ImpersonationSession, error) {
	now := s.clock.Now()
	claims, err := token.VerifyAt(s.publicKey, signed, now)
	if errors.Is(err, token.ErrExpired) {
		return nil, ErrImpersonationExpired
	}
	if err != nil {
		return nil, ErrInvalidToken
	}

	session, err := s.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		return nil, ErrImpersonationRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return nil, ErrImpersonationExpired
	}
	return session, nil
}

// End closes the session behind the token. Ending an already ended or
// expired session succeeds.
func (s *ImpersonationService) End(ctx context.Context, signed string, meta domain.RequestMeta) (*domain.ImpersonationSession, error) {
	now := s.clock.Now()
	claims, err := token.VerifyAt(s.publicKey, signed, now)
	if err != nil && !errors.Is(err, token.ErrExpired) {
		return nil, ErrInvalidToken
	}

	session, err := s.lookup(ctx, claims)
	if err != nil {
		return nil, err
	}
	if session.EndedAt != nil {
		return session, nil
	}

	ended, err := s.sessions.EndSession(ctx, session.LogID, claims.AdminID, now)
	if err != nil {
		return nil, fmt.Errorf("end impersonation session: %w", err)
	}

	if err := s.audit.RecordAction(ctx, claims.AdminID, domain.AuditImpersonateEnd, domain.ResourceImpersonation,
		claims.TargetUserID, map[string]any{"log_id": session.LogID}, map[string]any{"ended_at": now}, meta); err != nil {
		s.logger.Error("audit impersonation end", slog.String("log_id", session.LogID), slog.Any("error", err))
	}

	s.logger.Info("impersonation ended",
		slog.String("admin_id", claims.AdminID),
		slog.String("target_user_id", claims.TargetUserID),
	)
	return ended, nil
}

func (s *ImpersonationService) lookup(ctx context.Context, claims *token.Claims) (*domain.ImpersonationSession, error) {
	session, err := s.sessions.GetSession(ctx, claims.SessionID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrImpersonationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load impersonation session: %w", err)
	}
	if session.TokenID != claims.ID || session.AdminID != claims.AdminID {
		return nil, ErrImpersonationNotFound
	}
	return session, nil
}
