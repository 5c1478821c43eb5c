package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/port"
)

// ErrDispatcherClosed is returned by Send after Close.
var ErrDispatcherClosed = errors.New("notification dispatcher closed")

const deliveryTimeout = 5 * time.Second

// Notifier is what the order pipeline needs from the dispatcher.
type Notifier interface {
	Send(ctx context.Context, notification domain.Notification) (*domain.DispatchOutcome, error)
}

type NotificationConfig struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	Workers           int
	QueueSize         int
	// AlertThreshold is the number of consecutive permanent failures
	// that raises an operator alert.
	AlertThreshold int
}

func DefaultNotificationConfig() NotificationConfig {
	return NotificationConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		Workers:           4,
		QueueSize:         1000,
		AlertThreshold:    5,
	}
}

type attemptJob struct {
	logID       string
	number      int
	scheduledAt time.Time
}

// NotificationService delivers transactional messages outside of the
// order transaction. Send only records the notification and schedules
// its first attempt; a timer hands each due attempt to the worker pool.
type NotificationService struct {
	repo    port.NotificationLogRepository
	channel port.DeliveryChannel
	clock   clock.Clock
	cfg     NotificationConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	queue   chan attemptJob
	workers sync.WaitGroup
	sending sync.WaitGroup

	mu     sync.Mutex
	closed bool
	timers map[string]*clock.Timer
	streak int
}

func NewNotificationService(repo port.NotificationLogRepository, channel port.DeliveryChannel, clk clock.Clock,
	cfg NotificationConfig, m *metrics.Metrics, logger *slog.Logger) *NotificationService {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultNotificationConfig().QueueSize
	}
	return &NotificationService{
		repo:    repo,
		channel: channel,
		clock:   clk,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With(slog.String("component", "notification"), slog.String("channel", channel.Name())),
		queue:   make(chan attemptJob, cfg.QueueSize),
		timers:  make(map[string]*clock.Timer),
	}
}

// CalculateRetryDelay returns the delay before attempt n (1-indexed):
// InitialDelay × BackoffMultiplier^(n-1).
func (s *NotificationService) CalculateRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := math.Pow(s.cfg.BackoffMultiplier, float64(attempt-1))
	return time.Duration(float64(s.cfg.InitialDelay) * factor)
}

func (s *NotificationService) ShouldRetry(attemptsSoFar int) bool {
	return attemptsSoFar < s.cfg.MaxAttempts
}

// Start launches the worker pool. Workers exit when Close drains the queue.
func (s *NotificationService) Start(ctx context.Context) {
	for i := 0; i < s.cfg.Workers; i++ {
		s.workers.Add(1)
		go func(id int) {
			defer s.workers.Done()
			s.workerLoop(ctx, id)
		}(i)
	}
	s.logger.Info("notification workers started", slog.Int("workers", s.cfg.Workers))
}

// Close cancels pending timers and waits for in-flight attempts. Logs
// that were still pending are picked up by Recover on the next start.
func (s *NotificationService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
	s.mu.Unlock()

	s.sending.Wait()
	close(s.queue)
	s.workers.Wait()
	s.logger.Info("notification workers stopped")
}

// Send records the notification as pending and schedules its first
// attempt. It never waits for delivery.
func (s *NotificationService) Send(ctx context.Context, notification domain.Notification) (*domain.DispatchOutcome, error) {
	if notification.Recipient == "" {
		return nil, domain.NewValidationError("recipient", "is required")
	}
	if notification.Type == "" {
		return nil, domain.NewValidationError("type", "is required")
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrDispatcherClosed
	}

	now := s.clock.Now()
	delay := s.CalculateRetryDelay(1)
	next := now.Add(delay)
	log := domain.NotificationLog{
		ID:            uuid.NewString(),
		OrderID:       notification.OrderID,
		Type:          notification.Type,
		Recipient:     notification.Recipient,
		Subject:       notification.Subject,
		Body:          notification.Body,
		Status:        domain.NotificationPending,
		NextAttemptAt: &next,
		CreatedAt:     now,
	}
	if err := s.repo.CreateLog(ctx, log); err != nil {
		return nil, fmt.Errorf("create notification log: %w", err)
	}

	s.schedule(attemptJob{logID: log.ID, number: 1, scheduledAt: next}, delay)

	return &domain.DispatchOutcome{LogID: log.ID, Status: domain.NotificationPending, NextAttemptAt: next}, nil
}

// Recover reschedules pending notifications left behind by a previous
// process. Overdue attempts run immediately.
func (s *NotificationService) Recover(ctx context.Context, limit int) (int, error) {
	logs, err := s.repo.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}

	now := s.clock.Now()
	recovered := 0
	for _, log := range logs {
		if !s.ShouldRetry(log.Attempts) {
			s.markFailed(ctx, log, "attempts exhausted before restart")
			continue
		}
		due := now
		if log.NextAttemptAt != nil && log.NextAttemptAt.After(now) {
			due = *log.NextAttemptAt
		}
		s.schedule(attemptJob{logID: log.ID, number: log.Attempts + 1, scheduledAt: due}, due.Sub(now))
		recovered++
	}

	if recovered > 0 {
		s.logger.Info("pending notifications rescheduled", slog.Int("count", recovered))
	}
	return recovered, nil
}

// schedule must not hold mu while arming the timer: a zero delay fires
// the callback synchronously.
func (s *NotificationService) schedule(job attemptJob, delay time.Duration) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}

	timer := s.clock.AfterFunc(delay, func() { s.enqueue(job) })

	s.mu.Lock()
	if !s.closed {
		s.timers[job.logID] = timer
	}
	s.mu.Unlock()
}

func (s *NotificationService) enqueue(job attemptJob) {
	s.mu.Lock()
	delete(s.timers, job.logID)
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.sending.Add(1)
	s.mu.Unlock()

	defer s.sending.Done()
	s.queue <- job
}

func (s *NotificationService) workerLoop(ctx context.Context, id int) {
	for job := range s.queue {
		jobCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
		if err := s.attempt(jobCtx, job); err != nil {
			s.logger.Error("notification attempt not recorded",
				slog.Int("worker", id),
				slog.String("log_id", job.logID),
				slog.Any("error", err),
			)
		}
		cancel()
	}
}

// attempt delivers once and records the outcome. The log row and the
// attempt row are written together.
func (s *NotificationService) attempt(ctx context.Context, job attemptJob) error {
	log, err := s.repo.GetLog(ctx, job.logID)
	if err != nil {
		return fmt.Errorf("load notification log: %w", err)
	}
	if log.Status.Terminal() {
		return nil
	}

	attemptedAt := s.clock.Now()
	attempt := domain.NotificationAttempt{
		ID:            uuid.NewString(),
		LogID:         log.ID,
		OrderID:       log.OrderID,
		Type:          log.Type,
		AttemptNumber: job.number,
		ScheduledAt:   job.scheduledAt,
		AttemptedAt:   attemptedAt,
	}

	externalID, deliverErr := s.channel.Deliver(ctx, log.Notification(), attempt.ID)

	log.Attempts = job.number
	log.LastAttemptAt = &attemptedAt

	if deliverErr == nil {
		attempt.Status = domain.NotificationSent
		attempt.SentAt = &attemptedAt
		attempt.ExternalID = externalID
		log.Status = domain.NotificationSent
		log.SentAt = &attemptedAt
		log.ExternalID = externalID
		log.NextAttemptAt = nil
		log.LastError = ""

		if err := s.repo.RecordAttempt(ctx, attempt, *log); err != nil {
			return fmt.Errorf("record sent attempt: %w", err)
		}
		s.metrics.NotificationAttempt(string(log.Type), "sent")
		s.resetStreak()
		return nil
	}

	attempt.Error = deliverErr.Error()
	log.LastError = deliverErr.Error()
	s.metrics.NotificationAttempt(string(log.Type), "failed")

	if !s.ShouldRetry(job.number) {
		attempt.Status = domain.NotificationFailed
		log.Status = domain.NotificationFailed
		log.NextAttemptAt = nil
		if err := s.repo.RecordAttempt(ctx, attempt, *log); err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		s.reportFailure(*log)
		return nil
	}

	delay := s.CalculateRetryDelay(job.number + 1)
	next := attemptedAt.Add(delay)
	attempt.Status = domain.NotificationPending
	log.NextAttemptAt = &next
	if err := s.repo.RecordAttempt(ctx, attempt, *log); err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	s.logger.Warn("notification attempt failed, retry scheduled",
		slog.String("log_id", log.ID),
		slog.Int("attempt", job.number),
		slog.Duration("retry_in", delay),
		slog.Any("error", deliverErr),
	)
	s.schedule(attemptJob{logID: log.ID, number: job.number + 1, scheduledAt: next}, delay)
	return nil
}

func (s *NotificationService) markFailed(ctx context.Context, log domain.NotificationLog, reason string) {
	now := s.clock.Now()
	log.Status = domain.NotificationFailed
	log.NextAttemptAt = nil
	log.LastError = reason
	attempt := domain.NotificationAttempt{
		ID:            uuid.NewString(),
		LogID:         log.ID,
		OrderID:       log.OrderID,
		Type:          log.Type,
		AttemptNumber: log.Attempts,
		ScheduledAt:   now,
		AttemptedAt:   now,
		Status:        domain.NotificationFailed,
		Error:         reason,
	}
	if err := s.repo.RecordAttempt(ctx, attempt, log); err != nil {
		s.logger.Error("mark notification failed", slog.String("log_id", log.ID), slog.Any("error", err))
		return
	}
	s.reportFailure(log)
}

func (s *NotificationService) reportFailure(log domain.NotificationLog) {
	s.metrics.NotificationFailed()
	s.logger.Error("notification permanently failed",
		slog.String("log_id", log.ID),
		slog.String("order_id", log.OrderID),
		slog.String("type", string(log.Type)),
		slog.Int("attempts", log.Attempts),
		slog.String("last_error", log.LastError),
	)

	s.mu.Lock()
	s.streak++
	streak := s.streak
	alert := s.cfg.AlertThreshold > 0 && streak >= s.cfg.AlertThreshold
	if alert {
		s.streak = 0
	}
	s.mu.Unlock()

	if alert {
		s.logger.Error("ALERT: consecutive notification failures reached threshold",
			slog.Int("threshold", s.cfg.AlertThreshold),
			slog.String("channel", s.channel.Name()),
		)
	}
}

func (s *NotificationService) resetStreak() {
	s.mu.Lock()
	s.streak = 0
	s.mu.Unlock()
}
