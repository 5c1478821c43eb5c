package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const notificationLogColumns = `id, order_id, type, recipient, subject, body, status, attempts,
	next_attempt_at, last_attempt_at, sent_at, external_id, last_error, created_at`

func scanNotificationLog(row interface{ Scan(...any) error }) (*domain.NotificationLog, error) {
	var (
		l                  domain.NotificationLog
		next, last, sentAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.OrderID, &l.Type, &l.Recipient, &l.Subject, &l.Body, &l.Status,
		&l.Attempts, &next, &last, &sentAt, &l.ExternalID, &l.LastError, &l.CreatedAt); err != nil {
		return nil, err
	}
	l.NextAttemptAt = timePtr(next)
	l.LastAttemptAt = timePtr(last)
	l.SentAt = timePtr(sentAt)
	l.CreatedAt = utc(l.CreatedAt)
	return &l, nil
}

func (s *SQLStore) CreateLog(ctx context.Context, l domain.NotificationLog) error {
	_, err := s.exec(ctx, s.db, `
		INSERT INTO email_logs (`+notificationLogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.OrderID, string(l.Type), l.Recipient, l.Subject, l.Body, string(l.Status),
		l.Attempts, nullTime(l.NextAttemptAt), nullTime(l.LastAttemptAt), nullTime(l.SentAt),
		l.ExternalID, l.LastError, utc(l.CreatedAt),
	)
	if err != nil {
		return persistErr("create notification log", err)
	}
	return nil
}

func (s *SQLStore) GetLog(ctx context.Context, logID string) (*domain.NotificationLog, error) {
	l, err := scanNotificationLog(s.queryRow(ctx, s.db,
		`SELECT `+notificationLogColumns+` FROM email_logs WHERE id = ?`, logID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("notification log", logID)
	}
	if err != nil {
		return nil, persistErr("get notification log", err)
	}
	return l, nil
}

func (s *SQLStore) RecordAttempt(ctx context.Context, a domain.NotificationAttempt, l domain.NotificationLog) error {
	return s.inTx(ctx, "record notification attempt", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `
			INSERT INTO notification_attempts
				(id, log_id, order_id, type, attempt_number, scheduled_at, attempted_at,
				 sent_at, status, external_id, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.LogID, a.OrderID, string(a.Type), a.AttemptNumber, utc(a.ScheduledAt),
			utc(a.AttemptedAt), nullTime(a.SentAt), string(a.Status), a.ExternalID, a.Error,
		); err != nil {
			return persistErr("insert notification attempt", err)
		}

		result, err := s.exec(ctx, tx, `
			UPDATE email_logs
			SET status = ?, attempts = ?, next_attempt_at = ?, last_attempt_at = ?, sent_at = ?,
				external_id = ?, last_error = ?
			WHERE id = ?`,
			string(l.Status), l.Attempts, nullTime(l.NextAttemptAt), nullTime(l.LastAttemptAt),
			nullTime(l.SentAt), l.ExternalID, l.LastError, l.ID,
		)
		if err != nil {
			return persistErr("update notification log", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return notFound("notification log", l.ID)
		}
		return nil
	})
}

func (s *SQLStore) ListAttempts(ctx context.Context, logID string) ([]domain.NotificationAttempt, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, log_id, order_id, type, attempt_number, scheduled_at, attempted_at,
			sent_at, status, external_id, error
		FROM notification_attempts WHERE log_id = ? ORDER BY seq ASC`, logID)
	if err != nil {
		return nil, persistErr("list notification attempts", err)
	}
	defer rows.Close()

	var attempts []domain.NotificationAttempt
	for rows.Next() {
		var (
			a      domain.NotificationAttempt
			sentAt sql.NullTime
		)
		if err := rows.Scan(&a.ID, &a.LogID, &a.OrderID, &a.Type, &a.AttemptNumber, &a.ScheduledAt,
			&a.AttemptedAt, &sentAt, &a.Status, &a.ExternalID, &a.Error); err != nil {
			return nil, persistErr("list notification attempts", err)
		}
		a.ScheduledAt = utc(a.ScheduledAt)
		a.AttemptedAt = utc(a.AttemptedAt)
		a.SentAt = timePtr(sentAt)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list notification attempts", err)
	}
	return attempts, nil
}

func (s *SQLStore) ListPending(ctx context.Context, limit int) ([]domain.NotificationLog, error) {
	query, args := paginate(
		`SELECT `+notificationLogColumns+` FROM email_logs WHERE status = ? ORDER BY created_at, id`,
		[]any{string(domain.NotificationPending)}, limit, 0)
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, persistErr("list pending notifications", err)
	}
	defer rows.Close()

	var logs []domain.NotificationLog
	for rows.Next() {
		l, err := scanNotificationLog(rows)
		if err != nil {
			return nil, persistErr("list pending notifications", err)
		}
		logs = append(logs, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list pending notifications", err)
	}
	return logs, nil
}

func (s *SQLStore) AppendAudit(ctx context.Context, e domain.AuditLogEntry) error {
	oldValues, err := encodeValues(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := encodeValues(e.NewValues)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, s.db, `
		INSERT INTO audit_logs
			(id, actor_id, action, resource_type, resource_id, old_values, new_values,
			 ip_address, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, e.Action, e.ResourceType, e.ResourceID, oldValues, newValues,
		e.IPAddress, e.UserAgent, utc(e.CreatedAt),
	)
	if err != nil {
		return persistErr("append audit", err)
	}
	return nil
}

func (s *SQLStore) QueryAudit(ctx context.Context, f domain.AuditFilter) ([]domain.AuditLogEntry, int, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, f.Action)
	}
	if f.ResourceType != "" {
		where = append(where, "resource_type = ?")
		args = append(args, f.ResourceType)
	}
	if f.Start != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Start.UTC())
	}
	if f.End != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.End.UTC())
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.queryRow(ctx, s.db, `SELECT COUNT(*) FROM audit_logs`+clause, args...).Scan(&total); err != nil {
		return nil, 0, persistErr("count audit", err)
	}

	query, pageArgs := paginate(`
		SELECT id, actor_id, action, resource_type, resource_id, old_values, new_values,
			ip_address, user_agent, created_at
		FROM audit_logs`+clause+` ORDER BY created_at DESC, seq DESC`,
		append([]any(nil), args...), f.Limit, f.Offset)
	rows, err := s.query(ctx, s.db, query, pageArgs...)
	if err != nil {
		return nil, 0, persistErr("query audit", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			e                  domain.AuditLogEntry
			oldValues, newVals string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&oldValues, &newVals, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, 0, persistErr("query audit", err)
		}
		if e.OldValues, err = decodeValues(oldValues); err != nil {
			return nil, 0, persistErr("decode audit values", err)
		}
		if e.NewValues, err = decodeValues(newVals); err != nil {
			return nil, 0, persistErr("decode audit values", err)
		}
		e.CreatedAt = utc(e.CreatedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, persistErr("query audit", err)
	}
	return entries, total, nil
}

func encodeValues(values map[string]any) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeValues(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var values map[string]any
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, err
	}
	return values, nil
}

func (s *SQLStore) StartSession(ctx context.Context, sess domain.ImpersonationSession) error {
	return s.inTx(ctx, "start impersonation", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, `
			UPDATE user_impersonation_logs SET ended_at = ?
			WHERE admin_id = ? AND target_user_id = ? AND ended_at IS NULL`,
			utc(sess.StartedAt), sess.AdminID, sess.TargetUserID,
		); err != nil {
			return persistErr("end previous impersonation", err)
		}
		if _, err := s.exec(ctx, tx, `
			INSERT INTO user_impersonation_logs
				(id, admin_id, target_user_id, token_id, reason, ip_address, user_agent,
				 started_at, expires_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.LogID, sess.AdminID, sess.TargetUserID, sess.TokenID, sess.Reason, sess.IPAddress,
			sess.UserAgent, utc(sess.StartedAt), utc(sess.ExpiresAt), nullTime(sess.EndedAt),
		); err != nil {
			return persistErr("insert impersonation", err)
		}
		return nil
	})
}

func (s *SQLStore) GetSession(ctx context.Context, logID string) (*domain.ImpersonationSession, error) {
	var (
		sess  domain.ImpersonationSession
		ended sql.NullTime
	)
	err := s.queryRow(ctx, s.db, `
		SELECT id, admin_id, target_user_id, token_id, reason, ip_address, user_agent,
			started_at, expires_at, ended_at
		FROM user_impersonation_logs WHERE id = ?`, logID,
	).Scan(&sess.LogID, &sess.AdminID, &sess.TargetUserID, &sess.TokenID, &sess.Reason,
		&sess.IPAddress, &sess.UserAgent, &sess.StartedAt, &sess.ExpiresAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("impersonation session", logID)
	}
	if err != nil {
		return nil, persistErr("get impersonation", err)
	}
	sess.StartedAt = utc(sess.StartedAt)
	sess.ExpiresAt = utc(sess.ExpiresAt)
	sess.EndedAt = timePtr(ended)
	return &sess, nil
}

func (s *SQLStore) EndSession(ctx context.Context, logID, adminID string, at time.Time) (*domain.ImpersonationSession, error) {
	result, err := s.exec(ctx, s.db, `
		UPDATE user_impersonation_logs SET ended_at = ?
		WHERE id = ? AND admin_id = ? AND ended_at IS NULL`,
		utc(at), logID, adminID,
	)
	if err != nil {
		return nil, persistErr("end impersonation", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, notFound("active impersonation session", logID)
	}
	return s.GetSession(ctx, logID)
}

func (s *SQLStore) CountSessionsSince(ctx context.Context, adminID string, since time.Time) (int, error) {
	var count int
	err := s.queryRow(ctx, s.db,
		`SELECT COUNT(*) FROM user_impersonation_logs WHERE admin_id = ? AND started_at >= ?`,
		adminID, utc(since),
	).Scan(&count)
	if err != nil {
		return 0, persistErr("count impersonations", err)
	}
	return count, nil
}
