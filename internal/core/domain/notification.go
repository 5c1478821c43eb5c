package domain

import "time"

type NotificationType string

const (
	NotificationOrderConfirmation NotificationType = "order_confirmation"
	NotificationOrderShipped      NotificationType = "order_shipped"
	NotificationOrderDelivered    NotificationType = "order_delivered"
	NotificationOrderCancelled    NotificationType = "order_cancelled"
)

// StatusNotificationType maps a customer-visible status to its message type.
func StatusNotificationType(status OrderStatus) (NotificationType, bool) {
	switch status {
	case OrderStatusShipped:
		return NotificationOrderShipped, true
	case OrderStatusDelivered:
		return NotificationOrderDelivered, true
	case OrderStatusCancelled:
		return NotificationOrderCancelled, true
	}
	return "", false
}

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

func (s NotificationStatus) Terminal() bool {
	return s == NotificationSent || s == NotificationFailed
}

// Notification is one logical transactional message.
type Notification struct {
	OrderID     string
	OrderNumber string
	Type        NotificationType
	Recipient   string
	Subject     string
	Body        string
}

// NotificationLog tracks one logical notification across its attempts.
type NotificationLog struct {
	ID            string
	OrderID       string
	Type          NotificationType
	Recipient     string
	Subject       string
	Body          string
	Status        NotificationStatus
	Attempts      int
	NextAttemptAt *time.Time
	LastAttemptAt *time.Time
	SentAt        *time.Time
	ExternalID    string
	LastError     string
	CreatedAt     time.Time
}

func (l *NotificationLog) Notification() Notification {
	return Notification{
		OrderID:   l.OrderID,
		Type:      l.Type,
		Recipient: l.Recipient,
		Subject:   l.Subject,
		Body:      l.Body,
	}
}

// NotificationAttempt is one delivery try, successful or not.
type NotificationAttempt struct {
	ID            string
	LogID         string
	OrderID       string
	Type          NotificationType
	AttemptNumber int
	ScheduledAt   time.Time
	AttemptedAt   time.Time
	SentAt        *time.Time
	Status        NotificationStatus
	ExternalID    string
	Error         string
}

// DispatchOutcome is returned to callers of Send. Delivery itself
// happens later.
type DispatchOutcome struct {
	LogID         string
	Status        NotificationStatus
	NextAttemptAt time.Time
}
