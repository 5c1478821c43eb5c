// Package metrics holds the Prometheus instruments of the fulfillment
// pipeline. A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	OrdersCreated         prometheus.Counter
	CheckoutFailures      *prometheus.CounterVec
	StatusTransitions     *prometheus.CounterVec
	BulkItems             *prometheus.CounterVec
	NotificationAttempts  *prometheus.CounterVec
	NotificationsFailed   prometheus.Counter
	ImpersonationsStarted prometheus.Counter
	StockMovements        *prometheus.CounterVec
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrdersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_orders_created_total",
			Help: "Orders created from confirmed payments",
		}),
		CheckoutFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_checkout_failures_total",
			Help: "Checkout confirmations that did not produce an order",
		}, []string{"reason"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_status_transitions_total",
			Help: "Applied order status transitions by target status",
		}, []string{"to"}),
		BulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_bulk_items_total",
			Help: "Orders processed by bulk status updates",
		}, []string{"result"}),
		NotificationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_notification_attempts_total",
			Help: "Notification delivery attempts by type and outcome",
		}, []string{"type", "outcome"}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_notifications_failed_total",
			Help: "Notifications that exhausted every attempt",
		}),
		ImpersonationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fulfillment_impersonations_started_total",
			Help: "Admin impersonation sessions started",
		}),
		StockMovements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fulfillment_stock_movements_total",
			Help: "Inventory movements written by type",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.OrdersCreated,
		m.CheckoutFailures,
		m.StatusTransitions,
		m.BulkItems,
		m.NotificationAttempts,
		m.NotificationsFailed,
		m.ImpersonationsStarted,
		m.StockMovements,
	)
	return m
}

func (m *Metrics) OrderCreated() {
	if m != nil {
		m.OrdersCreated.Inc()
	}
}

func (m *Metrics) CheckoutFailed(reason string) {
	if m != nil {
		m.CheckoutFailures.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Transitioned(to string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) BulkItem(result string) {
	if m != nil {
		m.BulkItems.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) NotificationAttempt(notificationType, outcome string) {
	if m != nil {
		m.NotificationAttempts.WithLabelValues(notificationType, outcome).Inc()
	}
}

func (m *Metrics) NotificationFailed() {
	if m != nil {
		m.NotificationsFailed.Inc()
	}
}

func (m *Metrics) ImpersonationStarted() {
	if m != nil {
		m.ImpersonationsStarted.Inc()
	}
}

func (m *Metrics) StockMoved(movementType string) {
	if m != nil {
		m.StockMovements.WithLabelValues(movementType).Inc()
	}
}
