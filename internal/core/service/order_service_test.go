package service

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/rl1809/order-fulfillment/internal/clock"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type orderFixture struct {
	svc      *OrderService
	store    *memStore
	notifier *recordingNotifier
	audit    *memAudit
	clock    *clock.FakeClock
}

func newOrderFixture() *orderFixture {
	clk := clock.Fake(testEpoch)
	store := newMemStore()
	notifier := &recordingNotifier{}
	auditRepo := &memAudit{}
	audit := NewAuditService(auditRepo, clk, discardLogger())
	return &orderFixture{
		svc:      NewOrderService(store, notifier, audit, clk, nil, discardLogger()),
		store:    store,
		notifier: notifier,
		audit:    auditRepo,
		clock:    clk,
	}
}

func TestTransition_FullLifecycle(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusPending)
	ctx := context.Background()

	steps := []TransitionRequest{
		{OrderID: "o1", To: domain.OrderStatusProcessing, ChangedBy: "admin"},
		{OrderID: "o1", To: domain.OrderStatusShipped, ChangedBy: "admin", TrackingNumber: "TRK1", Carrier: "DHL"},
		{OrderID: "o1", To: domain.OrderStatusDelivered, ChangedBy: "admin"},
	}
	for i, step := range steps {
		order, err := f.svc.Transition(ctx, step)
		if err != nil {
			t.Fatalf("step %d (%s): %v", i, step.To, err)
		}
		if order.Status != step.To {
			t.Errorf("step %d: status = %s, want %s", i, order.Status, step.To)
		}
		if got := len(f.store.historyFor("o1")); got != i+1 {
			t.Errorf("step %d: history rows = %d, want %d", i, got, i+1)
		}
	}

	order, _ := f.store.GetOrder(ctx, "o1")
	if order.ShippedAt == nil || order.DeliveredAt == nil {
		t.Error("shipped_at and delivered_at should be stamped")
	}
	if order.TrackingNumber != "TRK1" || order.Carrier != "DHL" {
		t.Errorf("tracking = %s/%s", order.TrackingNumber, order.Carrier)
	}

	types := f.notifier.types()
	want := []domain.NotificationType{domain.NotificationOrderShipped, domain.NotificationOrderDelivered}
	if len(types) != len(want) || types[0] != want[0] || types[1] != want[1] {
		t.Errorf("notifications = %v, want %v", types, want)
	}

	for _, next := range domain.OrderStatuses() {
		_, err := f.svc.Transition(ctx, TransitionRequest{OrderID: "o1", To: next, TrackingNumber: "x", Carrier: "y"})
		if !errors.Is(err, domain.ErrIllegalTransition) {
			t.Errorf("delivered -> %s: err = %v, want ErrIllegalTransition", next, err)
		}
	}
}

func TestTransition_IllegalPairsLeaveOrderUnchanged(t *testing.T) {
	ctx := context.Background()
	for _, from := range domain.OrderStatuses() {
		for _, to := range domain.OrderStatuses() {
			if from.CanTransitionTo(to) {
				continue
			}
			f := newOrderFixture()
			f.store.seedOrder("o1", from)

			_, err := f.svc.Transition(ctx, TransitionRequest{
				OrderID: "o1", To: to, TrackingNumber: "TRK", Carrier: "UPS",
			})

			var illegal *domain.IllegalTransitionError
			if !errors.As(err, &illegal) {
				t.Fatalf("%s -> %s: err = %v, want IllegalTransitionError", from, to, err)
			}
			if illegal.From != from || illegal.To != to {
				t.Errorf("%s -> %s: error names %s -> %s", from, to, illegal.From, illegal.To)
			}
			order, _ := f.store.GetOrder(ctx, "o1")
			if order.Status != from {
				t.Errorf("%s -> %s: status changed to %s", from, to, order.Status)
			}
			if n := len(f.store.historyFor("o1")); n != 0 {
				t.Errorf("%s -> %s: %d history rows written", from, to, n)
			}
		}
	}
}

func TestTransition_ShipRequiresTrackingAndCarrier(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusProcessing)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{OrderID: "o1", To: domain.OrderStatusShipped, TrackingNumber: "TRK"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	order, _ := f.store.GetOrder(context.Background(), "o1")
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("status = %s, want processing", order.Status)
	}
}

func TestTransition_UnknownStatusIsValidationError(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusPending)

	_, err := f.svc.Transition(context.Background(), TransitionRequest{OrderID: "o1", To: "refunded"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestTransition_CancelRestocksAndKeepsLedgerConsistent(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	f.store.seedStock("p1", 10)

	order := domain.Order{
		ID:                "o1",
		OrderNumber:       "ORD-1",
		CheckoutSessionID: "s1",
		CustomerEmail:     "a@example.com",
		Status:            domain.OrderStatusPending,
		Items:             []domain.OrderItem{{ProductID: "p1", Name: "Mug", Quantity: 4}},
	}
	if _, _, err := f.store.PlaceOrder(ctx, order, ""); err != nil {
		t.Fatal(err)
	}
	if got := f.store.stockOf("p1"); got != 6 {
		t.Fatalf("stock after order = %d, want 6", got)
	}

	if _, err := f.svc.Transition(ctx, TransitionRequest{OrderID: "o1", To: domain.OrderStatusCancelled, ChangedBy: "admin"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.store.stockOf("p1"); got != 10 {
		t.Errorf("stock after cancel = %d, want 10", got)
	}

	inventory := NewInventoryService(f.store, NewAuditService(f.audit, f.clock, discardLogger()), nil, discardLogger())
	if err := inventory.VerifyConservation(ctx, "p1"); err != nil {
		t.Errorf("VerifyConservation: %v", err)
	}
	if types := f.notifier.types(); len(types) != 1 || types[0] != domain.NotificationOrderCancelled {
		t.Errorf("notifications = %v", types)
	}
}

func TestTransition_NotificationFailureDoesNotFailTransition(t *testing.T) {
	f := newOrderFixture()
	f.notifier.err = errors.New("queue closed")
	f.store.seedOrder("o1", domain.OrderStatusProcessing)

	order, err := f.svc.Transition(context.Background(), TransitionRequest{
		OrderID: "o1", To: domain.OrderStatusShipped, TrackingNumber: "T", Carrier: "C",
	})
	if err != nil {
		t.Fatalf("Transition: %v", err)
	}
	if order.Status != domain.OrderStatusShipped {
		t.Errorf("status = %s", order.Status)
	}
}

func TestBulkTransition_IsolatedPartialFailure(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusPending)
	f.store.seedOrder("o2", domain.OrderStatusDelivered)
	f.store.seedOrder("o3", domain.OrderStatusPending)
	f.store.seedOrder("o4", domain.OrderStatusCancelled)
	f.store.seedOrder("o5", domain.OrderStatusPending)

	result, err := f.svc.BulkTransition(context.Background(), "admin-1",
		[]string{"o1", "o2", "o3", "o4", "o5"}, domain.OrderStatusProcessing, "batch", domain.RequestMeta{IP: "10.0.0.1"})
	if err != nil {
		t.Fatalf("BulkTransition: %v", err)
	}
	if result.Updated != 3 || result.Failed != 2 {
		t.Errorf("updated=%d failed=%d, want 3/2", result.Updated, result.Failed)
	}
	if len(result.Errors) != 2 || result.Errors[0].OrderID != "o2" || result.Errors[1].OrderID != "o4" {
		t.Errorf("errors = %+v", result.Errors)
	}

	for _, id := range []string{"o1", "o3", "o5"} {
		order, _ := f.store.GetOrder(context.Background(), id)
		if order.Status != domain.OrderStatusProcessing {
			t.Errorf("%s status = %s", id, order.Status)
		}
	}

	actions := f.audit.actions()
	if len(actions) != 1 || actions[0] != domain.AuditBulkStatusUpdate {
		t.Errorf("audit actions = %v", actions)
	}
}

func TestBulkTransition_UnknownOrderIsItemFailure(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusPending)

	result, err := f.svc.BulkTransition(context.Background(), "admin-1",
		[]string{"missing", "o1"}, domain.OrderStatusCancelled, "", domain.RequestMeta{})
	if err != nil {
		t.Fatalf("BulkTransition: %v", err)
	}
	if result.Updated != 1 || result.Failed != 1 {
		t.Fatalf("updated=%d failed=%d", result.Updated, result.Failed)
	}
	if result.Errors[0].Error != "order not found" {
		t.Errorf("error = %q", result.Errors[0].Error)
	}
}

func TestBulkTransition_RejectsBadInput(t *testing.T) {
	f := newOrderFixture()
	tooMany := make([]string, MaxBulkOrders+1)
	for i := range tooMany {
		tooMany[i] = "o"
	}

	cases := map[string]struct {
		ids    []string
		status domain.OrderStatus
	}{
		"empty":          {nil, domain.OrderStatusProcessing},
		"too many":       {tooMany, domain.OrderStatusProcessing},
		"unknown status": {[]string{"o1"}, "archived"},
	}
	for name, tc := range cases {
		if _, err := f.svc.BulkTransition(context.Background(), "admin", tc.ids, tc.status, "", domain.RequestMeta{}); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: err = %v, want ErrValidation", name, err)
		}
	}
}

func TestUpdateTracking_StatusChangeAppendsEvent(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusProcessing)
	ctx := context.Background()

	order, err := f.svc.UpdateTracking(ctx, "admin", TrackingUpdate{
		OrderID: "o1", TrackingNumber: "1Z999", Carrier: "UPS", Status: domain.OrderStatusShipped,
	}, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("UpdateTracking: %v", err)
	}
	if order.Status != domain.OrderStatusShipped || order.TrackingNumber != "1Z999" {
		t.Errorf("order = %s %s", order.Status, order.TrackingNumber)
	}

	events, _ := f.store.ListTrackingEvents(ctx, "o1")
	if len(events) != 1 || events[0].Status != domain.OrderStatusShipped || events[0].Carrier != "UPS" {
		t.Errorf("events = %+v", events)
	}
}

func TestUpdateTracking_TrackingOnlyAppendsNoEvent(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusProcessing)
	ctx := context.Background()

	order, err := f.svc.UpdateTracking(ctx, "admin", TrackingUpdate{OrderID: "o1", TrackingNumber: "T-2"}, domain.RequestMeta{})
	if err != nil {
		t.Fatalf("UpdateTracking: %v", err)
	}
	if order.TrackingNumber != "T-2" || order.Status != domain.OrderStatusProcessing {
		t.Errorf("order = %+v", order)
	}
	if events, _ := f.store.ListTrackingEvents(ctx, "o1"); len(events) != 0 {
		t.Errorf("events = %d, want 0", len(events))
	}
}

func TestTrack_EmailMismatchLooksLikeMissingOrder(t *testing.T) {
	f := newOrderFixture()
	f.store.seedOrder("o1", domain.OrderStatusShipped)
	ctx := context.Background()

	info, err := f.svc.Track(ctx, "ORD-o1", "O1@Example.com")
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if info.Status != domain.OrderStatusShipped {
		t.Errorf("status = %s", info.Status)
	}

	_, wrongEmail := f.svc.Track(ctx, "ORD-o1", "someone@else.com")
	_, missing := f.svc.Track(ctx, "ORD-nope", "o1@example.com")
	if !errors.Is(wrongEmail, domain.ErrNotFound) || !errors.Is(missing, domain.ErrNotFound) {
		t.Fatalf("wrong email: %v, missing: %v", wrongEmail, missing)
	}
	if wrongEmail.Error() != missing.Error() {
		t.Errorf("errors differ: %q vs %q", wrongEmail, missing)
	}
}

func TestNewOrderNumber_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^ORD-\d{13}-\d{4}$`)
	for i := 0; i < 50; i++ {
		if n := NewOrderNumber(testEpoch); !pattern.MatchString(n) {
			t.Fatalf("order number %q does not match", n)
		}
	}
}
