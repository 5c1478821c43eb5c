package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

type confirmFunc func(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error)

func (f confirmFunc) ConfirmPayment(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error) {
	return f(ctx, evt)
}

func dialPaymentEvents(t *testing.T, confirmer PaymentConfirmer) *PaymentEventsClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.UnaryInterceptor(PaymentSecretInterceptor(paymentSecret)))
	NewGRPCHandler(confirmer, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(server)
	go server.Serve(lis)
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return NewPaymentEventsClient(conn)
}

func authorized() context.Context {
	return WithPaymentSecret(context.Background(), string(paymentSecret))
}

func TestGRPCConfirmPayment_Success(t *testing.T) {
	var received domain.PaymentConfirmed
	client := dialPaymentEvents(t, confirmFunc(func(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error) {
		received = evt
		return &domain.Order{
			ID:          "order-1",
			OrderNumber: "ORD-1700000000000-0042",
			Status:      domain.OrderStatusPending,
			Total:       decimal.RequireFromString("30.99"),
		}, nil
	}))

	reply, err := client.ConfirmPayment(authorized(), &PaymentConfirmedMessage{
		SessionID:       "sess-1",
		PaymentIntentID: "pi_123",
		PaymentMethod:   "credit_card",
	})
	require.NoError(t, err)

	assert.True(t, reply.Success)
	assert.Equal(t, "order-1", reply.OrderID)
	assert.Equal(t, "ORD-1700000000000-0042", reply.OrderNumber)
	assert.Equal(t, "30.99", reply.Total)
	assert.Equal(t, "sess-1", received.SessionID)
	assert.Equal(t, "pi_123", received.PaymentIntentID)
}

func TestGRPCConfirmPayment_BusinessOutcomes(t *testing.T) {
	client := dialPaymentEvents(t, confirmFunc(func(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error) {
		return nil, &domain.InsufficientStockError{Shortages: []domain.Shortage{{ProductID: "p1", Requested: 2, Available: 0}}}
	}))

	reply, err := client.ConfirmPayment(authorized(), &PaymentConfirmedMessage{SessionID: "sess-1"})
	require.NoError(t, err)
	assert.False(t, reply.Success)
	assert.Equal(t, "insufficient stock", reply.Message)
}

func TestGRPCConfirmPayment_StatusCodes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code codes.Code
	}{
		{"validation", domain.NewValidationError("session_id", "is required"), codes.InvalidArgument},
		{"persistence", &domain.PersistenceError{Op: "place order", Err: errors.New("deadlock")}, codes.Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := dialPaymentEvents(t, confirmFunc(func(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error) {
				return nil, tt.err
			}))

			_, err := client.ConfirmPayment(authorized(), &PaymentConfirmedMessage{SessionID: "sess-1"})
			require.Error(t, err)
			assert.Equal(t, tt.code, status.Code(err))
		})
	}
}

func TestGRPCConfirmPayment_RequiresSharedSecret(t *testing.T) {
	var calls int
	client := dialPaymentEvents(t, confirmFunc(func(ctx context.Context, evt domain.PaymentConfirmed) (*domain.Order, error) {
		calls++
		return &domain.Order{ID: "order-1"}, nil
	}))

	contexts := map[string]context.Context{
		"missing": context.Background(),
		"wrong":   WithPaymentSecret(context.Background(), "guessed"),
	}
	for name, ctx := range contexts {
		t.Run(name, func(t *testing.T) {
			_, err := client.ConfirmPayment(ctx, &PaymentConfirmedMessage{SessionID: "sess-1", PaymentIntentID: "pi_forged"})
			require.Error(t, err)
			assert.Equal(t, codes.Unauthenticated, status.Code(err))
		})
	}
	assert.Zero(t, calls)
}
