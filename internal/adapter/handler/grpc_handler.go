package handler

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/order-fulfillment/internal/codec"
	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const confirmPaymentMethod = "/fulfillment.PaymentEvents/ConfirmPayment"

// PaymentConfirmedMessage is the CBOR body the payment provider sends.
type PaymentConfirmedMessage struct {
	SessionID       string `cbor:"session_id"`
	PaymentIntentID string `cbor:"payment_intent_id"`
	PaymentMethod   string `cbor:"payment_method"`
}

type ConfirmPaymentReply struct {
	Success     bool   `cbor:"success"`
	Message     string `cbor:"message"`
	OrderID     string `cbor:"order_id,omitempty"`
	OrderNumber string `cbor:"order_number,omitempty"`
	Status      string `cbor:"status,omitempty"`
	Total       string `cbor:"total,omitempty"`
}

type PaymentEventsServer interface {
	ConfirmPayment(ctx context.Context, req *PaymentConfirmedMessage) (*ConfirmPaymentReply, error)
}

// PaymentEventsServiceDesc describes the payment-event service. Messages
// travel with the "cbor" content-subtype.
var PaymentEventsServiceDesc = grpc.ServiceDesc{
	ServiceName: "fulfillment.PaymentEvents",
	HandlerType: (*PaymentEventsServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ConfirmPayment",
			Handler:    confirmPaymentHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fulfillment/payment_events",
}

func confirmPaymentHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PaymentConfirmedMessage)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PaymentEventsServer).ConfirmPayment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: confirmPaymentMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PaymentEventsServer).ConfirmPayment(ctx, req.(*PaymentConfirmedMessage))
	}
	return interceptor(ctx, in, info, handler)
}

type GRPCHandler struct {
	checkout PaymentConfirmer
	logger   *slog.Logger
}

func NewGRPCHandler(checkout PaymentConfirmer, logger *slog.Logger) *GRPCHandler {
	return &GRPCHandler{checkout: checkout, logger: logger}
}

func (h *GRPCHandler) Register(server *grpc.Server) {
	server.RegisterService(&PaymentEventsServiceDesc, h)
}

// ConfirmPayment answers final business outcomes in the reply and
// returns a gRPC status only for failures the provider should retry or
// for malformed requests.
func (h *GRPCHandler) ConfirmPayment(ctx context.Context, req *PaymentConfirmedMessage) (*ConfirmPaymentReply, error) {
	order, err := h.checkout.ConfirmPayment(ctx, domain.PaymentConfirmed{
		SessionID:       req.SessionID,
		PaymentIntentID: req.PaymentIntentID,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			return nil, status.Error(codes.InvalidArgument, err.Error())
		case errors.Is(err, domain.ErrInsufficientStock):
			return &ConfirmPaymentReply{Success: false, Message: "insufficient stock"}, nil
		case errors.Is(err, domain.ErrSessionExpired):
			return &ConfirmPaymentReply{Success: false, Message: "checkout session expired"}, nil
		case errors.Is(err, domain.ErrNotFound):
			return &ConfirmPaymentReply{Success: false, Message: "checkout session not found"}, nil
		}
		h.logger.Error("confirm payment", slog.String("session_id", req.SessionID), slog.Any("error", err))
		return nil, status.Error(codes.Unavailable, "order placement failed, retry later")
	}

	return &ConfirmPaymentReply{
		Success:     true,
		Message:     "order placed successfully",
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Total:       order.Total.StringFixed(2),
	}, nil
}

// PaymentEventsClient calls the payment-event service over CBOR.
type PaymentEventsClient struct {
	cc grpc.ClientConnInterface
}

func NewPaymentEventsClient(cc grpc.ClientConnInterface) *PaymentEventsClient {
	return &PaymentEventsClient{cc: cc}
}

func (c *PaymentEventsClient) ConfirmPayment(ctx context.Context, req *PaymentConfirmedMessage, opts ...grpc.CallOption) (*ConfirmPaymentReply, error) {
	out := new(ConfirmPaymentReply)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codec.GRPCName)}, opts...)
	if err := c.cc.Invoke(ctx, confirmPaymentMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
