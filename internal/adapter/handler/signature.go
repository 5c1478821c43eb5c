package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	// paymentSignatureHeader carries the hex HMAC-SHA256 of the raw
	// request body, optionally prefixed with "sha256=".
	paymentSignatureHeader = "X-Payment-Signature"

	// paymentSecretMetadata is the gRPC metadata key holding the shared
	// secret of the payment provider.
	paymentSecretMetadata = "x-payment-secret"
)

// verifyPaymentSignature checks an HMAC-SHA256 signature over body. An
// empty secret rejects everything.
func verifyPaymentSignature(secret, body []byte, signature string) error {
	if len(secret) == 0 {
		return errors.New("payment signature: no webhook secret configured")
	}
	if len(body) == 0 {
		return errors.New("payment signature: body is empty")
	}
	if signature == "" {
		return errors.New("payment signature: missing")
	}

	got, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return fmt.Errorf("payment signature: invalid hex: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return errors.New("payment signature: mismatch")
	}
	return nil
}

// SignPayment returns the signature header value for body.
func SignPayment(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// requirePaymentSignature rejects payment callbacks that are not signed
// with the configured webhook secret.
func (h *HTTPHandler) requirePaymentSignature(c *fiber.Ctx) error {
	if err := verifyPaymentSignature(h.svc.PaymentSecret, c.Body(), c.Get(paymentSignatureHeader)); err != nil {
		h.logger.Warn("payment callback rejected",
			slog.String("request_id", getRequestID(c)),
			slog.String("ip", c.IP()),
			slog.Any("error", err),
		)
		return errorResponse(c, fiber.StatusUnauthorized, "INVALID_SIGNATURE", "payment signature verification failed", nil)
	}
	return c.Next()
}

// PaymentSecretInterceptor guards the payment-event service with a
// shared secret sent in the x-payment-secret metadata. Other services on
// the same server pass through.
func PaymentSecretInterceptor(secret []byte) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, "/"+PaymentEventsServiceDesc.ServiceName+"/") {
			return handler(ctx, req)
		}
		if len(secret) == 0 {
			return nil, status.Error(codes.Unauthenticated, "payment events are disabled")
		}
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get(paymentSecretMetadata)
		if len(values) == 0 || subtle.ConstantTimeCompare([]byte(values[0]), secret) != 1 {
			return nil, status.Error(codes.Unauthenticated, "invalid payment secret")
		}
		return handler(ctx, req)
	}
}

// WithPaymentSecret attaches the shared secret to an outgoing
// payment-event call.
func WithPaymentSecret(ctx context.Context, secret string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, paymentSecretMetadata, secret)
}
