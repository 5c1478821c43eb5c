package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

const requestIDHeader = "X-Request-ID"

type APIResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func successResponse(c *fiber.Ctx, message string, data any) error {
	return respond(c, fiber.StatusOK, message, data)
}

func createdResponse(c *fiber.Ctx, message string, data any) error {
	return respond(c, fiber.StatusCreated, message, data)
}

func respond(c *fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(APIResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

func errorResponse(c *fiber.Ctx, status int, code, message string, details map[string]any) error {
	return c.Status(status).JSON(APIResponse{
		Success: false,
		Message: message,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now(),
		RequestID: getRequestID(c),
	})
}

func badRequest(c *fiber.Ctx, message string, details map[string]any) error {
	return errorResponse(c, fiber.StatusBadRequest, "BAD_REQUEST", message, details)
}

// writeError maps a service error onto a status code and error code.
// Unknown errors become a generic 500 so store internals never leak.
func writeError(c *fiber.Ctx, err error) error {
	var (
		validationErr *domain.ValidationError
		transitionErr *domain.IllegalTransitionError
		stockErr      *domain.InsufficientStockError
	)

	switch {
	case errors.As(err, &validationErr):
		return errorResponse(c, fiber.StatusBadRequest, "VALIDATION_ERROR", validationErr.Error(),
			map[string]any{"field": validationErr.Field, "reason": validationErr.Reason})
	case errors.As(err, &transitionErr):
		return errorResponse(c, fiber.StatusConflict, "ILLEGAL_TRANSITION", transitionErr.Error(),
			map[string]any{"order_id": transitionErr.OrderID, "from": transitionErr.From, "to": transitionErr.To})
	case errors.As(err, &stockErr):
		shortages := make([]map[string]any, 0, len(stockErr.Shortages))
		for _, s := range stockErr.Shortages {
			shortages = append(shortages, map[string]any{
				"product_id": s.ProductID,
				"name":       s.Name,
				"requested":  s.Requested,
				"available":  s.Available,
			})
		}
		return errorResponse(c, fiber.StatusUnprocessableEntity, "INSUFFICIENT_STOCK", "insufficient stock",
			map[string]any{"shortages": shortages})
	case errors.Is(err, domain.ErrLockBusy), errors.Is(err, domain.ErrCartLocked), errors.Is(err, domain.ErrNotLockHolder):
		return errorResponse(c, fiber.StatusConflict, "CART_LOCKED", err.Error(), nil)
	case errors.Is(err, domain.ErrDuplicate):
		return errorResponse(c, fiber.StatusConflict, "CONFLICT", "resource already exists", nil)
	case errors.Is(err, domain.ErrSessionExpired):
		return errorResponse(c, fiber.StatusGone, "SESSION_EXPIRED", "checkout session expired", nil)
	case errors.Is(err, domain.ErrRateLimited):
		return errorResponse(c, fiber.StatusTooManyRequests, "RATE_LIMITED", err.Error(), nil)
	case errors.Is(err, domain.ErrUnauthorized):
		return errorResponse(c, fiber.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	case errors.Is(err, domain.ErrNotFound):
		return errorResponse(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, domain.ErrExternal):
		return errorResponse(c, fiber.StatusBadGateway, "UPSTREAM_UNAVAILABLE", "upstream service unavailable", nil)
	}
	return errorResponse(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
}

func getRequestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(requestIDHeader).(string); ok && id != "" {
		return id
	}
	requestID := c.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.New().String()
	}
	c.Locals(requestIDHeader, requestID)
	c.Set(requestIDHeader, requestID)
	return requestID
}
