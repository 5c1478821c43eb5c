package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/core/service"
)

func (h *HTTPHandler) CreateCart(c *fiber.Ctx) error {
	var req CreateCartRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body", nil)
		}
	}

	userID, err := h.actingUserID(c)
	if err != nil {
		return h.fail(c, err)
	}

	cart, err := h.svc.Carts.CreateCart(c.UserContext(), userID, req.SessionID)
	if err != nil {
		return h.fail(c, err)
	}
	return createdResponse(c, "cart created", cart)
}

func (h *HTTPHandler) GetCart(c *fiber.Ctx) error {
	cart, err := h.svc.Carts.GetCart(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "cart retrieved", cart)
}

func (h *HTTPHandler) AddCartItem(c *fiber.Ctx) error {
	var req CartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	cart, err := h.svc.Carts.AddItem(c.UserContext(), c.Params("id"), c.Get(checkoutLockHeader), req.ProductID, req.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "item added", cart)
}

func (h *HTTPHandler) UpdateCartItem(c *fiber.Ctx) error {
	var req CartItemRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	cart, err := h.svc.Carts.UpdateQuantity(c.UserContext(), c.Params("id"), c.Get(checkoutLockHeader),
		c.Params("productId"), req.Quantity)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "item updated", cart)
}

func (h *HTTPHandler) RemoveCartItem(c *fiber.Ctx) error {
	cart, err := h.svc.Carts.RemoveItem(c.UserContext(), c.Params("id"), c.Get(checkoutLockHeader), c.Params("productId"))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "item removed", cart)
}

func (h *HTTPHandler) ClearCart(c *fiber.Ctx) error {
	if err := h.svc.Carts.Clear(c.UserContext(), c.Params("id"), c.Get(checkoutLockHeader)); err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "cart cleared", nil)
}

// StartCheckout answers 201 even when some sub-fetches failed; those
// are listed as warnings next to the usable session.
func (h *HTTPHandler) StartCheckout(c *fiber.Ctx) error {
	var req StartCheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	userID, err := h.actingUserID(c)
	if err != nil {
		return h.fail(c, err)
	}

	assembled, err := h.svc.Checkout.Start(c.UserContext(), service.StartCheckoutRequest{
		CartID: req.CartID,
		UserID: userID,
		Email:  req.Email,
	})
	warnings, err := splitInitErrors(err)
	if err != nil {
		return h.fail(c, err)
	}
	return createdResponse(c, "checkout started", toCheckoutResponse(assembled, warnings))
}

func (h *HTTPHandler) GetCheckout(c *fiber.Ctx) error {
	assembled, err := h.svc.Checkout.InitializeCheckout(c.UserContext(), c.Params("id"))
	warnings, err := splitInitErrors(err)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "checkout retrieved", toCheckoutResponse(assembled, warnings))
}

func (h *HTTPHandler) SetShipping(c *fiber.Ctx) error {
	var req ShippingRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	info := domain.ShippingInfo{
		Address:        req.Address,
		BillingAddress: req.BillingAddress,
		GuestEmail:     req.GuestEmail,
		Notes:          req.Notes,
	}
	if req.MethodID != "" {
		info.Method = &domain.ShippingMethod{ID: req.MethodID}
	}

	session, options, err := h.svc.Checkout.SetShipping(c.UserContext(), c.Params("id"), info)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "shipping saved", ShippingResponse{Session: session, ShippingOptions: options})
}

func (h *HTTPHandler) SetPaymentMethod(c *fiber.Ctx) error {
	var req PaymentMethodRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	session, err := h.svc.Checkout.SetPaymentMethod(c.UserContext(), c.Params("id"), domain.PaymentMethodRef{
		ID:    req.ID,
		Type:  req.Type,
		Last4: req.Last4,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "payment method saved", session)
}

func (h *HTTPHandler) AdvanceCheckout(c *fiber.Ctx) error {
	session, err := h.svc.Checkout.Advance(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "checkout advanced", session)
}

func (h *HTTPHandler) PreviousCheckoutStep(c *fiber.Ctx) error {
	session, err := h.svc.Checkout.GoToPreviousStep(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "checkout moved back", session)
}

func (h *HTTPHandler) AbandonCheckout(c *fiber.Ctx) error {
	if err := h.svc.Checkout.Abandon(c.UserContext(), c.Params("id")); err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "checkout abandoned", nil)
}

// PaymentConfirmed receives the payment provider's signed confirmation.
// A redelivered confirmation answers with the order the first one
// created.
func (h *HTTPHandler) PaymentConfirmed(c *fiber.Ctx) error {
	var req PaymentConfirmedRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	order, err := h.svc.Checkout.ConfirmPayment(c.UserContext(), domain.PaymentConfirmed{
		SessionID:       req.SessionID,
		PaymentIntentID: req.PaymentIntentID,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "order placed", toOrderResponse(order))
}

func (h *HTTPHandler) TrackOrder(c *fiber.Ctx) error {
	orderNumber := c.Query("order_number")
	email := c.Query("email")
	if orderNumber == "" || email == "" {
		return badRequest(c, "order_number and email are required", nil)
	}

	info, err := h.svc.Orders.Track(c.UserContext(), orderNumber, email)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "tracking retrieved", toTrackingResponse(info))
}

func splitInitErrors(err error) ([]string, error) {
	var initErr *service.InitializationError
	if !errors.As(err, &initErr) {
		return nil, err
	}
	warnings := make([]string, 0, len(initErr.Errors))
	for _, e := range initErr.Errors {
		warnings = append(warnings, e.Error())
	}
	return warnings, nil
}

func toCheckoutResponse(assembled *domain.CheckoutInit, warnings []string) CheckoutResponse {
	return CheckoutResponse{
		Session:         assembled.Session,
		SavedAddresses:  assembled.SavedAddresses,
		PaymentMethods:  assembled.PaymentMethods,
		ShippingOptions: assembled.ShippingOptions,
		RestoredDraft:   assembled.RestoredDraft,
		Warnings:        warnings,
	}
}
