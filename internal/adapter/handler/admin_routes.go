package handler

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
	"github.com/rl1809/order-fulfillment/internal/core/service"
)

func (h *HTTPHandler) GetOrder(c *fiber.Ctx) error {
	order, err := h.svc.Orders.GetOrder(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "order retrieved", toOrderResponse(order))
}

func (h *HTTPHandler) OrderHistory(c *fiber.Ctx) error {
	history, err := h.svc.Orders.History(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}

	resp := make([]HistoryResponse, 0, len(history))
	for _, entry := range history {
		resp = append(resp, HistoryResponse{
			FromStatus: entry.FromStatus,
			ToStatus:   entry.ToStatus,
			ChangedBy:  entry.ChangedBy,
			ChangedAt:  entry.ChangedAt,
			Automated:  entry.Automated,
			Notes:      entry.Notes,
		})
	}
	return successResponse(c, "history retrieved", resp)
}

func (h *HTTPHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	var req StatusUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	order, err := h.svc.Orders.UpdateStatus(c.UserContext(), service.TransitionRequest{
		OrderID:        c.Params("id"),
		To:             req.Status,
		ChangedBy:      actor(c).ID,
		Notes:          req.Notes,
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
	}, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "order status updated", toOrderResponse(order))
}

// BulkUpdateStatus answers 200 with per-order results even when some
// orders failed.
func (h *HTTPHandler) BulkUpdateStatus(c *fiber.Ctx) error {
	var req BulkStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	result, err := h.svc.Orders.BulkTransition(c.UserContext(), actor(c).ID, req.OrderIDs, req.Status, req.Notes, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "bulk status update processed", result)
}

func (h *HTTPHandler) UpdateTracking(c *fiber.Ctx) error {
	var req TrackingUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	order, err := h.svc.Orders.UpdateTracking(c.UserContext(), actor(c).ID, service.TrackingUpdate{
		OrderID:        c.Params("id"),
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
		Status:         req.Status,
		Description:    req.Description,
	}, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "tracking updated", toOrderResponse(order))
}

func (h *HTTPHandler) StartImpersonation(c *fiber.Ctx) error {
	var req StartImpersonationRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}
	if req.DurationMinutes < 0 {
		return badRequest(c, "duration_minutes must not be negative", nil)
	}

	ttl := time.Duration(req.DurationMinutes) * time.Minute
	grant, err := h.svc.Impersonation.Start(c.UserContext(), actor(c).ID, req.TargetUserID, ttl, req.Reason, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}

	return createdResponse(c, "impersonation started", ImpersonationResponse{
		Token:     grant.Token,
		SessionID: grant.Session.LogID,
		ExpiresAt: grant.Session.ExpiresAt,
		Impersonating: ImpersonatedUser{
			ID:    grant.Target.ID,
			Name:  grant.Target.Name,
			Email: grant.Target.Email,
		},
	})
}

func (h *HTTPHandler) StopImpersonation(c *fiber.Ctx) error {
	var req StopImpersonationRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body", nil)
		}
	}
	if req.Token == "" {
		req.Token = c.Get(impersonationHeader)
	}
	if req.Token == "" {
		return badRequest(c, "impersonation token is required", nil)
	}

	session, err := h.svc.Impersonation.End(c.UserContext(), req.Token, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "impersonation ended", fiber.Map{
		"session_id": session.LogID,
		"ended_at":   session.EndedAt,
	})
}

func (h *HTTPHandler) AuditLogs(c *fiber.Ctx) error {
	start, err := parseTimeQuery(c, "start_date")
	if err != nil {
		return h.fail(c, err)
	}
	end, err := parseTimeQuery(c, "end_date")
	if err != nil {
		return h.fail(c, err)
	}

	page, err := h.svc.Audit.Query(c.UserContext(), domain.AuditFilter{
		ActorID:      c.Query("user_id"),
		Action:       c.Query("action"),
		ResourceType: c.Query("resource_type"),
		Start:        start,
		End:          end,
		Limit:        c.QueryInt("limit", 50),
		Offset:       c.QueryInt("offset", 0),
	})
	if err != nil {
		return h.fail(c, err)
	}

	logs := make([]AuditEntryResponse, 0, len(page.Logs))
	for _, entry := range page.Logs {
		logs = append(logs, AuditEntryResponse{
			ID:           entry.ID,
			ActorID:      entry.ActorID,
			Action:       entry.Action,
			ResourceType: entry.ResourceType,
			ResourceID:   entry.ResourceID,
			OldValues:    entry.OldValues,
			NewValues:    entry.NewValues,
			IPAddress:    entry.IPAddress,
			UserAgent:    entry.UserAgent,
			CreatedAt:    entry.CreatedAt,
		})
	}
	return successResponse(c, "audit logs retrieved", AuditPageResponse{
		Logs: logs,
		Pagination: Pagination{
			Limit:   page.Limit,
			Offset:  page.Offset,
			Total:   page.Total,
			HasMore: page.HasMore,
		},
	})
}

func (h *HTTPHandler) StockLevels(c *fiber.Ctx) error {
	levels, err := h.svc.Inventory.StockLevels(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "stock levels retrieved", inventoryResponses(levels))
}

func (h *HTTPHandler) LowStock(c *fiber.Ctx) error {
	levels, err := h.svc.Inventory.LowStock(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "low stock retrieved", inventoryResponses(levels))
}

func (h *HTTPHandler) Movements(c *fiber.Ctx) error {
	filter, err := movementFilter(c)
	if err != nil {
		return h.fail(c, err)
	}

	movements, err := h.svc.Inventory.ListMovements(c.UserContext(), c.Params("productId"), filter)
	if err != nil {
		return h.fail(c, err)
	}

	resp := make([]MovementResponse, 0, len(movements))
	for _, m := range movements {
		resp = append(resp, toMovementResponse(m))
	}
	return successResponse(c, "movements retrieved", resp)
}

func (h *HTTPHandler) MovementSummary(c *fiber.Ctx) error {
	filter, err := movementFilter(c)
	if err != nil {
		return h.fail(c, err)
	}

	summary, err := h.svc.Inventory.Summary(c.UserContext(), c.Params("productId"), filter)
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "summary retrieved", MovementSummaryResponse{
		ProductID:   summary.ProductID,
		TotalIn:     summary.TotalIn,
		TotalOut:    summary.TotalOut,
		Adjustments: summary.Adjustments,
		Movements:   summary.Movements,
	})
}

// VerifyConservation reports a diverged ledger as data rather than as
// a failed request.
func (h *HTTPHandler) VerifyConservation(c *fiber.Ctx) error {
	productID := c.Params("productId")
	resp := ConservationResponse{ProductID: productID, Consistent: true}

	if err := h.svc.Inventory.VerifyConservation(c.UserContext(), productID); err != nil {
		if !isDivergence(err) {
			return h.fail(c, err)
		}
		resp.Consistent = false
		resp.Detail = err.Error()
	}
	return successResponse(c, "ledger verified", resp)
}

func (h *HTTPHandler) Restock(c *fiber.Ctx) error {
	var req StockChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	movement, err := h.svc.Inventory.Restock(c.UserContext(), actor(c).ID, c.Params("productId"), req.Quantity, req.Reason, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "stock replenished", toMovementResponse(*movement))
}

func (h *HTTPHandler) Adjust(c *fiber.Ctx) error {
	var req StockChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body", nil)
	}

	movement, err := h.svc.Inventory.Adjust(c.UserContext(), actor(c).ID, c.Params("productId"), req.Quantity, req.Reason, requestMeta(c))
	if err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "stock adjusted", toMovementResponse(*movement))
}

func (h *HTTPHandler) ForceReleaseLock(c *fiber.Ctx) error {
	if err := h.svc.Locks.ForceRelease(c.UserContext(), actor(c).ID, c.Params("id"), requestMeta(c)); err != nil {
		return h.fail(c, err)
	}
	return successResponse(c, "cart lock released", nil)
}

func inventoryResponses(levels []domain.InventoryLevel) []InventoryLevelResponse {
	resp := make([]InventoryLevelResponse, 0, len(levels))
	for _, l := range levels {
		resp = append(resp, toInventoryResponse(l))
	}
	return resp
}

func movementFilter(c *fiber.Ctx) (domain.MovementFilter, error) {
	from, err := parseTimeQuery(c, "from")
	if err != nil {
		return domain.MovementFilter{}, err
	}
	to, err := parseTimeQuery(c, "to")
	if err != nil {
		return domain.MovementFilter{}, err
	}
	return domain.MovementFilter{
		Type:   domain.MovementType(c.Query("type")),
		From:   from,
		To:     to,
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}, nil
}

func isDivergence(err error) bool {
	return errors.Is(err, service.ErrLedgerDiverged)
}
