package service

import (
	"fmt"
	"strings"

	"github.com/rl1809/order-fulfillment/internal/core/domain"
)

// ComposeNotification renders the customer message for an order event.
func ComposeNotification(order domain.Order, notificationType domain.NotificationType) domain.Notification {
	var subject string
	var body strings.Builder

	name := strings.TrimSpace(order.ShippingAddress.FirstName)
	if name == "" {
		name = "customer"
	}
	fmt.Fprintf(&body, "Hello %s,\n\n", name)

	switch notificationType {
	case domain.NotificationOrderConfirmation:
		subject = fmt.Sprintf("Order confirmation %s", order.OrderNumber)
		fmt.Fprintf(&body, "Thank you for your order %s.\n\n", order.OrderNumber)
		for _, item := range order.Items {
			fmt.Fprintf(&body, "  %d x %s (%s)  %s\n", item.Quantity, item.Name, item.SKU, item.Total.StringFixed(2))
		}
		fmt.Fprintf(&body, "\nSubtotal: %s\nShipping: %s\nTax: %s\nTotal: %s %s\n",
			order.Subtotal.StringFixed(2), order.ShippingCost.StringFixed(2),
			order.Tax.StringFixed(2), order.Total.StringFixed(2), order.Currency)
	case domain.NotificationOrderShipped:
		subject = fmt.Sprintf("Your order %s has shipped", order.OrderNumber)
		fmt.Fprintf(&body, "Your order %s is on its way.\n", order.OrderNumber)
		if order.TrackingNumber != "" {
			fmt.Fprintf(&body, "Carrier: %s\nTracking number: %s\n", order.Carrier, order.TrackingNumber)
		}
	case domain.NotificationOrderDelivered:
		subject = fmt.Sprintf("Your order %s has been delivered", order.OrderNumber)
		fmt.Fprintf(&body, "Your order %s has been delivered. We hope you enjoy it.\n", order.OrderNumber)
	case domain.NotificationOrderCancelled:
		subject = fmt.Sprintf("Your order %s has been cancelled", order.OrderNumber)
		fmt.Fprintf(&body, "Your order %s has been cancelled. Any payment will be refunded.\n", order.OrderNumber)
	default:
		subject = fmt.Sprintf("Update on order %s", order.OrderNumber)
		fmt.Fprintf(&body, "Your order %s is now %s.\n", order.OrderNumber, order.Status)
	}

	return domain.Notification{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Type:        notificationType,
		Recipient:   order.CustomerEmail,
		Subject:     subject,
		Body:        body.String(),
	}
}
