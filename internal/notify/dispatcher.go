// Package notify fans out customer and seller notifications after
// settlement and escrow transitions commit. Every send is best-effort: a
// failed notification is logged and counted, never escalated, because the
// financial state it announces is already durable.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"vendora/settlement-service/internal/contracts"
	"vendora/settlement-service/internal/metrics"
)

type Dispatcher struct {
	loader  OrderLoader
	sender  Sender
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewDispatcher(loader OrderLoader, sender Sender, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		loader:  loader,
		sender:  sender,
		metrics: m,
		logger:  logger,
	}
}

// DispatchPaymentConfirmed sends one customer confirmation plus one
// notification per participating seller. Each send is attempted
// independently; one seller's failure blocks nobody else. Returns the
// number of successful sends.
func (d *Dispatcher) DispatchPaymentConfirmed(ctx context.Context, evt contracts.PaymentConfirmedEvent) int {
	po, err := d.loader.LoadPaidOrder(ctx, evt.OrderID)
	if err != nil {
		d.logger.Error("load paid order for notification", "order_id", evt.OrderID, "err", err)
		return 0
	}

	sent := 0

	subject := "Your order is confirmed"
	text := fmt.Sprintf("Payment of %s for order %s was received. Your sellers are preparing your items.",
		formatAmount(po.Amount, ""), po.OrderID)
	html := fmt.Sprintf("<p>Payment of <strong>%s</strong> for order %s was received.</p><p>Your sellers are preparing your items.</p>",
		formatAmount(po.Amount, ""), po.OrderID)
	if d.send(ctx, po.CustomerEmail, subject, html, text) {
		sent++
	}

	for _, seller := range po.Sellers {
		if seller.Email == "" {
			d.logger.Warn("seller has no contact email, skipping notification",
				"order_id", po.OrderID, "store_id", seller.StoreID)
			continue
		}
		subject := "New paid order"
		text := fmt.Sprintf("Order %s includes items from your store worth %s. Please prepare the shipment.",
			po.OrderID, formatAmount(seller.Amount, ""))
		html := fmt.Sprintf("<p>Order %s includes items from your store worth <strong>%s</strong>.</p><p>Please prepare the shipment.</p>",
			po.OrderID, formatAmount(seller.Amount, ""))
		if d.send(ctx, seller.Email, subject, html, text) {
			sent++
		}
	}

	d.logger.Info("payment notifications dispatched",
		"order_id", po.OrderID, "sent", sent, "sellers", len(po.Sellers))
	return sent
}

// DispatchEscrowResolved tells the seller their escrowed funds were
// released, or that the sub-order was refunded to the buyer.
func (d *Dispatcher) DispatchEscrowResolved(ctx context.Context, evt contracts.EscrowResolvedEvent) int {
	sc, err := d.loader.LoadSellerContact(ctx, evt.SubOrderID)
	if err != nil {
		d.logger.Error("load seller contact for notification", "sub_order_id", evt.SubOrderID, "err", err)
		return 0
	}
	if sc.Email == "" {
		d.logger.Warn("seller has no contact email, skipping notification", "store_id", sc.StoreID)
		return 0
	}

	var subject, text string
	switch evt.Action {
	case contracts.EscrowActionRelease:
		subject = "Escrow released"
		text = fmt.Sprintf("%s from order %s has been credited to your wallet.",
			formatAmount(evt.Amount, ""), evt.OrderID)
	case contracts.EscrowActionRefund:
		subject = "Sub-order refunded"
		text = fmt.Sprintf("The buyer was refunded %s for a sub-order of order %s. Reason: %s",
			formatAmount(evt.Amount, ""), evt.OrderID, evt.Reason)
	default:
		d.logger.Error("unknown escrow action", "action", evt.Action)
		return 0
	}

	if d.send(ctx, sc.Email, subject, "<p>"+text+"</p>", text) {
		return 1
	}
	return 0
}

func (d *Dispatcher) send(ctx context.Context, recipient, subject, html, text string) bool {
	ok := d.sender.Send(ctx, recipient, subject, html, text)
	d.metrics.ObserveNotification(ok)
	if !ok {
		d.logger.Warn("notification not delivered", "recipient", recipient, "subject", subject)
	}
	return ok
}
