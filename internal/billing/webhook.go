package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/kuitang/shastra/internal/db"
)

// HandleWebhook verifies a gateway notification, skips events already
// processed, and confirms or fails the referenced order.
func (s *Service) HandleWebhook(ctx context.Context, gateway string, payload []byte, header http.Header) error {
	if gateway != s.gateway.Name() {
		return fmt.Errorf("%w: gateway %q is not configured", ErrInvalidWebhook, gateway)
	}
	event, err := s.gateway.ParseWebhook(payload, header)
	if err != nil {
		return err
	}

	seen, err := s.store.IsEventProcessed(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("check webhook idempotency: %w", err)
	}
	if seen {
		log.Printf("[BILLING] Webhook event %s already processed, skipping", event.ID)
		return nil
	}

	switch {
	case event.Paid:
		if err := s.handlePaid(ctx, event); err != nil {
			return fmt.Errorf("handle %s: %w", event.Type, err)
		}
	case event.Failed:
		if err := s.store.MarkPaymentFailed(ctx, event.OrderID, event.PaymentID, s.clock.Now().Unix()); err != nil {
			return fmt.Errorf("handle %s: %w", event.Type, err)
		}
		log.Printf("[BILLING] Payment failed for order %s", event.OrderID)
	default:
		log.Printf("[BILLING] Unhandled webhook event type: %s", event.Type)
	}

	if _, err := s.store.MarkEventProcessed(ctx, event.ID, s.gateway.Name(), s.clock.Now().Unix()); err != nil {
		log.Printf("[BILLING] Warning: failed to mark event %s as processed: %v", event.ID, err)
	}
	return nil
}

func (s *Service) handlePaid(ctx context.Context, event *WebhookEvent) error {
	payment, err := s.store.GetPaymentByOrderID(ctx, event.OrderID)
	if errors.Is(err, db.ErrNotFound) {
		log.Printf("[BILLING] No payment row for order %s, skipping", event.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	first, err := s.confirm(ctx, payment, event.PaymentID)
	if err != nil {
		return err
	}
	if !first {
		log.Printf("[BILLING] Order %s was already confirmed", event.OrderID)
	}
	return nil
}
