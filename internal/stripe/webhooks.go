package stripe

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tgassist/tgassist/internal/logger"
)

// PaymentData represents processed payment information
type PaymentData struct {
	UserID      int64   `json:"user_id"`
	Amount      float64 `json:"amount,omitempty"`
	SessionID   string  `json:"session_id,omitempty"`
	PaymentType string  `json:"payment_type"`
	EventType   string  `json:"event_type,omitempty"`
}

// VerifyWebhookSignature verifies Stripe webhook signature and returns the event
func (sm *Manager) VerifyWebhookSignature(body []byte, signature string) (*stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(body, signature, sm.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("webhook signature verification failed: %w", err)
	}
	return &event, nil
}

// ProcessWebhookEvent returns payment data for events that credit a user, nil otherwise
func (sm *Manager) ProcessWebhookEvent(event *stripe.Event) (*PaymentData, error) {
	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		return sm.checkoutPayment(event)
	case "checkout.session.async_payment_failed", "payment_intent.payment_failed":
		logger.Warn("Payment failed", map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
		})
		return nil, nil
	default:
		logger.Debug("Unhandled event type", map[string]interface{}{
			"event_type": event.Type,
		})
		return nil, nil
	}
}

func (sm *Manager) checkoutPayment(event *stripe.Event) (*PaymentData, error) {
	var cs stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
		return nil, fmt.Errorf("decode checkout session: %w", err)
	}

	logger.Info("Checkout session finished", map[string]interface{}{
		"session_id":     cs.ID,
		"payment_status": cs.PaymentStatus,
		"event_type":     event.Type,
	})

	if cs.Metadata["payment_type"] != PaymentTypeRecharge {
		return nil, nil
	}
	// Delayed payment methods complete checkout before the money arrives
	if cs.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, nil
	}

	raw, ok := cs.Metadata["user_id"]
	if !ok {
		return nil, fmt.Errorf("checkout session %s has no user_id metadata", cs.ID)
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("checkout session %s: bad user_id %q: %w", cs.ID, raw, err)
	}

	return &PaymentData{
		UserID:      userID,
		Amount:      float64(cs.AmountTotal) / 100.0,
		SessionID:   cs.ID,
		PaymentType: PaymentTypeRecharge,
		EventType:   string(event.Type),
	}, nil
}

// maxWebhookBody bounds a single delivery; checkout events are a few KB
const maxWebhookBody = 64 << 10

// readEvent reads and authenticates one delivery. The returned status is the
// HTTP code to answer with when err is set.
func (sm *Manager) readEvent(w http.ResponseWriter, r *http.Request) (*stripe.Event, int, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		return nil, http.StatusServiceUnavailable, fmt.Errorf("read body: %w", err)
	}

	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		return nil, http.StatusBadRequest, fmt.Errorf("missing Stripe-Signature header")
	}

	event, err := sm.VerifyWebhookSignature(body, sig)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	return event, http.StatusOK, nil
}

// HandleWebhook verifies and processes one webhook delivery. When the event
// carries a payment, apply runs before the response is written; an apply
// error answers 500 so Stripe retries the delivery.
func (sm *Manager) HandleWebhook(w http.ResponseWriter, r *http.Request, apply func(*PaymentData) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	event, status, err := sm.readEvent(w, r)
	if err != nil {
		logger.Warn("Rejected Stripe webhook", map[string]interface{}{
			"status": status,
			"error":  err.Error(),
		})
		http.Error(w, http.StatusText(status), status)
		return
	}

	logger.Info("Stripe webhook received", map[string]interface{}{
		"event_type": event.Type,
		"event_id":   event.ID,
	})

	pd, err := sm.ProcessWebhookEvent(event)
	if err != nil {
		logger.Error("Malformed Stripe event", map[string]interface{}{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		http.Error(w, "Malformed event", http.StatusBadRequest)
		return
	}

	if pd != nil && apply != nil {
		if err := apply(pd); err != nil {
			logger.Error("Failed to apply recharge payment", map[string]interface{}{
				"user_id":    pd.UserID,
				"session_id": pd.SessionID,
				"error":      err.Error(),
			})
			http.Error(w, "Payment not applied", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
