package stripe

import (
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/tgassist/tgassist/internal/logger"
)

// Manager handles Stripe payment integration
type Manager struct {
	secretKey     string
	webhookSecret string
	baseURL       string

	// One-time payment price for a credit recharge
	rechargePrice string
}

// NewManager creates a new Stripe manager
func NewManager(secretKey, webhookSecret, rechargePrice, baseURL string) *Manager {
	return &Manager{
		secretKey:     secretKey,
		webhookSecret: webhookSecret,
		rechargePrice: rechargePrice,
		baseURL:       baseURL,
	}
}

// Initialize sets up Stripe configuration
func (sm *Manager) Initialize() error {
	if sm.secretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY not configured")
	}
	if sm.webhookSecret == "" {
		return fmt.Errorf("STRIPE_WEBHOOK_SECRET not configured")
	}

	stripe.Key = sm.secretKey
	logger.InfoMsg("Stripe initialized successfully")
	return nil
}
