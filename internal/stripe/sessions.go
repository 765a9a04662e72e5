package stripe

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

const PaymentTypeRecharge = "recharge"

// rechargeParams builds the checkout request for one credit recharge
func (sm *Manager) rechargeParams(userID int64) (*stripe.CheckoutSessionParams, error) {
	if sm.rechargePrice == "" {
		return nil, fmt.Errorf("RECHARGE_PRICE_ID not configured - please set it to a valid Stripe Price ID")
	}

	return &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(sm.rechargePrice),
				Quantity: stripe.Int64(1),
			},
		},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(fmt.Sprintf("%s/payment-success?session_id={CHECKOUT_SESSION_ID}&type=recharge", sm.baseURL)),
		CancelURL:         stripe.String(fmt.Sprintf("%s/payment-cancel", sm.baseURL)),
		ClientReferenceID: stripe.String(strconv.FormatInt(userID, 10)),
		Metadata: map[string]string{
			"user_id":      strconv.FormatInt(userID, 10),
			"payment_type": PaymentTypeRecharge,
		},
	}, nil
}

// CreateRechargeSession creates a checkout session and returns its URL
func (sm *Manager) CreateRechargeSession(ctx context.Context, userID int64) (string, error) {
	params, err := sm.rechargeParams(userID)
	if err != nil {
		return "", err
	}
	params.Context = ctx

	s, err := session.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return s.URL, nil
}

// PaymentLink implements the dispatcher's payment linker
func (sm *Manager) PaymentLink(ctx context.Context, userID int64) (string, error) {
	return sm.CreateRechargeSession(ctx, userID)
}
