package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	stripeclient "github.com/stripe/stripe-go/v76/client"
)

// ErrSessionNotFound reports that the payment processor has no record of the
// checkout session.
var ErrSessionNotFound = errors.New("billing: checkout session not found")

// SessionDetail is the subset of a checkout session the redemption flow
// needs.
type SessionDetail struct {
	Paid    bool
	PriceID string
}

// PaymentProvider abstracts the payment processor.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, priceID string) (string, error)
	RetrieveSession(ctx context.Context, sessionID string) (SessionDetail, error)
}

// StripeProviderConfig configures the Stripe-backed payment provider.
type StripeProviderConfig struct {
	SecretKey string
	SiteURL   string
}

// StripeProvider drives Stripe Checkout through the official SDK.
type StripeProvider struct {
	api     *stripeclient.API
	siteURL string
}

// NewStripeProvider constructs the provider with validated configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("billing: stripe secret key required")
	}
	siteURL := strings.TrimRight(strings.TrimSpace(cfg.SiteURL), "/")
	if siteURL == "" {
		return nil, errors.New("billing: site url required")
	}
	api := &stripeclient.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeProvider{api: api, siteURL: siteURL}, nil
}

// CreateCheckoutSession opens a Stripe Checkout session for the price. A
// recurring price produces a subscription-mode session, a one-off price a
// payment-mode session.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, priceID string) (string, error) {
	priceParams := &stripe.PriceParams{}
	priceParams.Context = ctx
	price, err := p.api.Prices.Get(priceID, priceParams)
	if err != nil {
		return "", fmt.Errorf("billing: price lookup failed: %w", err)
	}

	mode := stripe.CheckoutSessionModePayment
	if price.Recurring != nil {
		mode = stripe.CheckoutSessionModeSubscription
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(mode)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(p.siteURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.siteURL + "/pricing"),
	}
	params.Context = ctx

	session, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: checkout session creation failed: %w", err)
	}
	return session.ID, nil
}

// RetrieveSession fetches payment status and the purchased price identifier
// for a checkout session.
func (p *StripeProvider) RetrieveSession(ctx context.Context, sessionID string) (SessionDetail, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("line_items.data.price")

	session, err := p.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodeResourceMissing {
			return SessionDetail{}, ErrSessionNotFound
		}
		return SessionDetail{}, fmt.Errorf("billing: session retrieval failed: %w", err)
	}

	detail := SessionDetail{
		Paid: session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
	}
	if session.LineItems != nil && len(session.LineItems.Data) > 0 && session.LineItems.Data[0].Price != nil {
		detail.PriceID = session.LineItems.Data[0].Price.ID
	}
	return detail, nil
}
