package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	intents   stripePaymentIntentAPI
}

// StripeProvider looks up card payments recorded as Stripe Payment Intents.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	account string
	logger  Logger
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	intents := cfg.intents
	if intents == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		intents = client.New(apiKey, cfg.Backends).PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		intents: intents,
		account: strings.TrimSpace(cfg.AccountID),
		logger:  logger,
	}, nil
}

// Handles matches Payment Intent ids.
func (p *StripeProvider) Handles(reference string) bool {
	return strings.HasPrefix(strings.TrimSpace(reference), "pi_")
}

// LookupPayment retrieves a Stripe Payment Intent.
func (p *StripeProvider) LookupPayment(ctx context.Context, reference string) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.intents.Get(reference, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
		}
		return PaymentDetails{}, fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	details := stripePaymentDetails(intent)
	p.logger(ctx, "payments.stripe.intent.looked_up", map[string]any{
		"paymentIntent": reference,
		"status":        string(details.Status),
	})
	return details, nil
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{Provider: "stripe"}
	}

	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = StatusFailed
	}

	amount := intent.AmountReceived
	if amount == 0 && status == StatusSucceeded {
		amount = intent.Amount
	}
	if charge := intent.LatestCharge; charge != nil && charge.AmountRefunded > 0 {
		amount -= charge.AmountRefunded
		if amount <= 0 {
			amount = 0
			status = StatusRefunded
		}
	}

	return PaymentDetails{
		Provider:  "stripe",
		Reference: intent.ID,
		Status:    status,
		Amount:    amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Raw: map[string]any{
			"status":         string(intent.Status),
			"amount":         intent.Amount,
			"amountReceived": intent.AmountReceived,
		},
	}
}
