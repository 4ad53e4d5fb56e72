package payments

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/mercadopago/sdk-go/pkg/payment"
	"github.com/stripe/stripe-go/v78"
)

type stubIntentAPI struct {
	intent *stripe.PaymentIntent
	err    error
	gotID  string
	params *stripe.PaymentIntentParams
}

func (s *stubIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	s.gotID = id
	s.params = params
	return s.intent, s.err
}

type stubMercadoPagoAPI struct {
	resp  *payment.Response
	err   error
	gotID int
}

func (s *stubMercadoPagoAPI) Get(_ context.Context, id int) (*payment.Response, error) {
	s.gotID = id
	return s.resp, s.err
}

func TestStripeProviderLookupPayment(t *testing.T) {
	api := &stubIntentAPI{intent: &stripe.PaymentIntent{
		ID:             "pi_123",
		Status:         stripe.PaymentIntentStatusSucceeded,
		Amount:         58000,
		AmountReceived: 58000,
		Currency:       stripe.CurrencyMXN,
		LatestCharge:   &stripe.Charge{AmountRefunded: 8000},
	}}
	provider, err := NewStripeProvider(StripeProviderConfig{AccountID: "acct_1", intents: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if !provider.Handles("pi_123") || provider.Handles("ch_123") {
		t.Fatalf("unexpected Handles result")
	}

	details, err := provider.LookupPayment(context.Background(), "pi_123")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if details.Status != StatusSucceeded || details.Amount != 50000 || details.Currency != "MXN" {
		t.Fatalf("unexpected details %+v", details)
	}
	if api.gotID != "pi_123" || api.params.StripeAccount == nil || *api.params.StripeAccount != "acct_1" {
		t.Fatalf("unexpected request id=%s params=%+v", api.gotID, api.params)
	}
}

func TestStripeProviderMapsMissingIntent(t *testing.T) {
	api := &stubIntentAPI{err: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Msg: "No such payment_intent"}}
	provider, err := NewStripeProvider(StripeProviderConfig{intents: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := provider.LookupPayment(context.Background(), "pi_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
	if _, err := NewStripeProvider(StripeProviderConfig{}); err == nil {
		t.Fatalf("expected api key error")
	}
}

func TestMercadoPagoProviderLookupPayment(t *testing.T) {
	api := &stubMercadoPagoAPI{resp: &payment.Response{
		ID:                123456,
		Status:            "approved",
		CurrencyID:        "mxn",
		TransactionAmount: 580.5,
	}}
	provider, err := NewMercadoPagoProvider(MercadoPagoProviderConfig{payments: api})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if !provider.Handles("123456") || provider.Handles("pi_1") {
		t.Fatalf("unexpected Handles result")
	}

	details, err := provider.LookupPayment(context.Background(), " 123456 ")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if api.gotID != 123456 {
		t.Fatalf("expected id 123456, got %d", api.gotID)
	}
	if details.Status != StatusSucceeded || details.Amount != 58050 || details.Currency != "MXN" {
		t.Fatalf("unexpected details %+v", details)
	}

	api.resp = &payment.Response{ID: 1, Status: "rejected"}
	if details, _ := provider.LookupPayment(context.Background(), "1"); details.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", details.Status)
	}
	if _, err := NewMercadoPagoProvider(MercadoPagoProviderConfig{}); err == nil {
		t.Fatalf("expected access token error")
	}
}
