package payments

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"
)

type mercadoPagoPaymentAPI interface {
	Get(ctx context.Context, id int) (*payment.Response, error)
}

// MercadoPagoProviderConfig configures the MercadoPagoProvider.
type MercadoPagoProviderConfig struct {
	AccessToken string
	Logger      Logger
	payments    mercadoPagoPaymentAPI
}

// MercadoPagoProvider looks up payments collected through Mercado Pago.
type MercadoPagoProvider struct {
	payments mercadoPagoPaymentAPI
	logger   Logger
}

var _ Provider = (*MercadoPagoProvider)(nil)

// NewMercadoPagoProvider constructs a Mercado Pago provider from an access token.
func NewMercadoPagoProvider(cfg MercadoPagoProviderConfig) (*MercadoPagoProvider, error) {
	api := cfg.payments
	if api == nil {
		token := strings.TrimSpace(cfg.AccessToken)
		if token == "" {
			return nil, errors.New("mercadopago: access token is required")
		}
		sdkCfg, err := mpconfig.New(token)
		if err != nil {
			return nil, fmt.Errorf("mercadopago: sdk config: %w", err)
		}
		api = payment.NewClient(sdkCfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &MercadoPagoProvider{payments: api, logger: logger}, nil
}

// Handles matches the numeric payment ids Mercado Pago issues.
func (p *MercadoPagoProvider) Handles(reference string) bool {
	_, err := strconv.Atoi(strings.TrimSpace(reference))
	return err == nil
}

// LookupPayment fetches a Mercado Pago payment by id.
func (p *MercadoPagoProvider) LookupPayment(ctx context.Context, reference string) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("mercadopago: provider is nil")
	}
	id, err := strconv.Atoi(strings.TrimSpace(reference))
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
	}
	resp, err := p.payments.Get(ctx, id)
	if err != nil {
		return PaymentDetails{}, fmt.Errorf("mercadopago: get payment: %w", err)
	}
	if resp == nil || resp.ID == 0 {
		return PaymentDetails{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, reference)
	}
	details := mercadoPagoPaymentDetails(resp)
	p.logger(ctx, "payments.mercadopago.payment.looked_up", map[string]any{
		"paymentId": reference,
		"status":    resp.Status,
	})
	return details, nil
}

func mercadoPagoPaymentDetails(resp *payment.Response) PaymentDetails {
	status := StatusPending
	switch resp.Status {
	case "approved":
		status = StatusSucceeded
	case "rejected", "cancelled":
		status = StatusFailed
	case "refunded", "charged_back":
		status = StatusRefunded
	}

	// The API reports major units.
	amount := toMinorUnits(resp.TransactionAmount) - toMinorUnits(resp.TransactionAmountRefunded)
	if amount < 0 {
		amount = 0
	}

	return PaymentDetails{
		Provider:  "mercadopago",
		Reference: strconv.Itoa(resp.ID),
		Status:    status,
		Amount:    amount,
		Currency:  strings.ToUpper(resp.CurrencyID),
		Raw: map[string]any{
			"status":       resp.Status,
			"statusDetail": resp.StatusDetail,
		},
	}
}

func toMinorUnits(value float64) int64 {
	return int64(math.Round(value * 100))
}
