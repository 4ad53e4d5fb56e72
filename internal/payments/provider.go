package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/repairdesk/api/internal/domain"
	"github.com/repairdesk/api/internal/services"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrPaymentNotFound is returned when the PSP does not know the reference.
	ErrPaymentNotFound = errors.New("payments: payment not found")
)

// Logger defines the logging contract for provider operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// PaymentDetails normalises PSP specific fields.
type PaymentDetails struct {
	Provider  string
	Reference string
	Status    Status
	// Amount is the captured amount in minor units.
	Amount   int64
	Currency string
	Raw      map[string]any
}

// Provider looks up payments recorded by a PSP.
type Provider interface {
	// Handles reports whether the reference has the shape of an id issued by this provider.
	Handles(reference string) bool
	LookupPayment(ctx context.Context, reference string) (PaymentDetails, error)
}

// Manager routes payment verifications to the provider registered for the payment method.
type Manager struct {
	providers    map[string]Provider
	methodRoutes map[domain.PaymentMethod]string
	currency     string
}

var _ services.PaymentVerifier = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithMethodRoute maps a payment method to a registered provider key.
func WithMethodRoute(method domain.PaymentMethod, provider string) ManagerOption {
	return func(m *Manager) {
		m.methodRoutes[method] = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrency restricts verification to payments settled in the given ISO currency.
func WithCurrency(currency string) ManagerOption {
	return func(m *Manager) {
		m.currency = strings.ToUpper(strings.TrimSpace(currency))
	}
}

// NewManager constructs a Manager over the supplied providers. Providers registered as "stripe" and
// "mercadopago" are routed from the card and mercadopago methods unless overridden.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers:    copyMap,
		methodRoutes: make(map[domain.PaymentMethod]string),
	}
	if _, ok := copyMap["stripe"]; ok {
		m.methodRoutes[domain.PaymentMethodCard] = "stripe"
	}
	if _, ok := copyMap["mercadopago"]; ok {
		m.methodRoutes[domain.PaymentMethodMercadoPago] = "mercadopago"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(method domain.PaymentMethod) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	key, ok := m.methodRoutes[method]
	if !ok {
		return "", nil, ErrUnsupportedProvider
	}
	provider, ok := m.providers[key]
	if !ok {
		return "", nil, ErrUnsupportedProvider
	}
	return key, provider, nil
}

// VerifyPayment confirms that the provider captured at least the recorded amount. Methods without a
// provider and references the provider does not recognise are accepted unverified.
func (m *Manager) VerifyPayment(ctx context.Context, v services.PaymentVerification) error {
	key, provider, err := m.resolveProvider(v.Method)
	if errors.Is(err, ErrUnsupportedProvider) {
		return nil
	}
	if err != nil {
		return err
	}
	reference := strings.TrimSpace(v.Reference)
	if !provider.Handles(reference) {
		return nil
	}

	details, err := provider.LookupPayment(ctx, reference)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return fmt.Errorf("%w: %s reference %s not found", services.ErrPaymentVerification, key, reference)
		}
		return fmt.Errorf("%s lookup: %w", key, err)
	}
	if details.Status != StatusSucceeded {
		return fmt.Errorf("%w: %s reports status %s", services.ErrPaymentVerification, key, details.Status)
	}
	if m.currency != "" && details.Currency != "" && !strings.EqualFold(details.Currency, m.currency) {
		return fmt.Errorf("%w: %s currency %s does not match %s", services.ErrPaymentVerification, key, details.Currency, m.currency)
	}
	if details.Amount < v.Amount {
		return fmt.Errorf("%w: %s captured %d, recorded %d", services.ErrPaymentVerification, key, details.Amount, v.Amount)
	}
	return nil
}
