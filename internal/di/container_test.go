package di

import (
	"context"
	"testing"
	"time"

	"github.com/repairdesk/api/internal/platform/config"
	"github.com/repairdesk/api/internal/repositories/memory"
)

type stubObjectWriter struct{}

func (stubObjectWriter) WriteObject(context.Context, string, string, string, []byte) error {
	return nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Infrastructure{}); err == nil {
		t.Fatalf("expected error without registry")
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	cfg := config.Config{}
	cfg.Budget.TaxRateBps = 1600

	container, err := NewContainer(context.Background(), cfg, memory.NewStore(), Infrastructure{})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	svc := container.Services
	if svc.Tickets == nil || svc.Inventory == nil || svc.Coupons == nil || svc.Payments == nil {
		t.Fatalf("expected core services, got %+v", svc)
	}
	if svc.Repairs == nil || svc.Counters == nil || svc.Audit == nil || svc.System == nil {
		t.Fatalf("expected supporting services, got %+v", svc)
	}
	if svc.Exports != nil {
		t.Fatalf("expected exports disabled without writer")
	}
	if err := container.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNewContainerBuildsExportsWithWriterAndBucket(t *testing.T) {
	cfg := config.Config{}
	cfg.Budget.TaxRateBps = 1600

	withoutBucket, err := NewContainer(context.Background(), cfg, memory.NewStore(), Infrastructure{Writer: stubObjectWriter{}})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if withoutBucket.Services.Exports != nil {
		t.Fatalf("expected exports disabled without bucket")
	}

	cfg.Storage.ExportsBucket = "repairdesk-exports"
	container, err := NewContainer(context.Background(), cfg, memory.NewStore(), Infrastructure{
		Writer: stubObjectWriter{},
		Clock:  func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	if container.Services.Exports == nil {
		t.Fatalf("expected exports service")
	}
}

func TestCloseNilContainer(t *testing.T) {
	var c *Container
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestNewPaymentVerifier(t *testing.T) {
	verifier, err := NewPaymentVerifier(config.PSPConfig{}, nil)
	if err != nil {
		t.Fatalf("NewPaymentVerifier: %v", err)
	}
	if verifier != nil {
		t.Fatalf("expected nil verifier without credentials")
	}

	verifier, err = NewPaymentVerifier(config.PSPConfig{StripeAPIKey: "sk_test_123", MercadoPagoAccessToken: "TEST-token"}, nil)
	if err != nil {
		t.Fatalf("NewPaymentVerifier: %v", err)
	}
	if verifier == nil {
		t.Fatalf("expected verifier when credentials are configured")
	}
}
