package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/repairdesk/api/internal/payments"
	"github.com/repairdesk/api/internal/platform/config"
	"github.com/repairdesk/api/internal/platform/observability"
	"github.com/repairdesk/api/internal/repositories"
	"github.com/repairdesk/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Tickets   services.TicketService
	Inventory services.InventoryService
	Coupons   services.CouponService
	Payments  services.PaymentLedger
	Repairs   services.RepairService
	Counters  services.CounterService
	Audit     services.AuditLogService
	System    services.SystemService
	Exports   services.InventoryExportService
}

// Infrastructure carries the optional collaborators built by the entrypoint from cloud clients.
// Nil members disable the corresponding feature.
type Infrastructure struct {
	Logger   *zap.Logger
	Metrics  services.Metrics
	Verifier services.PaymentVerifier
	Events   services.TicketEventPublisher
	Writer   services.ObjectWriter
	Signer   services.DownloadURLSigner
	Build    services.BuildInfo
	Clock    func() time.Time
}

// Container wires repositories and services for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Tests supply the in-memory registry.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}

	svc, err := buildServices(ctx, reg, cfg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Services:     svc,
	}, nil
}

// Close releases repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, reg repositories.Registry, cfg config.Config, infra Infrastructure) (Services, error) {
	var svc Services

	logger := infra.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := infra.Clock
	if clock == nil {
		clock = time.Now
	}
	eventLogger := func(name string) func(context.Context, string, map[string]any) {
		return observability.EventLogger(logger.Named(name))
	}

	auditSvc, err := services.NewAuditLogService(services.AuditLogServiceDeps{
		Repository: reg.AuditLogs(),
		Clock:      clock,
		Logger:     eventLogger("audit"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build audit log service: %w", err)
	}
	svc.Audit = auditSvc

	counterSvc, err := services.NewCounterService(services.CounterServiceDeps{
		Repository: reg.Counters(),
		Clock:      clock,
		Prefix:     cfg.Tickets.NumberPrefix,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build counter service: %w", err)
	}
	svc.Counters = counterSvc

	inventorySvc, err := services.NewInventoryService(services.InventoryServiceDeps{
		Inventory: reg.Inventory(),
		Clock:     clock,
		Metrics:   infra.Metrics,
		Logger:    eventLogger("inventory"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build inventory service: %w", err)
	}
	svc.Inventory = inventorySvc

	couponSvc, err := services.NewCouponService(services.CouponServiceDeps{
		Coupons: reg.Coupons(),
		Usages:  reg.CouponUsages(),
		Clock:   clock,
		Logger:  eventLogger("coupons"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build coupon service: %w", err)
	}
	svc.Coupons = couponSvc

	ledger, err := services.NewPaymentLedger(services.PaymentLedgerDeps{
		Payments: reg.Payments(),
		Verifier: infra.Verifier,
		Clock:    clock,
		Logger:   eventLogger("payments"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build payment ledger: %w", err)
	}
	svc.Payments = ledger

	repairSvc, err := services.NewRepairService(services.RepairServiceDeps{
		Executions: reg.RepairExecutions(),
		Inventory:  inventorySvc,
		Clock:      clock,
		Logger:     eventLogger("repairs"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build repair service: %w", err)
	}
	svc.Repairs = repairSvc

	ticketSvc, err := services.NewTicketService(services.TicketServiceDeps{
		Tickets:    reg.Tickets(),
		Budgets:    reg.Budgets(),
		Refunds:    reg.Refunds(),
		Inventory:  inventorySvc,
		Coupons:    couponSvc,
		Payments:   ledger,
		Repairs:    repairSvc,
		Counters:   counterSvc,
		Audit:      auditSvc,
		UnitOfWork: reg,
		TaxRateBps: cfg.Budget.TaxRateBps,
		Clock:      clock,
		Events:     infra.Events,
		Metrics:    infra.Metrics,
		Logger:     eventLogger("tickets"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build ticket service: %w", err)
	}
	svc.Tickets = ticketSvc

	systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: reg.Health(),
		Audit:            auditSvc,
		Clock:            clock,
		Build:            infra.Build,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build system service: %w", err)
	}
	svc.System = systemSvc

	if infra.Writer != nil && strings.TrimSpace(cfg.Storage.ExportsBucket) != "" {
		exportSvc, err := services.NewInventoryExportService(services.InventoryExportServiceDeps{
			Inventory: inventorySvc,
			Writer:    infra.Writer,
			Signer:    infra.Signer,
			Bucket:    cfg.Storage.ExportsBucket,
			Clock:     clock,
			Logger:    eventLogger("exports"),
		})
		if err != nil {
			return Services{}, fmt.Errorf("build inventory export service: %w", err)
		}
		svc.Exports = exportSvc
	}

	return svc, nil
}

// NewPaymentVerifier registers a provider for every configured PSP credential. It returns nil
// when no credential is configured, leaving payment references unverified.
func NewPaymentVerifier(cfg config.PSPConfig, logger *zap.Logger) (services.PaymentVerifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	providers := make(map[string]payments.Provider, 2)

	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: key,
			Logger: observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe provider: %w", err)
		}
		providers["stripe"] = stripeProvider
	}

	if token := strings.TrimSpace(cfg.MercadoPagoAccessToken); token != "" {
		mpProvider, err := payments.NewMercadoPagoProvider(payments.MercadoPagoProviderConfig{
			AccessToken: token,
			Logger:      observability.EventLogger(logger.Named("mercadopago")),
		})
		if err != nil {
			return nil, fmt.Errorf("build mercadopago provider: %w", err)
		}
		providers["mercadopago"] = mpProvider
	}

	if len(providers) == 0 {
		return nil, nil
	}
	manager, err := payments.NewManager(providers)
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}
