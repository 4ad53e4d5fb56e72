package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	env := map[string]string{
		"REPAIRDESK_FIREBASE_PROJECT_ID": "rd-dev",
	}

	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("unexpected read timeout: %s", cfg.Server.ReadTimeout)
	}
	if cfg.Persistence.Backend != BackendFirestore {
		t.Errorf("expected firestore backend, got %s", cfg.Persistence.Backend)
	}
	if cfg.Firestore.ProjectID != "rd-dev" || cfg.PubSub.ProjectID != "rd-dev" {
		t.Errorf("expected projects to default to firebase project, got %s/%s", cfg.Firestore.ProjectID, cfg.PubSub.ProjectID)
	}
	if cfg.Budget.TaxRateBps != 1600 {
		t.Errorf("expected 16%% tax rate, got %d", cfg.Budget.TaxRateBps)
	}
	if !cfg.Firebase.CheckRevoked {
		t.Errorf("expected revocation checks on by default")
	}
	if cfg.Tickets.NumberPrefix != "RD" {
		t.Errorf("expected RD ticket prefix, got %q", cfg.Tickets.NumberPrefix)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected info log level, got %s", cfg.Logging.Level)
	}
	if cfg.Security.Environment != "local" {
		t.Errorf("expected default security environment local, got %s", cfg.Security.Environment)
	}
	if cfg.Security.OIDC.JWKSURL != defaultOIDCJWKSURL {
		t.Errorf("expected default jwks url %s, got %s", defaultOIDCJWKSURL, cfg.Security.OIDC.JWKSURL)
	}
	if len(cfg.Security.OIDC.Issuers) != 1 || cfg.Security.OIDC.Issuers[0] != defaultSecurityIssuer {
		t.Errorf("expected default issuer, got %v", cfg.Security.OIDC.Issuers)
	}
	if cfg.Idempotency.Header != defaultIdempotencyHeader || cfg.Idempotency.TTL != defaultIdempotencyTTL {
		t.Errorf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
	if cfg.Storage.SignedURLTTL != defaultExportURLTTL {
		t.Errorf("unexpected signed url ttl: %s", cfg.Storage.SignedURLTTL)
	}
	if cfg.PubSub.TicketEventsTopic != "" {
		t.Errorf("expected events disabled by default, got %s", cfg.PubSub.TicketEventsTopic)
	}
}

func TestLoadWithOverridesAndSecrets(t *testing.T) {
	env := map[string]string{
		"REPAIRDESK_SERVER_PORT":                  "9090",
		"REPAIRDESK_SERVER_READ_TIMEOUT":          "20s",
		"REPAIRDESK_LOG_LEVEL":                    "DEBUG",
		"REPAIRDESK_FIREBASE_PROJECT_ID":          "rd-prod",
		"REPAIRDESK_FIRESTORE_PROJECT_ID":         "rd-fire",
		"REPAIRDESK_STORAGE_EXPORTS_BUCKET":       "exports-prod",
		"REPAIRDESK_PUBSUB_TICKET_EVENTS_TOPIC":   "ticket-events",
		"REPAIRDESK_PSP_STRIPE_API_KEY":           "sm://stripe/api",
		"REPAIRDESK_PSP_MERCADOPAGO_ACCESS_TOKEN": "secret://mercadopago/token",
		"REPAIRDESK_BUDGET_TAX_RATE_BPS":          "1000",
		"REPAIRDESK_SECURITY_ENVIRONMENT":         "Prod",
		"REPAIRDESK_SECURITY_OIDC_AUDIENCES":      "prod=https://api.repairdesk.example, stg=https://stg.example",
		"REPAIRDESK_SECURITY_OIDC_ISSUERS":        "https://accounts.google.com, https://issuer.example",
		"REPAIRDESK_SECURITY_OIDC_CALLERS":        "scheduler@rd-prod.iam.gserviceaccount.com",
		"REPAIRDESK_IDEMPOTENCY_TTL":              "1h",
		"REPAIRDESK_FIREBASE_CHECK_REVOKED":       "false",
	}

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return "resolved:" + ref, nil
	})

	cfg, err := Load(context.Background(),
		WithEnvMap(env),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != "9090" || cfg.Server.ReadTimeout != 20*time.Second {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected lower-cased log level, got %s", cfg.Logging.Level)
	}
	if cfg.Firebase.CheckRevoked {
		t.Errorf("expected revocation checks disabled")
	}
	if cfg.Firestore.ProjectID != "rd-fire" {
		t.Errorf("expected explicit firestore project, got %s", cfg.Firestore.ProjectID)
	}
	if cfg.Storage.ExportsBucket != "exports-prod" || cfg.PubSub.TicketEventsTopic != "ticket-events" {
		t.Errorf("unexpected storage/pubsub config: %+v %+v", cfg.Storage, cfg.PubSub)
	}
	if cfg.PSP.StripeAPIKey != "resolved:secret://stripe/api" {
		t.Errorf("expected normalised stripe secret, got %s", cfg.PSP.StripeAPIKey)
	}
	if cfg.PSP.MercadoPagoAccessToken != "resolved:secret://mercadopago/token" {
		t.Errorf("unexpected mercadopago token: %s", cfg.PSP.MercadoPagoAccessToken)
	}
	if len(refs) != 2 {
		t.Errorf("expected two secret lookups, got %v", refs)
	}
	if cfg.Budget.TaxRateBps != 1000 {
		t.Errorf("expected tax override, got %d", cfg.Budget.TaxRateBps)
	}
	if cfg.Security.OIDC.Audience != "https://api.repairdesk.example" {
		t.Errorf("expected audience picked by environment, got %s", cfg.Security.OIDC.Audience)
	}
	if len(cfg.Security.OIDC.Issuers) != 2 {
		t.Errorf("unexpected issuers: %v", cfg.Security.OIDC.Issuers)
	}
	if len(cfg.Security.OIDC.Callers) != 1 || cfg.Security.OIDC.Callers[0] != "scheduler@rd-prod.iam.gserviceaccount.com" {
		t.Errorf("unexpected callers: %v", cfg.Security.OIDC.Callers)
	}
	if cfg.Idempotency.TTL != time.Hour {
		t.Errorf("unexpected idempotency ttl: %s", cfg.Idempotency.TTL)
	}
}

func TestLoadDotEnvFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nREPAIRDESK_PERSISTENCE_BACKEND=memory\nexport REPAIRDESK_SERVER_PORT=\"7070\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	cfg, err := Load(context.Background(), WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{
		"REPAIRDESK_SERVER_PORT": "6060",
	}))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Persistence.Backend != BackendMemory {
		t.Errorf("expected backend from .env, got %s", cfg.Persistence.Backend)
	}
	if cfg.Server.Port != "6060" {
		t.Errorf("expected explicit map to win over .env, got %s", cfg.Server.Port)
	}
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvFile(filepath.Join(t.TempDir(), "absent.env")),
		WithoutSystemEnv(),
		WithEnvMap(map[string]string{"REPAIRDESK_PERSISTENCE_BACKEND": "memory"}),
	)
	if err != nil {
		t.Fatalf("expected missing .env to be ignored, got %v", err)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"REPAIRDESK_BUDGET_TAX_RATE_BPS": "20000",
	}), WithoutSystemEnv(), WithEnvFile(""))

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := strings.Join(vErr.Fields(), ",")
	for _, want := range []string{"Firestore.ProjectID", "Firebase.ProjectID", "Budget.TaxRateBps"} {
		if !strings.Contains(fields, want) {
			t.Errorf("expected %s in %s", want, fields)
		}
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"REPAIRDESK_PERSISTENCE_BACKEND": "postgres",
	}), WithoutSystemEnv(), WithEnvFile(""))

	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Fields()[0] != "Persistence.Backend" {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestLoadSecretResolverError(t *testing.T) {
	resolver := SecretResolverFunc(func(context.Context, string) (string, error) {
		return "", errors.New("permission denied")
	})

	_, err := Load(context.Background(), WithEnvMap(map[string]string{
		"REPAIRDESK_PERSISTENCE_BACKEND": "memory",
		"REPAIRDESK_PSP_STRIPE_API_KEY":  "sm://stripe/api",
	}), WithoutSystemEnv(), WithEnvFile(""), WithSecretResolver(resolver))

	var secretErr *SecretError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected secret error, got %v", err)
	}
	if secretErr.Ref != "secret://stripe/api" {
		t.Errorf("unexpected ref: %s", secretErr.Ref)
	}
}

func TestEnvironmentValuesMergesSources(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("A=dotenv\nB=dotenv\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	values, err := EnvironmentValues(WithEnvFile(path), WithoutSystemEnv(), WithEnvMap(map[string]string{"B": "explicit"}))
	if err != nil {
		t.Fatalf("EnvironmentValues returned error: %v", err)
	}
	if values["A"] != "dotenv" || values["B"] != "explicit" {
		t.Fatalf("unexpected merge result: %v", values)
	}
}

func TestLoadMissingRequiredSecrets(t *testing.T) {
	_, err := Load(context.Background(),
		WithEnvMap(map[string]string{"REPAIRDESK_PERSISTENCE_BACKEND": "memory"}),
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeAPIKey"),
	)

	var missing *MissingSecretsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected missing secrets error, got %v", err)
	}
	if names := missing.Names(); len(names) != 1 || names[0] != "PSP.StripeAPIKey" {
		t.Fatalf("unexpected names: %v", names)
	}
	if strings.Contains(missing.Error(), "Stripe") {
		t.Fatalf("expected redacted error message, got %s", missing.Error())
	}
}
