package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment. It is
// built once at startup and handed to each component; nothing reads ambient
// globals after Load returns.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// SystemURL is the base URL of the host billing platform. Redirect
	// targets for invoice pages are built from it; it is always forced to
	// https.
	SystemURL       string
	InvoiceViewPath string
	InvoiceListPath string

	FlwSecretKey         string
	FlwPublicKey         string
	FlwBaseURL           string
	CheckoutDomainPrefix string

	// Merchant presentation shown on the hosted checkout page.
	BusinessName        string
	BusinessDescription string
	LogoURL             string

	// PaymentMethods is the admin-configured ordered set of payment-method
	// tags offered on the hosted page. Empty means the default ("card").
	PaymentMethods []string
	// PaymentFlow selects "inline" or "redirect" checkout, chosen once per
	// initiation.
	PaymentFlow string

	// SettlementCurrencyID is the currency the merchant account settles in.
	// Zero disables conversion; otherwise verified amounts are converted to
	// the invoice currency before recording.
	SettlementCurrencyID int64

	// GatewayLogs toggles audit logging of reconciliation outcomes.
	GatewayLogs bool
	GatewayName string

	HTTPTimeout        time.Duration
	IdempotencyTTL     time.Duration
	CallbackRateMax    int
	CallbackRateWindow time.Duration

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:               valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                 valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:          k.String("DATABASE_URL"),
		RedisURL:             k.String("REDIS_URL"),
		SystemURL:            forceHTTPS(k.String("SYSTEM_URL")),
		InvoiceViewPath:      valueOrDefault(k.String("INVOICE_VIEW_PATH"), "viewinvoice.php"),
		InvoiceListPath:      valueOrDefault(k.String("INVOICE_LIST_PATH"), "clientarea.php?action=invoices"),
		FlwSecretKey:         k.String("FLW_SECRET_KEY"),
		FlwPublicKey:         k.String("FLW_PUBLIC_KEY"),
		FlwBaseURL:           valueOrDefault(k.String("FLW_BASE_URL"), "https://api.flutterwave.com"),
		CheckoutDomainPrefix: valueOrDefault(k.String("FLW_CHECKOUT_PREFIX"), "https://checkout.flutterwave.com/"),
		BusinessName:         k.String("BUSINESS_NAME"),
		BusinessDescription:  k.String("BUSINESS_DESCRIPTION"),
		LogoURL:              k.String("BUSINESS_LOGO_URL"),
		PaymentMethods:       splitAndTrim(k.String("PAYMENT_METHODS")),
		PaymentFlow:          parseFlow(k.String("PAYMENT_FLOW")),
		SettlementCurrencyID: k.Int64("SETTLEMENT_CURRENCY_ID"),
		GatewayLogs:          parseBool(k.String("GATEWAY_LOGS")),
		GatewayName:          valueOrDefault(k.String("GATEWAY_NAME"), "flutterwave"),
		HTTPTimeout:          parseDuration(k.String("FLW_HTTP_TIMEOUT"), "10s"),
		IdempotencyTTL:       parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CallbackRateMax:      int(k.Int64("CALLBACK_RATE_MAX")),
		CallbackRateWindow:   parseDuration(k.String("CALLBACK_RATE_WINDOW"), "1m"),
		CORSAllowedOrigins:   splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.SystemURL == "" {
		return nil, errors.New("SYSTEM_URL is required")
	}
	if cfg.FlwSecretKey == "" {
		return nil, errors.New("FLW_SECRET_KEY is required")
	}
	if cfg.BusinessName == "" {
		return nil, errors.New("BUSINESS_NAME is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// InvoiceViewURL builds the redirect target for a specific invoice.
func (c *Config) InvoiceViewURL(invoiceID int64) string {
	return fmt.Sprintf("%s%s?id=%d", c.SystemURL, c.InvoiceViewPath, invoiceID)
}

// InvoiceListURL builds the redirect target for the invoice list page.
func (c *Config) InvoiceListURL() string {
	return c.SystemURL + c.InvoiceListPath
}

// forceHTTPS normalizes the system URL: plain-http schemes are upgraded and a
// trailing slash is guaranteed so paths can be appended directly.
func forceHTTPS(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, "http://") {
		trimmed = "https://" + strings.TrimPrefix(trimmed, "http://")
	}
	if !strings.HasSuffix(trimmed, "/") {
		trimmed += "/"
	}
	return trimmed
}

func parseFlow(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), "inline") {
		return "inline"
	}
	return "redirect"
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
