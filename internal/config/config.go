// Package config provides centralized configuration management for the shastra server.
// It loads configuration from CLI flags and environment variables (optionally seeded
// from a .env file), validates required fields, and provides sensible defaults.
//
// CLI flags control which external services are mocked (--no-email, --no-s3,
// --no-oidc, --no-ai, --no-payments, --test). Environment variables provide
// secrets and service configuration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/kuitang/shastra/internal/ratelimit"
)

const (
	defaultS3Region = "auto"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	ProviderRazorpay = "razorpay"
	ProviderStripe   = "stripe"
)

// Flags holds the CLI flag values that select mocks.
type Flags struct {
	NoEmail    bool
	NoS3       bool
	NoOIDC     bool
	NoAI       bool
	NoPayments bool
	Addr       string
	EnvFile    string
}

// Config holds all application configuration.
type Config struct {
	// Server settings
	ListenAddr         string
	BaseURL            string   // public URL of this server
	AppURL             string   // public URL of the SPA, used in emails and redirects
	CORSAllowedOrigins []string // origins allowed to call the API from a browser
	LogLevel           string

	// Database
	DatabaseDriver string // sqlite | postgres
	DatabaseURL    string // file path / DSN
	DatabaseKey    string // optional 64 hex chars, SQLCipher at-rest key (sqlite only)

	// Sessions
	TokenSecret          string        // HS256 secret for bearer tokens
	TokenDuration        time.Duration // bearer token lifetime
	AdminSessionDuration time.Duration

	// Rate limiting
	RateLimitConfig ratelimit.Config

	// Mock service flags (controlled by CLI flags, not env vars)
	NoOIDC     bool
	NoEmail    bool
	NoS3       bool
	NoAI       bool
	NoPayments bool

	// Google OIDC
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Resend Email
	ResendAPIKey    string
	ResendFromEmail string
	SupportEmail    string

	// OpenAI
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	// Billing
	BillingProvider       string // razorpay | stripe
	BillingCurrency       string
	RazorpayKeyID         string
	RazorpayKeySecret     string
	RazorpayWebhookSecret string
	StripeSecretKey       string
	StripePublishableKey  string
	StripeWebhookSecret   string

	// S3-compatible storage for avatars
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
	AWSPublicURL       string // S3_PUBLIC_URL

	// Bootstrap admin, created at startup when both are set
	AdminUsername string
	AdminPassword string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// RegisterFlags registers the server flags on fs. --test implies every --no-* flag.
func RegisterFlags(fs *flag.FlagSet) func() Flags {
	var f Flags
	var testMode bool
	fs.BoolVar(&f.NoEmail, "no-email", false, "Use mock email service (logs emails to console)")
	fs.BoolVar(&f.NoS3, "no-s3", false, "Use mock S3 storage (in-memory)")
	fs.BoolVar(&f.NoOIDC, "no-oidc", false, "Use mock Google OIDC provider")
	fs.BoolVar(&f.NoAI, "no-ai", false, "Use canned AI responses instead of OpenAI")
	fs.BoolVar(&f.NoPayments, "no-payments", false, "Use mock payment gateway")
	fs.BoolVar(&testMode, "test", false, "Shorthand for every --no-* flag")
	fs.StringVar(&f.Addr, "addr", "", "Listen address (default :8080, overrides LISTEN_ADDR env var)")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "Optional dotenv file loaded before reading the environment")

	return func() Flags {
		if testMode {
			f.NoEmail = true
			f.NoS3 = true
			f.NoOIDC = true
			f.NoAI = true
			f.NoPayments = true
		}
		return f
	}
}

// ParseFlags parses os.Args into Flags. Call before LoadConfig.
func ParseFlags() Flags {
	get := RegisterFlags(flag.CommandLine)
	flag.Parse()
	return get()
}

// LoadEnvFile loads a dotenv file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	if err := LoadEnvFile(f.EnvFile); err != nil {
		return nil, err
	}

	cfg := &Config{
		NoEmail:    f.NoEmail,
		NoS3:       f.NoS3,
		NoOIDC:     f.NoOIDC,
		NoAI:       f.NoAI,
		NoPayments: f.NoPayments,
	}

	// Server settings
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", ":8080")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.BaseURL = strings.TrimRight(getEnvOrDefault("BASE_URL", "http://localhost"+cfg.ListenAddr), "/")
	cfg.AppURL = strings.TrimRight(getEnvOrDefault("APP_URL", cfg.BaseURL), "/")
	cfg.CORSAllowedOrigins = splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", cfg.AppURL))
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database
	cfg.DatabaseDriver = strings.ToLower(getEnvOrDefault("DATABASE_DRIVER", DriverSQLite))
	cfg.DatabaseURL = getEnvOrDefault("DATABASE_URL", "./data/shastra.db")
	cfg.DatabaseKey = getEnvOrDefault("DATABASE_KEY", "")

	// Sessions
	cfg.TokenSecret = getEnvOrDefault("TOKEN_SECRET", "")
	cfg.TokenDuration = parseDurationOrDefault("TOKEN_DURATION", 7*24*time.Hour)
	cfg.AdminSessionDuration = parseDurationOrDefault("ADMIN_SESSION_DURATION", 8*time.Hour)

	// Rate limiting
	d := ratelimit.DefaultConfig
	cfg.RateLimitConfig = ratelimit.Config{
		Anonymous: ratelimit.Rule{
			RPS:   parseFloat64OrDefault("RATE_LIMIT_ANON_RPS", d.Anonymous.RPS),
			Burst: parseIntOrDefault("RATE_LIMIT_ANON_BURST", d.Anonymous.Burst),
		},
		Free: ratelimit.Rule{
			RPS:   parseFloat64OrDefault("RATE_LIMIT_FREE_RPS", d.Free.RPS),
			Burst: parseIntOrDefault("RATE_LIMIT_FREE_BURST", d.Free.Burst),
		},
		Devotee: ratelimit.Rule{
			RPS:   parseFloat64OrDefault("RATE_LIMIT_DEVOTEE_RPS", d.Devotee.RPS),
			Burst: parseIntOrDefault("RATE_LIMIT_DEVOTEE_BURST", d.Devotee.Burst),
		},
		Guru: ratelimit.Rule{
			RPS:   parseFloat64OrDefault("RATE_LIMIT_GURU_RPS", d.Guru.RPS),
			Burst: parseIntOrDefault("RATE_LIMIT_GURU_BURST", d.Guru.Burst),
		},
		Contact: ratelimit.Rule{
			RPS:   parseFloat64OrDefault("RATE_LIMIT_CONTACT_RPS", d.Contact.RPS),
			Burst: parseIntOrDefault("RATE_LIMIT_CONTACT_BURST", d.Contact.Burst),
		},
		AdminAuth:       d.AdminAuth,
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", d.CleanupInterval),
	}

	// Google OIDC
	cfg.GoogleClientID = getEnvOrDefault("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvOrDefault("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvOrDefault("GOOGLE_REDIRECT_URL", "")
	if cfg.GoogleRedirectURL == "" {
		cfg.GoogleRedirectURL = cfg.BaseURL + "/auth/google/callback"
	}

	// Resend Email
	cfg.ResendAPIKey = getEnvOrDefault("RESEND_API_KEY", "")
	cfg.ResendFromEmail = getEnvOrDefault("RESEND_FROM_EMAIL", "Shastra <noreply@shastra.app>")
	cfg.SupportEmail = getEnvOrDefault("SUPPORT_EMAIL", "support@shastra.app")

	// OpenAI
	cfg.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", "")
	cfg.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", "gpt-5-mini")
	cfg.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", "")

	// Billing
	cfg.BillingProvider = strings.ToLower(getEnvOrDefault("BILLING_PROVIDER", ProviderRazorpay))
	cfg.BillingCurrency = strings.ToUpper(getEnvOrDefault("BILLING_CURRENCY", "INR"))
	cfg.RazorpayKeyID = getEnvOrDefault("RAZORPAY_KEY_ID", "")
	cfg.RazorpayKeySecret = getEnvOrDefault("RAZORPAY_KEY_SECRET", "")
	cfg.RazorpayWebhookSecret = getEnvOrDefault("RAZORPAY_WEBHOOK_SECRET", "")
	cfg.StripeSecretKey = getEnvOrDefault("STRIPE_SECRET_KEY", "")
	cfg.StripePublishableKey = getEnvOrDefault("STRIPE_PUBLISHABLE_KEY", "")
	cfg.StripeWebhookSecret = getEnvOrDefault("STRIPE_WEBHOOK_SECRET", "")

	// S3
	cfg.AWSEndpointS3 = getEnvOrDefault("AWS_ENDPOINT_URL_S3", "")
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = getEnvOrDefault("AWS_ACCESS_KEY_ID", "")
	cfg.AWSSecretAccessKey = getEnvOrDefault("AWS_SECRET_ACCESS_KEY", "")
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "")
	cfg.AWSPublicURL = getEnvOrDefault("S3_PUBLIC_URL", "")
	if cfg.AWSPublicURL == "" && cfg.AWSEndpointS3 != "" && cfg.AWSBucketName != "" {
		cfg.AWSPublicURL = strings.TrimRight(cfg.AWSEndpointS3, "/") + "/" + cfg.AWSBucketName
	}

	// Admin bootstrap
	cfg.AdminUsername = getEnvOrDefault("ADMIN_USERNAME", "")
	cfg.AdminPassword = getEnvOrDefault("ADMIN_PASSWORD", "")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// When mocks are NOT active for a service, the corresponding secrets are required.
func (c *Config) Validate() error {
	var errs []string

	switch c.DatabaseDriver {
	case DriverSQLite:
		if c.DatabaseKey != "" && len(c.DatabaseKey) != 64 {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (32 bytes) when set")
		}
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres driver")
		}
		if c.DatabaseKey != "" {
			errs = append(errs, "DATABASE_KEY is only supported with the sqlite driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DatabaseDriver))
	}

	if c.TokenSecret == "" {
		errs = append(errs, "TOKEN_SECRET is required (generate with: openssl rand -hex 32)")
	} else if len(c.TokenSecret) < 32 {
		errs = append(errs, "TOKEN_SECRET must be at least 32 characters")
	}
	if c.TokenDuration <= 0 {
		errs = append(errs, "TOKEN_DURATION must be positive")
	}
	if c.AdminSessionDuration <= 0 {
		errs = append(errs, "ADMIN_SESSION_DURATION must be positive")
	}

	if !c.NoOIDC {
		if c.GoogleClientID == "" {
			errs = append(errs, "GOOGLE_CLIENT_ID is required (set env var or use --no-oidc)")
		}
		if c.GoogleClientSecret == "" {
			errs = append(errs, "GOOGLE_CLIENT_SECRET is required (set env var or use --no-oidc)")
		}
	}

	if !c.NoEmail && c.ResendAPIKey == "" {
		errs = append(errs, "RESEND_API_KEY is required (set env var or use --no-email)")
	}

	if !c.NoAI && c.OpenAIAPIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required (set env var or use --no-ai)")
	}

	switch c.BillingProvider {
	case ProviderRazorpay:
		if !c.NoPayments {
			if c.RazorpayKeyID == "" {
				errs = append(errs, "RAZORPAY_KEY_ID is required (set env var or use --no-payments)")
			}
			if c.RazorpayKeySecret == "" {
				errs = append(errs, "RAZORPAY_KEY_SECRET is required (set env var or use --no-payments)")
			}
		}
	case ProviderStripe:
		if !c.NoPayments {
			if c.StripeSecretKey == "" {
				errs = append(errs, "STRIPE_SECRET_KEY is required (set env var or use --no-payments)")
			}
			if c.StripeWebhookSecret == "" {
				errs = append(errs, "STRIPE_WEBHOOK_SECRET is required (set env var or use --no-payments)")
			}
		}
	default:
		errs = append(errs, fmt.Sprintf("BILLING_PROVIDER must be %q or %q, got %q", ProviderRazorpay, ProviderStripe, c.BillingProvider))
	}
	if len(c.BillingCurrency) != 3 {
		errs = append(errs, "BILLING_CURRENCY must be a 3-letter ISO code")
	}

	if !c.NoS3 {
		if c.AWSEndpointS3 == "" {
			errs = append(errs, "AWS_ENDPOINT_URL_S3 is required (set env var or use --no-s3)")
		}
		if c.AWSBucketName == "" {
			errs = append(errs, "BUCKET_NAME is required (set env var or use --no-s3)")
		}
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required (set env var or use --no-s3)")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required (set env var or use --no-s3)")
		}
	}

	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, "ADMIN_USERNAME and ADMIN_PASSWORD must be set together")
	} else if c.AdminPassword != "" && len(c.AdminPassword) < 12 {
		errs = append(errs, "ADMIN_PASSWORD must be at least 12 characters")
	}

	if c.RateLimitConfig.Free.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_FREE_RPS must be positive")
	}
	if c.RateLimitConfig.Free.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_FREE_BURST must be positive")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// IsProduction returns true if all mock services are disabled.
func (c *Config) IsProduction() bool {
	return !c.NoOIDC && !c.NoEmail && !c.NoS3 && !c.NoAI && !c.NoPayments
}

// RequireSecureCookies returns true if secure cookies should be required.
// Returns false for localhost development URLs.
func (c *Config) RequireSecureCookies() bool {
	return !strings.HasPrefix(c.BaseURL, "http://localhost") &&
		!strings.HasPrefix(c.BaseURL, "http://127.0.0.1")
}

// PrintStartupSummary writes a human-readable summary of the configuration to w.
func (c *Config) PrintStartupSummary(w io.Writer) {
	line := func(label, real, mock string, mocked bool) {
		if mocked {
			fmt.Fprintf(w, "  %-9s %s\n", label+":", mock)
			return
		}
		fmt.Fprintf(w, "  %-9s %s\n", label+":", real)
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "shastra server starting...")
	line("Auth", "Google OIDC (real)", "Mock OIDC (--no-oidc)", c.NoOIDC)
	line("Email", "Resend (real, from: "+c.ResendFromEmail+")", "Mock (--no-email)", c.NoEmail)
	line("Storage", "S3 (real, endpoint: "+c.AWSEndpointS3+")", "Mock S3 (--no-s3)", c.NoS3)
	line("AI", "OpenAI (real, model: "+c.OpenAIModel+")", "Canned answers (--no-ai)", c.NoAI)
	line("Billing", c.BillingProvider+" (real, "+c.BillingCurrency+")", "Mock gateway (--no-payments)", c.NoPayments)
	fmt.Fprintf(w, "  %-9s %s\n", "Database:", c.DatabaseDriver+" "+redactDSN(c.DatabaseURL))
	fmt.Fprintf(w, "  %-9s %s\n", "Listen:", c.ListenAddr)
	fmt.Fprintf(w, "  %-9s %s\n", "Base:", c.BaseURL)
	fmt.Fprintln(w, "")
}

// redactDSN hides a password in a postgres URL.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	user, _, hasPass := strings.Cut(creds, ":")
	if !hasPass {
		return dsn
	}
	return dsn[:scheme+3] + user + ":***" + dsn[at:]
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimRight(strings.TrimSpace(part), "/"); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// MustLoadConfig loads configuration and panics if validation fails.
func MustLoadConfig(f Flags) *Config {
	cfg, err := LoadConfig(f)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			panic(fmt.Sprintf("Configuration validation failed:\n  - %s", strings.Join(validationErr.Errors, "\n  - ")))
		}
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}
	return cfg
}
