package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
)

const (
	defaultEnvFile          = ".env"
	defaultPort             = "8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 20 * time.Second
	defaultEnvironment      = "local"
	defaultLogLevel         = "info"
	defaultStoreBackend     = StoreFirestore
	defaultPostgresMaxConns = 10
	defaultNotifyTopic      = "order-notifications"
	defaultCurrency         = "INR"
	defaultLocale           = "en-IN"
	defaultNotifyTimeout    = 5 * time.Second
	defaultNotifyWorkers    = 8
	defaultNumberAttempts   = 3
	defaultIdemHeader       = "Idempotency-Key"
	defaultIdemTTL          = 24 * time.Hour
	defaultIdemInterval     = time.Hour
	defaultIdemBatchSize    = 200
)

// Supported persistence backends.
const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
	StorePostgres  = "postgres"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Store       StoreConfig
	PubSub      PubSubConfig
	PSP         PSPConfig
	Orders      OrdersConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	Environment     string
	LogLevel        string
}

// FirebaseConfig stores Firebase project settings used for ID token verification.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores document database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the relational inventory and statistics ledger.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
}

// StoreConfig selects the backend for orders and for the stock/statistics ledgers.
// Ledger defaults to Backend when unset.
type StoreConfig struct {
	Backend string
	Ledger  string
}

// PubSubConfig configures the notification topic. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID         string
	NotificationTopic string
}

// PSPConfig collects payment provider secrets.
type PSPConfig struct {
	StripeAPIKey    string
	StripeAccountID string
}

// OrdersConfig tunes the order engine.
type OrdersConfig struct {
	SelfCancelMethods       []string
	Currency                string
	Locale                  string
	NotificationTimeout     time.Duration
	NotificationConcurrency int
	OrderNumberAttempts     int
}

// IdempotencyConfig controls the checkout idempotency middleware.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError lists configuration fields that are missing or invalid.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// SecretError describes a failed secret reference lookup.
type SecretError struct {
	Ref string
	Err error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects explicit values that take precedence over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv disables reading process environment variables.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver sets the resolver used for sm:// and secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.secret = resolver }
}

// Load assembles configuration from defaults, the .env file, process environment and explicit
// overrides, in increasing order of precedence, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnv, err := readDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := dotEnv[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "SHOP_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "SHOP_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "SHOP_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "SHOP_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "SHOP_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			Environment:     stringWithDefault(lookup, "SHOP_ENVIRONMENT", defaultEnvironment),
			LogLevel:        strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "SHOP_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "SHOP_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "SHOP_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "SHOP_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:      stringWithDefault(lookup, "SHOP_POSTGRES_DSN", ""),
			MaxConns: int32(intWithDefault(lookup, "SHOP_POSTGRES_MAX_CONNS", defaultPostgresMaxConns)),
		},
		Store: StoreConfig{
			Backend: strings.ToLower(stringWithDefault(lookup, "SHOP_STORE_BACKEND", defaultStoreBackend)),
			Ledger:  strings.ToLower(stringWithDefault(lookup, "SHOP_STORE_LEDGER", "")),
		},
		PubSub: PubSubConfig{
			ProjectID:         stringWithDefault(lookup, "SHOP_PUBSUB_PROJECT_ID", ""),
			NotificationTopic: stringWithDefault(lookup, "SHOP_PUBSUB_NOTIFICATION_TOPIC", defaultNotifyTopic),
		},
		PSP: PSPConfig{
			StripeAPIKey:    stringWithDefault(lookup, "SHOP_PSP_STRIPE_API_KEY", ""),
			StripeAccountID: stringWithDefault(lookup, "SHOP_PSP_STRIPE_ACCOUNT_ID", ""),
		},
		Orders: OrdersConfig{
			SelfCancelMethods:       csvWithDefault(lookup, "SHOP_ORDERS_SELF_CANCEL_METHODS", []string{"cod", "upi", "gpay", "phonepe", "paytm"}),
			Currency:                strings.ToUpper(stringWithDefault(lookup, "SHOP_ORDERS_CURRENCY", defaultCurrency)),
			Locale:                  stringWithDefault(lookup, "SHOP_ORDERS_LOCALE", defaultLocale),
			NotificationTimeout:     durationWithDefault(lookup, "SHOP_ORDERS_NOTIFICATION_TIMEOUT", defaultNotifyTimeout),
			NotificationConcurrency: intWithDefault(lookup, "SHOP_ORDERS_NOTIFICATION_CONCURRENCY", defaultNotifyWorkers),
			OrderNumberAttempts:     intWithDefault(lookup, "SHOP_ORDERS_NUMBER_ATTEMPTS", defaultNumberAttempts),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "SHOP_IDEMPOTENCY_HEADER", defaultIdemHeader),
			TTL:              durationWithDefault(lookup, "SHOP_IDEMPOTENCY_TTL", defaultIdemTTL),
			CleanupInterval:  durationWithDefault(lookup, "SHOP_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdemInterval),
			CleanupBatchSize: intWithDefault(lookup, "SHOP_IDEMPOTENCY_CLEANUP_BATCH", defaultIdemBatchSize),
		},
	}

	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Store.Ledger == "" {
		cfg.Store.Ledger = cfg.Store.Backend
	}

	secretFields := []*string{&cfg.PSP.StripeAPIKey, &cfg.Postgres.DSN}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LanguageTag parses the configured locale, falling back to English.
func (c OrdersConfig) LanguageTag() language.Tag {
	tag, err := language.Parse(c.Locale)
	if err != nil {
		return language.English
	}
	return tag
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	switch cfg.Store.Backend {
	case StoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			invalid = append(invalid, "Firestore.ProjectID")
		}
	case StoreMemory:
	default:
		invalid = append(invalid, "Store.Backend")
	}
	switch cfg.Store.Ledger {
	case StorePostgres:
		if cfg.Postgres.DSN == "" {
			invalid = append(invalid, "Postgres.DSN")
		}
	case StoreFirestore, StoreMemory:
		if cfg.Store.Ledger != cfg.Store.Backend {
			invalid = append(invalid, "Store.Ledger")
		}
	default:
		invalid = append(invalid, "Store.Ledger")
	}
	if _, err := currency.ParseISO(cfg.Orders.Currency); err != nil {
		invalid = append(invalid, "Orders.Currency")
	}
	if len(cfg.Orders.SelfCancelMethods) == 0 {
		invalid = append(invalid, "Orders.SelfCancelMethods")
	}
	if cfg.Orders.NotificationTimeout <= 0 {
		invalid = append(invalid, "Orders.NotificationTimeout")
	}
	if cfg.Orders.NotificationConcurrency <= 0 {
		invalid = append(invalid, "Orders.NotificationConcurrency")
	}
	if cfg.Orders.OrderNumberAttempts <= 0 {
		invalid = append(invalid, "Orders.OrderNumberAttempts")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		invalid = append(invalid, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		invalid = append(invalid, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		invalid = append(invalid, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		invalid = append(invalid, "Idempotency.CleanupBatchSize")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") && !strings.HasPrefix(trimmed, "sm://") {
		return value, nil
	}
	ref := "secret://" + strings.TrimPrefix(strings.TrimPrefix(trimmed, "sm://"), "secret://")
	if resolver == nil {
		return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, ref)
	if err != nil {
		return "", &SecretError{Ref: ref, Err: err}
	}
	return secret, nil
}

func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return append([]string(nil), fallback...)
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.ToLower(strings.TrimSpace(part)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
