package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultIdleTimeout         = 120 * time.Second
	defaultShopifyAPIVersion   = "2024-07"
	defaultShopifyTimeout      = 10 * time.Second
	defaultMetafieldNamespace  = "custom"
	defaultMetafieldKey        = "discountconfigdata"
	defaultEventTopic          = "discount-config-events"
	defaultSecurityEnvironment = "local"
	defaultOIDCJWKSURL         = "https://www.googleapis.com/oauth2/v3/certs"
	defaultOIDCIssuer          = "https://accounts.google.com"
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultIdempotencyTTL      = 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firestore   FirestoreConfig
	Shopify     ShopifyConfig
	PubSub      PubSubConfig
	Storage     StorageConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// ShopifyConfig controls the metafield publisher collaborator.
type ShopifyConfig struct {
	APIVersion         string
	Timeout            time.Duration
	MetafieldNamespace string
	MetafieldKey       string
}

// PubSubConfig addresses the configuration-event topic. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID string
	Topic     string
}

// StorageConfig names the snapshot archive bucket. Empty disables archiving.
type StorageConfig struct {
	SnapshotBucket string
}

// SecurityConfig groups request authentication settings.
type SecurityConfig struct {
	Environment    string
	AppProxySecret string
	OIDC           OIDCConfig
}

// IsProduction reports whether error detail should be suppressed in responses.
func (c SecurityConfig) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL  string
	Audience string
	Issuers  []string
}

// IdempotencyConfig controls the replay-cache middleware.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// SecretResolver resolves secret:// references found in configuration values.
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts a function to the SecretResolver interface.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret implements SecretResolver.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	if f == nil {
		return "", errors.New("config: secret resolver not configured")
	}
	return f(ctx, ref)
}

// Option customises configuration loading.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile       string
	envOverrides  map[string]string
	skipSystemEnv bool
	resolver      SecretResolver
}

// WithEnvFile overrides the dotenv file consulted before system environment variables.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap injects values that take precedence over file and system environment.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envOverrides = values }
}

// WithoutSystemEnv ignores the process environment; useful in tests.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.skipSystemEnv = true }
}

// WithSecretResolver installs the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// Load reads configuration from the environment (and optional .env file),
// resolves secret references, and validates required fields.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{envFile: defaultEnvFile}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	fileValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envOverrides != nil {
			if value, ok := options.envOverrides[key]; ok {
				return value, true
			}
		}
		if !options.skipSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		value, ok := fileValues[key]
		return value, ok
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Shopify: ShopifyConfig{
			APIVersion:         stringWithDefault(lookup, "API_SHOPIFY_API_VERSION", defaultShopifyAPIVersion),
			Timeout:            durationWithDefault(lookup, "API_SHOPIFY_TIMEOUT", defaultShopifyTimeout),
			MetafieldNamespace: stringWithDefault(lookup, "API_SHOPIFY_METAFIELD_NAMESPACE", defaultMetafieldNamespace),
			MetafieldKey:       stringWithDefault(lookup, "API_SHOPIFY_METAFIELD_KEY", defaultMetafieldKey),
		},
		PubSub: PubSubConfig{
			ProjectID: stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			Topic:     stringWithDefault(lookup, "API_PUBSUB_TOPIC", defaultEventTopic),
		},
		Storage: StorageConfig{
			SnapshotBucket: stringWithDefault(lookup, "API_STORAGE_SNAPSHOT_BUCKET", ""),
		},
		Security: SecurityConfig{
			Environment:    stringWithDefault(lookup, "API_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			AppProxySecret: stringWithDefault(lookup, "API_SECURITY_APP_PROXY_SECRET", ""),
			OIDC: OIDCConfig{
				JWKSURL:  stringWithDefault(lookup, "API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience: stringWithDefault(lookup, "API_SECURITY_OIDC_AUDIENCE", ""),
				Issuers:  csvWithDefault(lookup, "API_SECURITY_OIDC_ISSUERS", defaultOIDCIssuer),
			},
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if cfg.Security.AppProxySecret != "" {
		resolved, err := resolveSecret(ctx, cfg.Security.AppProxySecret, options.resolver)
		if err != nil {
			return Config{}, err
		}
		cfg.Security.AppProxySecret = resolved
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string
	if strings.TrimSpace(cfg.Server.Port) == "" {
		missing = append(missing, "API_SERVER_PORT")
	}
	if strings.TrimSpace(cfg.Firestore.ProjectID) == "" && strings.TrimSpace(cfg.Firestore.EmulatorHost) == "" {
		missing = append(missing, "API_FIRESTORE_PROJECT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}
	return nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "secret://") {
		return trimmed, nil
	}
	if resolver == nil {
		return "", fmt.Errorf("config: secret reference %q requires a resolver", redact(trimmed))
	}
	resolved, err := resolver.ResolveSecret(ctx, trimmed)
	if err != nil {
		return "", fmt.Errorf("config: resolve %q: %w", redact(trimmed), err)
	}
	return resolved, nil
}

func redact(ref string) string {
	if idx := strings.Index(ref, "?"); idx >= 0 {
		ref = ref[:idx]
	}
	return ref
}

func loadDotEnv(path string) (map[string]string, error) {
	values := make(map[string]string)
	if strings.TrimSpace(path) == "" {
		return values, nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return nil, fmt.Errorf("config: open env file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, `"'`)
		if key != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read env file: %w", err)
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
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback ...string) []string {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
