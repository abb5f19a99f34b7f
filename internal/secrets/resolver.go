package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/config"
	pkgsecrets "github.com/Checker-Finance/credpool/pkg/secrets"
)

// Bundle holds the deployment secrets that may override environment values.
type Bundle struct {
	DatabaseURL string
	JWTSecret   string
	AMQPURL     string
	RedisPass   string
}

// ParseBundle extracts a Bundle from a raw secret map. At least one known key
// must be present.
func ParseBundle(m map[string]string) (Bundle, error) {
	b := Bundle{
		DatabaseURL: strings.TrimSpace(m["database_url"]),
		JWTSecret:   strings.TrimSpace(m["jwt_secret"]),
		AMQPURL:     strings.TrimSpace(m["amqp_url"]),
		RedisPass:   strings.TrimSpace(m["redis_pass"]),
	}
	if b == (Bundle{}) {
		return Bundle{}, fmt.Errorf("secret contains none of database_url, jwt_secret, amqp_url, redis_pass")
	}
	return b, nil
}

// Apply overrides cfg fields with the non-empty bundle values.
func (b Bundle) Apply(cfg *config.Config) {
	if b.DatabaseURL != "" {
		cfg.DatabaseURL = b.DatabaseURL
	}
	if b.JWTSecret != "" {
		cfg.JWTSecret = b.JWTSecret
	}
	if b.AMQPURL != "" {
		cfg.AMQPURL = b.AMQPURL
	}
	if b.RedisPass != "" {
		cfg.RedisPass = b.RedisPass
	}
}

// Resolver loads secret bundles from a provider, caching them locally to
// reduce API calls.
type Resolver struct {
	logger   *zap.Logger
	provider pkgsecrets.Provider
	cache    *pkgsecrets.Cache[Bundle]
}

// NewResolver constructs a bundle resolver.
func NewResolver(logger *zap.Logger, provider pkgsecrets.Provider, cache *pkgsecrets.Cache[Bundle]) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger, provider: provider, cache: cache}
}

// Resolve fetches the named bundle, or returns the cached copy.
func (r *Resolver) Resolve(ctx context.Context, name string) (Bundle, error) {
	key := strings.ToLower(name)
	if b, ok := r.cache.Get(key); ok {
		return b, nil
	}

	raw, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("key", name),
			zap.Error(err))
		return Bundle{}, fmt.Errorf("resolve secret bundle %q: %w", name, err)
	}

	b, err := ParseBundle(raw)
	if err != nil {
		return Bundle{}, fmt.Errorf("parse secret %q: %w", name, err)
	}

	r.cache.Put(key, b)
	r.logger.Info("secrets.bundle_resolved",
		zap.String("key", name),
		zap.Bool("database_url", b.DatabaseURL != ""),
		zap.Bool("jwt_secret", b.JWTSecret != ""),
		zap.Bool("amqp_url", b.AMQPURL != ""),
		zap.Bool("redis_pass", b.RedisPass != ""),
	)
	return b, nil
}

// ApplyTo resolves cfg.SecretName and overrides cfg in place. It is a no-op
// when no secret name is configured.
func (r *Resolver) ApplyTo(ctx context.Context, cfg *config.Config) error {
	if cfg.SecretName == "" {
		return nil
	}
	b, err := r.Resolve(ctx, cfg.SecretName)
	if err != nil {
		return err
	}
	b.Apply(cfg)
	return nil
}
