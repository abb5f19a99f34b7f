package secrets

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/config"
	pkgsecrets "github.com/Checker-Finance/credpool/pkg/secrets"
)

// --- Mock Provider ---

type mockProvider struct {
	secrets map[string]map[string]string
	err     error
	calls   int
}

func (m *mockProvider) GetSecret(_ context.Context, key string) (map[string]string, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.secrets[key]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("secret not found: %s", key)
}

func newResolver(p pkgsecrets.Provider) *Resolver {
	return NewResolver(zap.NewNop(), p, pkgsecrets.NewCache[Bundle](5*time.Minute))
}

// --- Tests ---

func TestResolver_CacheMissThenHit(t *testing.T) {
	mock := &mockProvider{secrets: map[string]map[string]string{
		"prod/credpool": {
			"database_url": "postgres://audit",
			"jwt_secret":   "s3cret",
		},
	}}
	r := newResolver(mock)

	b, err := r.Resolve(context.Background(), "prod/credpool")
	require.NoError(t, err)
	assert.Equal(t, "postgres://audit", b.DatabaseURL)
	assert.Equal(t, "s3cret", b.JWTSecret)

	_, err = r.Resolve(context.Background(), "PROD/credpool")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.calls, "should not call provider on cache hit")
}

func TestResolver_ProviderError(t *testing.T) {
	mock := &mockProvider{err: errors.New("AccessDenied")}
	r := newResolver(mock)

	_, err := r.Resolve(context.Background(), "prod/credpool")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestResolver_EmptyBundleRejected(t *testing.T) {
	mock := &mockProvider{secrets: map[string]map[string]string{
		"prod/credpool": {"unrelated": "x"},
	}}
	r := newResolver(mock)

	_, err := r.Resolve(context.Background(), "prod/credpool")
	assert.Error(t, err)

	// failures are not cached
	_, _ = r.Resolve(context.Background(), "prod/credpool")
	assert.Equal(t, 2, mock.calls)
}

func TestResolver_ApplyTo(t *testing.T) {
	r := newResolver(pkgsecrets.StaticProvider{
		"prod/credpool": {"amqp_url": "amqp://mq", "redis_pass": " pw "},
	})

	cfg := &config.Config{SecretName: "prod/credpool", JWTSecret: "from-env", AMQPURL: "amqp://local"}
	require.NoError(t, r.ApplyTo(context.Background(), cfg))
	assert.Equal(t, "amqp://mq", cfg.AMQPURL)
	assert.Equal(t, "pw", cfg.RedisPass)
	assert.Equal(t, "from-env", cfg.JWTSecret, "empty bundle fields keep env values")
}

func TestResolver_ApplyToWithoutSecretName(t *testing.T) {
	mock := &mockProvider{}
	r := newResolver(mock)

	cfg := &config.Config{JWTSecret: "from-env"}
	require.NoError(t, r.ApplyTo(context.Background(), cfg))
	assert.Equal(t, "from-env", cfg.JWTSecret)
	assert.Equal(t, 0, mock.calls)
}
