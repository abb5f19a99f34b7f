package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/credpool/pkg/model"
)

const maxTxRetries = 16

// raiseOrdinal sets KEYS[1] to ARGV[1] unless it already holds a larger value.
var raiseOrdinal = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(ARGV[1])
if n > cur then
	redis.call('SET', KEYS[1], ARGV[1])
	return n
end
return cur
`)

// reader is the read surface shared by *redis.Client and *redis.Tx.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// RedisConfig addresses the live pool state.
type RedisConfig struct {
	Addr     string
	DB       int
	Password string
	Prefix   string
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// HybridStore keeps the pool in Redis and optionally holds a Postgres pool for
// the audit ledger. Mutations are WATCH/MULTI transactions over the touched keys.
type HybridStore struct {
	redis  *redis.Client
	PG     *pgxpool.Pool
	prefix string
	logger *zap.Logger
}

// NewHybrid creates a Redis-first store, connecting Postgres when pgURL is set.
func NewHybrid(rc RedisConfig, pgURL string, pgPoolConfig PGPoolConfig, logger *zap.Logger) (*HybridStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		DB:       rc.DB,
		Password: rc.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	var pgPool *pgxpool.Pool
	if pgURL != "" {
		cfg, err := pgxpool.ParseConfig(pgURL)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("invalid pg config: %w", err)
		}
		if pgPoolConfig.MaxConns > 0 {
			cfg.MaxConns = pgPoolConfig.MaxConns
		}
		if pgPoolConfig.MinConns > 0 {
			cfg.MinConns = pgPoolConfig.MinConns
		}
		if pgPoolConfig.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pgPoolConfig.MaxConnLifetime
		}
		if pgPoolConfig.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pgPoolConfig.MaxConnIdleTime
		}
		if pgPoolConfig.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pgPoolConfig.HealthCheckPeriod
		}
		pgPool, err = pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return NewRedis(rdb, rc.Prefix, pgPool, logger), nil
}

// NewRedis wraps an existing client. pg may be nil.
func NewRedis(rdb *redis.Client, prefix string, pg *pgxpool.Pool, logger *zap.Logger) *HybridStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "credpool"
	}
	return &HybridStore{redis: rdb, PG: pg, prefix: prefix, logger: logger}
}

func (s *HybridStore) credentialKey(id string) string { return s.prefix + ":credential:" + id }
func (s *HybridStore) identityKey(id string) string   { return s.prefix + ":identity:" + id }
func (s *HybridStore) indexKey() string               { return s.prefix + ":credentials" }
func (s *HybridStore) ordinalKey() string             { return s.prefix + ":ordinal" }

func (s *HybridStore) ListCredentials(ctx context.Context) ([]model.Credential, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list credential ids: %w", err)
	}
	creds, err := s.readCredentials(ctx, s.redis, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(creds, func(i, j int) bool {
		if creds[i].Ordinal != creds[j].Ordinal {
			return creds[i].Ordinal < creds[j].Ordinal
		}
		return creds[i].ID < creds[j].ID
	})
	return creds, nil
}

func (s *HybridStore) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	data, err := s.redis.Get(ctx, s.credentialKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	var c model.Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode credential %s: %w", id, err)
	}
	return &c, nil
}

// GetIdentity returns the identity record, or an unassigned one if none exists.
func (s *HybridStore) GetIdentity(ctx context.Context, id string) (*model.Identity, error) {
	return s.readIdentity(ctx, s.redis, id)
}

func (s *HybridStore) NextOrdinal(ctx context.Context) (int, error) {
	n, err := s.redis.Incr(ctx, s.ordinalKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("next ordinal: %w", err)
	}
	return int(n), nil
}

func (s *HybridStore) ReserveOrdinal(ctx context.Context, n int) error {
	if err := raiseOrdinal.Run(ctx, s.redis, []string{s.ordinalKey()}, n).Err(); err != nil {
		return fmt.Errorf("reserve ordinal %d: %w", n, err)
	}
	return nil
}

func (s *HybridStore) Update(ctx context.Context, identityID string, credentialIDs []string, fn func(*Tx) error) error {
	keys := make([]string, 0, len(credentialIDs)+1)
	if identityID != "" {
		keys = append(keys, s.identityKey(identityID))
	}
	for _, id := range credentialIDs {
		keys = append(keys, s.credentialKey(id))
	}

	txf := func(rtx *redis.Tx) error {
		var ident *model.Identity
		if identityID != "" {
			var err error
			if ident, err = s.readIdentity(ctx, rtx, identityID); err != nil {
				return err
			}
		}
		creds, err := s.readCredentials(ctx, rtx, credentialIDs)
		if err != nil {
			return err
		}

		tx := newTx(ident, creds)
		if err := fn(tx); err != nil {
			return err
		}

		puts, dels, identityDirty := tx.changes()
		if len(puts) == 0 && len(dels) == 0 && !identityDirty {
			return nil
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, c := range puts {
				data, err := json.Marshal(c)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.credentialKey(c.ID), data, 0)
				pipe.SAdd(ctx, s.indexKey(), c.ID)
			}
			for _, id := range dels {
				pipe.Del(ctx, s.credentialKey(id))
				pipe.SRem(ctx, s.indexKey(), id)
			}
			if identityDirty {
				data, err := json.Marshal(tx.Identity)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.identityKey(tx.Identity.ID), data, 0)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.redis.Watch(ctx, txf, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("store.redis.tx_retry",
			zap.String("identity", identityID),
			zap.Int("attempt", attempt))
		select {
		case <-time.After(time.Duration(attempt+1) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ErrConflict
}

func (s *HybridStore) readIdentity(ctx context.Context, c reader, id string) (*model.Identity, error) {
	data, err := c.Get(ctx, s.identityKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &model.Identity{ID: id}, nil
	} else if err != nil {
		return nil, err
	}
	var ident model.Identity
	if err := json.Unmarshal(data, &ident); err != nil {
		return nil, fmt.Errorf("decode identity %s: %w", id, err)
	}
	return &ident, nil
}

func (s *HybridStore) readCredentials(ctx context.Context, c reader, ids []string) ([]model.Credential, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.credentialKey(id)
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds := make([]model.Credential, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var cred model.Credential
		if err := json.Unmarshal([]byte(raw), &cred); err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", ids[i], err)
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

func (s *HybridStore) HealthCheck(ctx context.Context) error {
	if s.redis == nil {
		return fmt.Errorf("redis not initialized")
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	if s.PG != nil {
		if err := s.PG.Ping(ctx); err != nil {
			return fmt.Errorf("postgres ping failed: %w", err)
		}
	}
	return nil
}

func (s *HybridStore) Close() error {
	if s.PG != nil {
		s.PG.Close()
	}
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
