package data

import (
	"context"
	"errors"
	"time"

	"github.com/erpc/contractreads/common"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const RedisDriverName = "redis"

var _ Connector = (*RedisConnector)(nil)

type RedisConnector struct {
	id         string
	logger     *zerolog.Logger
	client     *redis.Client
	keyPrefix  string
	getTimeout time.Duration
	setTimeout time.Duration
}

func NewRedisConnector(
	ctx context.Context,
	logger *zerolog.Logger,
	id string,
	cfg *common.RedisConnectorConfig,
) (*RedisConnector, error) {
	if cfg == nil {
		return nil, common.NewErrInvalidConfig("redis connector config is required")
	}
	lg := logger.With().Str("connector", id).Logger()
	lg.Debug().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("creating redis connector")

	connector := &RedisConnector{
		id:         id,
		logger:     &lg,
		keyPrefix:  cfg.KeyPrefix,
		getTimeout: cfg.GetTimeout.WithDefault(time.Second),
		setTimeout: cfg.SetTimeout.WithDefault(2 * time.Second),
	}
	connector.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.ConnPoolSize,
		DialTimeout:  cfg.InitTimeout.WithDefault(5 * time.Second),
		ReadTimeout:  connector.getTimeout,
		WriteTimeout: connector.setTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.InitTimeout.WithDefault(5*time.Second))
	defer cancel()
	if err := connector.client.Ping(pingCtx).Err(); err != nil {
		// go-redis reconnects on the next command, so a cold redis does not block startup
		lg.Warn().Err(err).Msg("redis is not reachable yet, persisted queries will be unavailable until it is")
	}

	return connector, nil
}

func (r *RedisConnector) Id() string {
	return r.id
}

func (r *RedisConnector) key(key string) string {
	if r.keyPrefix == "" {
		return key
	}
	return r.keyPrefix + ":" + key
}

func (r *RedisConnector) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.getTimeout)
	defer cancel()

	value, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		err = common.NewErrRecordNotFound(key, RedisDriverName)
	}
	recordOperation(r.id, "get", err)
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (r *RedisConnector) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.setTimeout)
	defer cancel()

	r.logger.Trace().Str("key", key).Int("size", len(value)).Msg("writing to redis")
	err := r.client.Set(ctx, r.key(key), value, ttl).Err()
	recordOperation(r.id, "set", err)
	return err
}

func (r *RedisConnector) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.setTimeout)
	defer cancel()

	err := r.client.Del(ctx, r.key(key)).Err()
	recordOperation(r.id, "delete", err)
	return err
}

func (r *RedisConnector) Close() error {
	return r.client.Close()
}
