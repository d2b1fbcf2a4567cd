package chat

import (
	"context"

	"PPHub/global"
	"PPHub/logger"
	"PPHub/service/storage/redis"

	"go.uber.org/zap"
)

// RedisBackplane publishes broadcasts on a redis pub/sub channel.
type RedisBackplane struct {
	m       *redis.RedisManager
	channel string
	log     *zap.Logger
}

func NewRedisBackplane(m *redis.RedisManager, channel string) *RedisBackplane {
	return &RedisBackplane{m: m, channel: channel, log: logger.Named("backplane")}
}

func DialRedisBackplane(ctx context.Context, conf global.ServerConfig) (*RedisBackplane, error) {
	m, err := redis.NewRedisManager(ctx, redis.Config{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
		PoolSize: conf.Redis.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	return NewRedisBackplane(m, conf.Channel), nil
}

// Manager exposes the underlying connection, e.g. for replica presence.
func (r *RedisBackplane) Manager() *redis.RedisManager { return r.m }

func (r *RedisBackplane) Publish(ctx context.Context, b Broadcast) error {
	data, err := encodeBroadcast(b)
	if err != nil {
		return err
	}
	return r.m.Publish(ctx, r.channel, data)
}

func (r *RedisBackplane) Subscribe(ctx context.Context, fn func(Broadcast)) error {
	return r.m.Subscribe(ctx, r.channel, func(data []byte) {
		b, err := decodeBroadcast(data)
		if err != nil {
			r.log.Warn("[Backplane] drop malformed broadcast", zap.String("channel", r.channel), zap.Error(err))
			return
		}
		fn(b)
	})
}

func (r *RedisBackplane) Close() error { return r.m.Close() }
