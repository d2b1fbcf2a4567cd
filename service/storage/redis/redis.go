package redis

import (
	"context"
	"sync"
	"time"

	"PPHub/logger"
	"PPHub/tools/errs"
	"PPHub/tools/safe"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config 用于初始化 Redis
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// RedisManager 持有一个 client 以及它开出的订阅
type RedisManager struct {
	client *redis.Client

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisManager 建立连接并 Ping 一次
func NewRedisManager(ctx context.Context, c Config) (*RedisManager, error) {
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errs.WrapMsg(err, "redis ping", "addr", c.Addr)
	}
	return &RedisManager{client: rdb}, nil
}

// NewFromClient 包装一个已有的 client（测试里配合 miniredis 用）
func NewFromClient(client *redis.Client) *RedisManager {
	safe.MustNotNil(client, "redis client")
	return &RedisManager{client: client}
}

// Client 获取 Redis Client
func (m *RedisManager) Client() *redis.Client { return m.client }

// Publish 向频道发布一条消息
func (m *RedisManager) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := m.client.Publish(ctx, channel, payload).Err(); err != nil {
		return errs.WrapMsg(err, "redis publish", "channel", channel)
	}
	return nil
}

// Subscribe 订阅频道，订阅确认后才返回；fn 在单独的 goroutine 里按到达顺序被调用，
// ctx 结束或 Close 时退出。
func (m *RedisManager) Subscribe(ctx context.Context, channel string, fn func([]byte)) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errs.New("redis manager closed")
	}
	ps := m.client.Subscribe(ctx, channel)
	m.subs = append(m.subs, ps)
	m.mu.Unlock()

	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return errs.WrapMsg(err, "redis subscribe", "channel", channel)
	}

	ch := ps.Channel()
	safe.SafeGo(func() {
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fn([]byte(msg.Payload))
			}
		}
	})
	return nil
}

// Close 关闭所有订阅和连接
func (m *RedisManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	m.mu.Unlock()

	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			logger.Log.Debug("[Redis] close pubsub", zap.Error(err))
		}
	}
	return m.client.Close()
}
