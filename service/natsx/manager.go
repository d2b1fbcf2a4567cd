package natsx

import (
	"context"
	"fmt"
	"time"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxSyncPublisher
	consumer *NatsxConsumer
}

// NewNatsManager 初始化；发布失败按 retries 次数重试
func NewNatsManager(cfg NatsxConfig, retries int, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	return &NatsManager{
		client: c,
		producer: &NatsxSyncPublisher{
			P:       NewNatsxProducer(c),
			Retries: retries,
			Backoff: 200 * time.Millisecond,
		},
		consumer: NewNatsxConsumer(c, middlewares...),
	}, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// RegisterRoute 注册业务路由（biz -> subject / queue）
func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Publish 生产消息（按 biz 路由）
func (m *NatsManager) Publish(ctx context.Context, biz string, data []byte, hdr map[string]string) error {
	if m == nil || m.producer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.producer.Publish(ctx, biz, data, hdr)
}

// Subscribe 订阅，同组内用 Queue 分摊；广播则 Queue 置空
func (m *NatsManager) Subscribe(ctx context.Context, biz string, h NatsxHandler) error {
	if m == nil || m.consumer == nil {
		return fmt.Errorf("manager not initialized")
	}
	return m.consumer.Subscribe(ctx, biz, h)
}
