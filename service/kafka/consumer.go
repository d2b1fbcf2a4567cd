package kafka

import (
	"context"

	"PPHub/logger"
	"PPHub/tools/errs"
	"PPHub/tools/safe"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// PartitionConsumer 直接读某个分区。与 consumer group 不同，每个实例都会读到全部消息，
// 适合做广播。
type PartitionConsumer struct {
	consumer sarama.Consumer
	router   *HandlerRouter
	log      *zap.Logger
}

// NewPartitionConsumer 按 Config 连接 broker
func NewPartitionConsumer(c Config, router *HandlerRouter) (*PartitionConsumer, error) {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	consumer, err := sarama.NewConsumer(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka consumer", "brokers", c.Brokers)
	}
	return NewPartitionConsumerFrom(consumer, router), nil
}

// NewPartitionConsumerFrom 包装已有的 Consumer（测试里传 sarama/mocks）
func NewPartitionConsumerFrom(consumer sarama.Consumer, router *HandlerRouter) *PartitionConsumer {
	return &PartitionConsumer{
		consumer: consumer,
		router:   router,
		log:      logger.Named("kafka"),
	}
}

// Consume 打开分区后立刻返回；消息在后台 goroutine 里按 offset 顺序交给 router，
// ctx 结束时关闭分区。done 在后台 goroutine 退出后关闭。
func (c *PartitionConsumer) Consume(ctx context.Context, topic string, partition int32, offset int64) (done <-chan struct{}, err error) {
	pc, err := c.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka consume partition", "topic", topic, "partition", partition)
	}
	ch := make(chan struct{})
	safe.SafeGo(func() {
		defer close(ch)
		defer func() {
			if err := pc.Close(); err != nil {
				c.log.Debug("[Kafka] close partition", zap.Error(err))
			}
		}()
		msgs, errc := pc.Messages(), pc.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := c.router.Dispatch(msg.Topic, msg.Key, msg.Value); err != nil {
					c.log.Warn("[Kafka] handler error",
						zap.String("topic", msg.Topic),
						zap.Int64("offset", msg.Offset),
						zap.Error(err))
				}
			case cerr, ok := <-errc:
				if !ok {
					errc = nil
					continue
				}
				c.log.Warn("[Kafka] consumer error", zap.Error(cerr))
			}
		}
	})
	return ch, nil
}

func (c *PartitionConsumer) Close() error {
	return c.consumer.Close()
}
