package chat

import (
	"context"

	"PPHub/global"
	"PPHub/logger"
	"PPHub/service/kafka"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

const kafkaPartition int32 = 0

// KafkaBackplane writes broadcasts to partition 0 of a topic and reads
// that partition directly, so every replica reads everything in one order.
type KafkaBackplane struct {
	topic    string
	producer *kafka.Producer
	consumer *kafka.PartitionConsumer
	router   *kafka.HandlerRouter
	log      *zap.Logger
}

func NewKafkaBackplane(topic string, producer *kafka.Producer, consumer *kafka.PartitionConsumer, router *kafka.HandlerRouter) *KafkaBackplane {
	return &KafkaBackplane{
		topic:    topic,
		producer: producer,
		consumer: consumer,
		router:   router,
		log:      logger.Named("backplane"),
	}
}

func kafkaConfig(conf global.ServerConfig) kafka.Config {
	c := kafka.DefaultConfig()
	c.Brokers = conf.Kafka.Brokers
	c.Topic = conf.Channel
	c.Partitioner = "manual"
	return c
}

func DialKafkaBackplane(conf global.ServerConfig) (*KafkaBackplane, error) {
	c := kafkaConfig(conf)
	if c.AutoCreateTopic {
		if err := kafka.EnsureTopicOnBrokers(c); err != nil {
			return nil, err
		}
	}
	producer, err := kafka.NewProducer(c)
	if err != nil {
		return nil, err
	}
	router := kafka.NewHandlerRouter()
	consumer, err := kafka.NewPartitionConsumer(c, router)
	if err != nil {
		_ = producer.Close()
		return nil, err
	}
	return NewKafkaBackplane(c.Topic, producer, consumer, router), nil
}

func (k *KafkaBackplane) Publish(_ context.Context, b Broadcast) error {
	data, err := encodeBroadcast(b)
	if err != nil {
		return err
	}
	_, err = k.producer.SendSyncPartition(k.topic, kafkaPartition, data)
	return err
}

// Subscribe starts reading at the newest offset: a replica that joins late
// does not replay earlier conversation.
func (k *KafkaBackplane) Subscribe(ctx context.Context, fn func(Broadcast)) error {
	k.router.RegisterHandler(k.topic, func(_ string, _, value []byte) error {
		b, err := decodeBroadcast(value)
		if err != nil {
			return err
		}
		fn(b)
		return nil
	})
	_, err := k.consumer.Consume(ctx, k.topic, kafkaPartition, sarama.OffsetNewest)
	return err
}

func (k *KafkaBackplane) Close() error {
	perr := k.producer.Close()
	cerr := k.consumer.Close()
	if perr != nil {
		return perr
	}
	return cerr
}
