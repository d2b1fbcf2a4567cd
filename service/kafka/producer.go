package kafka

import (
	"PPHub/tools/errs"

	"github.com/Shopify/sarama"
)

// Producer 同步生产者
type Producer struct {
	sp sarama.SyncProducer
}

// NewProducer 按 Config 连接 broker
func NewProducer(c Config) (*Producer, error) {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return nil, err
	}
	sp, err := sarama.NewSyncProducer(c.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka producer", "brokers", c.Brokers)
	}
	return NewProducerFrom(sp), nil
}

// NewProducerFrom 包装已有的 SyncProducer（测试里传 sarama/mocks）
func NewProducerFrom(sp sarama.SyncProducer) *Producer {
	return &Producer{sp: sp}
}

// SendSync 发送并等待 broker 确认；key 决定分区
func (p *Producer) SendSync(topic string, key, value []byte) (partition int32, offset int64, err error) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}
	partition, offset, err = p.sp.SendMessage(msg)
	if err != nil {
		return 0, 0, errs.WrapMsg(err, "kafka send", "topic", topic)
	}
	return partition, offset, nil
}

// SendSyncPartition 发到指定分区；需要 Partitioner 配成 manual
func (p *Producer) SendSyncPartition(topic string, partition int32, value []byte) (offset int64, err error) {
	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Partition: partition,
		Value:     sarama.ByteEncoder(value),
	}
	_, offset, err = p.sp.SendMessage(msg)
	if err != nil {
		return 0, errs.WrapMsg(err, "kafka send", "topic", topic, "partition", partition)
	}
	return offset, nil
}

func (p *Producer) Close() error {
	return p.sp.Close()
}
