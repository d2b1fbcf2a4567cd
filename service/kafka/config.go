package kafka

import (
	"strings"
	"time"

	"PPHub/tools/errs"

	"github.com/Shopify/sarama"
)

// Config 描述一个 topic 的读写方
type Config struct {
	Brokers               []string
	Topic                 string
	ClientID              string
	Version               string // 例如 "2.1.0"，空则用 2.1.0
	PartitionsPerTopic    int32  // 广播用 1 个分区保证全序
	ReplicationFactor     int16  // 单机=1；生产=3
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	Partitioner           string // hash/manual；manual 时按消息里的 Partition 发送
	ConsumerInitialOffset string // newest/oldest
	AutoCreateTopic       bool
}

// DefaultConfig 本地单机默认值
func DefaultConfig() Config {
	return Config{
		Brokers:               []string{"127.0.0.1:9092"},
		Topic:                 "pphub.chatHub",
		ClientID:              "pphub",
		Version:               "2.1.0",
		PartitionsPerTopic:    1,
		ReplicationFactor:     1,
		ProducerRetries:       5,
		ProducerCompression:   "none",
		ConsumerInitialOffset: "newest",
		AutoCreateTopic:       true,
	}
}

// InitialOffset 把配置里的 newest/oldest 转成 sarama 的 offset
func (c Config) InitialOffset() int64 {
	if strings.EqualFold(c.ConsumerInitialOffset, "oldest") {
		return sarama.OffsetOldest
	}
	return sarama.OffsetNewest
}

// BuildBaseConfig 生成 producer/consumer 共用的 sarama 配置
func BuildBaseConfig(c Config) (*sarama.Config, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	if c.Version != "" {
		v, err := sarama.ParseKafkaVersion(c.Version)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka version", "version", c.Version)
		}
		cfg.Version = v
	}
	if c.ClientID != "" {
		cfg.ClientID = c.ClientID
	}

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = c.ProducerRetries
	if cfg.Producer.Retry.Max <= 0 {
		cfg.Producer.Retry.Max = 1
	}
	if strings.EqualFold(c.Partitioner, "manual") {
		cfg.Producer.Partitioner = sarama.NewManualPartitioner
	} else {
		cfg.Producer.Partitioner = sarama.NewHashPartitioner
	}
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	cfg.Consumer.Offsets.Initial = c.InitialOffset()
	cfg.Consumer.Return.Errors = true

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, errs.WrapMsg(err, "kafka config")
	}
	return cfg, nil
}
