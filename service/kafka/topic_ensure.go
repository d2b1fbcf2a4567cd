package kafka

import (
	"errors"
	"fmt"

	"PPHub/logger"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// EnsureTopic 会：
// 1) 不存在就按 c 创建；
// 2) 已存在且分区数 < 期望值时扩分区（Kafka 只能加不能减）。
func EnsureTopic(admin sarama.ClusterAdmin, c Config) error {
	log := logger.Named("kafka")
	parts := c.PartitionsPerTopic
	if parts <= 0 {
		parts = 1
	}
	rf := c.ReplicationFactor
	if rf <= 0 {
		rf = 1
	}

	descs, err := admin.DescribeTopics([]string{c.Topic})
	if err != nil {
		return fmt.Errorf("describe topic %s: %w", c.Topic, err)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if rf >= 3 {
			minISR = "2"
		}
		td := &sarama.TopicDetail{
			NumPartitions:     parts,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(c.Topic, td, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				log.Info("[Topic] exists (race)", zap.String("topic", c.Topic))
				return nil
			}
			return fmt.Errorf("create topic %s: %w", c.Topic, err)
		}
		log.Info("[Topic] created", zap.String("topic", c.Topic), zap.Int32("partitions", parts), zap.Int16("rf", rf))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if parts > cur {
		if err := admin.CreatePartitions(c.Topic, parts, nil, false); err != nil {
			return fmt.Errorf("expand partitions %s from %d to %d: %w", c.Topic, cur, parts, err)
		}
		log.Info("[Topic] partitions expanded", zap.String("topic", c.Topic), zap.Int32("from", cur), zap.Int32("to", parts))
		return nil
	}
	log.Debug("[Topic] exists", zap.String("topic", c.Topic), zap.Int32("partitions", cur))
	return nil
}

// EnsureTopicOnBrokers 连上集群执行 EnsureTopic
func EnsureTopicOnBrokers(c Config) error {
	cfg, err := BuildBaseConfig(c)
	if err != nil {
		return err
	}
	admin, err := sarama.NewClusterAdmin(c.Brokers, cfg)
	if err != nil {
		return fmt.Errorf("kafka admin: %w", err)
	}
	defer admin.Close()
	return EnsureTopic(admin, c)
}

func strPtr(s string) *string { return &s }
