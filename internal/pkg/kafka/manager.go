package kafka

import (
	"JobNest/internal/api/config"
	"JobNest/internal/service"
	"context"
	log "log/slog"

	"github.com/IBM/sarama"
)

// ConsumerManager 管理所有 Kafka 消费者
type ConsumerManager struct {
	hrEventConsumer sarama.ConsumerGroup
	hrEventHandler  sarama.ConsumerGroupHandler
}

// NewConsumerManager 构造函数
func NewConsumerManager(cfg *config.Config, notifyService service.NotifyService) (*ConsumerManager, error) {
	saramaCfg := newSaramaConfig(cfg.Kafka)

	hrEventConsumer, err := sarama.NewConsumerGroup(cfg.Kafka.Brokers, cfg.KafkaHrEventConsumer.GroupID, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &ConsumerManager{
		hrEventConsumer: hrEventConsumer,
		hrEventHandler:  NewHrEventHandler(notifyService),
	}, nil
}

// Start 启动所有消费者，阻塞直到 ctx 取消
func (m *ConsumerManager) Start(ctx context.Context, cfg *config.Config) error {
	go func() {
		topic := cfg.KafkaHrEventConsumer.Topic
		log.Info("HR event consumer started", "topic", topic)
		for {
			if err := m.hrEventConsumer.Consume(ctx, []string{topic}, m.hrEventHandler); err != nil {
				log.Error("Error from consumer", "err", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	<-ctx.Done()
	log.Info("Kafka Manager shutting down...")

	if err := m.hrEventConsumer.Close(); err != nil {
		log.Error("Failed to close hr event consumer", "err", err)
	}

	return nil
}
