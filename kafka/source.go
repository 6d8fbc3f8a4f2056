package kafka

import (
	"os"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog/log"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	"github.com/usherasnick/bytestream/readable"
)

// Source 从Kafka分区消费消息的流数据源.
// 每条消息的Value作为一个Chunk交付, 分区消费者关闭时宣告EOF.
type Source struct {
	conf     *Config
	consumer sarama.Consumer
	pc       sarama.PartitionConsumer
}

var _ readable.Source = (*Source)(nil)

// NewSource 新建Kafka数据源, offset为负时按环境变量决定从最老还是最新开始.
func NewSource(cfg *Config, offset int64) *Source {
	conf := newSaramaConfig(cfg)
	client, err := sarama.NewClient(cfg.Brokers, conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to kafka")
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka consumer")
	}

	if offset < 0 {
		if os.Getenv("CONSUME_NOW") == "1" {
			log.Warn().Msgf("consume partition %d from oldest...", cfg.Partition)
			offset = sarama.OffsetOldest
		} else {
			log.Info().Msgf("consume partition %d from newest...", cfg.Partition)
			offset = sarama.OffsetNewest
		}
	}

	src, err := newSourceFromConsumer(cfg, consumer, offset)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to consume partition, partition: %v, offset: %v", cfg.Partition, offset)
	}
	return src
}

func newSourceFromConsumer(cfg *Config, consumer sarama.Consumer, offset int64) (*Source, error) {
	pc, err := consumer.ConsumePartition(cfg.Topic, cfg.Partition, offset)
	if err != nil {
		return nil, err
	}

	log.Info().Msgf("kafka source ready, partition: %v, offset: %v", cfg.Partition, offset)

	return &Source{
		conf:     cfg,
		consumer: consumer,
		pc:       pc,
	}, nil
}

// ReadChunk 实现readable.Source: 异步交付下一条消息.
func (s *Source) ReadChunk(n int, cb readable.ReadCallback) {
	go func() {
		message, ok := <-s.pc.Messages()
		if !ok {
			cb(nil, nil)
			return
		}
		cb(nil, chunklist.BytesChunk(message.Value))
	}()
}

// Close 关闭分区消费者, 进行中的ReadChunk会以EOF收尾.
func (s *Source) Close() {
	if err := s.pc.Close(); err != nil {
		log.Warn().Err(err).Msgf("failed to close partition consumer, partition: %v", s.conf.Partition)
	}
	if err := s.consumer.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close kafka consumer")
	}
}
