package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/rs/zerolog/log"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
	"github.com/usherasnick/bytestream/readable"
)

// Sink 把流数据发布到Kafka主题的下游.
// 生产者输入通道饱和时Write返回false报告拥塞, 后台投递完成后派发drain.
type Sink struct {
	*eventemitter.Emitter

	conf     *Config
	producer sarama.AsyncProducer
}

var _ readable.Destination = (*Sink)(nil)

// NewSink 新建Kafka下游.
func NewSink(cfg *Config) *Sink {
	conf := newSaramaConfig(cfg)
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, conf)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create kafka producer")
	}
	return newSinkWithProducer(cfg, producer)
}

func newSinkWithProducer(cfg *Config, producer sarama.AsyncProducer) *Sink {
	s := &Sink{
		Emitter:  eventemitter.NewEmitter(),
		conf:     cfg,
		producer: producer,
	}
	go s.watchErrors()
	return s
}

func (s *Sink) watchErrors() {
	for err := range s.producer.Errors() {
		log.Error().Err(err).Str("topic", s.conf.Topic).Msg("kafka publish failed")
		s.Emit(readable.EventError, err.Err)
	}
}

// Write 发布一个Chunk.
// 输入通道已满时挂起一次后台投递并返回false, 投递完成后派发drain事件,
// 在此之前上游不应再写入, 以保证消息顺序.
func (s *Sink) Write(chunk *chunklist.Chunk) bool {
	message := &sarama.ProducerMessage{
		Topic: s.conf.Topic,
		Value: sarama.ByteEncoder(chunk.Bytes()),
	}
	select {
	case s.producer.Input() <- message:
		return true
	default:
	}

	go func() {
		s.producer.Input() <- message
		s.Emit(readable.EventDrain)
	}()
	return false
}

// End 冲刷并关闭生产者, 然后派发finish事件.
func (s *Sink) End() {
	if s.producer == nil {
		return
	}
	if err := s.producer.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close kafka producer")
		s.Emit(readable.EventError, err)
	}
	s.producer = nil
	s.Emit("finish")
}
