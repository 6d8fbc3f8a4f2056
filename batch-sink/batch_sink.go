package batchsink

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
	"github.com/usherasnick/bytestream/readable"
)

const (
	__DefaultMaxBatchSize = 16
	__DefaultFlushTimeMs  = 2000
)

// Config 批量下游配置.
type Config struct {
	MaxBatchSize int // 每批最多合并的Chunk个数
	FlushTimeMs  int // 不满一批时的定时冲刷间隔
}

// Sink 批量下游装饰器 (线程安全).
// 把上游推来的Chunk按批攒起来, 攒满一批或到达冲刷间隔时合并成
// 单个Chunk转发给内层下游, 内层下游的拥塞原样向上游传递.
type Sink struct {
	*eventemitter.Emitter

	mu      sync.Mutex
	cfg     *Config
	inner   readable.Destination
	batch   []*chunklist.Chunk
	bytes   int
	timer   *time.Timer
	stalled bool // 内层下游拥塞, 等待其drain
	ended   bool
}

var _ readable.Destination = (*Sink)(nil)

// NewSink 返回批量下游实例, 配置零值用默认值补齐.
func NewSink(inner readable.Destination, cfg *Config) *Sink {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = __DefaultMaxBatchSize
	}
	if cfg.FlushTimeMs <= 0 {
		cfg.FlushTimeMs = __DefaultFlushTimeMs
	}
	s := &Sink{
		Emitter: eventemitter.NewEmitter(),
		cfg:     cfg,
		inner:   inner,
	}
	// 内层drain到齐后解除自身的拥塞并向上游转发drain
	inner.On(readable.EventDrain, func(...interface{}) {
		s.mu.Lock()
		wasStalled := s.stalled
		s.stalled = false
		s.mu.Unlock()
		if wasStalled {
			s.Emit(readable.EventDrain)
		}
	})
	return s
}

// Write 攒批一个Chunk, 攒满一批立即冲刷.
// 返回false表示内层下游拥塞, 上游应暂停直到drain事件.
func (s *Sink) Write(chunk *chunklist.Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		log.Warn().Msg("write after batch sink finished, chunk dropped")
		return true
	}

	s.batch = append(s.batch, chunk)
	s.bytes += chunk.Len()

	if len(s.batch) >= s.cfg.MaxBatchSize {
		return s.flushLocked()
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(time.Duration(s.cfg.FlushTimeMs)*time.Millisecond, s.flushOnTimer)
	}
	return !s.stalled
}

// End 冲刷残批并终结内层下游.
func (s *Sink) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.flushLocked()
	s.mu.Unlock()

	s.inner.End()
	s.Emit("finish")
}

func (s *Sink) flushOnTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if s.ended || len(s.batch) == 0 {
		return
	}
	s.flushLocked()
}

// flushLocked 把当前批合并成单个Chunk转发给内层下游.
// 返回内层下游是否仍可继续接收.
func (s *Sink) flushLocked() bool {
	if len(s.batch) == 0 {
		return !s.stalled
	}

	var merged chunklist.List
	for _, c := range s.batch {
		merged.PushBack(c)
	}
	combined := merged.Take(-1, s.bytes, s.batch[0].IsText())
	s.batch = nil
	s.bytes = 0
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}

	if !s.inner.Write(combined) {
		s.stalled = true
	}
	return !s.stalled
}
