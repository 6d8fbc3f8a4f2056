package buffersink

import (
	"sync"

	"github.com/gammazero/deque"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
	"github.com/usherasnick/bytestream/readable"
)

const __DefaultHighWaterMark = 16384

// Sink 容量受限的内存下游.
// 缓冲到达高水位线后Write返回false报告拥塞, 消费方通过Consume腾出
// 空间, 水位回落后派发一次drain事件. 事件为finish表示上游已End.
type Sink struct {
	*eventemitter.Emitter

	mu            sync.Mutex
	q             deque.Deque
	length        int
	highWaterMark int
	needDrain     bool
	ended         bool
}

var _ readable.Destination = (*Sink)(nil)

// NewSink 返回Sink实例, highWaterMark为0时使用默认值16384.
func NewSink(highWaterMark int) *Sink {
	if highWaterMark <= 0 {
		highWaterMark = __DefaultHighWaterMark
	}
	return &Sink{
		Emitter:       eventemitter.NewEmitter(),
		highWaterMark: highWaterMark,
	}
}

// Write 缓冲一个Chunk.
// 返回false表示缓冲已到达高水位线, 上游应暂停直到drain事件.
func (s *Sink) Write(chunk *chunklist.Chunk) bool {
	s.mu.Lock()
	s.q.PushBack(chunk)
	s.length += chunk.Len()
	full := s.length >= s.highWaterMark
	if full {
		s.needDrain = true
	}
	s.mu.Unlock()
	return !full
}

// End 宣告上游数据已全部交付, 派发finish事件.
func (s *Sink) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.mu.Unlock()
	s.Emit("finish")
}

// Consume 取出最多n个缓冲的Chunk并返回, n非正表示全部取出.
// 水位回落到高水位线之下时派发drain事件.
func (s *Sink) Consume(n int) []*chunklist.Chunk {
	s.mu.Lock()
	if n <= 0 || n > s.q.Len() {
		n = s.q.Len()
	}
	out := make([]*chunklist.Chunk, 0, n)
	for i := 0; i < n; i++ {
		c := s.q.PopFront().(*chunklist.Chunk)
		s.length -= c.Len()
		out = append(out, c)
	}
	drained := s.needDrain && s.length < s.highWaterMark
	if drained {
		s.needDrain = false
	}
	s.mu.Unlock()

	if drained {
		s.Emit(readable.EventDrain)
	}
	return out
}

// Len 返回缓冲的总字节数.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.length
}

// Ended 返回上游是否已End.
func (s *Sink) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// Bytes 返回缓冲中全部数据的拷贝, 不消费缓冲.
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, 0, s.length)
	for i := 0; i < s.q.Len(); i++ {
		out = append(out, s.q.At(i).(*chunklist.Chunk).Bytes()...)
	}
	return out
}
