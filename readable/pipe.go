package readable

import (
	"github.com/rs/zerolog/log"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
)

// Destination pipe的下游契约.
// Write返回false表示数据已被缓冲但下游已满, 上游应暂停直到drain事件;
// End表示上游数据已全部交付; 事件面用于drain/pipe/unpipe的交互.
type Destination interface {
	Write(chunk *chunklist.Chunk) bool
	End()
	On(event string, fn eventemitter.Handler) *eventemitter.Listener
	Once(event string, fn eventemitter.Handler) *eventemitter.Listener
	RemoveListener(l *eventemitter.Listener)
	Emit(event string, args ...interface{})
}

// StdStream 进程级标准流的标记接口, 此类下游不随源结束自动End.
type StdStream interface {
	StdStream() bool
}

// PipeOptions pipe的配置.
type PipeOptions struct {
	// NoEnd 源结束时不自动调用下游的End.
	NoEnd bool
	// ChunkSize 每轮flow传给Read的字节数, 0表示不限定.
	ChunkSize int
}

// Pipe 将流接入下游并启动flow循环, 返回下游以便链式接驳.
func (r *Readable) Pipe(dest Destination, opts *PipeOptions) Destination {
	r.loop.Run(func() { r.pipe(dest, opts) })
	return dest
}

func (r *Readable) pipe(dest Destination, opts *PipeOptions) {
	st := r.state
	st.pipes = append(st.pipes, dest)

	doEnd := opts == nil || !opts.NoEnd
	if std, ok := dest.(StdStream); ok && std.StdStream() {
		doEnd = false
	}
	if doEnd {
		endListener := r.emitter.Once(EventEnd, func(...interface{}) {
			dest.End()
		})
		// 本源被unpipe时撤销end联动, 不影响其他源对同一下游的接驳
		var unpipeListener *eventemitter.Listener
		unpipeListener = dest.On(EventUnpipe, func(args ...interface{}) {
			if len(args) == 1 && args[0] == interface{}(r) {
				r.emitter.RemoveListener(endListener)
				dest.RemoveListener(unpipeListener)
			}
		})
	}

	dest.Emit(EventPipe, r)

	if !st.flowing {
		st.flowing = true
		chunkSize := 0
		if opts != nil {
			chunkSize = opts.ChunkSize
		}
		r.loop.Defer(func() { r.flow(chunkSize) })
	}
}

// flow pipe驱动的主循环: 从源读出Chunk扇出到每个下游,
// 任何一个下游报告拥塞都会挂起循环, 直到所有drain到齐再续.
func (r *Readable) flow(chunkSize int) {
	st := r.state
	n := chunkSize
	if n <= 0 {
		n = -1
	}

	needDrain := 0
	onDrain := func(...interface{}) {
		// drain可能来自下游自己的goroutine, 调度回本流的循环
		r.loop.Post(func() {
			needDrain--
			if needDrain == 0 {
				r.flow(chunkSize)
			}
		})
	}

	for len(st.pipes) > 0 {
		chunk := r.read(n)
		if chunk == nil {
			break
		}
		dests := make([]Destination, len(st.pipes))
		copy(dests, st.pipes)
		for _, dest := range dests {
			if !dest.Write(chunk) {
				needDrain++
				dest.Once(EventDrain, onDrain)
			}
		}
		r.emitter.Emit(EventData, chunk)
		if needDrain > 0 {
			log.Debug().Int("pending", needDrain).Msg("flow suspended on backpressure")
			return
		}
	}

	if len(st.pipes) == 0 {
		st.flowing = false
		if r.emitter.ListenerCount(EventData) > 0 && r.mode == modePull {
			r.emitDataEvents(false)
		}
		return
	}

	// 数据暂时耗尽但仍有下游: 等下一次readable再续
	r.emitter.Once(EventReadable, func(...interface{}) {
		r.flow(chunkSize)
	})
}

// Unpipe 摘除一个下游, dest为nil时摘除全部下游.
// flow循环在下一轮迭代观察到空下游集后自行停止.
func (r *Readable) Unpipe(dest Destination) *Readable {
	r.loop.Run(func() { r.unpipe(dest) })
	return r
}

func (r *Readable) unpipe(dest Destination) {
	st := r.state
	if dest == nil {
		pipes := st.pipes
		st.pipes = nil
		for _, d := range pipes {
			d.Emit(EventUnpipe, r)
		}
		return
	}
	for i, d := range st.pipes {
		if d == dest {
			st.pipes = append(st.pipes[:i:i], st.pipes[i+1:]...)
			dest.Emit(EventUnpipe, r)
			return
		}
	}
}
