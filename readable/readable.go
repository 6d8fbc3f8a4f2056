package readable

import (
	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
	eventloop "github.com/usherasnick/bytestream/event-loop"
	textdecoder "github.com/usherasnick/bytestream/text-decoder"
)

// 流对外派发的事件名.
const (
	EventReadable = "readable"
	EventData     = "data"
	EventEnd      = "end"
	EventError    = "error"
	EventPipe     = "pipe"
	EventUnpipe   = "unpipe"
	EventDrain    = "drain"
	EventPause    = "pause"
	EventResume   = "resume"
)

// mode 流的运行形态, legacy与wrapped的切换不可逆.
type mode int

const (
	modePull mode = iota // 拉取模式: 数据只在Read时产生
	modeLegacy           // 旧式推送模式: 数据以data事件推送
	modeWrapped          // 包装模式: 数据来自被包装的旧式推送流
)

// Readable 拉取式带缓冲的事件驱动字节流.
// 所有状态变更都在流私有的事件循环上串行执行, 公开方法可在任意
// goroutine上调用, 会被自动调度到循环上.
type Readable struct {
	emitter *eventemitter.Emitter
	loop    *eventloop.Loop
	state   *readState
	source  Source
	mode    mode

	// legacy模式
	legacyPaused   bool
	legacyReadable bool // 有readable事件到达且尚未读空

	// wrapped模式
	wrapped    LegacyStream
	wrapPaused bool
}

// New 创建Readable. source为nil时安装一个在下一轮报错的占位Source.
func New(source Source, opts *Options) (*Readable, error) {
	st, err := newReadState(opts)
	if err != nil {
		return nil, err
	}
	r := &Readable{
		emitter: eventemitter.NewEmitter(),
		loop:    eventloop.NewLoop(),
		state:   st,
	}
	if source == nil {
		source = SourceFunc(func(n int, cb ReadCallback) {
			r.loop.Defer(func() {
				cb(ErrSourceNotImplemented, nil)
			})
		})
	}
	r.source = source
	return r, nil
}

// Loop 返回流的事件循环, 供测试与外部定时任务调度使用.
func (r *Readable) Loop() *eventloop.Loop {
	return r.loop
}

// Stop 停止流的事件循环, 之后流不再派发任何事件.
func (r *Readable) Stop() {
	r.loop.Stop()
}

// Buffered 返回当前缓冲的总字节数.
func (r *Readable) Buffered() (n int) {
	r.loop.Run(func() { n = r.state.length })
	return
}

// Ended 返回Source是否已宣告EOF.
func (r *Readable) Ended() (v bool) {
	r.loop.Run(func() { v = r.state.ended })
	return
}

// Flowing 返回pipe驱动的flow循环是否处于活动状态.
func (r *Readable) Flowing() (v bool) {
	r.loop.Run(func() { v = r.state.flowing })
	return
}

// SetEncoding 附加文本解码器, 此后Read返回的Chunk承载解码后的文本.
func (r *Readable) SetEncoding(label string) error {
	dec, err := textdecoder.NewDecoder(label)
	if err != nil {
		return err
	}
	r.loop.Run(func() { r.state.decoder = dec })
	return nil
}

// On 注册事件处理函数.
// 注册data事件会使拉取模式的流不可逆地切换到旧式推送模式.
func (r *Readable) On(event string, fn eventemitter.Handler) (l *eventemitter.Listener) {
	r.loop.Run(func() {
		l = r.emitter.On(event, fn)
		if event == EventData && r.mode == modePull && !r.state.flowing {
			r.emitDataEvents(false)
		}
	})
	return
}

// Once 注册只触发一次的事件处理函数.
func (r *Readable) Once(event string, fn eventemitter.Handler) (l *eventemitter.Listener) {
	r.loop.Run(func() {
		l = r.emitter.Once(event, fn)
		if event == EventData && r.mode == modePull && !r.state.flowing {
			r.emitDataEvents(false)
		}
	})
	return
}

// RemoveListener 注销事件处理函数.
func (r *Readable) RemoveListener(l *eventemitter.Listener) {
	r.loop.Run(func() { r.emitter.RemoveListener(l) })
}

// Emit 在流的事件循环上派发事件.
func (r *Readable) Emit(event string, args ...interface{}) {
	r.loop.Run(func() { r.emitter.Emit(event, args...) })
}

// ListenerCount 返回某个事件当前注册的处理函数个数.
func (r *Readable) ListenerCount(event string) (n int) {
	r.loop.Run(func() { n = r.emitter.ListenerCount(event) })
	return
}

// Read 从缓冲取出最多n个字节(文本模式下为文本片段).
// n为负表示取出全部缓冲数据; 返回nil表示当前无数据可取, 应等待readable事件.
func (r *Readable) Read(n int) (out *chunklist.Chunk) {
	r.loop.Run(func() { out = r.read(n) })
	return
}

// plan 计算本次Read可以返回的字节数.
func (r *Readable) plan(n int) int {
	st := r.state
	if st.length == 0 && st.ended {
		return 0
	}
	if n < 0 {
		return st.length
	}
	if n == 0 {
		return 0
	}
	if n > st.length {
		if !st.ended {
			st.needReadable = true
			return 0
		}
		return st.length
	}
	return n
}

func (r *Readable) read(n int) *chunklist.Chunk {
	if r.mode == modeWrapped {
		return r.wrapRead(n)
	}
	st := r.state

	available := r.plan(n)

	// 流已结束且无可返回数据: 缓冲也排空时进入终结流程
	if available == 0 && st.ended {
		if st.length == 0 {
			r.endStream()
		}
		return nil
	}

	// 在实际取数之前决定是否补充: 同步Source可以在同一轮内补足短读
	doRead := st.needReadable || st.length-available <= st.lowWaterMark
	if st.ended || st.reading {
		doRead = false
	}
	if doRead {
		st.reading = true
		st.sync = true
		r.source.ReadChunk(st.bufferSize, r.onSourceChunk)
		st.sync = false

		// 同步回调已经落盘, 重新计算可返回的数据量
		if !st.reading {
			available = r.plan(n)
		}
	}

	var result *chunklist.Chunk
	if available > 0 {
		result = st.buffer.Take(available, st.length, st.textMode())
	}

	if result == nil || result.Len() == 0 {
		st.needReadable = true
		result = nil
	} else {
		st.length -= result.Len()
	}

	// 本次读(或读中的同步补充)已经触到EOF且缓冲排空: 终结流
	if st.length == 0 && st.ended {
		r.endStream()
	}
	return result
}

// onSourceChunk Source交付数据的着陆点, 异步回调会被调度回事件循环.
func (r *Readable) onSourceChunk(err error, chunk *chunklist.Chunk) {
	if !r.loop.OnLoop() {
		r.loop.Post(func() { r.onSourceChunk(err, chunk) })
		return
	}
	st := r.state
	st.reading = false
	sync := st.sync

	if err != nil {
		r.emitter.Emit(EventError, err)
		return
	}

	if chunk == nil || chunk.Len() == 0 {
		r.onEOF(sync)
		return
	}

	if st.decoder != nil {
		decoded := st.decoder.Write(chunk.Bytes())
		if len(decoded) == 0 {
			// 整个Chunk都是残缺的多字节序列, 等下一个Chunk
			chunk = nil
		} else {
			chunk = chunklist.TextChunk(decoded)
		}
	}
	if chunk != nil {
		st.buffer.PushBack(chunk)
		st.length += chunk.Len()
	}

	if st.length <= st.lowWaterMark && !st.ended {
		// 低于低水位线, 立即追加一次补充以跨过水位
		st.reading = true
		r.source.ReadChunk(st.bufferSize, r.onSourceChunk)
	} else if st.needReadable && !sync {
		st.needReadable = false
		r.emitter.Emit(EventReadable)
	}
}

func (r *Readable) onEOF(sync bool) {
	st := r.state
	if st.decoder != nil {
		if tail := st.decoder.Flush(); len(tail) > 0 {
			st.buffer.PushBack(chunklist.TextChunk(tail))
			st.length += len(tail)
		}
	}
	st.ended = true
	if sync {
		// 消费方就在read内部, 会直接观察到ended状态
		return
	}
	if st.length > 0 {
		st.needReadable = false
		r.emitter.Emit(EventReadable)
	} else {
		r.endStream()
	}
}

// endStream 终结流: end事件至多派发一次, 且总是在下一轮派发.
func (r *Readable) endStream() {
	st := r.state
	if st.endEmitted {
		return
	}
	st.ended = true
	st.endEmitted = true
	r.loop.Defer(func() {
		r.emitter.Emit(EventEnd)
	})
}
