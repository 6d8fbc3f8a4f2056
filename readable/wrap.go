package readable

import (
	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
)

// LegacyStream 旧式推送流的最小外观: 事件面加上pause/resume流控.
// Readable自身在切换到推送模式后也满足该接口.
type LegacyStream interface {
	On(event string, fn eventemitter.Handler) *eventemitter.Listener
	Pause()
	Resume()
}

// 从被包装流原样转发到新流的事件.
var wrapForwardEvents = []string{EventError, "close", "destroy", EventPause, EventResume}

// Wrap 把一个旧式推送流包装成拉取接口.
// 推送来的数据进入缓冲, 缓冲越过低水位线时暂停上游, 读空到水位线之下再恢复.
// 包装模式的Read自成一体, 不经过Source协议.
func Wrap(old LegacyStream, opts *Options) (*Readable, error) {
	r, err := New(nil, opts)
	if err != nil {
		return nil, err
	}
	r.mode = modeWrapped
	r.wrapped = old
	st := r.state

	old.On(EventEnd, func(...interface{}) {
		r.loop.Post(func() {
			if st.decoder != nil {
				if tail := st.decoder.Flush(); len(tail) > 0 {
					st.buffer.PushBack(chunklist.TextChunk(tail))
					st.length += len(tail)
				}
			}
			st.ended = true
			if st.length == 0 {
				r.endStream()
			}
		})
	})

	old.On(EventData, func(args ...interface{}) {
		r.loop.Post(func() {
			if len(args) != 1 {
				return
			}
			chunk := toChunk(args[0])
			if chunk == nil || chunk.Len() == 0 {
				return
			}
			if st.decoder != nil {
				decoded := st.decoder.Write(chunk.Bytes())
				if len(decoded) == 0 {
					return
				}
				chunk = chunklist.TextChunk(decoded)
			}
			st.buffer.PushBack(chunk)
			st.length += chunk.Len()
			r.emitter.Emit(EventReadable)
			if st.length > st.lowWaterMark && !r.wrapPaused {
				r.wrapPaused = true
				old.Pause()
			}
		})
	})

	for _, ev := range wrapForwardEvents {
		ev := ev
		old.On(ev, func(args ...interface{}) {
			r.loop.Post(func() {
				r.emitter.Emit(ev, args...)
			})
		})
	}

	return r, nil
}

// wrapRead 包装模式的Read: 只从缓冲取数, 必要时恢复被包装流.
func (r *Readable) wrapRead(n int) *chunklist.Chunk {
	st := r.state

	available := r.plan(n)
	if available == 0 && st.ended {
		if st.length == 0 {
			r.endStream()
		}
		return nil
	}

	var result *chunklist.Chunk
	if available > 0 {
		result = st.buffer.Take(available, st.length, st.textMode())
	}
	if result == nil || result.Len() == 0 {
		st.needReadable = true
		return nil
	}
	st.length -= result.Len()

	if st.length <= st.lowWaterMark && r.wrapPaused && !st.ended {
		r.wrapPaused = false
		r.wrapped.Resume()
	}
	if st.length == 0 && st.ended {
		r.endStream()
	}
	return result
}

// toChunk 把data事件携带的负载归一化为Chunk.
func toChunk(v interface{}) *chunklist.Chunk {
	switch x := v.(type) {
	case *chunklist.Chunk:
		return x
	case []byte:
		return chunklist.BytesChunk(x)
	case string:
		return chunklist.TextChunk(x)
	default:
		return nil
	}
}
