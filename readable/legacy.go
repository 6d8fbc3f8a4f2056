package readable

import (
	chunklist "github.com/usherasnick/bytestream/chunk-list"
)

// emitDataEvents 将拉取模式的流不可逆地切换为旧式推送流:
// 每次readable事件驱动一个内层循环, 把缓冲读空并逐块以data事件推出.
// 必须在事件循环上调用; 在flow循环活动时切换是非法的.
func (r *Readable) emitDataEvents(startPaused bool) {
	st := r.state
	if st.flowing {
		panic("bytestream: cannot switch to data events while pipes are flowing")
	}
	r.mode = modeLegacy
	r.legacyPaused = startPaused

	r.emitter.On(EventReadable, func(...interface{}) {
		r.legacyReadable = true
		var chunk *chunklist.Chunk
		for !r.legacyPaused {
			chunk = r.read(-1)
			if chunk == nil {
				break
			}
			r.emitter.Emit(EventData, chunk)
		}
		if chunk == nil {
			r.legacyReadable = false
			st.needReadable = true
		}
	})

	// 启动泵: 无论缓冲里有没有存货都先安排一次readable
	r.loop.Defer(func() {
		r.emitter.Emit(EventReadable)
	})
}

// Pause 暂停data事件的推送.
// 对拉取模式的流调用会先切换到旧式推送模式并以暂停状态启动.
func (r *Readable) Pause() {
	r.loop.Run(func() {
		switch r.mode {
		case modeWrapped:
			r.wrapPaused = true
			r.wrapped.Pause()
		case modePull:
			r.emitDataEvents(true)
			r.emitter.Emit(EventPause)
		default:
			r.legacyPaused = true
			r.emitter.Emit(EventPause)
		}
	})
}

// Resume 恢复data事件的推送.
// 对拉取模式的流调用会先切换到旧式推送模式再开始推送.
func (r *Readable) Resume() {
	r.loop.Run(func() {
		switch r.mode {
		case modeWrapped:
			r.wrapPaused = false
			r.wrapped.Resume()
		case modePull:
			r.emitDataEvents(false)
			r.emitter.Emit(EventResume)
		default:
			if r.legacyPaused {
				r.legacyPaused = false
				if !r.legacyReadable && r.state.length == 0 {
					// 缓冲已空, 促发一次补充; 异步数据到达时会派发readable
					r.read(0)
				}
				if r.legacyReadable || r.state.length > 0 {
					// 缓冲里还有存货, 补一次readable把内层循环叫醒
					r.loop.Defer(func() {
						r.emitter.Emit(EventReadable)
					})
				}
			}
			r.emitter.Emit(EventResume)
		}
	})
}
