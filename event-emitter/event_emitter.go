package eventemitter

import "sync"

// Handler 事件处理函数.
type Handler func(args ...interface{})

// Listener 一次On/Once注册的凭据, 用于后续注销.
type Listener struct {
	event   string
	fn      Handler
	once    bool
	removed bool
}

// Emitter 按事件名分发的通用事件分发器.
// 注册表的增删改受互斥锁保护, 处理函数在锁外调用, 因此处理函数内
// 可以再次注册或注销监听.
type Emitter struct {
	mu        sync.Mutex
	listeners map[string][]*Listener
}

// NewEmitter 返回Emitter实例.
func NewEmitter() *Emitter {
	return &Emitter{
		listeners: make(map[string][]*Listener),
	}
}

// On 注册事件处理函数, 返回注销凭据.
func (e *Emitter) On(event string, fn Handler) *Listener {
	return e.add(event, fn, false)
}

// Once 注册只触发一次的事件处理函数, 返回注销凭据.
func (e *Emitter) Once(event string, fn Handler) *Listener {
	return e.add(event, fn, true)
}

func (e *Emitter) add(event string, fn Handler, once bool) *Listener {
	l := &Listener{event: event, fn: fn, once: once}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], l)
	return l
}

// RemoveListener 注销单个事件处理函数, 重复注销是无害的.
func (e *Emitter) RemoveListener(l *Listener) {
	if l == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(l)
}

func (e *Emitter) removeLocked(l *Listener) {
	if l.removed {
		return
	}
	l.removed = true
	ls := e.listeners[l.event]
	for i, x := range ls {
		if x == l {
			e.listeners[l.event] = append(ls[:i:i], ls[i+1:]...)
			break
		}
	}
}

// RemoveAllListeners 注销某个事件的全部处理函数.
func (e *Emitter) RemoveAllListeners(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, l := range e.listeners[event] {
		l.removed = true
	}
	delete(e.listeners, event)
}

// ListenerCount 返回某个事件当前注册的处理函数个数.
func (e *Emitter) ListenerCount(event string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners[event])
}

// Emit 分发事件, 按注册顺序调用各处理函数.
// Once注册的处理函数在调用前先注销; 分发过程中被注销的监听不会再被调用,
// 同一个Once监听被并发Emit时只会触发一次.
func (e *Emitter) Emit(event string, args ...interface{}) {
	e.mu.Lock()
	ls := e.listeners[event]
	snapshot := make([]*Listener, len(ls))
	copy(snapshot, ls)
	e.mu.Unlock()

	for _, l := range snapshot {
		if !e.claim(l) {
			continue
		}
		l.fn(args...)
	}
}

// claim 在调用处理函数前确认监听仍然有效, Once监听在此处注销.
func (e *Emitter) claim(l *Listener) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l.removed {
		return false
	}
	if l.once {
		e.removeLocked(l)
	}
	return true
}
