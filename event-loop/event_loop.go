package eventloop

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
	"github.com/petermattis/goid"
)

// Loop 单goroutine协作式调度器.
// 所有投递的任务在同一个goroutine上串行执行, 后投递的任务总是在
// 当前任务执行完毕之后才开始, 以此获得"本轮结束后再运行"的语义.
type Loop struct {
	mu   sync.Mutex
	cond *sync.Cond

	q       deque.Deque
	running bool // 当前是否有任务正在执行
	stopped bool

	gid int64 // 调度goroutine的id
}

// NewLoop 创建并启动一个Loop.
func NewLoop() *Loop {
	l := &Loop{}
	l.cond = sync.NewCond(&l.mu)

	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

func (l *Loop) run(started chan<- struct{}) {
	atomic.StoreInt64(&l.gid, goid.Get())
	close(started)

	l.mu.Lock()
	for {
		for l.q.Len() == 0 && !l.stopped {
			// 队列排空时唤醒Flush的等待者
			l.cond.Broadcast()
			l.cond.Wait()
		}
		if l.stopped && l.q.Len() == 0 {
			l.cond.Broadcast()
			l.mu.Unlock()
			return
		}

		task := l.q.PopFront().(func())
		l.running = true
		l.mu.Unlock()

		task()

		l.mu.Lock()
		l.running = false
	}
}

// OnLoop 返回调用方是否就是调度goroutine.
func (l *Loop) OnLoop() bool {
	return goid.Get() == atomic.LoadInt64(&l.gid)
}

// Post 将任务追加到队尾, 可在任意goroutine上调用.
// Loop已停止时任务被丢弃并返回false.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.q.PushBack(fn)
	// 同一个cond上既有调度goroutine也有Flush的等待者, 必须全量唤醒
	l.cond.Broadcast()
	return true
}

// Defer 调度任务在当前轮次结束后运行.
// 任务串行执行, 因此排到队尾即可保证当前任务先于它完成.
func (l *Loop) Defer(fn func()) {
	l.Post(fn)
}

// Run 在调度goroutine上执行任务并等待其完成.
// 若调用方已在调度goroutine上则直接内联执行, 允许重入.
// 任务中的panic会转移到调用方抛出, 调度goroutine本身不受影响.
func (l *Loop) Run(fn func()) {
	if l.OnLoop() {
		fn()
		return
	}
	var panicked interface{}
	done := make(chan struct{})
	posted := l.Post(func() {
		defer close(done)
		defer func() { panicked = recover() }()
		fn()
	})
	if !posted {
		return
	}
	<-done
	if panicked != nil {
		panic(panicked)
	}
}

// Flush 阻塞直到队列排空且当前任务执行完毕.
// 不能在调度goroutine上调用.
func (l *Loop) Flush() {
	if l.OnLoop() {
		panic("eventloop: Flush called on the loop goroutine")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for (l.q.Len() > 0 || l.running) && !l.stopped {
		l.cond.Wait()
	}
}

// Stop 停止调度, 已入队的任务仍会执行完毕.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return
	}
	l.stopped = true
	l.cond.Broadcast()
}
