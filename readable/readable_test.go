package readable

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
)

// testSink 测试用下游, 按需定制Write行为.
type testSink struct {
	*eventemitter.Emitter

	mu      sync.Mutex
	chunks  []*chunklist.Chunk
	writeFn func(n int, chunk *chunklist.Chunk) bool
	ended   bool
}

func newTestSink() *testSink {
	return &testSink{Emitter: eventemitter.NewEmitter()}
}

func (s *testSink) Write(chunk *chunklist.Chunk) bool {
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	n := len(s.chunks)
	fn := s.writeFn
	s.mu.Unlock()
	if fn != nil {
		return fn(n, chunk)
	}
	return true
}

func (s *testSink) End() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
}

func (s *testSink) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *testSink) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, 0, len(s.chunks))
	for _, c := range s.chunks {
		out = append(out, c.Bytes())
	}
	return out
}

// asyncChunks 每次ReadChunk在独立goroutine上异步交付一个片段, 交付完宣告EOF.
func asyncChunks(chunks ...[]byte) Source {
	i := 0
	return SourceFunc(func(n int, cb ReadCallback) {
		if i >= len(chunks) {
			go cb(nil, nil)
			return
		}
		c := chunks[i]
		i++
		go cb(nil, chunklist.BytesChunk(c))
	})
}

func intPtr(v int) *int { return &v }

// 场景: 同步Source连读排空, end只来一次.
func TestSimpleDrain(t *testing.T) {
	r, err := New(FromChunks([]byte("abc"), []byte("de")), nil)
	require.NoError(t, err)
	defer r.Stop()

	var ends int32
	r.On(EventEnd, func(...interface{}) { atomic.AddInt32(&ends, 1) })

	got := r.Read(-1)
	require.NotNil(t, got)
	// 第一次读触发跨低水位线的连环补充, 五个字节一次取齐
	assert.Equal(t, []byte("abcde"), got.Bytes())

	assert.Nil(t, r.Read(-1))
	r.Loop().Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ends))
}

// 场景: 定长读, 结束路径允许短给.
func TestExactSizeReads(t *testing.T) {
	r, err := New(FromChunks([]byte{0x01, 0x02, 0x03, 0x04}), nil)
	require.NoError(t, err)
	defer r.Stop()

	endCount := 0
	r.On(EventEnd, func(...interface{}) { endCount++ })

	require.Equal(t, []byte{0x01}, r.Read(1).Bytes())
	require.Equal(t, []byte{0x02, 0x03}, r.Read(2).Bytes())
	// 已结束, n超过剩余量时交出全部剩余字节
	require.Equal(t, []byte{0x04}, r.Read(5).Bytes())
	require.Nil(t, r.Read(-1))

	r.Loop().Flush()
	assert.Equal(t, 1, endCount)
}

// 场景: 双下游背压, 任何一个下游拥塞都挂起flow, drain到齐后继续.
func TestBackpressureTwoDests(t *testing.T) {
	c1, c2, c3 := []byte("one"), []byte("two"), []byte("three")
	r, err := New(asyncChunks(c1, c2, c3), &Options{LowWaterMark: intPtr(0)})
	require.NoError(t, err)
	defer r.Stop()

	d1 := newTestSink()
	d2 := newTestSink()
	drained := make(chan struct{})
	d2.writeFn = func(n int, chunk *chunklist.Chunk) bool {
		if n == 2 {
			// 第二个Chunk拥塞, 50ms后drain
			time.AfterFunc(50*time.Millisecond, func() {
				close(drained)
				d2.Emit(EventDrain)
			})
			return false
		}
		return true
	}

	ended := make(chan struct{})
	r.Once(EventEnd, func(...interface{}) { close(ended) })

	r.Pipe(d1, nil)
	r.Pipe(d2, nil)

	// 等第二个Chunk送达后确认flow已挂起
	require.Eventually(t, func() bool { return len(d2.Received()) == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, d1.Received(), 2)
	assert.Len(t, d2.Received(), 2)
	select {
	case <-drained:
		t.Fatal("flow resumed before drain")
	default:
	}

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("stream did not end")
	}

	// 两个下游收到相同的三个Chunk且顺序一致
	want := [][]byte{c1, c2, c3}
	assert.Equal(t, want, d1.Received())
	assert.Equal(t, want, d2.Received())
	assert.True(t, d1.Ended())
	assert.True(t, d2.Ended())
}

// 场景: 中途unpipe后切换到data事件继续放完.
func TestUnpipeMidFlow(t *testing.T) {
	c1, c2, c3 := []byte("aa"), []byte("bb"), []byte("cc")
	// 第一个Chunk之后的交付等unpipe完成再放行, 保证下游恰好只收到第一个Chunk
	release := make(chan struct{})
	inner := asyncChunks(c1, c2, c3)
	calls := 0
	src := SourceFunc(func(n int, cb ReadCallback) {
		calls++
		if calls == 1 {
			inner.ReadChunk(n, cb)
			return
		}
		go func() {
			<-release
			inner.ReadChunk(n, cb)
		}()
	})
	r, err := New(src, &Options{LowWaterMark: intPtr(0)})
	require.NoError(t, err)
	defer r.Stop()

	d1 := newTestSink()
	unpiped := make(chan struct{})
	d1.On(EventUnpipe, func(...interface{}) { close(unpiped) })

	var mu sync.Mutex
	var dataChunks [][]byte
	ended := make(chan struct{})
	r.Once(EventEnd, func(...interface{}) { close(ended) })

	r.Pipe(d1, nil)
	require.Eventually(t, func() bool { return len(d1.Received()) == 1 }, time.Second, time.Millisecond)

	r.On(EventData, func(args ...interface{}) {
		mu.Lock()
		dataChunks = append(dataChunks, args[0].(*chunklist.Chunk).Bytes())
		mu.Unlock()
	})
	r.Unpipe(nil)
	close(release)

	select {
	case <-unpiped:
	case <-time.After(time.Second):
		t.Fatal("no unpipe event on destination")
	}

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after legacy switch")
	}

	// 下游只收到unpipe之前的数据, 其余经data事件放完
	assert.Len(t, d1.Received(), 1)
	mu.Lock()
	rest := append([][]byte{}, dataChunks...)
	mu.Unlock()
	var flat []byte
	for _, c := range rest {
		flat = append(flat, c...)
	}
	assert.Equal(t, []byte("bbcc"), flat)
	assert.False(t, d1.Ended())
}

// 场景: 同步Source当轮补足短读, 不派发readable.
func TestSynchronousSourceShortRead(t *testing.T) {
	calls := 0
	src := SourceFunc(func(n int, cb ReadCallback) {
		calls++
		if calls == 1 {
			cb(nil, chunklist.BytesChunk([]byte("xy")))
			return
		}
		cb(nil, nil)
	})
	r, err := New(src, nil)
	require.NoError(t, err)
	defer r.Stop()

	readables := int32(0)
	r.On(EventReadable, func(...interface{}) { atomic.AddInt32(&readables, 1) })

	got := r.Read(2)
	require.NotNil(t, got)
	assert.Equal(t, []byte("xy"), got.Bytes())

	r.Loop().Flush()
	assert.Equal(t, int32(0), atomic.LoadInt32(&readables))
}

// pushStream 测试用旧式推送流.
type pushStream struct {
	*eventemitter.Emitter
	paused int32
}

func newPushStream() *pushStream {
	return &pushStream{Emitter: eventemitter.NewEmitter()}
}

func (p *pushStream) Pause()  { atomic.StoreInt32(&p.paused, 1) }
func (p *pushStream) Resume() { atomic.StoreInt32(&p.paused, 0) }

// 场景: 包装旧式推送流后按拉取接口消费.
func TestWrapLegacyStream(t *testing.T) {
	old := newPushStream()
	r, err := Wrap(old, nil)
	require.NoError(t, err)
	defer r.Stop()

	ended := make(chan struct{})
	r.Once(EventEnd, func(...interface{}) { close(ended) })

	old.Emit(EventData, []byte("hello"))
	old.Emit(EventData, []byte("world"))
	old.Emit(EventEnd)
	r.Loop().Flush()

	require.Equal(t, []byte("hel"), r.Read(3).Bytes())
	require.Equal(t, []byte("loworld"), r.Read(-1).Bytes())
	require.Nil(t, r.Read(-1))

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("wrapped stream did not end")
	}
}

// 包装模式的水位联动: 缓冲越线暂停上游, 读空后恢复.
func TestWrapPausesUpstream(t *testing.T) {
	old := newPushStream()
	r, err := Wrap(old, &Options{LowWaterMark: intPtr(4)})
	require.NoError(t, err)
	defer r.Stop()

	old.Emit(EventData, []byte("abcdef"))
	r.Loop().Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&old.paused))

	require.NotNil(t, r.Read(-1))
	r.Loop().Flush()
	assert.Equal(t, int32(0), atomic.LoadInt32(&old.paused))
}

func TestReadZero(t *testing.T) {
	r, err := New(asyncChunks([]byte("abc")), nil)
	require.NoError(t, err)
	defer r.Stop()

	readable := make(chan struct{})
	r.Once(EventReadable, func(...interface{}) { close(readable) })

	assert.Nil(t, r.Read(0))

	// read(0)记下readable欠账, 数据到达后兑现
	select {
	case <-readable:
	case <-time.After(time.Second):
		t.Fatal("no readable after data arrived")
	}
}

func TestReadMoreThanBuffered(t *testing.T) {
	blocked := make(chan ReadCallback, 1)
	src := SourceFunc(func(n int, cb ReadCallback) {
		blocked <- cb
	})
	// 低水位线取0: 数据到达后不做连环补充, 欠下的readable直接兑现
	r, err := New(src, &Options{LowWaterMark: intPtr(0)})
	require.NoError(t, err)
	defer r.Stop()

	cb := func() ReadCallback {
		assert.Nil(t, r.Read(8))
		return <-blocked
	}()
	cb(nil, chunklist.BytesChunk([]byte("abc")))

	readable := make(chan struct{})
	r.Once(EventReadable, func(...interface{}) { close(readable) })

	// 缓冲只有3字节, 要8字节拿不到, 返回nil并记欠账
	cb2 := func() ReadCallback {
		assert.Nil(t, r.Read(8))
		return <-blocked
	}()
	cb2(nil, chunklist.BytesChunk([]byte("defgh")))

	select {
	case <-readable:
	case <-time.After(time.Second):
		t.Fatal("no readable after enough data arrived")
	}

	got := r.Read(8)
	require.NotNil(t, got)
	assert.Equal(t, []byte("abcdefgh"), got.Bytes())
}

func TestErrorFromSource(t *testing.T) {
	boom := errors.New("boom")
	src := SourceFunc(func(n int, cb ReadCallback) {
		cb(boom, nil)
	})
	r, err := New(src, nil)
	require.NoError(t, err)
	defer r.Stop()

	var got error
	r.On(EventError, func(args ...interface{}) { got = args[0].(error) })

	assert.Nil(t, r.Read(-1))
	r.Loop().Flush()
	assert.Equal(t, boom, got)
}

func TestDefaultSourceErrors(t *testing.T) {
	r, err := New(nil, nil)
	require.NoError(t, err)
	defer r.Stop()

	errs := make(chan error, 1)
	r.On(EventError, func(args ...interface{}) { errs <- args[0].(error) })

	assert.Nil(t, r.Read(-1))
	select {
	case e := <-errs:
		assert.Equal(t, ErrSourceNotImplemented, e)
	case <-time.After(time.Second):
		t.Fatal("default source did not report an error")
	}
}

func TestSetEncodingSplitsCodePoint(t *testing.T) {
	euro := []byte("€")
	r, err := New(FromChunks(euro[:2], euro[2:]), &Options{Encoding: "utf-8"})
	require.NoError(t, err)
	defer r.Stop()

	got := r.Read(-1)
	require.NotNil(t, got)
	assert.True(t, got.IsText())
	// 跨Chunk被劈开的码点在第二个Chunk到齐后整只交付
	assert.Equal(t, "€", got.String())
}

func TestUnknownEncodingRejected(t *testing.T) {
	_, err := New(nil, &Options{Encoding: "klingon"})
	assert.Error(t, err)
}

func TestLegacyDataEvents(t *testing.T) {
	r, err := New(FromChunks([]byte("abc"), []byte("de")), nil)
	require.NoError(t, err)
	defer r.Stop()

	var mu sync.Mutex
	var got []byte
	ended := make(chan struct{})
	r.Once(EventEnd, func(...interface{}) { close(ended) })
	r.On(EventData, func(args ...interface{}) {
		mu.Lock()
		got = append(got, args[0].(*chunklist.Chunk).Bytes()...)
		mu.Unlock()
	})

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("legacy stream did not end")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("abcde"), got)
}

func TestLegacyPauseResume(t *testing.T) {
	r, err := New(FromChunks([]byte("abc"), []byte("de")), nil)
	require.NoError(t, err)
	defer r.Stop()

	var mu sync.Mutex
	var got []byte
	ended := make(chan struct{})
	r.Once(EventEnd, func(...interface{}) { close(ended) })

	// 先暂停再注册data, 恢复后数据才放行
	r.Pause()
	r.On(EventData, func(args ...interface{}) {
		mu.Lock()
		got = append(got, args[0].(*chunklist.Chunk).Bytes()...)
		mu.Unlock()
	})
	r.Loop().Flush()
	mu.Lock()
	assert.Empty(t, got)
	mu.Unlock()

	r.Resume()
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("stream did not end after resume")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte("abcde"), got)
}

func TestSwitchWhileFlowingPanics(t *testing.T) {
	r, err := New(asyncChunks([]byte("abc")), nil)
	require.NoError(t, err)
	defer r.Stop()

	r.Pipe(newTestSink(), nil)
	// flow循环活动时切换到旧式推送模式是非法的
	assert.Panics(t, func() { r.Pause() })
}

func TestUnpipeIdempotent(t *testing.T) {
	r, err := New(asyncChunks([]byte("abc")), nil)
	require.NoError(t, err)
	defer r.Stop()

	d := newTestSink()
	unpipes := int32(0)
	d.On(EventUnpipe, func(...interface{}) { atomic.AddInt32(&unpipes, 1) })

	r.Pipe(d, nil)
	r.Unpipe(d)
	r.Unpipe(d)
	r.Loop().Flush()
	assert.Equal(t, int32(1), atomic.LoadInt32(&unpipes))
}

func TestPipeNoEnd(t *testing.T) {
	r, err := New(FromChunks([]byte("a")), nil)
	require.NoError(t, err)
	defer r.Stop()

	d := newTestSink()
	ended := make(chan struct{})
	r.Once(EventEnd, func(...interface{}) { close(ended) })

	r.Pipe(d, &PipeOptions{NoEnd: true})
	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("stream did not end")
	}
	r.Loop().Flush()
	assert.False(t, d.Ended())
}

func TestPipeEmitsPipeEvent(t *testing.T) {
	r, err := New(asyncChunks(), nil)
	require.NoError(t, err)
	defer r.Stop()

	d := newTestSink()
	piped := make(chan interface{}, 1)
	d.On(EventPipe, func(args ...interface{}) { piped <- args[0] })

	r.Pipe(d, nil)
	select {
	case src := <-piped:
		assert.Equal(t, interface{}(r), src)
	case <-time.After(time.Second):
		t.Fatal("no pipe event on destination")
	}
}

// 不变式: 任何时刻至多一个未完成的Source调用.
func TestSingleOutstandingRead(t *testing.T) {
	inner := FromChunks([]byte("abcdefgh"), []byte("ijkl"))
	outstanding := int32(0)
	src := SourceFunc(func(n int, cb ReadCallback) {
		assert.Equal(t, int32(1), atomic.AddInt32(&outstanding, 1))
		inner.ReadChunk(n, func(err error, c *chunklist.Chunk) {
			atomic.AddInt32(&outstanding, -1)
			cb(err, c)
		})
	})
	r, err := New(src, nil)
	require.NoError(t, err)
	defer r.Stop()

	var out bytes.Buffer
	for {
		c := r.Read(3)
		if c == nil {
			if r.Ended() && r.Buffered() == 0 {
				break
			}
			continue
		}
		out.Write(c.Bytes())
	}
	assert.Equal(t, "abcdefghijkl", out.String())
}

// 守恒律: 逐次Read取回的字节连接起来等于Source产出的全部字节.
func TestReadConservation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chunks := rapid.SliceOfN(
			rapid.SliceOfN(rapid.Byte(), 1, 64), 0, 12,
		).Draw(t, "chunks").([][]byte)
		lwm := rapid.IntRange(0, 128).Draw(t, "lwm").(int)

		var want bytes.Buffer
		for _, c := range chunks {
			want.Write(c)
		}

		r, err := New(FromChunks(chunks...), &Options{LowWaterMark: &lwm})
		require.NoError(t, err)
		defer r.Stop()

		var got bytes.Buffer
		for {
			n := rapid.IntRange(-1, 48).Draw(t, "n").(int)
			if n == 0 {
				n = -1
			}
			c := r.Read(n)
			if c == nil {
				if r.Ended() && r.Buffered() == 0 {
					break
				}
				continue
			}
			got.Write(c.Bytes())
		}

		require.Equal(t, want.String(), got.String())
	})
}
