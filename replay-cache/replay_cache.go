package replaycache

import (
	"strconv"
	"sync"
	"time"

	"github.com/allegro/bigcache"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
	"github.com/usherasnick/bytestream/readable"
)

const (
	__DefaultEvictionTime = 100 * 365 * 24 * time.Hour
	__DefaultMaxChunks    = 1 << 16
	__OneMB               = 1024 * 1024
)

// Config 录制缓存配置.
type Config struct {
	MaxChunks    int // 最多可录制的Chunk个数
	MaxChunkSize int // 单个Chunk的最大字节数
}

// Recorder 录制下游: 把整条流按序号存进内存缓存, 之后可以重放.
// 序列化为[]byte存储, 避免大量小对象带来的GC压力.
type Recorder struct {
	*eventemitter.Emitter

	mu    sync.Mutex
	cache *bigcache.BigCache
	count int64
	ended bool
}

var _ readable.Destination = (*Recorder)(nil)

// NewRecorder 返回Recorder实例.
func NewRecorder(cfg *Config) (*Recorder, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = __DefaultMaxChunks
	}
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = 64 * 1024
	}

	bcCfg := bigcache.DefaultConfig(__DefaultEvictionTime)
	bcCfg.Verbose = false
	bcCfg.MaxEntrySize = cfg.MaxChunkSize
	bcCfg.HardMaxCacheSize = (cfg.MaxChunks*cfg.MaxChunkSize)/__OneMB + 1

	cache, err := bigcache.NewBigCache(bcCfg)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		Emitter: eventemitter.NewEmitter(),
		cache:   cache,
	}, nil
}

// Write 录制一个Chunk, 内存缓存总是立即接受.
func (r *Recorder) Write(chunk *chunklist.Chunk) bool {
	r.mu.Lock()
	seq := r.count
	r.count++
	r.mu.Unlock()

	// 拷贝一份, 录制内容与上游缓冲解耦
	data := append([]byte(nil), chunk.Bytes()...)
	if err := r.cache.Set(strconv.FormatInt(seq, 10), data); err != nil {
		r.Emit(readable.EventError, err)
	}
	return true
}

// End 结束录制, 派发finish事件.
func (r *Recorder) End() {
	r.mu.Lock()
	if r.ended {
		r.mu.Unlock()
		return
	}
	r.ended = true
	r.mu.Unlock()
	r.Emit("finish")
}

// Count 返回已录制的Chunk个数.
func (r *Recorder) Count() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Replay 返回按录制顺序重放整条流的Source, 回放完毕宣告EOF.
// 回放回调是同步的, 可以和任意Readable再度组合.
func (r *Recorder) Replay() readable.Source {
	r.mu.Lock()
	total := r.count
	r.mu.Unlock()

	var next int64
	return readable.SourceFunc(func(n int, cb readable.ReadCallback) {
		if next >= total {
			cb(nil, nil)
			return
		}
		data, err := r.cache.Get(strconv.FormatInt(next, 10))
		if err != nil {
			cb(err, nil)
			return
		}
		next++
		cb(nil, chunklist.BytesChunk(data))
	})
}
