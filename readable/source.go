package readable

import (
	"errors"
	"io"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
)

// ErrSourceNotImplemented 未安装Source的流在被读取时报告该错误.
var ErrSourceNotImplemented = errors.New("source not implemented")

// ReadCallback Source交付数据的回调.
// 每次ReadChunk调用必须恰好回调一次, 可以在ReadChunk返回前同步回调,
// 也可以之后在任意goroutine上异步回调. chunk为nil或零长度表示EOF.
type ReadCallback func(err error, chunk *chunklist.Chunk)

// Source 流背后的异步数据生产方.
// 引擎保证同一时刻至多只有一个未完成的ReadChunk调用.
type Source interface {
	// ReadChunk 请求最多n个字节, 结果通过cb交付.
	ReadChunk(n int, cb ReadCallback)
}

// SourceFunc 将普通函数适配为Source.
type SourceFunc func(n int, cb ReadCallback)

// ReadChunk 实现Source接口.
func (f SourceFunc) ReadChunk(n int, cb ReadCallback) {
	f(n, cb)
}

// FromChunks 返回依次交付给定字节片段然后EOF的Source, 回调总是同步发生.
func FromChunks(chunks ...[]byte) Source {
	i := 0
	return SourceFunc(func(n int, cb ReadCallback) {
		if i >= len(chunks) {
			cb(nil, nil)
			return
		}
		c := chunks[i]
		i++
		cb(nil, chunklist.BytesChunk(c))
	})
}

// FromReader 返回从io.Reader拉取数据的Source, 回调在独立goroutine上异步发生.
// io.EOF被翻译为流的EOF信号.
func FromReader(r io.Reader) Source {
	return SourceFunc(func(n int, cb ReadCallback) {
		go func() {
			buf := make([]byte, n)
			m, err := r.Read(buf)
			if m > 0 {
				cb(nil, chunklist.BytesChunk(buf[:m]))
				return
			}
			if err == nil || err == io.EOF {
				cb(nil, nil)
				return
			}
			cb(err, nil)
		}()
	})
}
