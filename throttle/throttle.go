package throttle

import (
	"time"

	"github.com/juju/ratelimit"
	"github.com/rs/zerolog/log"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	"github.com/usherasnick/bytestream/readable"
)

// Source 限速数据源装饰器: 用令牌桶把内层Source的产出整形到指定的
// 每秒字节数. 需要等待令牌时交付转为异步, 不阻塞调用方.
type Source struct {
	inner  readable.Source
	bucket *ratelimit.Bucket
}

var _ readable.Source = (*Source)(nil)

// NewSource 返回限速Source, 突发容量为一秒的配额.
func NewSource(inner readable.Source, bytesPerSec int64) *Source {
	if bytesPerSec <= 0 {
		bytesPerSec = 1
	}
	return &Source{
		inner:  inner,
		bucket: ratelimit.NewBucketWithRate(float64(bytesPerSec), bytesPerSec),
	}
}

// ReadChunk 实现readable.Source.
func (s *Source) ReadChunk(n int, cb readable.ReadCallback) {
	s.inner.ReadChunk(n, func(err error, chunk *chunklist.Chunk) {
		if err != nil || chunk == nil || chunk.Len() == 0 {
			cb(err, chunk)
			return
		}
		waitUntilAvailable := s.bucket.Take(int64(chunk.Len()))
		if waitUntilAvailable == 0 {
			cb(nil, chunk)
			return
		}
		log.Debug().Msgf("byte quota limit exceeds, delay chunk for %s", waitUntilAvailable.String())
		time.AfterFunc(waitUntilAvailable, func() {
			cb(nil, chunk)
		})
	})
}
