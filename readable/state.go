package readable

import (
	chunklist "github.com/usherasnick/bytestream/chunk-list"
	textdecoder "github.com/usherasnick/bytestream/text-decoder"
)

const (
	__DefaultBufferSize   = 16384
	__DefaultLowWaterMark = 1024
)

// Options 流的构造配置.
type Options struct {
	// BufferSize 每次向Source索要的字节数, 0表示使用默认值16384.
	BufferSize int
	// LowWaterMark 低水位线, 缓冲不高于该值时主动向Source补充数据.
	// nil表示使用默认值1024, 显式指向0的指针表示低水位线取0:
	// 只在一次Read将取空缓冲或欠着readable时才补充.
	LowWaterMark *int
	// Encoding 文本编码名, 非空时原始字节先经解码器再入缓冲.
	Encoding string
}

// readState 流的全部缓冲与状态记账.
type readState struct {
	bufferSize   int
	lowWaterMark int

	buffer chunklist.List
	length int // 缓冲中的总字节数

	flowing      bool // pipe驱动的flow循环是否处于活动状态
	ended        bool // Source已宣告EOF
	endEmitted   bool // 终结end事件是否已派发
	reading      bool // 是否有未完成的Source调用
	sync         bool // 当前Source调用是否尚未返回(同步回调判别锁存)
	needReadable bool // 消费方要过数据但没给够, 欠一次readable事件

	decoder *textdecoder.Decoder
	pipes   []Destination
}

func newReadState(opts *Options) (*readState, error) {
	st := &readState{
		bufferSize:   __DefaultBufferSize,
		lowWaterMark: __DefaultLowWaterMark,
	}
	if opts == nil {
		return st, nil
	}
	if opts.BufferSize > 0 {
		st.bufferSize = opts.BufferSize
	}
	if opts.LowWaterMark != nil {
		st.lowWaterMark = *opts.LowWaterMark
	}
	if opts.Encoding != "" {
		dec, err := textdecoder.NewDecoder(opts.Encoding)
		if err != nil {
			return nil, err
		}
		st.decoder = dec
	}
	return st, nil
}

// textMode 返回缓冲当前承载的是否为文本片段.
func (st *readState) textMode() bool {
	return st.decoder != nil
}
