package chunklist

// Chunk 一段连续的字节数据或解码后的文本片段, 作为单个单元在流中传递.
// Chunk一旦入队即视为不可变, 切分操作返回共享底层数组的新Chunk.
type Chunk struct {
	data []byte
	text string
	str  bool
}

// BytesChunk 从字节切片构造Chunk.
func BytesChunk(b []byte) *Chunk {
	return &Chunk{data: b}
}

// TextChunk 从文本片段构造Chunk.
func TextChunk(s string) *Chunk {
	return &Chunk{text: s, str: true}
}

// Len 返回Chunk的长度, 文本模式下为UTF-8编码后的字节数.
func (c *Chunk) Len() int {
	if c == nil {
		return 0
	}
	if c.str {
		return len(c.text)
	}
	return len(c.data)
}

// IsText 返回该Chunk是否为文本片段.
func (c *Chunk) IsText() bool {
	return c != nil && c.str
}

// Bytes 返回Chunk承载的字节数据, 文本模式下为UTF-8编码.
func (c *Chunk) Bytes() []byte {
	if c == nil {
		return nil
	}
	if c.str {
		return []byte(c.text)
	}
	return c.data
}

// String 返回Chunk承载的文本.
func (c *Chunk) String() string {
	if c == nil {
		return ""
	}
	if c.str {
		return c.text
	}
	return string(c.data)
}

// Slice 返回[i:j)区间的新Chunk, 与原Chunk共享底层数据.
func (c *Chunk) Slice(i, j int) *Chunk {
	if c.str {
		return &Chunk{text: c.text[i:j], str: true}
	}
	return &Chunk{data: c.data[i:j]}
}
