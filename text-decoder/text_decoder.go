package textdecoder

import (
	"errors"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var ErrUnknownEncoding = errors.New("unknown encoding label")

// Decoder 增量文本解码器.
// 跨Chunk边界的不完整多字节序列会被暂存, 等下一个Chunk到达后再拼接解码,
// 因此每次Write只返回完整的码点.
type Decoder struct {
	label string

	// utf-8快速路径: 只需暂存末尾的不完整rune
	utf8  bool
	carry []byte

	// 其他编码走x/text的增量转换
	tr      transform.Transformer
	pending []byte
}

// NewDecoder 根据编码名创建解码器, 编码名按IANA字符集注册表解析.
func NewDecoder(label string) (*Decoder, error) {
	normalized := strings.ToLower(strings.TrimSpace(label))
	switch normalized {
	case "", "utf-8", "utf8":
		return &Decoder{label: "utf-8", utf8: true}, nil
	}

	enc, err := ianaindex.IANA.Encoding(normalized)
	if err != nil || enc == nil {
		return nil, ErrUnknownEncoding
	}
	return &Decoder{
		label: normalized,
		tr:    enc.NewDecoder().Transformer,
	}, nil
}

// Label 返回解码器的编码名.
func (d *Decoder) Label() string {
	return d.label
}

// Write 喂入一段原始字节, 返回其中可完整解码的文本.
// 末尾的不完整序列被暂存, 返回的文本可能为空.
func (d *Decoder) Write(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	if d.utf8 {
		return d.writeUTF8(p)
	}
	return d.transformPending(p, false)
}

// Flush 在流结束时返回暂存的残余数据.
// utf-8模式下残缺的尾部按原样返回, 交由上层以字节形式呈现.
func (d *Decoder) Flush() string {
	if d.utf8 {
		out := string(d.carry)
		d.carry = nil
		return out
	}
	return d.transformPending(nil, true)
}

func (d *Decoder) writeUTF8(p []byte) string {
	b := p
	if len(d.carry) > 0 {
		b = append(d.carry, p...)
		d.carry = nil
	}
	n := completeRuneBoundary(b)
	if n < len(b) {
		d.carry = append([]byte(nil), b[n:]...)
	}
	return string(b[:n])
}

func (d *Decoder) transformPending(p []byte, atEOF bool) string {
	src := d.pending
	d.pending = nil
	if len(p) > 0 {
		src = append(src, p...)
	}
	if len(src) == 0 && !atEOF {
		return ""
	}

	dst := make([]byte, len(src)*2+utf8.UTFMax)
	var sb strings.Builder
	for {
		nDst, nSrc, err := d.tr.Transform(dst, src, atEOF)
		sb.Write(dst[:nDst])
		src = src[nSrc:]
		switch err {
		case nil:
			if len(src) > 0 {
				d.pending = append([]byte(nil), src...)
			}
			return sb.String()
		case transform.ErrShortSrc:
			// 序列在Chunk边界被截断, 暂存等待后续数据
			d.pending = append([]byte(nil), src...)
			return sb.String()
		case transform.ErrShortDst:
			dst = make([]byte, len(dst)*2)
		default:
			// 非法序列: x/text解码器输出替换符后继续
			if len(src) > 0 {
				d.pending = append([]byte(nil), src...)
			}
			return sb.String()
		}
	}
}

// completeRuneBoundary 返回b中以完整rune结尾的最长前缀长度.
func completeRuneBoundary(b []byte) int {
	end := len(b)
	for i := end - 1; i >= 0 && i > end-utf8.UTFMax; i-- {
		c := b[i]
		if c < utf8.RuneSelf {
			return end
		}
		if c&0xC0 == 0xC0 {
			// 找到了起始字节, 检查该rune是否完整
			size := runeSize(c)
			if i+size > end {
				return i
			}
			return end
		}
		// 续字节, 继续向前找起始字节
	}
	return end
}

func runeSize(lead byte) int {
	switch {
	case lead&0xE0 == 0xC0:
		return 2
	case lead&0xF0 == 0xE0:
		return 3
	case lead&0xF8 == 0xF0:
		return 4
	default:
		return 1
	}
}
