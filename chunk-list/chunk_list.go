package chunklist

import (
	"strings"

	"github.com/gammazero/deque"
)

// List 有序的Chunk队列, 入队O(1), 支持跨Chunk边界按字节数取出且保持字节顺序.
// List本身不做长度记账, 当前总字节数由调用方维护并在Take时传入.
type List struct {
	q deque.Deque
}

// PushBack 将Chunk追加到队尾.
func (l *List) PushBack(c *Chunk) {
	l.q.PushBack(c)
}

// PushFront 将Chunk插入到队头.
func (l *List) PushFront(c *Chunk) {
	l.q.PushFront(c)
}

// Len 返回队列中Chunk的个数.
func (l *List) Len() int {
	return l.q.Len()
}

// Front 返回队头Chunk, 队列为空时返回nil.
func (l *List) Front() *Chunk {
	if l.q.Len() == 0 {
		return nil
	}
	return l.q.Front().(*Chunk)
}

// Take 从队头取出n个字节, length为队列当前的总字节数.
// n非正或n >= length时取出全部数据并清空队列; 队列为空时返回nil.
// 取出后满足: 新的总字节数 == length - 返回Chunk的长度, 字节顺序不变.
func (l *List) Take(n, length int, textMode bool) *Chunk {
	if l.q.Len() == 0 {
		return nil
	}

	if n <= 0 || n >= length {
		return l.takeAll(length, textMode)
	}

	first := l.q.Front().(*Chunk)
	if n < first.Len() {
		// 只需要队头Chunk的一个前缀, 剩余部分放回队头
		prefix := first.Slice(0, n)
		l.q.PopFront()
		l.q.PushFront(first.Slice(n, first.Len()))
		return prefix
	}
	if n == first.Len() {
		return l.q.PopFront().(*Chunk)
	}

	if textMode {
		return l.takeText(n)
	}
	return l.takeBytes(n)
}

// takeAll 取出全部数据并清空队列.
func (l *List) takeAll(length int, textMode bool) *Chunk {
	if l.q.Len() == 1 {
		return l.q.PopFront().(*Chunk)
	}

	if textMode {
		var sb strings.Builder
		sb.Grow(length)
		for l.q.Len() > 0 {
			sb.WriteString(l.q.PopFront().(*Chunk).String())
		}
		return TextChunk(sb.String())
	}

	out := make([]byte, 0, length)
	for l.q.Len() > 0 {
		out = append(out, l.q.PopFront().(*Chunk).Bytes()...)
	}
	return BytesChunk(out)
}

// takeBytes 跨多个Chunk取出n个字节.
func (l *List) takeBytes(n int) *Chunk {
	out := make([]byte, 0, n)
	need := n
	for need > 0 {
		c := l.q.PopFront().(*Chunk)
		if c.Len() <= need {
			out = append(out, c.Bytes()...)
			need -= c.Len()
			continue
		}
		// 最后一个Chunk只取前缀, 后缀放回队头
		out = append(out, c.Slice(0, need).Bytes()...)
		l.q.PushFront(c.Slice(need, c.Len()))
		need = 0
	}
	return BytesChunk(out)
}

// takeText 跨多个文本片段取出n个字节.
func (l *List) takeText(n int) *Chunk {
	var sb strings.Builder
	sb.Grow(n)
	need := n
	for need > 0 {
		c := l.q.PopFront().(*Chunk)
		if c.Len() <= need {
			sb.WriteString(c.String())
			need -= c.Len()
			continue
		}
		sb.WriteString(c.Slice(0, need).String())
		l.q.PushFront(c.Slice(need, c.Len()))
		need = 0
	}
	return TextChunk(sb.String())
}
