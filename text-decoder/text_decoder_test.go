package textdecoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnknownLabel(t *testing.T) {
	_, err := NewDecoder("no-such-charset")
	assert.Equal(t, ErrUnknownEncoding, err)
}

func TestUTF8Passthrough(t *testing.T) {
	d, err := NewDecoder("utf-8")
	require.NoError(t, err)

	assert.Equal(t, "hello", d.Write([]byte("hello")))
	assert.Equal(t, "", d.Flush())
}

func TestUTF8SplitRune(t *testing.T) {
	d, err := NewDecoder("utf-8")
	require.NoError(t, err)

	euro := []byte("€") // 3字节
	assert.Equal(t, "", d.Write(euro[:2]))
	// 补齐最后一个字节后整码点一起吐出
	assert.Equal(t, "€", d.Write(euro[2:]))
	assert.Equal(t, "", d.Flush())
}

func TestUTF8SplitAcrossThreeWrites(t *testing.T) {
	d, err := NewDecoder("utf8")
	require.NoError(t, err)

	emoji := []byte("🙂") // 4字节
	assert.Equal(t, "", d.Write(emoji[:1]))
	assert.Equal(t, "", d.Write(emoji[1:3]))
	assert.Equal(t, "🙂", d.Write(emoji[3:]))
}

func TestUTF8MixedTail(t *testing.T) {
	d, err := NewDecoder("")
	require.NoError(t, err)

	payload := append([]byte("ab"), []byte("中")...)
	assert.Equal(t, "ab中", d.Write(payload[:len(payload)]))

	// ASCII后跟半个多字节序列
	half := append([]byte("cd"), payload[2:4]...)
	assert.Equal(t, "cd", d.Write(half))
	assert.Equal(t, "中", d.Write([]byte("中")[2:]))
}

func TestFlushReturnsPartialTail(t *testing.T) {
	d, err := NewDecoder("utf-8")
	require.NoError(t, err)

	euro := []byte("€")
	assert.Equal(t, "", d.Write(euro[:2]))
	// 流结束时残缺尾部按原样交还
	assert.Equal(t, string(euro[:2]), d.Flush())
}

func TestUTF16LE(t *testing.T) {
	d, err := NewDecoder("utf-16le")
	require.NoError(t, err)

	// "hi" 的UTF-16LE编码, 在码元中间切开
	payload := []byte{0x68, 0x00, 0x69, 0x00}
	got := d.Write(payload[:1])
	got += d.Write(payload[1:])
	got += d.Flush()
	assert.Equal(t, "hi", got)
}

func TestLabelNormalization(t *testing.T) {
	d, err := NewDecoder("  UTF-8  ")
	require.NoError(t, err)
	assert.Equal(t, "utf-8", d.Label())
}
