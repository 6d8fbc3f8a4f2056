package replaycache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	"github.com/usherasnick/bytestream/readable"
)

func TestRecordAndReplay(t *testing.T) {
	rec, err := NewRecorder(nil)
	require.NoError(t, err)

	rec.Write(chunklist.BytesChunk([]byte("one")))
	rec.Write(chunklist.BytesChunk([]byte("two")))
	rec.End()
	assert.Equal(t, int64(2), rec.Count())

	r, err := readable.New(rec.Replay(), nil)
	require.NoError(t, err)
	defer r.Stop()

	got := r.Read(-1)
	require.NotNil(t, got)
	assert.Equal(t, []byte("onetwo"), got.Bytes())
	assert.Nil(t, r.Read(-1))
}

func TestReplayIsRepeatable(t *testing.T) {
	rec, err := NewRecorder(&Config{MaxChunks: 8, MaxChunkSize: 16})
	require.NoError(t, err)

	rec.Write(chunklist.BytesChunk([]byte("abc")))
	rec.End()

	for i := 0; i < 2; i++ {
		r, err := readable.New(rec.Replay(), nil)
		require.NoError(t, err)
		got := r.Read(-1)
		require.NotNil(t, got)
		assert.Equal(t, []byte("abc"), got.Bytes())
		r.Stop()
	}
}

func TestRecordViaPipe(t *testing.T) {
	r, err := readable.New(readable.FromChunks([]byte("hello "), []byte("world")), nil)
	require.NoError(t, err)
	defer r.Stop()

	rec, err := NewRecorder(nil)
	require.NoError(t, err)

	finished := make(chan struct{})
	rec.On("finish", func(...interface{}) { close(finished) })

	r.Pipe(rec, nil)
	<-finished

	replay, err := readable.New(rec.Replay(), nil)
	require.NoError(t, err)
	defer replay.Stop()

	got := replay.Read(-1)
	require.NotNil(t, got)
	assert.Equal(t, []byte("hello world"), got.Bytes())
}

func TestEndIdempotent(t *testing.T) {
	rec, err := NewRecorder(nil)
	require.NoError(t, err)

	finishes := 0
	rec.On("finish", func(...interface{}) { finishes++ })
	rec.End()
	rec.End()
	assert.Equal(t, 1, finishes)
}
