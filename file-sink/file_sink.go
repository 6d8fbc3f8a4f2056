package filesink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	chunklist "github.com/usherasnick/bytestream/chunk-list"
	eventemitter "github.com/usherasnick/bytestream/event-emitter"
	"github.com/usherasnick/bytestream/readable"
)

// ErrFileLocked 目标路径正被另一个Sink写入.
var ErrFileLocked = errors.New("target file is locked by another writer")

// Sink 把流数据落盘的下游 (线程安全).
// 数据先写入临时文件, 上游End时fsync后原子地rename到目标路径,
// 目标路径由flock保护, 避免并发写同一文件.
type Sink struct {
	*eventemitter.Emitter

	mu        sync.Mutex
	writer    *os.File
	fn        string
	tmpSuffix string
	lockFD    int
	std       bool
	done      bool
}

var _ readable.Destination = (*Sink)(nil)

// NewSink 新建落盘Sink.
func NewSink(fn string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(fn), 0750); err != nil {
		return nil, err
	}

	lockFD, err := acquireLock(fn)
	if err != nil {
		return nil, err
	}

	tmpSuffix := fmt.Sprintf(".tmp%v", time.Now().UnixNano())

	writer, err := os.OpenFile(fn+tmpSuffix, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		releaseLock(fn, lockFD)
		return nil, err
	}

	return &Sink{
		Emitter:   eventemitter.NewEmitter(),
		writer:    writer,
		fn:        fn,
		tmpSuffix: tmpSuffix,
		lockFD:    lockFD,
	}, nil
}

// Stdout 返回包装标准输出的Sink.
// 标准流不走临时文件, End也不会关闭底层文件描述符.
func Stdout() *Sink {
	return &Sink{
		Emitter: eventemitter.NewEmitter(),
		writer:  os.Stdout,
		std:     true,
	}
}

// Stderr 返回包装标准错误的Sink.
func Stderr() *Sink {
	return &Sink{
		Emitter: eventemitter.NewEmitter(),
		writer:  os.Stderr,
		std:     true,
	}
}

// StdStream 实现readable.StdStream标记接口.
func (s *Sink) StdStream() bool {
	return s.std
}

// Write 写入一个Chunk, 落盘Sink没有内部缓冲上限, 总是立即接受.
func (s *Sink) Write(chunk *chunklist.Chunk) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		log.Warn().Str("file", s.fn).Msg("write after sink finished, chunk dropped")
		return true
	}
	if _, err := s.writer.Write(chunk.Bytes()); err != nil {
		log.Error().Err(err).Str("file", s.fn).Msg("failed to write chunk")
		s.Emitter.Emit(readable.EventError, err)
	}
	return true
}

// End 提交: fsync临时文件并rename到目标路径, 然后派发finish事件.
// 标准流跳过提交, 只派发finish.
func (s *Sink) End() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	if s.std {
		s.mu.Unlock()
		s.Emit("finish")
		return
	}
	err := s.commit()
	s.mu.Unlock()

	if err != nil {
		log.Error().Err(err).Str("file", s.fn).Msg("failed to commit sink file")
		s.Emit(readable.EventError, err)
		return
	}
	s.Emit("finish")
}

// Abort 放弃已写入的数据并清理临时文件.
func (s *Sink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done || s.std {
		return
	}
	s.done = true
	s.discard()
}

func (s *Sink) commit() error {
	if err := s.writer.Sync(); err != nil {
		s.discard()
		return err
	}
	if err := os.Rename(s.fn+s.tmpSuffix, s.fn); err != nil {
		s.discard()
		return err
	}
	s.writer.Close() // nolint
	releaseLock(s.fn, s.lockFD)
	return nil
}

func (s *Sink) discard() {
	s.writer.Close()              // nolint
	os.Remove(s.fn + s.tmpSuffix) // nolint
	releaseLock(s.fn, s.lockFD)
}

// acquireLock 对目标路径的.lock文件做非阻塞flock.
func acquireLock(fn string) (int, error) {
	fd, err := syscall.Open(fn+".lock", syscall.O_CREAT|syscall.O_RDONLY, 0600)
	if err != nil {
		return -1, err
	}
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		syscall.Close(fd) // nolint
		if err == syscall.EWOULDBLOCK {
			return -1, ErrFileLocked
		}
		return -1, err
	}
	return fd, nil
}

func releaseLock(fn string, fd int) {
	syscall.Close(fd)       // nolint
	os.Remove(fn + ".lock") // nolint
}
