package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/JakeFAU/crawlbridge/internal/metrics"
)

// DefaultChunkSize is the largest piece a ByteStream hands across at once.
const DefaultChunkSize = 32 * 1024

// StreamFunc is the producer side of a content stream.
type StreamFunc func(ctx context.Context, w *ByteStream) error

// ByteStream carries document content. The producer writes with Write or ReadFrom;
// the consumer reads it as an io.Reader. Every byte written before a failure is
// delivered before Read reports ErrTruncated.
type ByteStream struct {
	ch        *Channel[[]byte]
	chunkSize int
	name      string

	// consumer side
	pending []byte
}

// NewByteStream returns a stream holding at most capacity pending chunks.
func NewByteStream(capacity, chunkSize int) *ByteStream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &ByteStream{
		ch:        NewChannel[[]byte](capacity),
		chunkSize: chunkSize,
	}
}

// StartStream launches a content-producing fetch. The caller reads the stream and
// must eventually call Finish on the returned Task.
func StartStream(ctx context.Context, capacity, chunkSize int, fetch StreamFunc, opts ...Option) (*ByteStream, *Task) {
	s := NewByteStream(capacity, chunkSize)
	t := newTask(ctx, s.ch, opts)
	s.name = t.name
	t.launch(func(taskCtx context.Context) error {
		return fetch(taskCtx, s)
	})
	return s, t
}

// Write copies p into the stream in chunks, blocking while the stream is full.
// It returns ErrAbandoned once the consumer has gone away.
func (s *ByteStream) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), s.chunkSize)
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		if !s.ch.Put(chunk) {
			return written, ErrAbandoned
		}
		metrics.AddStreamBytes(s.name, n)
		written += n
		p = p[n:]
	}
	return written, nil
}

// ReadFrom streams r into the bridge until EOF, checking for abandonment between
// chunks. It lets io.Copy(stream, body) move a remote body without an extra buffer.
func (s *ByteStream) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	for {
		if s.ch.IsAbandoned() {
			return total, ErrAbandoned
		}
		buf := make([]byte, s.chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			if !s.ch.Put(buf[:n]) {
				return total, ErrAbandoned
			}
			metrics.AddStreamBytes(s.name, n)
			total += int64(n)
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, fmt.Errorf("read source: %w", err)
		}
	}
}

// SignalDone marks the end of the content.
func (s *ByteStream) SignalDone() {
	s.ch.SignalDone()
}

// SignalFailure records the stream's only failure.
func (s *ByteStream) SignalFailure(err error) {
	s.ch.SignalFailure(err)
}

// IsAbandoned reports whether the consumer has stopped reading.
func (s *ByteStream) IsAbandoned() bool {
	return s.ch.IsAbandoned()
}

// Abandon stops the producer. Task.Finish calls it for the consumer.
func (s *ByteStream) Abandon() {
	s.ch.Abandon()
}

// Read returns up to len(p) bytes, blocking until at least one byte, the end of the
// content, or a failure is available. After a producer failure Read returns an error
// wrapping both ErrTruncated and the failure; Task.Finish still reports the
// classified failure.
func (s *ByteStream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.pending) == 0 {
		chunk, ok := s.ch.Get()
		if !ok {
			if err := s.ch.Err(); err != nil {
				return 0, fmt.Errorf("%w: %w", ErrTruncated, err)
			}
			return 0, io.EOF
		}
		s.pending = chunk
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
