package llm

import (
	"context"
	"sync"
)

// Emit hands one chunk to the consumer. It returns false once the consumer
// has gone away, after which the producer should stop.
type Emit func(ChatChunk) bool

// Stream is a lazy, finite, non-restartable sequence of chunks. A producer
// goroutine feeds an unbuffered channel, so it never runs ahead of the
// consumer by more than one chunk.
type Stream struct {
	ch     chan ChatChunk
	err    error
	cancel context.CancelFunc
	once   sync.Once
}

// NewStream starts produce in its own goroutine. produce must return when its
// context is cancelled or emit returns false. The error it returns is
// reported by Err after the channel is closed.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit Emit) error) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ch:     make(chan ChatChunk),
		cancel: cancel,
	}

	emit := func(chunk ChatChunk) bool {
		if ctx.Err() != nil {
			return false
		}
		select {
		case s.ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(s.ch)
		err := produce(ctx, emit)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		s.err = err
	}()

	return s
}

// Chunks returns the channel of chunks. It is closed when the upstream ends,
// fails, or the stream is closed.
func (s *Stream) Chunks() <-chan ChatChunk {
	return s.ch
}

// Err returns the terminal error of the stream. It is only meaningful after
// the Chunks channel has been closed; nil means a clean end-of-stream.
func (s *Stream) Err() error {
	return s.err
}

// Close abandons the stream: the producer is cancelled and Close waits for it
// to release the upstream connection.
func (s *Stream) Close() {
	s.once.Do(func() {
		s.cancel()
		for range s.ch {
		}
	})
}
