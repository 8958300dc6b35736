// internal/surveillance/source.go
package surveillance

import (
	"context"
	"io"
	"sync"
)

// Source opens subscriptions to chain activity.
type Source interface {
	Subscribe(ctx context.Context) (Stream, error)
}

// Stream yields records until it fails or is closed.
type Stream interface {
	Recv(ctx context.Context) (Record, error)
	Close() error
}

// ChannelSource replays records pushed onto a channel. Subscribe failures can
// be scripted with FailNext.
type ChannelSource struct {
	records <-chan Record

	mu       sync.Mutex
	failures []error
	attempts int
}

var _ Source = (*ChannelSource)(nil)

func NewChannelSource(records <-chan Record) *ChannelSource {
	return &ChannelSource{records: records}
}

// FailNext makes the next len(errs) Subscribe calls return errs in order.
func (s *ChannelSource) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Attempts reports how many times Subscribe was called.
func (s *ChannelSource) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *ChannelSource) Subscribe(ctx context.Context) (Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &channelStream{records: s.records, closed: make(chan struct{})}, nil
}

type channelStream struct {
	records   <-chan Record
	closed    chan struct{}
	closeOnce sync.Once
}

// Recv returns io.EOF once the channel is closed.
func (s *channelStream) Recv(ctx context.Context) (Record, error) {
	select {
	case <-ctx.Done():
		return Record{}, ctx.Err()
	case <-s.closed:
		return Record{}, io.ErrClosedPipe
	case rec, ok := <-s.records:
		if !ok {
			return Record{}, io.EOF
		}
		return rec, nil
	}
}

func (s *channelStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
