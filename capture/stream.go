package capture

import (
	"errors"
	"io"
	"sync"
)

// StreamFilter is an in-process Filter between a response source and the
// consumer it was destined for.
type StreamFilter struct {
	src io.Reader
	dst io.Writer

	mu           sync.Mutex
	idle         *sync.Cond
	inflight     bool // a chunk has been read but not yet written through
	disconnected bool
	done         chan struct{}
	err          error
}

// NewStreamFilter returns a Filter reading from src and writing to dst.
func NewStreamFilter(src io.Reader, dst io.Writer) *StreamFilter {
	s := &StreamFilter{src: src, dst: dst, done: make(chan struct{})}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Read reads the next chunk of the response. It reports io.EOF once the
// filter is disconnected. A chunk returned by Read is held back from the
// disconnect copy until it has been passed to Write.
func (s *StreamFilter) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.inflight = true
	s.mu.Unlock()

	n, err := s.src.Read(p)
	if n == 0 {
		s.release()
	}
	return n, err
}

// Write passes bytes through to the consumer.
func (s *StreamFilter) Write(p []byte) (int, error) {
	defer s.release()
	return s.dst.Write(p)
}

func (s *StreamFilter) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
	s.idle.Broadcast()
}

// Disconnect stops interception. Whatever the source still holds is copied
// to the consumer in the background; Done is closed when the copy ends.
func (s *StreamFilter) Disconnect() error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil
	}
	s.disconnected = true
	s.mu.Unlock()

	go func() {
		s.mu.Lock()
		for s.inflight {
			s.idle.Wait()
		}
		s.mu.Unlock()

		_, err := io.Copy(s.dst, s.src)
		if err != nil && !errors.Is(err, io.EOF) {
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
		}
		close(s.done)
	}()
	return nil
}

// Done is closed once the whole response has reached the consumer.
func (s *StreamFilter) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the background copy, if any.
func (s *StreamFilter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
