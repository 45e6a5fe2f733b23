package navigation

import (
	"context"
	"sync"
	"sync/atomic"
)

// Sequence orders the firings of the signals created on it. Signals raced
// by FirstOf must share one.
type Sequence struct {
	n atomic.Uint64
}

func (q *Sequence) next() uint64 { return q.n.Add(1) }

type signalState int

const (
	signalArmed signalState = iota
	signalFired
	signalDisarmed
)

// Signal is a one-shot event carrying a value. It fires at most once and
// can be disarmed so that a later Fire is a no-op.
type Signal[T any] struct {
	order *Sequence

	mu    sync.Mutex
	state signalState
	seq   uint64
	value T
	done  chan struct{}
}

// NewSignal returns an armed signal whose firing is ordered on seq.
func NewSignal[T any](seq *Sequence) *Signal[T] {
	return &Signal[T]{order: seq, done: make(chan struct{})}
}

// Fire delivers v. It reports false if the signal already fired or was
// disarmed.
func (s *Signal[T]) Fire(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != signalArmed {
		return false
	}
	s.state = signalFired
	s.seq = s.order.next()
	s.value = v
	close(s.done)
	return true
}

// Disarm prevents any future Fire. It reports true if the signal had not
// fired yet.
func (s *Signal[T]) Disarm() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case signalArmed:
		s.state = signalDisarmed
		return true
	case signalDisarmed:
		return true
	default:
		return false
	}
}

// Done is closed when the signal fires.
func (s *Signal[T]) Done() <-chan struct{} { return s.done }

// Value returns the fired value.
func (s *Signal[T]) Value() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.state == signalFired
}

func (s *Signal[T]) firedAt() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Winner identifies which signal FirstOf selected.
type Winner int

const (
	NoWinner Winner = iota
	FirstWins
	SecondWins
)

// FirstOf waits for the first of a and b to fire and disarms the other.
// When both fired before FirstOf observed them, the one that fired first
// on their shared Sequence wins. If ctx ends first both signals are disarmed and ctx's error is
// returned.
func FirstOf[A, B any](ctx context.Context, a *Signal[A], b *Signal[B]) (Winner, error) {
	select {
	case <-a.Done():
	case <-b.Done():
	case <-ctx.Done():
		a.Disarm()
		b.Disarm()
		return NoWinner, ctx.Err()
	}

	aFired := !a.Disarm()
	bFired := !b.Disarm()
	switch {
	case aFired && bFired:
		if a.firedAt() < b.firedAt() {
			return FirstWins, nil
		}
		return SecondWins, nil
	case aFired:
		return FirstWins, nil
	default:
		return SecondWins, nil
	}
}
