package wait

import (
	"context"
	"sync"
	"time"

	"github.com/wlanfw/wlanfw-go/pkg/fwerr"
)

// Signal wakes every goroutine blocked in Await.
// The zero value is ready to use.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewSignal creates a Signal.
func NewSignal() *Signal {
	return &Signal{}
}

// wake returns the channel closed by the next Notify.
func (s *Signal) wake() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Notify wakes all current waiters.
func (s *Signal) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
		s.ch = nil
	}
}

// Await blocks until cond returns true, abort returns an error, the timeout
// elapses, or ctx is done.
//
// On entry and after every wake, abort (if non-nil) is evaluated first and
// its error is returned unchanged. Expiry yields fwerr.ErrTimeout and
// context cancellation yields fwerr.ErrCancelled. A non-positive timeout is
// rejected with fwerr.ErrInvalidParameter.
func (s *Signal) Await(ctx context.Context, timeout time.Duration, abort func() error, cond func() bool) error {
	if timeout <= 0 {
		return fwerr.New("wait", fwerr.ErrInvalidParameter)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		// Subscribe before checking so a Notify between check and select
		// is not lost.
		woken := s.wake()

		if abort != nil {
			if err := abort(); err != nil {
				return err
			}
		}
		if cond() {
			return nil
		}

		select {
		case <-woken:
		case <-timer.C:
			// One last look: the condition may have become true right at
			// the deadline.
			if abort != nil {
				if err := abort(); err != nil {
					return err
				}
			}
			if cond() {
				return nil
			}
			return fwerr.New("wait", fwerr.ErrTimeout)
		case <-ctx.Done():
			return fwerr.Wrap("wait", fwerr.ErrCancelled, ctx.Err())
		}
	}
}
