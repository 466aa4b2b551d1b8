// Package memstack is a recording [netif.Stack]. It keeps copies of the
// frames it is given and the link changes it sees, for tests and
// examples that need a stack collaborator without a real IP stack.
package memstack

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/softecm/netif"
	"github.com/ardnew/softecm/pkg"
)

// DefaultCapacity bounds the number of frames kept by a [Stack].
const DefaultCapacity = 256

// pollInterval is the wait granularity of the Wait methods.
const pollInterval = 100 * time.Microsecond

// Stack records interfaces, frames and link changes.
type Stack struct {
	core sync.Mutex

	mutex      sync.Mutex
	ifaces     []*netif.Interface
	frames     [][]byte
	capacity   int
	overflow   int
	linkUps    int
	linkDowns  int
	linkUp     bool
	addressing netif.Addressing
	hook       func(frame []byte) error
}

// New creates a stack keeping up to capacity frames (<= 0 selects
// [DefaultCapacity]).
func New(capacity int) *Stack {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stack{capacity: capacity}
}

// SetInputHook installs fn, called on every input before the frame is
// recorded. A non-nil error rejects the frame. fn may block to emulate a
// slow stack.
func (s *Stack) SetInputHook(fn func(frame []byte) error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.hook = fn
}

// AddInterface records nif.
func (s *Stack) AddInterface(nif *netif.Interface) error {
	if nif == nil || len(nif.HardwareAddr) != 6 || nif.MTU <= 0 {
		return pkg.ErrInvalidParameter
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, n := range s.ifaces {
		if n.Name == nif.Name {
			return fmt.Errorf("interface %s: %w", nif.Name, pkg.ErrAlreadyRunning)
		}
	}
	s.ifaces = append(s.ifaces, nif)
	return nil
}

// Input records a copy of frame.
func (s *Stack) Input(nif *netif.Interface, frame []byte) error {
	s.mutex.Lock()
	hook := s.hook
	s.mutex.Unlock()

	if hook != nil {
		if err := hook(frame); err != nil {
			return fmt.Errorf("input: %w: %w", pkg.ErrStackRejected, err)
		}
	}
	if len(frame) > nif.MTU+14 {
		return fmt.Errorf("input %d bytes: %w", len(frame), pkg.ErrStackRejected)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.frames) >= s.capacity {
		s.overflow++
		return fmt.Errorf("input: %w: %w", pkg.ErrStackRejected, pkg.ErrResourceExhausted)
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	return nil
}

// SetLinkUp records a link-up with addr.
func (s *Stack) SetLinkUp(nif *netif.Interface, addr netif.Addressing) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.linkUps++
	s.linkUp = true
	s.addressing = addr
}

// SetLinkDown records a link-down.
func (s *Stack) SetLinkDown(nif *netif.Interface) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.linkDowns++
	s.linkUp = false
}

// CoreLock returns the stack core lock.
func (s *Stack) CoreLock() sync.Locker {
	return &s.core
}

// Interfaces returns the registered interfaces.
func (s *Stack) Interfaces() []*netif.Interface {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]*netif.Interface(nil), s.ifaces...)
}

// Frames returns the recorded frames.
func (s *Stack) Frames() [][]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([][]byte(nil), s.frames...)
}

// FrameCount returns the number of recorded frames.
func (s *Stack) FrameCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.frames)
}

// TakeFrames returns the recorded frames and forgets them.
func (s *Stack) TakeFrames() [][]byte {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	f := s.frames
	s.frames = nil
	return f
}

// Overflow returns the number of frames refused for lack of capacity.
func (s *Stack) Overflow() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.overflow
}

// LinkUps returns the number of link-up calls.
func (s *Stack) LinkUps() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.linkUps
}

// LinkDowns returns the number of link-down calls.
func (s *Stack) LinkDowns() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.linkDowns
}

// LinkUp reports the current link state.
func (s *Stack) LinkUp() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.linkUp
}

// Addressing returns the address triple of the last link-up.
func (s *Stack) Addressing() netif.Addressing {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.addressing
}

// WaitFrames waits until at least n frames are recorded.
func (s *Stack) WaitFrames(ctx context.Context, n int) error {
	return s.wait(ctx, func() bool { return len(s.frames) >= n })
}

// WaitLink waits until the link state equals up.
func (s *Stack) WaitLink(ctx context.Context, up bool) error {
	return s.wait(ctx, func() bool { return s.linkUp == up })
}

// wait polls cond, evaluated with s.mutex held.
func (s *Stack) wait(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		s.mutex.Lock()
		ok := cond()
		s.mutex.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ netif.Stack = (*Stack)(nil)
