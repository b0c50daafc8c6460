package capture

import (
	"context"
	"sync"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

// Device quirks of the Sony remote-control dialect.
const (
	// FocusFound is the property code carried by the property-changed event
	// that confirms focus.
	FocusFound = uint32(ptpip.PropSonyFocusFound)

	// When PropSonyObjectInMemory reaches InMemoryThreshold the captured
	// object is readable at InMemoryHandle. Lower non-zero values are reported
	// too, but transferring then crashes the firmware.
	InMemoryThreshold = 0x8000
	InMemoryHandle    = uint32(0xffffc001)
)

// Session is the device event state shared by the event-delivery goroutine,
// the capture sequence and object transfers. Every method takes one lock, so
// compound read-and-clear operations are atomic.
type Session struct {
	mu sync.Mutex

	last    *ptpip.Event // most recent event, replaced wholesale
	capture bool         // a capture is running
	waiting bool         // the running capture awaits an object id

	pending    uint32
	hasPending bool

	focus      ptpip.FocusMode
	focusKnown bool

	claimed map[uint32]struct{} // handles owned by a running transfer

	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// NewSession returns an open session. Its context is cancelled by Close.
func NewSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		claimed: make(map[uint32]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Context is cancelled when the session closes. Background transfers run
// under it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close invalidates the session: running polls and transfers are cancelled
// and later captures fail with ErrSessionClosed.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.waiting = false
	s.hasPending = false
	s.mu.Unlock()
	s.cancel()
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrSessionClosed
	case s.capture:
		return ErrCaptureInProgress
	}
	s.capture = true
	s.waiting = true
	s.last = nil
	s.pending, s.hasPending = 0, false
	return nil
}

// end resets the capture slot whatever the outcome.
func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = false
	s.waiting = false
	s.pending, s.hasPending = 0, false
}

// Awaiting reports whether a capture is waiting for its object id.
func (s *Session) Awaiting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Deliver records an event from the device. An object added while a capture
// awaits its id is deposited for the capture; any other object added is
// handed back to the caller for transfer.
func (s *Session) Deliver(ev ptpip.Event) (handle uint32, handoff bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := ev
	s.last = &e

	first, ok := ev.FirstParam()
	switch {
	case ev.Code.IsPropertyChanged() && ok && first == uint32(ptpip.PropFocusMode):
		s.focusKnown = false
	case ev.Code.IsObjectAdded() && ok:
		if s.waiting {
			if !s.hasPending {
				s.pending, s.hasPending = first, true
			}
			return 0, false
		}
		return first, true
	}
	return 0, false
}

// TakePending clears and returns the deposited object id, if any.
func (s *Session) TakePending() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takeLocked()
}

// resolve ends the object id wait and returns any id deposited meanwhile.
func (s *Session) resolve() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = false
	return s.takeLocked()
}

// observeFocus is one focus-wait probe. It completes on a focus-found event,
// an object-added event or a deposited object id. The returned id is zero
// when focus was confirmed without an object.
func (s *Session) observeFocus() (id uint32, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil {
		first, ok := s.last.FirstParam()
		switch {
		case s.last.Code.IsPropertyChanged() && ok && first == FocusFound:
			pid, got := s.takeLocked()
			if got {
				s.waiting = false
			}
			return pid, true
		case s.last.Code.IsObjectAdded() && ok:
			s.last = nil
			s.waiting = false
			s.pending, s.hasPending = 0, false
			return first, true
		}
	}
	if id, ok := s.takeLocked(); ok {
		s.waiting = false
		return id, true
	}
	return 0, false
}

// observeObject is the event half of one object-wait probe: an object-added
// event, whose id falls back to a deposited one, then a deposited id alone.
func (s *Session) observeObject() (id uint32, done bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last != nil && s.last.Code.IsObjectAdded() {
		first, ok := s.last.FirstParam()
		if !ok {
			first = s.pending
		}
		s.last = nil
		s.waiting = false
		s.pending, s.hasPending = 0, false
		return first, true
	}
	if id, ok := s.takeLocked(); ok {
		s.waiting = false
		return id, true
	}
	return 0, false
}

// objectInMemory completes an object-wait probe after the in-memory property
// crossed the threshold. A deposited id that arrived while the property was
// being queried takes precedence.
func (s *Session) objectInMemory() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waiting = false
	if id, ok := s.takeLocked(); ok {
		return id
	}
	return InMemoryHandle
}

// takeLocked clears the deposit. The object-added event that deposited it is
// consumed with it, so the same id cannot be observed twice.
func (s *Session) takeLocked() (uint32, bool) {
	id, ok := s.pending, s.hasPending
	s.pending, s.hasPending = 0, false
	if ok && s.last != nil && s.last.Code.IsObjectAdded() {
		s.last = nil
	}
	return id, ok
}

// FocusMode returns the cached focus mode.
func (s *Session) FocusMode() (ptpip.FocusMode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus, s.focusKnown
}

// SetFocusMode caches the focus mode until a property-changed event for it.
func (s *Session) SetFocusMode(m ptpip.FocusMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focus, s.focusKnown = m, true
}

// claim marks handle as being transferred. It fails when another transfer
// already owns it.
func (s *Session) claim(handle uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.claimed[handle]; busy {
		return false
	}
	s.claimed[handle] = struct{}{}
	return true
}

func (s *Session) release(handle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, handle)
}
