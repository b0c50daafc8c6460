package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

func TestSession_BeginRejectsSecondCapture(t *testing.T) {
	s := NewSession(context.Background())
	require.NoError(t, s.begin())
	assert.ErrorIs(t, s.begin(), ErrCaptureInProgress)
	s.end()
	assert.NoError(t, s.begin())
}

func TestSession_DeliverDepositsWhileAwaiting(t *testing.T) {
	s := NewSession(context.Background())
	require.NoError(t, s.begin())

	_, handoff := s.Deliver(objectAdded(42))
	assert.False(t, handoff)

	// Deposit-if-absent: the first id is kept.
	s.Deliver(objectAdded(43))
	id, ok := s.TakePending()
	require.True(t, ok)
	assert.Equal(t, uint32(42), id)

	_, ok = s.TakePending()
	assert.False(t, ok, "read-and-clear")
}

func TestSession_DeliverHandsOffOutsideCapture(t *testing.T) {
	s := NewSession(context.Background())

	id, handoff := s.Deliver(objectAdded(5))
	assert.True(t, handoff)
	assert.Equal(t, uint32(5), id)

	_, handoff = s.Deliver(ptpip.Event{Code: ptpip.EventObjectAdded})
	assert.False(t, handoff, "no handle, nothing to transfer")

	_, handoff = s.Deliver(propChanged(FocusFound))
	assert.False(t, handoff)
}

func TestSession_BeginClearsStaleState(t *testing.T) {
	s := NewSession(context.Background())
	require.NoError(t, s.begin())
	s.Deliver(objectAdded(1))
	s.end()

	require.NoError(t, s.begin())
	_, ok := s.TakePending()
	assert.False(t, ok)
	_, done := s.observeObject()
	assert.False(t, done, "last event of the previous capture is dropped")
}

func TestSession_ObserveFocus(t *testing.T) {
	cases := []struct {
		name    string
		events  []ptpip.Event
		wantID  uint32
		done    bool
		waiting bool
	}{
		{"nothing", nil, 0, false, true},
		{"focus found", []ptpip.Event{propChanged(FocusFound)}, 0, true, true},
		{"other property", []ptpip.Event{propChanged(0xD2FF)}, 0, false, true},
		{"object added", []ptpip.Event{objectAdded(8)}, 8, true, false},
		{"deposit then focus found", []ptpip.Event{objectAdded(8), propChanged(FocusFound)}, 8, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewSession(context.Background())
			require.NoError(t, s.begin())
			for _, ev := range tc.events {
				s.Deliver(ev)
			}
			id, done := s.observeFocus()
			assert.Equal(t, tc.wantID, id)
			assert.Equal(t, tc.done, done)
			assert.Equal(t, tc.waiting, s.Awaiting())
		})
	}
}

func TestSession_ObserveObjectFallsBackToPending(t *testing.T) {
	s := NewSession(context.Background())
	require.NoError(t, s.begin())
	s.Deliver(objectAdded(3))
	// An object-added event without a handle becomes the last event.
	s.Deliver(ptpip.Event{Code: ptpip.EventSonyObjectAdded})

	id, done := s.observeObject()
	require.True(t, done)
	assert.Equal(t, uint32(3), id)
	assert.False(t, s.Awaiting())
}

func TestSession_ObjectInMemoryPrefersPending(t *testing.T) {
	s := NewSession(context.Background())
	require.NoError(t, s.begin())
	assert.Equal(t, InMemoryHandle, s.objectInMemory())

	require.NoError(t, func() error { s.end(); return s.begin() }())
	s.Deliver(objectAdded(77))
	assert.Equal(t, uint32(77), s.objectInMemory())
}

// Event delivery and several probes race on one deposited id; exactly one
// observer may win it.
func TestSession_ResolutionIsIdempotentUnderRace(t *testing.T) {
	for round := 0; round < 200; round++ {
		s := NewSession(context.Background())
		require.NoError(t, s.begin())

		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					var done bool
					switch i % 3 {
					case 0:
						_, done = s.observeObject()
					case 1:
						_, done = s.observeFocus()
					default:
						_, done = s.TakePending()
					}
					if done {
						wins.Add(1)
						return
					}
				}
			}(i)
		}
		close(start)
		s.Deliver(objectAdded(42))
		wg.Wait()

		assert.LessOrEqual(t, wins.Load(), int32(1), "round %d", round)
		_, left := s.TakePending()
		if wins.Load() == 0 {
			assert.True(t, left, "an unobserved id stays deposited")
		} else {
			assert.False(t, left)
		}
	}
}

func TestSession_FocusModeCache(t *testing.T) {
	s := NewSession(context.Background())
	_, known := s.FocusMode()
	assert.False(t, known)

	s.SetFocusMode(ptpip.FocusAutoSingle)
	m, known := s.FocusMode()
	assert.True(t, known)
	assert.Equal(t, ptpip.FocusAutoSingle, m)

	s.Deliver(propChanged(uint32(ptpip.PropFocusMode)))
	_, known = s.FocusMode()
	assert.False(t, known)
}

func TestSession_Claim(t *testing.T) {
	s := NewSession(context.Background())
	assert.True(t, s.claim(1))
	assert.False(t, s.claim(1))
	assert.True(t, s.claim(2))
	s.release(1)
	assert.True(t, s.claim(1))
}

func TestSession_CloseCancelsContext(t *testing.T) {
	s := NewSession(context.Background())
	s.Close()
	assert.Error(t, s.Context().Err())
	assert.ErrorIs(t, s.begin(), ErrSessionClosed)
}
