package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/ptpshot/internal/debug"
	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
	"github.com/cjeanneret/ptpshot/internal/logic/poll"
)

// Control values written with SetControlDeviceB.
const (
	controlUp   = 1 // release / disengage
	controlDown = 2 // press / engage
)

// State is a step of the capture sequence.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateAwaitingFocus
	StateReleasingShutter
	StateAwaitingObjectID
	StateResolved
	StateDownloading
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateCapturing:        "capturing",
	StateAwaitingFocus:    "awaiting_focus",
	StateReleasingShutter: "releasing_shutter",
	StateAwaitingObjectID: "awaiting_object_id",
	StateResolved:         "resolved",
	StateDownloading:      "downloading",
	StateDone:             "done",
	StateFailed:           "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options tunes the capture sequence. Zero durations use the defaults.
type Options struct {
	FocusWait      time.Duration // default 1s
	ObjectWait     time.Duration // default 35s
	PollInterval   time.Duration // pause between probes, default 50ms
	SkipObjectWait bool          // finish after the release commands without waiting for the object id
	Mode           ShootingMode  // index key for persisted files, default photo
}

func (o Options) withDefaults() Options {
	if o.FocusWait <= 0 {
		o.FocusWait = time.Second
	}
	if o.ObjectWait <= 0 {
		o.ObjectWait = 35 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.Mode == "" {
		o.Mode = ModePhoto
	}
	return o
}

// Result describes a successful capture. The object is downloaded in the
// background; its outcome is published through the Notifier.
type Result struct {
	ObjectID  uint32
	HasObject bool
}

// Completion is the single outcome of BeginCapture.
type Completion struct {
	Result Result
	Err    error
}

// Orchestrator drives captures on one device session. At most one capture
// runs at a time.
type Orchestrator struct {
	gw       Gateway
	session  *Session
	transfer *Transfer
	opts     Options
	log      zerolog.Logger
}

// NewOrchestrator creates an orchestrator for one device session. Zero
// fields of opts use the defaults.
func NewOrchestrator(gw Gateway, session *Session, transfer *Transfer, opts Options) *Orchestrator {
	return &Orchestrator{
		gw:       gw,
		session:  session,
		transfer: transfer,
		opts:     opts.withDefaults(),
		log:      debug.WithComponent("capture"),
	}
}

// Capture runs one capture and returns once the exposure is confirmed or has
// failed. It fails with ErrCaptureInProgress when another capture is running.
func (o *Orchestrator) Capture(ctx context.Context) (Result, error) {
	if err := o.session.begin(); err != nil {
		return Result{}, err
	}
	defer o.session.end()

	// Closing the session cancels the capture.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(o.session.Context(), cancel)
	defer stop()

	r := &run{o: o, state: StateIdle, log: o.log, mode: o.opts.Mode}
	if m, ok := ModeFromContext(ctx); ok {
		r.mode = m
	}
	return r.drive(ctx)
}

// BeginCapture starts a capture in the background. The returned channel
// delivers exactly one Completion and is then closed.
func (o *Orchestrator) BeginCapture(ctx context.Context) <-chan Completion {
	ch := make(chan Completion, 1)
	go func() {
		defer close(ch)
		res, err := o.Capture(ctx)
		ch <- Completion{Result: res, Err: err}
	}()
	return ch
}

// Wait blocks until background downloads have finished.
func (o *Orchestrator) Wait() {
	o.transfer.Wait()
}

// run holds the state of one capture.
type run struct {
	o     *Orchestrator
	state State
	log   zerolog.Logger
	mode  ShootingMode

	objectID  uint32
	hasObject bool
	err       error
}

func (r *run) drive(ctx context.Context) (Result, error) {
	debug.Section("Capture")
	for r.state != StateDone && r.state != StateFailed {
		if err := ctx.Err(); err != nil {
			r.state = r.fail(err)
			break
		}
		prev := r.state
		switch r.state {
		case StateIdle:
			r.state = r.pressShutter(ctx)
		case StateCapturing:
			r.state = r.checkFocusMode(ctx)
		case StateAwaitingFocus:
			r.state = r.awaitFocus(ctx)
		case StateReleasingShutter:
			r.state = r.releaseShutter(ctx)
		case StateAwaitingObjectID:
			r.state = r.awaitObjectID(ctx)
		case StateResolved:
			r.state = r.resolve()
		case StateDownloading:
			r.state = r.download()
		}
		r.log.Trace().Stringer("from", prev).Stringer("to", r.state).Msg("transition")
	}

	if r.state == StateFailed {
		return Result{}, r.err
	}
	return Result{ObjectID: r.objectID, HasObject: r.hasObject && r.objectID != 0}, nil
}

func (r *run) fail(err error) State {
	r.err = err
	r.log.Error().Err(err).Msg("capture failed")
	return StateFailed
}

// control writes one Sony control property and treats any non-OK response
// as fatal.
func (r *run) control(ctx context.Context, prop ptpip.DevicePropCode, value int64) error {
	code, err := r.o.gw.SetControlDeviceB(ctx, prop, ptpip.TypeUint16, value)
	if err != nil {
		return fmt.Errorf("set 0x%04X: %w", uint16(prop), err)
	}
	if code.IsError() {
		return &CommandRejectedError{Prop: prop, Value: value, Code: code}
	}
	return nil
}

// Idle -> Capturing: half-press then full-press.
func (r *run) pressShutter(ctx context.Context) State {
	debug.Step(1, "engage autofocus")
	if err := r.control(ctx, ptpip.PropSonyAutoFocus, controlDown); err != nil {
		return r.fail(err)
	}
	debug.Step(2, "press shutter")
	if err := r.control(ctx, ptpip.PropSonyCapture, controlDown); err != nil {
		return r.fail(err)
	}
	return StateCapturing
}

// Capturing -> AwaitingFocus when the focus mode hunts for focus, otherwise
// straight to ReleasingShutter.
func (r *run) checkFocusMode(ctx context.Context) State {
	mode, known := r.o.session.FocusMode()
	if !known {
		desc, err := r.o.gw.GetDevicePropDesc(ctx, ptpip.PropFocusMode)
		if err != nil {
			r.log.Warn().Err(err).Msg("focus mode unavailable, not waiting for focus")
			return StateReleasingShutter
		}
		v, ok := desc.CurrentValue.AsInt()
		if !ok {
			return StateReleasingShutter
		}
		mode = ptpip.FocusMode(v)
		r.o.session.SetFocusMode(mode)
	}
	debug.Value("focus_mode", fmt.Sprintf("0x%04X", uint16(mode)))
	if !mode.IsAutoFocus() {
		return StateReleasingShutter
	}
	return StateAwaitingFocus
}

// AwaitingFocus -> ReleasingShutter. A timeout is not an error.
func (r *run) awaitFocus(ctx context.Context) State {
	debug.Step(3, "await focus")
	probe := poll.Every(r.o.opts.PollInterval, func(context.Context) (uint32, bool) {
		id, done := r.o.session.observeFocus()
		return id, !done
	})
	id, ok := poll.Until(ctx, r.o.opts.FocusWait, 0, probe)
	switch {
	case !ok:
		r.log.Debug().Msg("focus not confirmed")
	case id != 0:
		r.objectID, r.hasObject = id, true
		r.log.Debug().Uint32("object_id", id).Msg("object reported while awaiting focus")
	default:
		r.log.Debug().Msg("focus found")
	}
	return StateReleasingShutter
}

// ReleasingShutter -> AwaitingObjectID, or Resolved when the id is already
// known or the caller does not wait for it.
func (r *run) releaseShutter(ctx context.Context) State {
	debug.Step(4, "release shutter")
	if err := r.control(ctx, ptpip.PropSonyCapture, controlUp); err != nil {
		return r.fail(err)
	}
	if err := r.control(ctx, ptpip.PropSonyAutoFocus, controlUp); err != nil {
		return r.fail(err)
	}
	if r.hasObject || r.o.opts.SkipObjectWait {
		return StateResolved
	}
	return StateAwaitingObjectID
}

// AwaitingObjectID -> Resolved, or Failed with ErrObjectNotFound.
func (r *run) awaitObjectID(ctx context.Context) State {
	debug.Step(5, "await object id")
	if id, ok := r.o.session.TakePending(); ok {
		r.objectID, r.hasObject = id, true
		return StateResolved
	}

	probe := poll.Every(r.o.opts.PollInterval, func(ctx context.Context) (uint32, bool) {
		if id, done := r.o.session.observeObject(); done {
			return id, false
		}
		desc, err := r.o.gw.GetDevicePropDesc(ctx, ptpip.PropSonyObjectInMemory)
		if err != nil {
			r.log.Trace().Err(err).Msg("object in memory query failed")
			return 0, true
		}
		if v, ok := desc.CurrentValue.AsInt(); ok && v >= InMemoryThreshold {
			return r.o.session.objectInMemory(), false
		}
		return 0, true
	})
	id, ok := poll.Until(ctx, r.o.opts.ObjectWait, 0, probe)
	if !ok {
		if err := ctx.Err(); err != nil {
			return r.fail(err)
		}
		return r.fail(ErrObjectNotFound)
	}
	r.objectID, r.hasObject = id, true
	return StateResolved
}

// Resolved -> Downloading, or Done when there is nothing to fetch.
func (r *run) resolve() State {
	if id, ok := r.o.session.resolve(); ok && !r.hasObject {
		r.objectID, r.hasObject = id, true
	}
	if !r.hasObject || r.objectID == 0 {
		debug.Live("Capture complete, no object to transfer")
		return StateDone
	}
	debug.Live("Capture complete, object 0x%08X", r.objectID)
	return StateDownloading
}

// Downloading -> Done. The transfer outlives the capture and is bound to the
// session instead.
func (r *run) download() State {
	r.o.transfer.Start(r.objectID, r.mode)
	return StateDone
}

// Shoot is Capture under the Shooter name.
func (o *Orchestrator) Shoot(ctx context.Context) (Result, error) {
	return o.Capture(ctx)
}
