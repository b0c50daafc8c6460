package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/color"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

// jpegBytes returns a small valid JPEG.
func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := imaging.New(8, 8, color.NRGBA{R: 200, G: 80, B: 20, A: 255})
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func uint16Desc(code ptpip.DevicePropCode, v int64) *ptpip.DevicePropDesc {
	return &ptpip.DevicePropDesc{
		Code:         code,
		Type:         ptpip.TypeUint16,
		CurrentValue: ptpip.Value{Type: ptpip.TypeUint16, Int: v},
	}
}

// recordingGateway is a scripted device. It records every call and can
// deliver events into the session when a control command is written.
type recordingGateway struct {
	mu    sync.Mutex
	calls []string

	reject    map[string]ptpip.ResponseCode // keyed like the recorded call
	focusMode ptpip.FocusMode
	focusErr  error
	inMemory  int64
	objects   map[uint32][]byte

	// onSet runs after a control command is recorded, outside the lock.
	onSet func(call string)
	// block, when set, holds every control command until closed.
	block chan struct{}
}

func newRecordingGateway() *recordingGateway {
	return &recordingGateway{
		reject:    make(map[string]ptpip.ResponseCode),
		focusMode: ptpip.FocusManual,
		objects:   make(map[uint32][]byte),
	}
}

func (g *recordingGateway) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
}

func (g *recordingGateway) recorded() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// controlCalls returns only the SetControlDeviceB calls.
func (g *recordingGateway) controlCalls() []string {
	var out []string
	for _, c := range g.recorded() {
		if len(c) > 4 && c[:4] == "set " {
			out = append(out, c)
		}
	}
	return out
}

func (g *recordingGateway) count(call string) int {
	n := 0
	for _, c := range g.recorded() {
		if c == call {
			n++
		}
	}
	return n
}

func (g *recordingGateway) setInMemory(v int64) {
	g.mu.Lock()
	g.inMemory = v
	g.mu.Unlock()
}

func (g *recordingGateway) SetControlDeviceB(ctx context.Context, code ptpip.DevicePropCode, _ ptpip.DataType, value int64) (ptpip.ResponseCode, error) {
	call := fmt.Sprintf("set %04X=%d", uint16(code), value)
	g.record(call)
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if g.onSet != nil {
		g.onSet(call)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if rc, ok := g.reject[call]; ok {
		return rc, nil
	}
	return ptpip.RespOK, nil
}

func (g *recordingGateway) GetDevicePropDesc(_ context.Context, code ptpip.DevicePropCode) (*ptpip.DevicePropDesc, error) {
	g.record(fmt.Sprintf("desc %04X", uint16(code)))
	g.mu.Lock()
	defer g.mu.Unlock()
	switch code {
	case ptpip.PropFocusMode:
		if g.focusErr != nil {
			return nil, g.focusErr
		}
		return uint16Desc(code, int64(g.focusMode)), nil
	case ptpip.PropSonyObjectInMemory:
		return uint16Desc(code, g.inMemory), nil
	}
	return nil, &ptpip.ResponseError{Op: ptpip.OpGetDevicePropDesc, Code: ptpip.RespDevicePropNotSupported}
}

func (g *recordingGateway) GetObjectInfo(_ context.Context, handle uint32) (*ptpip.ObjectInfo, error) {
	g.record(fmt.Sprintf("info %08X", handle))
	g.mu.Lock()
	defer g.mu.Unlock()
	data, ok := g.objects[handle]
	if !ok {
		return nil, &ptpip.ResponseError{Op: ptpip.OpGetObjectInfo, Code: ptpip.RespInvalidObjectHandle}
	}
	return &ptpip.ObjectInfo{CompressedSize: uint32(len(data)), FileName: fmt.Sprintf("DSC%05d.JPG", handle)}, nil
}

func (g *recordingGateway) GetPartialObject(_ context.Context, handle, offset, length uint32) ([]byte, error) {
	g.record(fmt.Sprintf("partial %08X", handle))
	g.mu.Lock()
	defer g.mu.Unlock()
	data := g.objects[handle]
	end := offset + length
	if int(end) > len(data) {
		end = uint32(len(data))
	}
	return data[offset:end], nil
}

// eventRecorder collects published transfer events.
type eventRecorder struct {
	ch chan TransferEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{ch: make(chan TransferEvent, 32)}
}

func (r *eventRecorder) Publish(ev TransferEvent) {
	r.ch <- ev
}

func objectAdded(id uint32) ptpip.Event {
	return ptpip.Event{Code: ptpip.EventSonyObjectAdded, Params: []uint32{id}}
}

func propChanged(prop uint32) ptpip.Event {
	return ptpip.Event{Code: ptpip.EventSonyPropertyChanged, Params: []uint32{prop}}
}
