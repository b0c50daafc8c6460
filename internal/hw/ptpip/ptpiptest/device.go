// Package ptpiptest provides a simulated Sony PTP/IP responder for tests.
package ptpiptest

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"unicode/utf16"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

var le = binary.LittleEndian

// inMemoryHandle is where Sony bodies expose an object they have not stored.
const inMemoryHandle = 0xffffc001

// Request is an operation received by the device.
type Request struct {
	Code   ptpip.OperationCode
	Tx     uint32
	Params []uint32
	Data   []byte
}

// Object is an image stored on the simulated device.
type Object struct {
	Name string
	Data []byte
}

// Device simulates a Sony camera. Property values are uint16. Objects queued
// with Queue are announced with an object-added event after the next shutter
// release; a property-changed focus-found event follows each shutter press
// when the focus mode is an autofocus mode. Reading the in-memory object to
// its end clears the in-memory property.
type Device struct {
	mu       sync.Mutex
	props    map[ptpip.DevicePropCode]int64
	objects  map[uint32]Object
	queue    []uint32
	reject   map[ptpip.DevicePropCode]ptpip.ResponseCode
	requests []Request

	cmd   net.Conn
	evt   net.Conn
	evtMu sync.Mutex
	ln    net.Listener
	wg    sync.WaitGroup
}

// NewDevice returns a device in manual focus with no objects.
func NewDevice() *Device {
	return &Device{
		props: map[ptpip.DevicePropCode]int64{
			ptpip.PropFocusMode: int64(ptpip.FocusManual),
		},
		objects: make(map[uint32]Object),
		reject:  make(map[ptpip.DevicePropCode]ptpip.ResponseCode),
	}
}

func (d *Device) SetProp(code ptpip.DevicePropCode, v int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.props[code] = v
}

// AddObject stores an object without announcing it.
func (d *Device) AddObject(handle uint32, o Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[handle] = o
}

// Queue stores an object and announces it after the next shutter release.
func (d *Device) Queue(handle uint32, o Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects[handle] = o
	d.queue = append(d.queue, handle)
}

// Reject makes SetControlDeviceB on code answer rc.
func (d *Device) Reject(code ptpip.DevicePropCode, rc ptpip.ResponseCode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reject[code] = rc
}

// Requests returns the operations received so far.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// Pipe serves the device over in-memory connections and returns the
// initiator ends, already past the init handshake.
func (d *Device) Pipe() (cmd, evt io.ReadWriteCloser) {
	cmdClient, cmdDevice := net.Pipe()
	evtClient, evtDevice := net.Pipe()
	d.attach(cmdDevice, evtDevice)
	return cmdClient, evtClient
}

// Listen serves one initiator on a loopback TCP port, handshake included, and
// returns the address to dial.
func (d *Device) Listen() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	d.ln = ln
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		cmd, evt, err := handshake(ln)
		if err != nil {
			return
		}
		d.attach(cmd, evt)
	}()
	return ln.Addr().String(), nil
}

func (d *Device) attach(cmd, evt net.Conn) {
	d.mu.Lock()
	d.cmd, d.evt = cmd, evt
	d.mu.Unlock()
	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.serve(cmd)
	}()
	go func() {
		defer d.wg.Done()
		// Drain probe responses and detect close.
		for {
			if _, err := ptpip.ReadPacket(evt); err != nil {
				return
			}
		}
	}()
}

// Close disconnects the initiator and waits for the device goroutines.
func (d *Device) Close() error {
	d.mu.Lock()
	cmd, evt, ln := d.cmd, d.evt, d.ln
	d.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	if cmd != nil {
		_ = cmd.Close()
	}
	if evt != nil {
		_ = evt.Close()
	}
	d.wg.Wait()
	return nil
}

// SendEvent pushes an event on the event channel.
func (d *Device) SendEvent(ev ptpip.Event) error {
	d.mu.Lock()
	evt := d.evt
	d.mu.Unlock()
	if evt == nil {
		return errors.New("ptpiptest: no initiator connected")
	}
	d.evtMu.Lock()
	defer d.evtMu.Unlock()
	return ptpip.WritePacket(evt, codeTx(ptpip.PacketEvent, uint16(ev.Code), ev.TransactionID, ev.Params))
}

func handshake(ln net.Listener) (net.Conn, net.Conn, error) {
	cmd, err := ln.Accept()
	if err != nil {
		return nil, nil, err
	}
	p, err := ptpip.ReadPacket(cmd)
	if err != nil || p.Type != ptpip.PacketInitCommandRequest {
		_ = cmd.Close()
		return nil, nil, errors.New("ptpiptest: expected init command request")
	}
	ack := le.AppendUint32(nil, 1)
	ack = append(ack, make([]byte, 16)...)
	for _, u := range utf16.Encode([]rune("ptpiptest")) {
		ack = le.AppendUint16(ack, u)
	}
	ack = le.AppendUint16(ack, 0)
	ack = le.AppendUint32(ack, 0x00010000)
	if err := ptpip.WritePacket(cmd, ptpip.Packet{Type: ptpip.PacketInitCommandAck, Payload: ack}); err != nil {
		_ = cmd.Close()
		return nil, nil, err
	}

	evt, err := ln.Accept()
	if err != nil {
		_ = cmd.Close()
		return nil, nil, err
	}
	if p, err := ptpip.ReadPacket(evt); err != nil || p.Type != ptpip.PacketInitEventRequest {
		_ = cmd.Close()
		_ = evt.Close()
		return nil, nil, errors.New("ptpiptest: expected init event request")
	}
	if err := ptpip.WritePacket(evt, ptpip.Packet{Type: ptpip.PacketInitEventAck}); err != nil {
		_ = cmd.Close()
		_ = evt.Close()
		return nil, nil, err
	}
	return cmd, evt, nil
}

func (d *Device) serve(cmd net.Conn) {
	for {
		req, err := readRequest(cmd)
		if err != nil {
			return
		}
		d.mu.Lock()
		d.requests = append(d.requests, req)
		d.mu.Unlock()

		code, data, after := d.handle(req)
		if data != nil {
			start := le.AppendUint32(nil, req.Tx)
			start = le.AppendUint64(start, uint64(len(data)))
			end := append(le.AppendUint32(nil, req.Tx), data...)
			if ptpip.WritePacket(cmd, ptpip.Packet{Type: ptpip.PacketStartData, Payload: start}) != nil ||
				ptpip.WritePacket(cmd, ptpip.Packet{Type: ptpip.PacketEndData, Payload: end}) != nil {
				return
			}
		}
		if err := ptpip.WritePacket(cmd, codeTx(ptpip.PacketOperationResponse, uint16(code), req.Tx, nil)); err != nil {
			return
		}
		for _, ev := range after {
			_ = d.SendEvent(ev)
		}
	}
}

func readRequest(r io.Reader) (Request, error) {
	p, err := ptpip.ReadPacket(r)
	if err != nil {
		return Request{}, err
	}
	if p.Type != ptpip.PacketOperationRequest || len(p.Payload) < 10 {
		return readRequest(r)
	}
	req := Request{
		Code: ptpip.OperationCode(le.Uint16(p.Payload[4:6])),
		Tx:   le.Uint32(p.Payload[6:10]),
	}
	for rest := p.Payload[10:]; len(rest) >= 4; rest = rest[4:] {
		req.Params = append(req.Params, le.Uint32(rest))
	}
	if le.Uint32(p.Payload[0:4]) == ptpip.DataPhaseOut {
		for {
			dp, err := ptpip.ReadPacket(r)
			if err != nil {
				return Request{}, err
			}
			if (dp.Type == ptpip.PacketData || dp.Type == ptpip.PacketEndData) && len(dp.Payload) >= 4 {
				req.Data = append(req.Data, dp.Payload[4:]...)
			}
			if dp.Type == ptpip.PacketEndData {
				break
			}
		}
	}
	return req, nil
}

// handle answers one request: response code, optional data-in payload and
// events to send once the response is out.
func (d *Device) handle(req Request) (ptpip.ResponseCode, []byte, []ptpip.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Code {
	case ptpip.OpOpenSession, ptpip.OpCloseSession, ptpip.OpSDIOConnect:
		return ptpip.RespOK, nil, nil

	case ptpip.OpSDIOGetExtDeviceInfo:
		return ptpip.RespOK, le.AppendUint16(nil, 0xC8), nil

	case ptpip.OpSetControlDeviceB:
		if len(req.Params) == 0 || len(req.Data) < 2 {
			return ptpip.RespParameterNotSupported, nil, nil
		}
		prop := ptpip.DevicePropCode(req.Params[0])
		value := int64(le.Uint16(req.Data))
		if rc, ok := d.reject[prop]; ok {
			return rc, nil, nil
		}
		d.props[prop] = value
		return ptpip.RespOK, nil, d.afterControl(prop, value)

	case ptpip.OpGetDevicePropDesc:
		if len(req.Params) == 0 {
			return ptpip.RespParameterNotSupported, nil, nil
		}
		prop := ptpip.DevicePropCode(req.Params[0])
		v, ok := d.props[prop]
		if !ok && prop != ptpip.PropSonyObjectInMemory {
			return ptpip.RespDevicePropNotSupported, nil, nil
		}
		desc := ptpip.DevicePropDesc{
			Code:         prop,
			Type:         ptpip.TypeUint16,
			CurrentValue: ptpip.Value{Type: ptpip.TypeUint16, Int: v},
		}
		data, _ := desc.MarshalBinary()
		return ptpip.RespOK, data, nil

	case ptpip.OpGetObjectInfo:
		o, ok := d.object(req.Params)
		if !ok {
			return ptpip.RespInvalidObjectHandle, nil, nil
		}
		info := ptpip.ObjectInfo{ObjectFormat: 0x3801, CompressedSize: uint32(len(o.Data)), FileName: o.Name}
		data, _ := info.MarshalBinary()
		return ptpip.RespOK, data, nil

	case ptpip.OpGetPartialObject:
		o, ok := d.object(req.Params)
		if !ok || len(req.Params) < 3 {
			return ptpip.RespInvalidObjectHandle, nil, nil
		}
		off, n := int(req.Params[1]), int(req.Params[2])
		if off > len(o.Data) {
			off = len(o.Data)
		}
		if off+n > len(o.Data) {
			n = len(o.Data) - off
		}
		if req.Params[0] == inMemoryHandle && off+n == len(o.Data) {
			d.props[ptpip.PropSonyObjectInMemory] = 0
		}
		return ptpip.RespOK, append([]byte{}, o.Data[off:off+n]...), nil
	}
	return ptpip.RespOperationNotSupported, nil, nil
}

func (d *Device) object(params []uint32) (Object, bool) {
	if len(params) == 0 {
		return Object{}, false
	}
	o, ok := d.objects[params[0]]
	return o, ok
}

func (d *Device) afterControl(prop ptpip.DevicePropCode, value int64) []ptpip.Event {
	switch {
	case prop == ptpip.PropSonyCapture && value == 2:
		if ptpip.FocusMode(d.props[ptpip.PropFocusMode]).IsAutoFocus() {
			return []ptpip.Event{{Code: ptpip.EventSonyPropertyChanged, Params: []uint32{uint32(ptpip.PropSonyFocusFound)}}}
		}
	case prop == ptpip.PropSonyCapture && value == 1:
		if len(d.queue) > 0 {
			handle := d.queue[0]
			d.queue = d.queue[1:]
			return []ptpip.Event{{Code: ptpip.EventSonyObjectAdded, Params: []uint32{handle}}}
		}
	}
	return nil
}

func codeTx(t ptpip.PacketType, code uint16, tx uint32, params []uint32) ptpip.Packet {
	b := le.AppendUint16(nil, code)
	b = le.AppendUint32(b, tx)
	for _, p := range params {
		b = le.AppendUint32(b, p)
	}
	return ptpip.Packet{Type: t, Payload: b}
}
