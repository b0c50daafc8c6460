package ptpip

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenResponder accepts the command and event channels on a loopback port
// and runs the responder side of the init handshake.
func listenResponder(t *testing.T, failCommand bool) (string, <-chan *fakeDevice, <-chan [16]byte) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	devices := make(chan *fakeDevice, 1)
	guids := make(chan [16]byte, 1)
	go func() {
		cmd, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = cmd.Close() })
		p, err := ReadPacket(cmd)
		if err != nil || p.Type != PacketInitCommandRequest {
			return
		}
		var guid [16]byte
		copy(guid[:], p.Payload[:16])
		guids <- guid

		if failCommand {
			_ = WritePacket(cmd, Packet{Type: PacketInitFail, Payload: appendUint32(nil, 0x1)})
			return
		}
		ack := appendUint32(nil, 7)
		ack = append(ack, make([]byte, 16)...)
		ack = appendUTF16z(ack, "ILCE-7M4")
		ack = appendUint32(ack, protocolVersion)
		if err := WritePacket(cmd, Packet{Type: PacketInitCommandAck, Payload: ack}); err != nil {
			return
		}

		evt, err := ln.Accept()
		if err != nil {
			return
		}
		t.Cleanup(func() { _ = evt.Close() })
		p, err = ReadPacket(evt)
		if err != nil || p.Type != PacketInitEventRequest || le.Uint32(p.Payload) != 7 {
			return
		}
		if err := WritePacket(evt, Packet{Type: PacketInitEventAck}); err != nil {
			return
		}

		dev := &fakeDevice{cmd: cmd, evt: evt, handle: okHandler}
		devices <- dev
		dev.serve()
	}()
	return ln.Addr().String(), devices, guids
}

func TestDial(t *testing.T) {
	addr, devices, guids := listenResponder(t, false)
	guid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	c, err := Dial(context.Background(), addr, DialOptions{GUID: guid, Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, [16]byte(guid), <-guids)
	dev := <-devices
	reqs := dev.seen()
	require.Len(t, reqs, 1)
	assert.Equal(t, OpOpenSession, reqs[0].Code)
	assert.Equal(t, []uint32{1}, reqs[0].Params)
}

func TestDial_InitFail(t *testing.T) {
	addr, _, _ := listenResponder(t, true)

	_, err := Dial(context.Background(), addr, DialOptions{Timeout: 2 * time.Second})
	assert.ErrorIs(t, err, ErrInitFailed)
}

func TestDial_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = Dial(context.Background(), addr, DialOptions{Timeout: 500 * time.Millisecond})
	assert.Error(t, err)
}
