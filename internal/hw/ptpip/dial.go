package ptpip

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultPort is the IANA-assigned PTP/IP port.
const DefaultPort = 15740

// DialOptions configures Dial.
type DialOptions struct {
	Name            string    // friendly name announced to the responder
	GUID            uuid.UUID // initiator GUID; random when zero
	Timeout         time.Duration
	ResponseTimeout time.Duration
	SessionID       uint32 // default 1
	Logger          *zerolog.Logger
}

// Dial connects the command and event channels to addr, performs the PTP/IP
// init handshake and opens a session.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.GUID == uuid.Nil {
		opts.GUID = uuid.New()
	}
	if opts.Name == "" {
		opts.Name = "ptpshot"
	}
	if opts.SessionID == 0 {
		opts.SessionID = 1
	}

	dctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	deadline, _ := dctx.Deadline()

	var d net.Dialer
	cmd, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial command channel: %w", err)
	}
	ack, err := initCommand(cmd, deadline, [16]byte(opts.GUID), opts.Name)
	if err != nil {
		_ = cmd.Close()
		return nil, err
	}

	evt, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		_ = cmd.Close()
		return nil, fmt.Errorf("dial event channel: %w", err)
	}
	if err := initEvent(evt, deadline, ack.ConnectionNumber); err != nil {
		_ = cmd.Close()
		_ = evt.Close()
		return nil, err
	}

	c := NewClient(cmd, evt, Options{ResponseTimeout: opts.ResponseTimeout, Logger: opts.Logger})
	c.log.Info().Str("responder", ack.Name).Uint32("connection", ack.ConnectionNumber).Msg("ptp/ip channels up")

	if err := c.OpenSession(ctx, opts.SessionID); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("open session: %w", err)
	}
	return c, nil
}

func initCommand(conn net.Conn, deadline time.Time, guid [16]byte, name string) (InitCommandAck, error) {
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if err := WritePacket(conn, initCommandRequest(guid, name)); err != nil {
		return InitCommandAck{}, fmt.Errorf("send init command request: %w", err)
	}
	p, err := ReadPacket(conn)
	if err != nil {
		return InitCommandAck{}, fmt.Errorf("read init command ack: %w", err)
	}
	switch p.Type {
	case PacketInitCommandAck:
		return parseInitCommandAck(p.Payload)
	case PacketInitFail:
		return InitCommandAck{}, fmt.Errorf("%w: command channel, reason 0x%08X", ErrInitFailed, parseInitFail(p.Payload))
	default:
		return InitCommandAck{}, fmt.Errorf("%w: unexpected packet type %d", ErrInitFailed, p.Type)
	}
}

func initEvent(conn net.Conn, deadline time.Time, connectionNumber uint32) error {
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if err := WritePacket(conn, initEventRequest(connectionNumber)); err != nil {
		return fmt.Errorf("send init event request: %w", err)
	}
	p, err := ReadPacket(conn)
	if err != nil {
		return fmt.Errorf("read init event ack: %w", err)
	}
	switch p.Type {
	case PacketInitEventAck:
		return nil
	case PacketInitFail:
		return fmt.Errorf("%w: event channel, reason 0x%08X", ErrInitFailed, parseInitFail(p.Payload))
	default:
		return fmt.Errorf("%w: unexpected packet type %d", ErrInitFailed, p.Type)
	}
}
