package ptpip

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrClosed     = errors.New("ptpip: client closed")
	ErrInitFailed = errors.New("ptpip: init failed")
)

// ResponseError is returned when the responder answers an operation with a
// non-OK response code.
type ResponseError struct {
	Op   OperationCode
	Code ResponseCode
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("ptpip: operation 0x%04X rejected: %s", uint16(e.Op), e.Code)
}

// Options tunes a Client.
type Options struct {
	ResponseTimeout time.Duration // per-exchange wait for the OperationResponse; default 10s
	EventBuffer     int           // default subscription buffer; default 64
	Logger          *zerolog.Logger
}

// Client speaks PTP/IP over an established command channel and event channel.
//
// Command exchanges are serialized: one OperationRequest is in flight at a time
// per session. Responses and data phases are correlated by transaction id, and
// events are fanned out to subscribers independently of command traffic.
type Client struct {
	cmd     io.ReadWriteCloser
	evt     io.ReadWriteCloser
	log     zerolog.Logger
	timeout time.Duration
	evBuf   int

	cmdMu      sync.Mutex // serializes command exchanges
	cmdWriteMu sync.Mutex

	txMu   sync.Mutex
	lastTx uint32

	pendingMu sync.Mutex
	pending   map[uint32]*exchange

	evtWriteMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   []*Subscription

	group     errgroup.Group
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

type exchange struct {
	data []byte
	done chan Response
}

// NewClient wraps two connected, already initialized channels and starts the
// read loops. Use Dial to establish the channels over TCP.
func NewClient(cmd, evt io.ReadWriteCloser, opts Options) *Client {
	c := &Client{
		cmd:     cmd,
		evt:     evt,
		timeout: opts.ResponseTimeout,
		evBuf:   opts.EventBuffer,
		pending: make(map[uint32]*exchange),
		closed:  make(chan struct{}),
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.evBuf <= 0 {
		c.evBuf = 64
	}
	if opts.Logger != nil {
		c.log = opts.Logger.With().Str("component", "ptpip").Logger()
	} else {
		c.log = zerolog.Nop()
	}

	c.group.Go(c.readCommands)
	c.group.Go(c.readEvents)
	return c
}

// Done is closed when the client shuts down, either through Close or a
// transport failure.
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Err returns the reason the client shut down, nil while it is running.
func (c *Client) Err() error {
	select {
	case <-c.closed:
		return c.err
	default:
		return nil
	}
}

// Close shuts down both channels and waits for the read loops to exit.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	_ = c.group.Wait()
	return nil
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.err = reason
		close(c.closed)
		_ = c.cmd.Close()
		_ = c.evt.Close()

		c.listenersMu.Lock()
		for _, s := range c.listeners {
			close(s.ch)
		}
		c.listeners = nil
		c.listenersMu.Unlock()

		if !errors.Is(reason, ErrClosed) {
			c.log.Error().Err(reason).Msg("connection lost")
		}
	})
}

func (c *Client) nextTransactionID() uint32 {
	c.txMu.Lock()
	defer c.txMu.Unlock()
	c.lastTx++
	if c.lastTx == 0 || c.lastTx == 0xFFFFFFFF {
		c.lastTx = 1
	}
	return c.lastTx
}

func (c *Client) lookup(tx uint32) *exchange {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return c.pending[tx]
}

func (c *Client) take(tx uint32) *exchange {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ex := c.pending[tx]
	delete(c.pending, tx)
	return ex
}

// Transact performs one command exchange: OperationRequest, optional data-out
// phase, then waits for the matching OperationResponse. Data sent by the
// responder in a data-in phase is returned in Response.Data.
func (c *Client) Transact(ctx context.Context, op Operation, dataOut []byte) (*Response, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	select {
	case <-c.closed:
		return nil, c.err
	default:
	}

	tx := c.nextTransactionID()
	ex := &exchange{done: make(chan Response, 1)}
	c.pendingMu.Lock()
	c.pending[tx] = ex
	c.pendingMu.Unlock()
	defer c.take(tx)

	phase := DataPhaseNoneOrIn
	if dataOut != nil {
		phase = DataPhaseOut
	}
	req, err := operationRequest(phase, tx, op)
	if err != nil {
		return nil, err
	}

	c.log.Trace().Uint32("tx", tx).Uint16("op", uint16(op.Code)).Interface("params", op.Params).Msg("operation request")
	if err := c.writeCmd(req); err != nil {
		return nil, fmt.Errorf("send operation 0x%04X: %w", uint16(op.Code), err)
	}
	if dataOut != nil {
		for _, p := range dataPackets(tx, dataOut) {
			if err := c.writeCmd(p); err != nil {
				return nil, fmt.Errorf("send data for operation 0x%04X: %w", uint16(op.Code), err)
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp := <-ex.done:
		c.log.Trace().Uint32("tx", tx).Stringer("code", resp.Code).Int("data", len(resp.Data)).Msg("operation response")
		return &resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("await response to 0x%04X (tx %d): %w", uint16(op.Code), tx, ctx.Err())
	case <-c.closed:
		return nil, c.err
	}
}

func (c *Client) writeCmd(p Packet) error {
	c.cmdWriteMu.Lock()
	defer c.cmdWriteMu.Unlock()
	return WritePacket(c.cmd, p)
}

func (c *Client) readCommands() error {
	for {
		p, err := ReadPacket(c.cmd)
		if err != nil {
			err = fmt.Errorf("read command channel: %w", err)
			c.shutdown(err)
			return err
		}
		switch p.Type {
		case PacketStartData:
			tx, total, err := parseStartData(p.Payload)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad start data packet")
				continue
			}
			if ex := c.lookup(tx); ex != nil && total < maxPacketSize {
				ex.data = make([]byte, 0, int(total))
			}
		case PacketData, PacketEndData:
			tx, chunk, err := parseTxID(p.Payload)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad data packet")
				continue
			}
			if ex := c.lookup(tx); ex != nil {
				ex.data = append(ex.data, chunk...)
			}
		case PacketOperationResponse:
			resp, err := parseOperationResponse(p.Payload)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad operation response")
				continue
			}
			ex := c.take(resp.TransactionID)
			if ex == nil {
				c.log.Debug().Uint32("tx", resp.TransactionID).Msg("response for unknown transaction dropped")
				continue
			}
			resp.Data = ex.data
			ex.done <- resp
		case PacketProbeRequest:
			if err := c.writeCmd(Packet{Type: PacketProbeResponse}); err != nil {
				c.log.Warn().Err(err).Msg("probe response")
			}
		default:
			c.log.Trace().Uint32("type", uint32(p.Type)).Msg("unexpected packet on command channel")
		}
	}
}

func (c *Client) readEvents() error {
	for {
		p, err := ReadPacket(c.evt)
		if err != nil {
			err = fmt.Errorf("read event channel: %w", err)
			c.shutdown(err)
			return err
		}
		switch p.Type {
		case PacketEvent:
			ev, err := parseEvent(p.Payload)
			if err != nil {
				c.log.Warn().Err(err).Msg("bad event packet")
				continue
			}
			c.log.Trace().Stringer("event", ev).Msg("event")
			c.broadcast(ev)
		case PacketProbeRequest:
			c.evtWriteMu.Lock()
			err := WritePacket(c.evt, Packet{Type: PacketProbeResponse})
			c.evtWriteMu.Unlock()
			if err != nil {
				c.log.Warn().Err(err).Msg("probe response")
			}
		default:
			c.log.Trace().Uint32("type", uint32(p.Type)).Msg("unexpected packet on event channel")
		}
	}
}

// Subscription delivers device events until it is closed or the client shuts down.
type Subscription struct {
	c  *Client
	ch chan Event
}

// C returns the event channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close removes the subscription.
func (s *Subscription) Close() error {
	s.c.listenersMu.Lock()
	defer s.c.listenersMu.Unlock()
	for i, l := range s.c.listeners {
		if l == s {
			s.c.listeners = append(s.c.listeners[:i], s.c.listeners[i+1:]...)
			close(s.ch)
			break
		}
	}
	return nil
}

// Subscribe registers a new event listener. buffer <= 0 uses the client default.
// Slow subscribers miss events rather than stall the event channel.
func (c *Client) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = c.evBuf
	}
	s := &Subscription{c: c, ch: make(chan Event, buffer)}
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	select {
	case <-c.closed:
		close(s.ch)
	default:
		c.listeners = append(c.listeners, s)
	}
	return s
}

func (c *Client) broadcast(ev Event) {
	c.listenersMu.RLock()
	defer c.listenersMu.RUnlock()
	for _, s := range c.listeners {
		select {
		case s.ch <- ev:
		default:
			c.log.Warn().Stringer("event", ev).Msg("subscriber full, event dropped")
		}
	}
}

// OpenSession opens a PTP session with the given id.
func (c *Client) OpenSession(ctx context.Context, sessionID uint32) error {
	resp, err := c.Transact(ctx, Operation{Code: OpOpenSession, Params: []uint32{sessionID}}, nil)
	if err != nil {
		return err
	}
	if resp.Code.IsError() && resp.Code != RespSessionAlreadyOpen {
		return &ResponseError{Op: OpOpenSession, Code: resp.Code}
	}
	return nil
}

// CloseSession closes the current PTP session.
func (c *Client) CloseSession(ctx context.Context) error {
	resp, err := c.Transact(ctx, Operation{Code: OpCloseSession}, nil)
	if err != nil {
		return err
	}
	if resp.Code.IsError() {
		return &ResponseError{Op: OpCloseSession, Code: resp.Code}
	}
	return nil
}

// SetControlDeviceB sets a Sony control property. The response code is
// returned as-is so callers can decide how to treat a rejection.
func (c *Client) SetControlDeviceB(ctx context.Context, code DevicePropCode, t DataType, value int64) (ResponseCode, error) {
	size := t.Size()
	if size == 0 {
		return 0, fmt.Errorf("ptpip: SetControlDeviceB needs an integer datatype, got 0x%04X", uint16(t))
	}
	data := make([]byte, size)
	u := uint64(value)
	for i := 0; i < size; i++ {
		data[i] = byte(u >> (8 * i))
	}
	resp, err := c.Transact(ctx, Operation{Code: OpSetControlDeviceB, Params: []uint32{uint32(code)}}, data)
	if err != nil {
		return 0, err
	}
	return resp.Code, nil
}

// GetDevicePropDesc fetches and decodes the descriptor of a device property.
func (c *Client) GetDevicePropDesc(ctx context.Context, code DevicePropCode) (*DevicePropDesc, error) {
	resp, err := c.Transact(ctx, Operation{Code: OpGetDevicePropDesc, Params: []uint32{uint32(code)}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code.IsError() {
		return nil, &ResponseError{Op: OpGetDevicePropDesc, Code: resp.Code}
	}
	return ParseDevicePropDesc(resp.Data)
}

// GetObjectInfo fetches the ObjectInfo dataset of an object.
func (c *Client) GetObjectInfo(ctx context.Context, handle uint32) (*ObjectInfo, error) {
	resp, err := c.Transact(ctx, Operation{Code: OpGetObjectInfo, Params: []uint32{handle}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code.IsError() {
		return nil, &ResponseError{Op: OpGetObjectInfo, Code: resp.Code}
	}
	return ParseObjectInfo(resp.Data)
}

// GetPartialObject reads length bytes of an object starting at offset in a
// single exchange.
func (c *Client) GetPartialObject(ctx context.Context, handle, offset, length uint32) ([]byte, error) {
	resp, err := c.Transact(ctx, Operation{Code: OpGetPartialObject, Params: []uint32{handle, offset, length}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code.IsError() {
		return nil, &ResponseError{Op: OpGetPartialObject, Code: resp.Code}
	}
	return resp.Data, nil
}

// SDIOConnect runs one phase (1, 2 or 3) of the Sony remote-control
// handshake.
func (c *Client) SDIOConnect(ctx context.Context, phase uint32) error {
	resp, err := c.Transact(ctx, Operation{Code: OpSDIOConnect, Params: []uint32{phase, 0, 0}}, nil)
	if err != nil {
		return err
	}
	if resp.Code.IsError() {
		return &ResponseError{Op: OpSDIOConnect, Code: resp.Code}
	}
	return nil
}

// SDIOGetExtDeviceInfo announces the initiator protocol version and returns
// the raw extended device info dataset.
func (c *Client) SDIOGetExtDeviceInfo(ctx context.Context, version uint32) ([]byte, error) {
	resp, err := c.Transact(ctx, Operation{Code: OpSDIOGetExtDeviceInfo, Params: []uint32{version}}, nil)
	if err != nil {
		return nil, err
	}
	if resp.Code.IsError() {
		return nil, &ResponseError{Op: OpSDIOGetExtDeviceInfo, Code: resp.Code}
	}
	return resp.Data, nil
}
