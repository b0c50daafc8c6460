package ptpip

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf16"
)

// PacketType is the PTP/IP packet type carried in every packet header.
type PacketType uint32

const (
	PacketInitCommandRequest PacketType = 1
	PacketInitCommandAck     PacketType = 2
	PacketInitEventRequest   PacketType = 3
	PacketInitEventAck       PacketType = 4
	PacketInitFail           PacketType = 5
	PacketOperationRequest   PacketType = 6
	PacketOperationResponse  PacketType = 7
	PacketEvent              PacketType = 8
	PacketStartData          PacketType = 9
	PacketData               PacketType = 10
	PacketCancel             PacketType = 11
	PacketEndData            PacketType = 12
	PacketProbeRequest       PacketType = 13
	PacketProbeResponse      PacketType = 14
)

// Data phase indicator of an OperationRequest.
const (
	DataPhaseNoneOrIn uint32 = 1
	DataPhaseOut      uint32 = 2
)

const (
	headerSize      = 8
	maxPacketSize   = 256 << 20
	protocolVersion = 0x00010000
	maxParams       = 5
)

var (
	ErrShortPacket    = errors.New("ptpip: short packet")
	ErrPacketTooLarge = errors.New("ptpip: packet too large")
)

var le = binary.LittleEndian

// Packet is one framed PTP/IP packet.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// ReadPacket reads one length-prefixed packet from r.
func ReadPacket(r io.Reader) (Packet, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}
	length := le.Uint32(hdr[0:4])
	if length < headerSize {
		return Packet{}, fmt.Errorf("%w: length %d", ErrShortPacket, length)
	}
	if length > maxPacketSize {
		return Packet{}, fmt.Errorf("%w: length %d", ErrPacketTooLarge, length)
	}
	p := Packet{Type: PacketType(le.Uint32(hdr[4:8]))}
	if length > headerSize {
		p.Payload = make([]byte, length-headerSize)
		if _, err := io.ReadFull(r, p.Payload); err != nil {
			return Packet{}, fmt.Errorf("read packet payload: %w", err)
		}
	}
	return p, nil
}

// WritePacket writes p with its header in a single Write call.
func WritePacket(w io.Writer, p Packet) error {
	buf := make([]byte, headerSize+len(p.Payload))
	le.PutUint32(buf[0:4], uint32(len(buf)))
	le.PutUint32(buf[4:8], uint32(p.Type))
	copy(buf[headerSize:], p.Payload)
	_, err := w.Write(buf)
	return err
}

func appendUint16(b []byte, v uint16) []byte { return le.AppendUint16(b, v) }
func appendUint32(b []byte, v uint32) []byte { return le.AppendUint32(b, v) }

// appendUTF16z appends s as null-terminated UTF-16LE, as used in the init packets.
func appendUTF16z(b []byte, s string) []byte {
	for _, u := range utf16.Encode([]rune(s)) {
		b = appendUint16(b, u)
	}
	return appendUint16(b, 0)
}

func readUTF16z(b []byte) (string, []byte, error) {
	var units []uint16
	for {
		if len(b) < 2 {
			return "", nil, fmt.Errorf("%w: unterminated utf-16 string", ErrShortPacket)
		}
		u := le.Uint16(b)
		b = b[2:]
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units)), b, nil
}

// InitCommandAck is the responder's answer to the command channel init.
type InitCommandAck struct {
	ConnectionNumber uint32
	GUID             [16]byte
	Name             string
	Version          uint32
}

func initCommandRequest(guid [16]byte, name string) Packet {
	b := make([]byte, 0, 16+2*len(name)+6)
	b = append(b, guid[:]...)
	b = appendUTF16z(b, name)
	b = appendUint32(b, protocolVersion)
	return Packet{Type: PacketInitCommandRequest, Payload: b}
}

func parseInitCommandAck(payload []byte) (InitCommandAck, error) {
	var ack InitCommandAck
	if len(payload) < 4+16 {
		return ack, fmt.Errorf("%w: init command ack", ErrShortPacket)
	}
	ack.ConnectionNumber = le.Uint32(payload[0:4])
	copy(ack.GUID[:], payload[4:20])
	name, rest, err := readUTF16z(payload[20:])
	if err != nil {
		return ack, err
	}
	ack.Name = name
	if len(rest) >= 4 {
		ack.Version = le.Uint32(rest)
	}
	return ack, nil
}

func initEventRequest(connectionNumber uint32) Packet {
	return Packet{Type: PacketInitEventRequest, Payload: appendUint32(nil, connectionNumber)}
}

func parseInitFail(payload []byte) uint32 {
	if len(payload) < 4 {
		return 0
	}
	return le.Uint32(payload)
}

// Operation is an outbound command.
type Operation struct {
	Code   OperationCode
	Params []uint32
}

func operationRequest(dataPhase uint32, tx uint32, op Operation) (Packet, error) {
	if len(op.Params) > maxParams {
		return Packet{}, fmt.Errorf("ptpip: operation 0x%04X has %d params, max %d", uint16(op.Code), len(op.Params), maxParams)
	}
	b := make([]byte, 0, 10+4*len(op.Params))
	b = appendUint32(b, dataPhase)
	b = appendUint16(b, uint16(op.Code))
	b = appendUint32(b, tx)
	for _, p := range op.Params {
		b = appendUint32(b, p)
	}
	return Packet{Type: PacketOperationRequest, Payload: b}, nil
}

// Response is a decoded OperationResponse plus any data received in the data-in phase.
type Response struct {
	Code          ResponseCode
	TransactionID uint32
	Params        []uint32
	Data          []byte
}

// parseCodeTx decodes the code/transaction/params layout shared by responses and events.
func parseCodeTx(payload []byte) (uint16, uint32, []uint32, error) {
	if len(payload) < 6 {
		return 0, 0, nil, ErrShortPacket
	}
	code := le.Uint16(payload[0:2])
	tx := le.Uint32(payload[2:6])
	rest := payload[6:]
	var params []uint32
	for len(rest) >= 4 {
		params = append(params, le.Uint32(rest))
		rest = rest[4:]
	}
	return code, tx, params, nil
}

func encodeCodeTx(t PacketType, code uint16, tx uint32, params []uint32) Packet {
	b := make([]byte, 0, 6+4*len(params))
	b = appendUint16(b, code)
	b = appendUint32(b, tx)
	for _, p := range params {
		b = appendUint32(b, p)
	}
	return Packet{Type: t, Payload: b}
}

func parseOperationResponse(payload []byte) (Response, error) {
	code, tx, params, err := parseCodeTx(payload)
	if err != nil {
		return Response{}, fmt.Errorf("operation response: %w", err)
	}
	return Response{Code: ResponseCode(code), TransactionID: tx, Params: params}, nil
}

func parseEvent(payload []byte) (Event, error) {
	code, tx, params, err := parseCodeTx(payload)
	if err != nil {
		return Event{}, fmt.Errorf("event: %w", err)
	}
	return Event{Code: EventCode(code), TransactionID: tx, Params: params}, nil
}

// responsePacket builds a device-side OperationResponse.
func responsePacket(code ResponseCode, tx uint32, params ...uint32) Packet {
	return encodeCodeTx(PacketOperationResponse, uint16(code), tx, params)
}

// eventPacket builds a device-side Event.
func eventPacket(ev Event) Packet {
	return encodeCodeTx(PacketEvent, uint16(ev.Code), ev.TransactionID, ev.Params)
}

func startDataPacket(tx uint32, total uint64) Packet {
	b := appendUint32(make([]byte, 0, 12), tx)
	b = le.AppendUint64(b, total)
	return Packet{Type: PacketStartData, Payload: b}
}

func dataPacket(t PacketType, tx uint32, data []byte) Packet {
	b := appendUint32(make([]byte, 0, 4+len(data)), tx)
	b = append(b, data...)
	return Packet{Type: t, Payload: b}
}

// dataPackets builds the StartData/EndData pair that carries a data phase.
func dataPackets(tx uint32, data []byte) []Packet {
	return []Packet{startDataPacket(tx, uint64(len(data))), dataPacket(PacketEndData, tx, data)}
}

func parseTxID(payload []byte) (uint32, []byte, error) {
	if len(payload) < 4 {
		return 0, nil, fmt.Errorf("%w: data packet", ErrShortPacket)
	}
	return le.Uint32(payload[0:4]), payload[4:], nil
}

func parseStartData(payload []byte) (uint32, uint64, error) {
	if len(payload) < 12 {
		return 0, 0, fmt.Errorf("%w: start data", ErrShortPacket)
	}
	return le.Uint32(payload[0:4]), le.Uint64(payload[4:12]), nil
}
