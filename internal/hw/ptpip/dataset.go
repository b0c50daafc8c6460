package ptpip

import (
	"fmt"
	"unicode/utf16"
)

// Value is a decoded property value. Integer types populate Int;
// TypeString populates Str.
type Value struct {
	Type DataType
	Int  int64
	Str  string
}

// AsInt returns the integer value, false for strings and unknown types.
func (v Value) AsInt() (int64, bool) {
	if v.Type == TypeString || v.Type.Size() == 0 {
		return 0, false
	}
	return v.Int, true
}

// DevicePropDesc is the head of a DevicePropDesc dataset: everything up to and
// including the current value. Form data (ranges, enumerations) is not decoded.
type DevicePropDesc struct {
	Code         DevicePropCode
	Type         DataType
	Writable     bool
	FactoryValue Value
	CurrentValue Value
}

// ObjectInfo is the ObjectInfo dataset returned by GetObjectInfo.
type ObjectInfo struct {
	StorageID      uint32
	ObjectFormat   uint16
	CompressedSize uint32
	ImageWidth     uint32
	ImageHeight    uint32
	ParentObject   uint32
	SequenceNumber uint32
	FileName       string
}

type reader struct {
	b   []byte
	err error
}

func (r *reader) need(n int, what string) bool {
	if r.err != nil {
		return false
	}
	if len(r.b) < n {
		r.err = fmt.Errorf("%w: %s", ErrShortPacket, what)
		return false
	}
	return true
}

func (r *reader) u8(what string) uint8 {
	if !r.need(1, what) {
		return 0
	}
	v := r.b[0]
	r.b = r.b[1:]
	return v
}

func (r *reader) u16(what string) uint16 {
	if !r.need(2, what) {
		return 0
	}
	v := le.Uint16(r.b)
	r.b = r.b[2:]
	return v
}

func (r *reader) u32(what string) uint32 {
	if !r.need(4, what) {
		return 0
	}
	v := le.Uint32(r.b)
	r.b = r.b[4:]
	return v
}

func (r *reader) skip(n int, what string) {
	if r.need(n, what) {
		r.b = r.b[n:]
	}
}

// str reads a PTP string: uint8 character count (including the terminator)
// followed by UTF-16LE code units.
func (r *reader) str(what string) string {
	n := int(r.u8(what))
	if n == 0 || !r.need(2*n, what) {
		return ""
	}
	units := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		units = append(units, le.Uint16(r.b[2*i:]))
	}
	r.b = r.b[2*n:]
	if units[len(units)-1] == 0 {
		units = units[:len(units)-1]
	}
	return string(utf16.Decode(units))
}

func (r *reader) value(t DataType, what string) Value {
	if t == TypeString {
		return Value{Type: t, Str: r.str(what)}
	}
	size := t.Size()
	if size == 0 {
		if r.err == nil {
			r.err = fmt.Errorf("ptpip: unsupported datatype 0x%04X for %s", uint16(t), what)
		}
		return Value{Type: t}
	}
	if !r.need(size, what) {
		return Value{Type: t}
	}
	var u uint64
	for i := size - 1; i >= 0; i-- {
		u = u<<8 | uint64(r.b[i])
	}
	r.b = r.b[size:]
	v := Value{Type: t, Int: int64(u)}
	if t.signed() {
		shift := 64 - 8*size
		v.Int = int64(u<<shift) >> shift
	}
	return v
}

// ParseDevicePropDesc decodes a DevicePropDesc dataset.
func ParseDevicePropDesc(data []byte) (*DevicePropDesc, error) {
	r := &reader{b: data}
	d := &DevicePropDesc{}
	d.Code = DevicePropCode(r.u16("property code"))
	d.Type = DataType(r.u16("datatype"))
	d.Writable = r.u8("get/set") == 1
	d.FactoryValue = r.value(d.Type, "factory value")
	d.CurrentValue = r.value(d.Type, "current value")
	if r.err != nil {
		return nil, fmt.Errorf("parse device prop desc: %w", r.err)
	}
	return d, nil
}

// ParseObjectInfo decodes an ObjectInfo dataset.
func ParseObjectInfo(data []byte) (*ObjectInfo, error) {
	r := &reader{b: data}
	oi := &ObjectInfo{}
	oi.StorageID = r.u32("storage id")
	oi.ObjectFormat = r.u16("object format")
	r.skip(2, "protection status")
	oi.CompressedSize = r.u32("compressed size")
	r.skip(2+4+4+4, "thumb info")
	oi.ImageWidth = r.u32("image width")
	oi.ImageHeight = r.u32("image height")
	r.skip(4, "bit depth")
	oi.ParentObject = r.u32("parent object")
	r.skip(2+4, "association")
	oi.SequenceNumber = r.u32("sequence number")
	oi.FileName = r.str("file name")
	if r.err != nil {
		return nil, fmt.Errorf("parse object info: %w", r.err)
	}
	return oi, nil
}

func appendPTPString(b []byte, s string) []byte {
	if s == "" {
		return append(b, 0)
	}
	units := utf16.Encode([]rune(s))
	b = append(b, byte(len(units)+1))
	for _, u := range units {
		b = appendUint16(b, u)
	}
	return appendUint16(b, 0)
}

func appendValue(b []byte, v Value) []byte {
	if v.Type == TypeString {
		return appendPTPString(b, v.Str)
	}
	u := uint64(v.Int)
	for i := 0; i < v.Type.Size(); i++ {
		b = append(b, byte(u>>(8*i)))
	}
	return b
}

// MarshalBinary encodes the descriptor with an empty form, as a responder
// would send it.
func (d *DevicePropDesc) MarshalBinary() ([]byte, error) {
	if d.Type != TypeString && d.Type.Size() == 0 {
		return nil, fmt.Errorf("ptpip: unsupported datatype 0x%04X", uint16(d.Type))
	}
	b := appendUint16(nil, uint16(d.Code))
	b = appendUint16(b, uint16(d.Type))
	if d.Writable {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	b = appendValue(b, Value{Type: d.Type, Int: d.FactoryValue.Int, Str: d.FactoryValue.Str})
	b = appendValue(b, Value{Type: d.Type, Int: d.CurrentValue.Int, Str: d.CurrentValue.Str})
	return append(b, 0), nil
}

// MarshalBinary encodes the ObjectInfo dataset. Fields not carried by
// ObjectInfo are written as zero.
func (oi *ObjectInfo) MarshalBinary() ([]byte, error) {
	b := appendUint32(nil, oi.StorageID)
	b = appendUint16(b, oi.ObjectFormat)
	b = appendUint16(b, 0)
	b = appendUint32(b, oi.CompressedSize)
	b = append(b, make([]byte, 2+4+4+4)...)
	b = appendUint32(b, oi.ImageWidth)
	b = appendUint32(b, oi.ImageHeight)
	b = appendUint32(b, 0)
	b = appendUint32(b, oi.ParentObject)
	b = append(b, make([]byte, 2+4)...)
	b = appendUint32(b, oi.SequenceNumber)
	b = appendPTPString(b, oi.FileName)
	b = appendPTPString(b, "")
	b = appendPTPString(b, "")
	return appendPTPString(b, ""), nil
}
