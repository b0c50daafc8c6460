package ptpip

import "fmt"

// OperationCode identifies a PTP operation.
type OperationCode uint16

const (
	OpGetDeviceInfo     OperationCode = 0x1001
	OpOpenSession       OperationCode = 0x1002
	OpCloseSession      OperationCode = 0x1003
	OpGetObjectInfo     OperationCode = 0x1008
	OpGetDevicePropDesc OperationCode = 0x1014
	OpGetPartialObject  OperationCode = 0x101B

	// Sony SDIO extensions.
	OpSDIOConnect          OperationCode = 0x9201
	OpSDIOGetExtDeviceInfo OperationCode = 0x9202
	OpSetControlDeviceB    OperationCode = 0x9207
)

// ResponseCode is the status returned in an OperationResponse.
type ResponseCode uint16

const (
	RespOK                     ResponseCode = 0x2001
	RespGeneralError           ResponseCode = 0x2002
	RespSessionNotOpen         ResponseCode = 0x2003
	RespInvalidTransactionID   ResponseCode = 0x2004
	RespOperationNotSupported  ResponseCode = 0x2005
	RespParameterNotSupported  ResponseCode = 0x2006
	RespIncompleteTransfer     ResponseCode = 0x2007
	RespInvalidObjectHandle    ResponseCode = 0x2009
	RespDevicePropNotSupported ResponseCode = 0x200A
	RespDeviceBusy             ResponseCode = 0x2019
	RespSessionAlreadyOpen     ResponseCode = 0x201E
)

// IsError reports whether the device rejected the operation.
func (c ResponseCode) IsError() bool {
	return c != RespOK
}

func (c ResponseCode) String() string {
	switch c {
	case RespOK:
		return "OK"
	case RespGeneralError:
		return "GeneralError"
	case RespSessionNotOpen:
		return "SessionNotOpen"
	case RespInvalidTransactionID:
		return "InvalidTransactionID"
	case RespOperationNotSupported:
		return "OperationNotSupported"
	case RespParameterNotSupported:
		return "ParameterNotSupported"
	case RespIncompleteTransfer:
		return "IncompleteTransfer"
	case RespInvalidObjectHandle:
		return "InvalidObjectHandle"
	case RespDevicePropNotSupported:
		return "DevicePropNotSupported"
	case RespDeviceBusy:
		return "DeviceBusy"
	case RespSessionAlreadyOpen:
		return "SessionAlreadyOpen"
	}
	return fmt.Sprintf("0x%04X", uint16(c))
}

// EventCode identifies an asynchronous device event.
type EventCode uint16

const (
	EventObjectAdded       EventCode = 0x4002
	EventDevicePropChanged EventCode = 0x4006

	// Sony SDIO event codes.
	EventSonyObjectAdded     EventCode = 0xC201
	EventSonyPropertyChanged EventCode = 0xC203
)

// IsObjectAdded reports whether the event announces a new object.
func (c EventCode) IsObjectAdded() bool {
	return c == EventObjectAdded || c == EventSonyObjectAdded
}

// IsPropertyChanged reports whether the event announces a property change.
func (c EventCode) IsPropertyChanged() bool {
	return c == EventDevicePropChanged || c == EventSonyPropertyChanged
}

// DevicePropCode identifies a device property.
type DevicePropCode uint16

const (
	PropFocusMode DevicePropCode = 0x500A

	// Sony properties used by the capture sequence.
	PropSonyFocusFound     DevicePropCode = 0xD213
	PropSonyObjectInMemory DevicePropCode = 0xD215
	PropSonyAutoFocus      DevicePropCode = 0xD2C1
	PropSonyCapture        DevicePropCode = 0xD2C2
)

// DataType is the PTP datatype code of a property value.
type DataType uint16

const (
	TypeUndefined DataType = 0x0000
	TypeInt8      DataType = 0x0001
	TypeUint8     DataType = 0x0002
	TypeInt16     DataType = 0x0003
	TypeUint16    DataType = 0x0004
	TypeInt32     DataType = 0x0005
	TypeUint32    DataType = 0x0006
	TypeInt64     DataType = 0x0007
	TypeUint64    DataType = 0x0008
	TypeString    DataType = 0xFFFF
)

// Size returns the encoded width of integer types, 0 otherwise.
func (t DataType) Size() int {
	switch t {
	case TypeInt8, TypeUint8:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32:
		return 4
	case TypeInt64, TypeUint64:
		return 8
	}
	return 0
}

func (t DataType) signed() bool {
	return t == TypeInt8 || t == TypeInt16 || t == TypeInt32 || t == TypeInt64
}

// FocusMode is the value of PropFocusMode.
type FocusMode uint16

const (
	FocusManual         FocusMode = 0x0001
	FocusAutoSingle     FocusMode = 0x0002
	FocusAutoMacro      FocusMode = 0x0003
	FocusAutoContinuous FocusMode = 0x8004
	FocusDirectManual   FocusMode = 0x8005
	FocusAutoAutomatic  FocusMode = 0x8006
)

// IsAutoFocus reports whether the camera will hunt for focus on half-press.
func (m FocusMode) IsAutoFocus() bool {
	switch m {
	case FocusAutoSingle, FocusAutoMacro, FocusAutoContinuous, FocusDirectManual, FocusAutoAutomatic:
		return true
	}
	return false
}

// Event is an asynchronous device event. Events are immutable once decoded.
type Event struct {
	Code          EventCode
	TransactionID uint32
	Params        []uint32
}

// FirstParam returns the first event variable, if any.
func (e Event) FirstParam() (uint32, bool) {
	if len(e.Params) == 0 {
		return 0, false
	}
	return e.Params[0], true
}

func (e Event) String() string {
	return fmt.Sprintf("event 0x%04X %v", uint16(e.Code), e.Params)
}
