package capture

import (
	"errors"
	"fmt"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

var (
	// ErrObjectNotFound is returned when the object id wait expires without
	// the device reporting a new object.
	ErrObjectNotFound = errors.New("capture: object not found")

	// The following only occur after the exposure was reported successful.
	ErrTransferFailed = errors.New("capture: transfer failed")
	ErrDecodeFailed   = errors.New("capture: payload is not a decodable image")
	ErrPersistFailed  = errors.New("capture: persist failed")

	ErrCaptureInProgress = errors.New("capture: a capture is already in progress")
	ErrSessionClosed     = errors.New("capture: session closed")
)

// CommandRejectedError reports a control command the device answered with a
// non-OK response code.
type CommandRejectedError struct {
	Prop  ptpip.DevicePropCode
	Value int64
	Code  ptpip.ResponseCode
}

func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("capture: command 0x%04X=%d rejected: %s", uint16(e.Prop), e.Value, e.Code)
}
