package capture

//go:generate mockgen -destination=mock_capture.go -package=capture github.com/cjeanneret/ptpshot/internal/logic/capture Gateway,Notifier

import (
	"context"
	"time"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

// Gateway is the subset of the PTP/IP client the capture sequence drives.
// *ptpip.Client implements it.
type Gateway interface {
	SetControlDeviceB(ctx context.Context, code ptpip.DevicePropCode, t ptpip.DataType, value int64) (ptpip.ResponseCode, error)
	GetDevicePropDesc(ctx context.Context, code ptpip.DevicePropCode) (*ptpip.DevicePropDesc, error)
	GetObjectInfo(ctx context.Context, handle uint32) (*ptpip.ObjectInfo, error)
	GetPartialObject(ctx context.Context, handle, offset, length uint32) ([]byte, error)
}

// EventKind tells an image-available notification from a failed transfer.
type EventKind string

const (
	EventImageAvailable EventKind = "image_available"
	EventTransferFailed EventKind = "transfer_failed"
)

// TransferEvent is published once per object transfer attempt.
type TransferEvent struct {
	Kind     EventKind    `json:"kind"`
	ObjectID uint32       `json:"object_id"`
	Mode     ShootingMode `json:"mode,omitempty"`
	Path     string       `json:"path,omitempty"`
	Size     int          `json:"size,omitempty"`
	Error    string       `json:"error,omitempty"`
	Time     time.Time    `json:"time"`
}

// Notifier receives transfer events. Implementations must not block.
type Notifier interface {
	Publish(ev TransferEvent)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ev TransferEvent)

// Publish calls f(ev).
func (f NotifierFunc) Publish(ev TransferEvent) { f(ev) }
