package camera

import (
	"context"
	"fmt"

	"github.com/cjeanneret/ptpshot/internal/config"
	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
	"github.com/cjeanneret/ptpshot/internal/logic/capture"
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled.
type Camera interface {
	// Shoot runs one capture and returns once the exposure is confirmed.
	// The image is downloaded in the background and announced through the
	// notifier the camera was built with.
	Shoot(ctx context.Context) (capture.Result, error)

	// Images lists the files persisted so far, by shooting mode.
	Images() *capture.ImageIndex

	// Dir is the directory images are written to.
	Dir() string

	// WaitTransfers blocks until every background download has finished.
	WaitTransfers()

	// Close ends the device session and waits for running transfers.
	Close() error
}

// New connects the camera described by cfg. notifier may be nil.
func New(ctx context.Context, cfg *config.Config, notifier capture.Notifier) (Camera, error) {
	switch cfg.Camera.Type {
	case "sony_ptpip":
		cam, err := DialSonyPTPIP(ctx, cfg.Camera.Address, ptpip.DialOptions{
			Name:            cfg.Camera.ClientName,
			Timeout:         cfg.DialTimeout(),
			ResponseTimeout: cfg.ResponseTimeout(),
		}, SonyOptions{
			Capture: capture.Options{
				FocusWait:      cfg.FocusWait(),
				ObjectWait:     cfg.ObjectWait(),
				SkipObjectWait: !cfg.AwaitObject(),
				Mode:           capture.ShootingMode(cfg.Capture.ShootingMode),
			},
			OutputDir: cfg.Capture.OutputDir,
			Notifier:  notifier,
		})
		if err != nil {
			return nil, err
		}
		return cam, nil
	default:
		return nil, fmt.Errorf("unknown camera type %q", cfg.Camera.Type)
	}
}
