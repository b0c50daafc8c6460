package camera

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cjeanneret/ptpshot/internal/debug"
	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
	"github.com/cjeanneret/ptpshot/internal/logic/capture"
)

// sdioVersion is the extended device info version announced to the camera.
const sdioVersion = 0xC8

const shutdownTimeout = 2 * time.Second

var _ Camera = (*SonyPTPIP)(nil)

// SonyOptions configures a SonyPTPIP camera.
type SonyOptions struct {
	Capture   capture.Options
	OutputDir string // empty = new temporary directory
	Notifier  capture.Notifier
}

// SonyPTPIP drives a Sony camera in remote-control mode over PTP/IP.
type SonyPTPIP struct {
	client   *ptpip.Client
	session  *capture.Session
	orch     *capture.Orchestrator
	transfer *capture.Transfer
	index    *capture.ImageIndex
	sub      *ptpip.Subscription
	mode     capture.ShootingMode
	log      zerolog.Logger

	events    sync.WaitGroup
	closeOnce sync.Once
}

// DialSonyPTPIP connects to the camera at addr and prepares it for remote
// capture.
func DialSonyPTPIP(ctx context.Context, addr string, dial ptpip.DialOptions, opts SonyOptions) (*SonyPTPIP, error) {
	log := debug.Logger()
	dial.Logger = &log
	client, err := ptpip.Dial(ctx, addr, dial)
	if err != nil {
		return nil, fmt.Errorf("connect camera at %s: %w", addr, err)
	}
	cam, err := NewSonyPTPIP(ctx, client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return cam, nil
}

// NewSonyPTPIP takes over a client with an open session, runs the Sony
// remote-control handshake and starts delivering device events.
func NewSonyPTPIP(ctx context.Context, client *ptpip.Client, opts SonyOptions) (*SonyPTPIP, error) {
	dir := opts.OutputDir
	if dir == "" {
		d, err := os.MkdirTemp("", "ptpshot-")
		if err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
		dir = d
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	mode := opts.Capture.Mode
	if mode == "" {
		mode = capture.ModePhoto
	}
	opts.Capture.Mode = mode

	session := capture.NewSession(context.Background())
	index := capture.NewImageIndex()
	transfer := capture.NewTransfer(client, session, index, dir, opts.Notifier)
	c := &SonyPTPIP{
		client:   client,
		session:  session,
		orch:     capture.NewOrchestrator(client, session, transfer, opts.Capture),
		transfer: transfer,
		index:    index,
		sub:      client.Subscribe(0),
		mode:     mode,
		log:      debug.WithComponent("sony"),
	}

	// Events flow into the session before the handshake so none is missed.
	c.events.Add(1)
	go c.deliverEvents()

	if err := c.handshake(ctx); err != nil {
		_ = c.shutdown()
		return nil, err
	}
	debug.Info("Camera ready, images go to %s", dir)
	return c, nil
}

func (c *SonyPTPIP) handshake(ctx context.Context) error {
	debug.Section("Sony handshake")
	if err := c.client.SDIOConnect(ctx, 1); err != nil {
		return fmt.Errorf("sdio connect phase 1: %w", err)
	}
	if err := c.client.SDIOConnect(ctx, 2); err != nil {
		return fmt.Errorf("sdio connect phase 2: %w", err)
	}
	info, err := c.client.SDIOGetExtDeviceInfo(ctx, sdioVersion)
	if err != nil {
		return fmt.Errorf("sdio ext device info: %w", err)
	}
	debug.Value("ext_device_info_bytes", len(info))
	if err := c.client.SDIOConnect(ctx, 3); err != nil {
		return fmt.Errorf("sdio connect phase 3: %w", err)
	}
	return nil
}

// deliverEvents feeds the session until the subscription ends. Objects the
// device adds outside a capture are transferred here.
func (c *SonyPTPIP) deliverEvents() {
	defer c.events.Done()
	for ev := range c.sub.C() {
		handle, handoff := c.session.Deliver(ev)
		if !handoff {
			continue
		}
		c.log.Debug().Uint32("object_id", handle).Msg("object added outside a capture")
		c.transfer.Start(handle, c.mode)
	}
}

func (c *SonyPTPIP) Shoot(ctx context.Context) (capture.Result, error) {
	if err := c.client.Err(); err != nil {
		return capture.Result{}, fmt.Errorf("camera disconnected: %w", err)
	}
	return c.orch.Capture(ctx)
}

// WaitTransfers blocks until every started transfer has finished. Transfers
// started meanwhile by device events are waited for too.
func (c *SonyPTPIP) WaitTransfers() {
	c.transfer.Wait()
}

func (c *SonyPTPIP) Images() *capture.ImageIndex { return c.index }

func (c *SonyPTPIP) Dir() string { return c.transfer.Dir() }

// Close cancels running captures and transfers, then closes the PTP session.
// Persisted images are left in place.
func (c *SonyPTPIP) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.shutdown()
	})
	return err
}

func (c *SonyPTPIP) shutdown() error {
	c.session.Close()
	// No handoff starts once the event loop is gone.
	_ = c.sub.Close()
	c.events.Wait()
	c.WaitTransfers()

	if c.client.Err() == nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.client.CloseSession(ctx); err != nil {
			c.log.Debug().Err(err).Msg("close session")
		}
		cancel()
	}
	return c.client.Close()
}
