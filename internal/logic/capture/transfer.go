package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cjeanneret/ptpshot/internal/debug"
	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

// maxChainedTransfers bounds how many in-memory objects one transfer follows
// when the device keeps reporting another object after each download.
const maxChainedTransfers = 16

// Transfer downloads captured objects, persists them and publishes the result.
type Transfer struct {
	gw       Gateway
	session  *Session
	index    *ImageIndex
	notifier Notifier
	dir      string
	log      zerolog.Logger

	mu      sync.Mutex
	running int
	idle    chan struct{} // closed when running drops to zero
}

// NewTransfer writes files into dir, which must exist. notifier may be nil.
func NewTransfer(gw Gateway, session *Session, index *ImageIndex, dir string, notifier Notifier) *Transfer {
	if notifier == nil {
		notifier = NotifierFunc(func(TransferEvent) {})
	}
	return &Transfer{
		gw:       gw,
		session:  session,
		index:    index,
		notifier: notifier,
		dir:      dir,
		log:      debug.WithComponent("transfer"),
	}
}

// Dir is the directory objects are persisted to.
func (t *Transfer) Dir() string { return t.dir }

// Start runs Handle in the background under the session context. It may be
// called while another goroutine is in Wait.
func (t *Transfer) Start(handle uint32, mode ShootingMode) {
	t.mu.Lock()
	if t.running == 0 {
		t.idle = make(chan struct{})
	}
	t.running++
	t.mu.Unlock()

	go func() {
		defer t.done()
		_, _ = t.Handle(t.session.Context(), handle, mode)
	}()
}

func (t *Transfer) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running--
	if t.running == 0 {
		close(t.idle)
	}
}

// Wait blocks until no background transfer is running.
func (t *Transfer) Wait() {
	t.mu.Lock()
	if t.running == 0 {
		t.mu.Unlock()
		return
	}
	idle := t.idle
	t.mu.Unlock()
	<-idle
}

// Fetch reads size bytes of object handle in a single exchange. It does not
// retry.
func (t *Transfer) Fetch(ctx context.Context, handle, size uint32) ([]byte, error) {
	data, err := t.gw.GetPartialObject(ctx, handle, 0, size)
	if err != nil {
		return nil, fmt.Errorf("%w: object 0x%08X: %w", ErrTransferFailed, handle, err)
	}
	if uint32(len(data)) != size {
		t.log.Warn().Uint32("object_id", handle).Uint32("expected", size).Int("got", len(data)).Msg("short object payload")
	}
	return data, nil
}

// Handle downloads object handle and any object the device reports in memory
// right after it. It returns the persisted paths and the first error met.
// Errors are also published as EventTransferFailed.
func (t *Transfer) Handle(ctx context.Context, handle uint32, mode ShootingMode) ([]string, error) {
	var paths []string
	var firstErr error
	for i := 0; i < maxChainedTransfers; i++ {
		path, next, err := t.handleOne(ctx, handle, mode)
		if path != "" {
			paths = append(paths, path)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if next == 0 {
			return paths, firstErr
		}
		t.log.Debug().Uint32("object_id", next).Msg("another object in memory")
		handle = next
	}
	t.log.Warn().Int("limit", maxChainedTransfers).Msg("stopped following in-memory objects")
	return paths, firstErr
}

// handleOne transfers a single object. next is non-zero when the device
// reports another object waiting in memory.
func (t *Transfer) handleOne(ctx context.Context, handle uint32, mode ShootingMode) (path string, next uint32, err error) {
	if !t.session.claim(handle) {
		t.log.Debug().Uint32("object_id", handle).Msg("object already being transferred")
		return "", 0, nil
	}
	defer t.session.release(handle)

	log := t.log.With().Uint32("object_id", handle).Logger()

	info, err := t.gw.GetObjectInfo(ctx, handle)
	if err != nil {
		err = fmt.Errorf("%w: object info 0x%08X: %w", ErrTransferFailed, handle, err)
		t.fail(handle, mode, err)
		return "", 0, err
	}
	log.Debug().Uint32("size", info.CompressedSize).Str("file", info.FileName).Msg("object info")

	data, err := t.Fetch(ctx, handle, info.CompressedSize)
	if err != nil {
		t.fail(handle, mode, err)
		return "", 0, err
	}

	// An event for a second object may have been missed while downloading.
	if desc, derr := t.gw.GetDevicePropDesc(ctx, ptpip.PropSonyObjectInMemory); derr == nil {
		if v, ok := desc.CurrentValue.AsInt(); ok && v >= InMemoryThreshold {
			next = InMemoryHandle
		}
	}

	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		log.Warn().Err(err).Msg("payload did not decode, not persisted")
		return "", next, fmt.Errorf("%w: %w", ErrDecodeFailed, err)
	}

	path, err = t.persist(info.FileName, data)
	if err != nil {
		t.fail(handle, mode, err)
		return "", next, err
	}

	t.index.Add(mode, path)
	debug.Shot(handle, path)
	t.notifier.Publish(TransferEvent{
		Kind:     EventImageAvailable,
		ObjectID: handle,
		Mode:     mode,
		Path:     path,
		Size:     len(data),
		Time:     time.Now(),
	})
	return path, next, nil
}

func (t *Transfer) persist(name string, data []byte) (string, error) {
	name = filepath.Base(name)
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = uuid.NewString() + ".jpg"
	}
	path := filepath.Join(t.dir, name)
	if _, err := os.Stat(path); err == nil {
		// Sony reuses file names for in-memory objects.
		ext := filepath.Ext(name)
		path = filepath.Join(t.dir, name[:len(name)-len(ext)]+"_"+uuid.NewString()[:8]+ext)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return path, nil
}

func (t *Transfer) fail(handle uint32, mode ShootingMode, err error) {
	if errors.Is(err, context.Canceled) {
		t.log.Debug().Uint32("object_id", handle).Msg("transfer cancelled")
	} else {
		t.log.Error().Err(err).Uint32("object_id", handle).Msg("transfer failed")
	}
	t.notifier.Publish(TransferEvent{
		Kind:     EventTransferFailed,
		ObjectID: handle,
		Mode:     mode,
		Error:    err.Error(),
		Time:     time.Now(),
	})
}
