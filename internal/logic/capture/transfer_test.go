package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/cjeanneret/ptpshot/internal/hw/ptpip"
)

func newMockTransfer(t *testing.T, dir string) (*Transfer, *MockGateway, *MockNotifier, *ImageIndex, *Session) {
	t.Helper()
	ctrl := gomock.NewController(t)
	gw := NewMockGateway(ctrl)
	n := NewMockNotifier(ctrl)
	index := NewImageIndex()
	session := NewSession(context.Background())
	return NewTransfer(gw, session, index, dir, n), gw, n, index, session
}

func TestTransfer_Handle(t *testing.T) {
	dir := t.TempDir()
	tr, gw, n, index, _ := newMockTransfer(t, dir)
	data := jpegBytes(t)
	size := uint32(len(data))

	gomock.InOrder(
		gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(42)).
			Return(&ptpip.ObjectInfo{CompressedSize: size, FileName: "DSC00042.JPG"}, nil),
		gw.EXPECT().GetPartialObject(gomock.Any(), uint32(42), uint32(0), size).Return(data, nil),
		gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).
			Return(uint16Desc(ptpip.PropSonyObjectInMemory, 0), nil),
	)
	var published TransferEvent
	n.EXPECT().Publish(gomock.Any()).Do(func(ev TransferEvent) { published = ev })

	paths, err := tr.Handle(context.Background(), 42, ModeTimelapse)
	require.NoError(t, err)

	want := filepath.Join(dir, "DSC00042.JPG")
	assert.Equal(t, []string{want}, paths)
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	assert.Equal(t, EventImageAvailable, published.Kind)
	assert.Equal(t, uint32(42), published.ObjectID)
	assert.Equal(t, ModeTimelapse, published.Mode)
	assert.Equal(t, want, published.Path)
	assert.Equal(t, len(data), published.Size)
	assert.Equal(t, []string{want}, index.Get(ModeTimelapse))
	assert.Empty(t, index.Get(ModePhoto))
}

func TestTransfer_GeneratedNameWithoutDeviceName(t *testing.T) {
	dir := t.TempDir()
	tr, gw, n, _, _ := newMockTransfer(t, dir)
	data := jpegBytes(t)

	gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(1)).Return(&ptpip.ObjectInfo{CompressedSize: uint32(len(data))}, nil)
	gw.EXPECT().GetPartialObject(gomock.Any(), uint32(1), uint32(0), uint32(len(data))).Return(data, nil)
	gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).Return(nil, errors.New("unsupported"))
	n.EXPECT().Publish(gomock.Any())

	paths, err := tr.Handle(context.Background(), 1, ModePhoto)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, dir, filepath.Dir(paths[0]))
	assert.True(t, strings.HasSuffix(paths[0], ".jpg"))
	assert.Len(t, filepath.Base(paths[0]), 36+len(".jpg"))
}

func TestTransfer_ReusedFileNameIsNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "DSC1.JPG"), []byte("old"), 0o644))
	tr, gw, n, _, _ := newMockTransfer(t, dir)
	data := jpegBytes(t)

	gw.EXPECT().GetObjectInfo(gomock.Any(), InMemoryHandle).Return(&ptpip.ObjectInfo{CompressedSize: uint32(len(data)), FileName: "DSC1.JPG"}, nil)
	gw.EXPECT().GetPartialObject(gomock.Any(), InMemoryHandle, uint32(0), uint32(len(data))).Return(data, nil)
	gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).Return(uint16Desc(ptpip.PropSonyObjectInMemory, 1), nil)
	n.EXPECT().Publish(gomock.Any())

	paths, err := tr.Handle(context.Background(), InMemoryHandle, ModePhoto)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.NotEqual(t, filepath.Join(dir, "DSC1.JPG"), paths[0])
	old, err := os.ReadFile(filepath.Join(dir, "DSC1.JPG"))
	require.NoError(t, err)
	assert.Equal(t, []byte("old"), old)
}

func TestTransfer_ObjectInfoFailure(t *testing.T) {
	tr, gw, n, index, _ := newMockTransfer(t, t.TempDir())
	rejected := &ptpip.ResponseError{Op: ptpip.OpGetObjectInfo, Code: ptpip.RespInvalidObjectHandle}

	gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(5)).Return(nil, rejected)
	var published TransferEvent
	n.EXPECT().Publish(gomock.Any()).Do(func(ev TransferEvent) { published = ev })

	paths, err := tr.Handle(context.Background(), 5, ModePhoto)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorAs(t, err, &rejected)
	assert.Empty(t, paths)
	assert.Equal(t, EventTransferFailed, published.Kind)
	assert.Equal(t, uint32(5), published.ObjectID)
	assert.NotEmpty(t, published.Error)
	assert.Zero(t, index.Len())
}

func TestTransfer_PayloadFailure(t *testing.T) {
	tr, gw, n, _, _ := newMockTransfer(t, t.TempDir())

	gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(5)).Return(&ptpip.ObjectInfo{CompressedSize: 100}, nil)
	gw.EXPECT().GetPartialObject(gomock.Any(), uint32(5), uint32(0), uint32(100)).Return(nil, context.DeadlineExceeded)
	n.EXPECT().Publish(gomock.Any()).Do(func(ev TransferEvent) {
		assert.Equal(t, EventTransferFailed, ev.Kind)
	})

	_, err := tr.Handle(context.Background(), 5, ModePhoto)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTransfer_DecodeFailureIsNotPersisted(t *testing.T) {
	dir := t.TempDir()
	tr, gw, _, index, _ := newMockTransfer(t, dir)
	junk := []byte("definitely not an image")

	gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(5)).Return(&ptpip.ObjectInfo{CompressedSize: uint32(len(junk)), FileName: "X.JPG"}, nil)
	gw.EXPECT().GetPartialObject(gomock.Any(), uint32(5), uint32(0), uint32(len(junk))).Return(junk, nil)
	gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).Return(uint16Desc(ptpip.PropSonyObjectInMemory, 0), nil)
	// No Publish expectation: decode failures are only logged.

	_, err := tr.Handle(context.Background(), 5, ModePhoto)
	assert.ErrorIs(t, err, ErrDecodeFailed)
	assert.NoFileExists(t, filepath.Join(dir, "X.JPG"))
	assert.Zero(t, index.Len())
}

func TestTransfer_PersistFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	tr, gw, n, _, _ := newMockTransfer(t, dir)
	data := jpegBytes(t)

	gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(5)).Return(&ptpip.ObjectInfo{CompressedSize: uint32(len(data)), FileName: "A.JPG"}, nil)
	gw.EXPECT().GetPartialObject(gomock.Any(), uint32(5), uint32(0), uint32(len(data))).Return(data, nil)
	gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).Return(uint16Desc(ptpip.PropSonyObjectInMemory, 0), nil)
	n.EXPECT().Publish(gomock.Any()).Do(func(ev TransferEvent) {
		assert.Equal(t, EventTransferFailed, ev.Kind)
	})

	_, err := tr.Handle(context.Background(), 5, ModePhoto)
	assert.ErrorIs(t, err, ErrPersistFailed)
}

func TestTransfer_FollowsObjectInMemory(t *testing.T) {
	dir := t.TempDir()
	tr, gw, n, index, _ := newMockTransfer(t, dir)
	data := jpegBytes(t)
	size := uint32(len(data))

	gomock.InOrder(
		gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(42)).Return(&ptpip.ObjectInfo{CompressedSize: size, FileName: "A.JPG"}, nil),
		gw.EXPECT().GetPartialObject(gomock.Any(), uint32(42), uint32(0), size).Return(data, nil),
		gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).Return(uint16Desc(ptpip.PropSonyObjectInMemory, 0x8000), nil),
		gw.EXPECT().GetObjectInfo(gomock.Any(), InMemoryHandle).Return(&ptpip.ObjectInfo{CompressedSize: size, FileName: "B.JPG"}, nil),
		gw.EXPECT().GetPartialObject(gomock.Any(), InMemoryHandle, uint32(0), size).Return(data, nil),
		gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).Return(uint16Desc(ptpip.PropSonyObjectInMemory, 0), nil),
	)
	n.EXPECT().Publish(gomock.Any()).Times(2)

	paths, err := tr.Handle(context.Background(), 42, ModePhoto)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "A.JPG"), filepath.Join(dir, "B.JPG")}, paths)
	assert.Equal(t, 2, index.Len())
}

func TestTransfer_ChainIsBounded(t *testing.T) {
	tr, gw, n, _, _ := newMockTransfer(t, t.TempDir())
	data := jpegBytes(t)
	size := uint32(len(data))

	gw.EXPECT().GetObjectInfo(gomock.Any(), gomock.Any()).Return(&ptpip.ObjectInfo{CompressedSize: size}, nil).Times(maxChainedTransfers)
	gw.EXPECT().GetPartialObject(gomock.Any(), gomock.Any(), uint32(0), size).Return(data, nil).Times(maxChainedTransfers)
	gw.EXPECT().GetDevicePropDesc(gomock.Any(), ptpip.PropSonyObjectInMemory).
		Return(uint16Desc(ptpip.PropSonyObjectInMemory, 0x8000), nil).Times(maxChainedTransfers)
	n.EXPECT().Publish(gomock.Any()).Times(maxChainedTransfers)

	paths, err := tr.Handle(context.Background(), 1, ModePhoto)
	require.NoError(t, err)
	assert.Len(t, paths, maxChainedTransfers)
}

func TestTransfer_SkipsClaimedObject(t *testing.T) {
	tr, _, _, _, session := newMockTransfer(t, t.TempDir())
	require.True(t, session.claim(42))

	paths, err := tr.Handle(context.Background(), 42, ModePhoto)
	assert.NoError(t, err)
	assert.Empty(t, paths)
}

func TestTransfer_FetchIsSingleSizedRead(t *testing.T) {
	tr, gw, _, _, _ := newMockTransfer(t, t.TempDir())

	gw.EXPECT().GetPartialObject(gomock.Any(), uint32(9), uint32(0), uint32(3)).Return([]byte("abc"), nil).Times(1)

	data, err := tr.Fetch(context.Background(), 9, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)
}

func TestTransfer_WaitBlocksUntilDone(t *testing.T) {
	tr, gw, n, _, _ := newMockTransfer(t, t.TempDir())
	tr.Wait() // nothing running

	release := make(chan struct{})
	gw.EXPECT().GetObjectInfo(gomock.Any(), uint32(3)).DoAndReturn(func(context.Context, uint32) (*ptpip.ObjectInfo, error) {
		<-release
		return nil, errors.New("gone")
	})
	n.EXPECT().Publish(gomock.Any())

	tr.Start(3, ModePhoto)
	waited := make(chan struct{})
	go func() {
		tr.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("Wait returned while a transfer was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return")
	}
}

// Transfers started by device events may begin while another goroutine is
// already waiting.
func TestTransfer_StartWhileWaiting(t *testing.T) {
	tr, _, _, _, session := newMockTransfer(t, t.TempDir())
	const n = 200
	for h := uint32(1); h <= n; h++ {
		require.True(t, session.claim(h)) // Handle returns without device traffic
	}

	stop := make(chan struct{})
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		for {
			select {
			case <-stop:
				return
			default:
				tr.Wait()
			}
		}
	}()

	for h := uint32(1); h <= n; h++ {
		tr.Start(h, ModePhoto)
	}
	tr.Wait()
	close(stop)
	<-waiterDone

	tr.mu.Lock()
	defer tr.mu.Unlock()
	assert.Zero(t, tr.running)
}
