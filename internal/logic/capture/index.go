package capture

import (
	"context"
	"sync"
)

// ShootingMode keys the captured image index.
type ShootingMode string

const (
	ModePhoto     ShootingMode = "photo"
	ModeTimelapse ShootingMode = "timelapse"
)

type modeKey struct{}

// WithMode returns a context under which captures file their images as mode
// instead of the orchestrator's configured mode.
func WithMode(ctx context.Context, mode ShootingMode) context.Context {
	return context.WithValue(ctx, modeKey{}, mode)
}

// ModeFromContext returns the mode set by WithMode.
func ModeFromContext(ctx context.Context) (ShootingMode, bool) {
	m, ok := ctx.Value(modeKey{}).(ShootingMode)
	return m, ok
}

// ImageIndex records persisted files per shooting mode. It only grows.
type ImageIndex struct {
	mu     sync.RWMutex
	images map[ShootingMode][]string
}

// NewImageIndex creates an empty index.
func NewImageIndex() *ImageIndex {
	return &ImageIndex{images: make(map[ShootingMode][]string)}
}

// Add records path under mode.
func (x *ImageIndex) Add(mode ShootingMode, path string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.images[mode] = append(x.images[mode], path)
}

// Get returns a copy of the files captured in mode, oldest first.
func (x *ImageIndex) Get(mode ShootingMode) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return append([]string(nil), x.images[mode]...)
}

// Snapshot returns a deep copy of the whole index.
func (x *ImageIndex) Snapshot() map[ShootingMode][]string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make(map[ShootingMode][]string, len(x.images))
	for m, paths := range x.images {
		out[m] = append([]string(nil), paths...)
	}
	return out
}

// Len returns the total number of indexed files.
func (x *ImageIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := 0
	for _, paths := range x.images {
		n += len(paths)
	}
	return n
}
