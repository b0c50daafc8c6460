package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/ptpshot/internal/debug"
)

// Shooter runs one capture. Orchestrator and the camera drivers implement it.
type Shooter interface {
	Shoot(ctx context.Context) (Result, error)
}

// Sequence contains high-level logic for multi-shot captures.
type Sequence struct {
	camera Shooter
}

// NewSequence creates a sequence driving c.
func NewSequence(c Shooter) *Sequence {
	return &Sequence{camera: c}
}

// TimelapseParams defines a series of shots.
type TimelapseParams struct {
	Count    int           // number of shots, at least 1
	Interval time.Duration // time between the start of two shots
}

// RunTimelapse shoots p.Count times, one shot every p.Interval. A shot that
// overruns the interval is followed immediately by the next one. The first
// failed shot ends the series; the results of the shots before it are
// returned with the error. Images are indexed as ModeTimelapse unless ctx
// already carries a mode.
func (s *Sequence) RunTimelapse(ctx context.Context, p TimelapseParams) ([]Result, error) {
	if p.Count < 1 {
		return nil, fmt.Errorf("timelapse needs at least one shot, got %d", p.Count)
	}
	if _, ok := ModeFromContext(ctx); !ok {
		ctx = WithMode(ctx, ModeTimelapse)
	}
	debug.Section("Timelapse")
	debug.Value("Shots", p.Count)
	debug.Value("Interval", p.Interval)

	results := make([]Result, 0, p.Count)
	start := time.Now()
	for i := 0; i < p.Count; i++ {
		if i > 0 {
			wait := time.Until(start.Add(time.Duration(i) * p.Interval))
			if wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					t.Stop()
					return results, ctx.Err()
				case <-t.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		debug.Live("Shot %d/%d", i+1, p.Count)
		res, err := s.camera.Shoot(ctx)
		if err != nil {
			return results, fmt.Errorf("shot %d/%d: %w", i+1, p.Count, err)
		}
		results = append(results, res)
	}
	return results, nil
}
