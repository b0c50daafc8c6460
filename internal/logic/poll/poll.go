// Package poll repeatedly evaluates a condition until it holds or a deadline
// passes.
//
// A poll is a race between a deadline and a loop goroutine that invokes the
// probe serially. The loser is cancelled through the shared context. A probe
// still running when the deadline fires is abandoned: its result is discarded,
// it is never interrupted mid-call beyond seeing its context cancelled.
package poll

import (
	"context"
	"iter"
	"sync/atomic"
	"time"
)

// Probe evaluates the condition once. It returns cont == false when the
// condition is satisfied, together with the value to report.
type Probe[T any] func(ctx context.Context) (value T, cont bool)

// Outcome is the result of a one-shot poll. Completed is false when the
// deadline elapsed, in which case Value is the caller's default.
type Outcome[T any] struct {
	Value     T
	Completed bool
}

// Until invokes probe until it reports completion or timeout elapses.
// It returns (value, true) on completion and (def, false) on timeout or
// cancellation of ctx.
func Until[T any](ctx context.Context, timeout time.Duration, def T, probe Probe[T]) (T, bool) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		for ctx.Err() == nil {
			v, cont := probe(ctx)
			if !cont {
				done <- v
				return
			}
		}
	}()

	select {
	case v := <-done:
		return v, true
	case <-ctx.Done():
		// A probe that finished at the deadline still wins.
		select {
		case v := <-done:
			return v, true
		default:
			return def, false
		}
	}
}

// Run is Until returning an Outcome.
func Run[T any](ctx context.Context, timeout time.Duration, def T, probe Probe[T]) Outcome[T] {
	v, ok := Until(ctx, timeout, def, probe)
	return Outcome[T]{Value: v, Completed: ok}
}

// Stream returns a sequence of the values produced by probe. Each invocation
// reporting ok == true yields its value; the first invocation reporting
// ok == false, the deadline, cancellation of ctx, or the consumer breaking out
// of the range ends the sequence.
//
// The sequence is lazy: the deadline starts when ranging begins and the probe
// is only invoked when the consumer asks for the next value. It can be ranged
// once; later ranges yield nothing.
func Stream[T any](ctx context.Context, timeout time.Duration, probe func(ctx context.Context) (T, bool)) iter.Seq[T] {
	var used atomic.Bool
	return func(yield func(T) bool) {
		if used.Swap(true) {
			return
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		more := make(chan struct{})
		values := make(chan T)
		go func() {
			defer close(values)
			for {
				select {
				case <-more:
				case <-ctx.Done():
					return
				}
				if ctx.Err() != nil {
					return
				}
				v, ok := probe(ctx)
				if !ok {
					return
				}
				select {
				case values <- v:
				case <-ctx.Done():
					return
				}
			}
		}()

		for {
			select {
			case more <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case v, ok := <-values:
				if !ok || !yield(v) {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}
}

// Every paces probe: after an invocation that asks to continue it waits
// interval, or until ctx is done, before returning.
func Every[T any](interval time.Duration, probe Probe[T]) Probe[T] {
	return func(ctx context.Context) (T, bool) {
		v, cont := probe(ctx)
		if !cont {
			return v, false
		}
		t := time.NewTimer(interval)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
		return v, true
	}
}
