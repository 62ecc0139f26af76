// Package batch applies diffs to the host world in bounded, ordered batches.
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/grid"
	"voxelcast.ai/internal/render/palette"
)

const (
	DefaultSize  = 1000
	DefaultDelay = time.Millisecond

	// failures logged individually per batch before summarizing
	maxLoggedFailures = 8
)

// Sink writes single cells. It is only valid inside an Executor callback.
type Sink interface {
	TrySet(pos render.Vec3i, t palette.CellType) bool
}

// Executor runs fn on the goroutine that owns world mutation and returns after
// fn has completed. ctx bounds only the wait to hand fn over; once accepted, fn
// always runs to completion.
type Executor interface {
	Execute(ctx context.Context, fn func(Sink)) error
}

// Observer receives per-batch counters. Optional.
type Observer interface {
	BatchApplied(written, failed int, took time.Duration)
}

type Options struct {
	Size     int
	Delay    time.Duration
	Logger   *log.Logger
	Observer Observer
}

type Applier struct {
	exec   Executor
	size   int
	delay  time.Duration
	logger *log.Logger
	obs    Observer
}

func New(exec Executor, opt Options) *Applier {
	if opt.Size <= 0 {
		opt.Size = DefaultSize
	}
	if opt.Delay < 0 {
		opt.Delay = 0
	}
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard, "", 0)
	}
	return &Applier{exec: exec, size: opt.Size, delay: opt.Delay, logger: opt.Logger, obs: opt.Observer}
}

func (a *Applier) Size() int { return a.size }

// Report summarizes one Apply call.
type Report struct {
	Batches int
	Written int
	Failed  int
	Stopped bool
}

// Apply writes diff at origin batch by batch, in order. stop is checked before
// each batch; once it reports true no further batch is submitted and Apply
// returns render.ErrCancelled. A submitted batch always completes.
func (a *Applier) Apply(ctx context.Context, origin render.Vec3i, diff grid.Diff, stop func() bool) (Report, error) {
	var rep Report
	for start := 0; start < len(diff); start += a.size {
		if stop != nil && stop() {
			rep.Stopped = true
			return rep, render.ErrCancelled
		}
		if start > 0 && a.delay > 0 {
			if err := sleep(ctx, a.delay); err != nil {
				return rep, err
			}
		}
		part := diff[start:min(start+a.size, len(diff))]

		var written, failed int
		began := time.Now()
		err := a.exec.Execute(ctx, func(s Sink) {
			for _, c := range part {
				pos := origin.Cell(c.X, c.Y)
				if s.TrySet(pos, c.Type) {
					written++
					continue
				}
				failed++
				if failed <= maxLoggedFailures {
					a.logger.Printf("batch: %v", render.WriteErr("set", fmt.Errorf("cell (%d,%d,%d) type %d rejected", pos.X, pos.Y, pos.Z, c.Type)))
				}
			}
		})
		if err != nil {
			return rep, fmt.Errorf("batch %d: %w", rep.Batches, err)
		}
		if failed > maxLoggedFailures {
			a.logger.Printf("batch: %d more failed writes in batch %d", failed-maxLoggedFailures, rep.Batches)
		}
		rep.Batches++
		rep.Written += written
		rep.Failed += failed
		if a.obs != nil {
			a.obs.BatchApplied(written, failed, time.Since(began))
		}
	}
	return rep, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
