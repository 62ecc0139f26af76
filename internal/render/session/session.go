// Package session drives one render: it paces frame pulls from a source,
// quantizes each frame, and applies the diff against the previous frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voxelcast.ai/internal/metrics"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/batch"
	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/grid"
	"voxelcast.ai/internal/render/notify"
	"voxelcast.ai/internal/render/palette"
	"voxelcast.ai/internal/render/pool"
)

type State int32

const (
	Created State = iota
	Running
	Finished
	Cancelled
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Finished:
		return "finished"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) Terminal() bool { return s >= Finished }

type Config struct {
	ID      string
	Kind    string
	Origin  render.Vec3i
	Limits  render.Limits
	Palette *palette.Palette
	Applier *batch.Applier
	// IO runs frame pulls and defaults to a single slot; CPU runs
	// quantization and diffing.
	IO  *pool.Pool
	CPU *pool.Pool

	Notifier notify.Notifier
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

// Info is a point-in-time view of a session.
type Info struct {
	ID      string       `json:"id"`
	Kind    string       `json:"kind"`
	Origin  render.Vec3i `json:"origin"`
	State   string       `json:"state"`
	Frames  int64        `json:"frames"`
	Cells   int64        `json:"cells"`
	Width   int          `json:"width"`
	Height  int          `json:"height"`
	Started time.Time    `json:"started"`
	Error   string       `json:"error,omitempty"`
}

type Session struct {
	cfg   Config
	quant *palette.Quantizer

	state     atomic.Int32
	cancelled atomic.Bool
	frames    atomic.Int64
	cells     atomic.Int64

	mu      sync.Mutex
	cancel  context.CancelFunc
	cur     *grid.CellGrid
	err     error
	started time.Time

	done chan struct{}
}

func New(cfg Config) (*Session, error) {
	if err := cfg.Limits.Validate(); err != nil {
		return nil, err
	}
	if cfg.Palette == nil || cfg.Palette.Len() == 0 {
		return nil, palette.ErrEmptyPalette
	}
	if cfg.Applier == nil || cfg.CPU == nil {
		return nil, render.Configf("session", "applier and cpu pool are required")
	}
	if cfg.IO == nil {
		cfg.IO = pool.New("io", 1)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Session{
		cfg:   cfg,
		quant: palette.NewQuantizer(cfg.Palette),
		done:  make(chan struct{}),
	}, nil
}

func (s *Session) ID() string            { return s.cfg.ID }
func (s *Session) Kind() string          { return s.cfg.Kind }
func (s *Session) Origin() render.Vec3i  { return s.cfg.Origin }
func (s *Session) State() State          { return State(s.state.Load()) }
func (s *Session) Done() <-chan struct{} { return s.done }
func (s *Session) Cancelled() bool       { return s.cancelled.Load() }

// Err is the failure that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	in := Info{
		ID:      s.cfg.ID,
		Kind:    s.cfg.Kind,
		Origin:  s.cfg.Origin,
		State:   s.State().String(),
		Frames:  s.frames.Load(),
		Cells:   s.cells.Load(),
		Started: s.started,
	}
	if s.cur != nil {
		in.Width, in.Height = s.cur.Width(), s.cur.Height()
	}
	if s.err != nil {
		in.Error = s.err.Error()
	}
	return in
}

// Cancel stops the session. No diff is submitted after it returns, except for
// the batch already handed to the world.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// TickInterval is round(1000/min(srcFPS, maxFPS)) milliseconds, at least 1ms.
// A source that declares no rate plays at maxFPS.
func TickInterval(srcFPS float64, maxFPS int) time.Duration {
	rate := float64(maxFPS)
	if srcFPS > 0 && srcFPS < rate {
		rate = srcFPS
	}
	if rate <= 0 {
		return time.Millisecond
	}
	ms := math.Round(1000 / rate)
	if ms < 1 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}

// Run plays src until it ends, fails, or the session is cancelled, then closes
// src. It returns nil for Finished and Cancelled and the cause for Failed.
//
// Ticks fire at a fixed rate from the start of Run. At most one frame task is
// outstanding; ticks that fire while it runs collapse into one pending tick
// that is served as soon as the task completes.
func (s *Session) Run(ctx context.Context, src frames.Source) error {
	if !s.state.CompareAndSwap(int32(Created), int32(Running)) {
		_ = src.Close()
		return fmt.Errorf("session %s: already %s", s.cfg.ID, s.State())
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.mu.Lock()
	s.cancel = cancel
	s.started = time.Now()
	s.mu.Unlock()
	if s.cancelled.Load() {
		cancel()
	}
	s.cfg.Metrics.SessionStarted()

	ticker := time.NewTicker(TickInterval(src.FrameRate(), s.cfg.Limits.MaxFPS))
	defer ticker.Stop()

	results := make(chan error, 1)
	pending, outstanding := true, false
	for {
		if pending && !outstanding && !s.cancelled.Load() {
			pending, outstanding = false, true
			go func() { results <- s.step(ctx, src) }()
		}
		select {
		case <-ticker.C:
			pending = true
		case err := <-results:
			outstanding = false
			if err != nil {
				return s.finish(src, err)
			}
		case <-ctx.Done():
			if outstanding {
				<-results
			}
			return s.finish(src, render.ErrCancelled)
		}
	}
}

// Abort ends a session that never ran, e.g. because its source could not be
// opened. The cause is classified the same way Run classifies it.
func (s *Session) Abort(cause error) error {
	if !s.state.CompareAndSwap(int32(Created), int32(Running)) {
		return fmt.Errorf("session %s: already %s", s.cfg.ID, s.State())
	}
	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	s.cfg.Metrics.SessionStarted()
	return s.finish(nil, cause)
}

// step is one frame task: pull, quantize, diff, replace the grid, apply.
func (s *Session) step(ctx context.Context, src frames.Source) error {
	var pg frames.PixelGrid
	err := s.cfg.IO.Do(ctx, func() error {
		var err error
		pg, err = src.Next(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if s.cancelled.Load() {
		return render.ErrCancelled
	}

	var diff grid.Diff
	err = s.cfg.CPU.Do(ctx, func() error {
		began := time.Now()
		prev := s.current()
		if prev != nil {
			pg = pg.ResizeTo(prev.Width(), prev.Height())
		}
		next, err := grid.Quantize(ctx, pg, s.quant, s.cfg.Palette, s.cfg.CPU.Size())
		if err != nil {
			return err
		}
		if diff, err = grid.Compute(prev, next); err != nil {
			return err
		}
		s.mu.Lock()
		s.cur = next
		s.mu.Unlock()
		s.cfg.Metrics.FrameRendered(s.cfg.Kind, time.Since(began))
		return nil
	})
	if err != nil {
		return err
	}
	s.frames.Add(1)

	rep, err := s.cfg.Applier.Apply(ctx, s.cfg.Origin, diff, s.cancelled.Load)
	s.cells.Add(int64(rep.Written))
	return err
}

func (s *Session) current() *grid.CellGrid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) finish(src frames.Source, cause error) error {
	if src != nil {
		if err := src.Close(); err != nil {
			s.cfg.Logger.Printf("session %s: close source: %v", s.cfg.ID, err)
		}
	}

	state, ret := Failed, cause
	switch {
	case errors.Is(cause, frames.ErrEndOfSource):
		state, ret = Finished, nil
	case s.cancelled.Load(), errors.Is(cause, render.ErrCancelled),
		errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		state, ret = Cancelled, nil
	}
	if state == Failed && render.Kind(cause) == "" {
		ret = render.SourceErr(s.cfg.Kind, cause)
	}

	s.mu.Lock()
	s.err = ret
	s.mu.Unlock()
	s.state.Store(int32(state))
	s.cfg.Metrics.SessionEnded(s.cfg.Kind, state.String())
	s.emit(state, ret)
	close(s.done)
	return ret
}

func (s *Session) emit(state State, err error) {
	if s.cfg.Notifier == nil {
		return
	}
	st := notify.Status{SessionID: s.cfg.ID, Kind: s.cfg.Kind, Time: time.Now()}
	switch state {
	case Finished:
		st.Phase = notify.PhaseFinished
		st.Message = finishedMessage(s.cfg.Kind, s.frames.Load())
	case Cancelled:
		st.Phase = notify.PhaseCancelled
		st.Message = fmt.Sprintf("%s stopped after %d frames", s.cfg.Kind, s.frames.Load())
	default:
		st.Phase = notify.PhaseFailed
		st.Message = fmt.Sprintf("%s failed", s.cfg.Kind)
		st.Error = err.Error()
	}
	s.cfg.Notifier.Notify(st)
}

func finishedMessage(kind string, n int64) string {
	switch kind {
	case render.KindVideo:
		return fmt.Sprintf("Video playback finished (%d frames)", n)
	case render.KindImage:
		return "Image rendered"
	}
	return fmt.Sprintf("%s finished after %d frames", kind, n)
}
