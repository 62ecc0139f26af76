package world

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/batch"
	"voxelcast.ai/internal/render/palette"
)

var ErrStopped = errors.New("world: stopped")

// maxRegionCells caps one Region read.
const maxRegionCells = 1 << 22

type WorldConfig struct {
	TickRateHz int
	BoundaryR  int
	Height     int
	// BlockTypes is the catalog palette size; ids at or above it are rejected.
	BlockTypes int
}

type WorldMetrics struct {
	Tick         uint64 `json:"tick"`
	LoadedChunks int    `json:"loaded_chunks"`
	Writes       uint64 `json:"writes"`
	FailedWrites uint64 `json:"failed_writes"`
	QueueDepth   int    `json:"queue_depth"`
}

type execReq struct {
	fn   func()
	done chan struct{}
}

// World is the authoritative voxel volume. All block state is accessed only
// from the Run goroutine; other goroutines reach it through Execute.
type World struct {
	cfg    WorldConfig
	chunks *ChunkStore
	logger *log.Logger

	exec chan execReq
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	doneOnce sync.Once

	tick    atomic.Uint64
	writes  atomic.Uint64
	failed  atomic.Uint64
	waiting atomic.Int64
	loaded  atomic.Int64
	running atomic.Bool
}

func New(cfg WorldConfig, logger *log.Logger) (*World, error) {
	if cfg.TickRateHz <= 0 {
		return nil, render.Configf("world", "tick rate must be positive")
	}
	if cfg.Height <= 0 {
		return nil, render.Configf("world", "height must be positive")
	}
	if cfg.BlockTypes <= 0 {
		return nil, render.Configf("world", "block catalog is empty")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &World{
		cfg:    cfg,
		chunks: NewChunkStore(cfg.BoundaryR, cfg.Height),
		logger: logger,
		exec:   make(chan execReq),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Metrics() WorldMetrics {
	return WorldMetrics{
		Tick:         w.tick.Load(),
		LoadedChunks: int(w.loaded.Load()),
		Writes:       w.writes.Load(),
		FailedWrites: w.failed.Load(),
		QueueDepth:   int(w.waiting.Load()),
	}
}

// do hands fn to the loop goroutine and waits for it to finish. ctx only
// bounds the hand-over.
func (w *World) do(ctx context.Context, fn func()) error {
	req := execReq{fn: fn, done: make(chan struct{})}
	w.waiting.Add(1)
	select {
	case w.exec <- req:
		w.waiting.Add(-1)
	case <-ctx.Done():
		w.waiting.Add(-1)
		return ctx.Err()
	case <-w.done:
		w.waiting.Add(-1)
		return ErrStopped
	}
	<-req.done
	return nil
}

// Execute implements batch.Executor.
func (w *World) Execute(ctx context.Context, fn func(batch.Sink)) error {
	return w.do(ctx, func() { fn(sink{w}) })
}

// Region reads a width x height footprint at origin, row-major, as catalog ids.
func (w *World) Region(ctx context.Context, r render.Rect) ([]uint16, error) {
	if r.Width <= 0 || r.Height <= 0 || r.Width > maxRegionCells/r.Height {
		return nil, render.Configf("region", "bad size %dx%d", r.Width, r.Height)
	}
	out := make([]uint16, r.Width*r.Height)
	err := w.do(ctx, func() {
		for y := 0; y < r.Height; y++ {
			for x := 0; x < r.Width; x++ {
				out[y*r.Width+x] = w.chunks.GetBlock(r.Origin.Cell(x, y))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Digest is a hex sha256 over all loaded chunks.
func (w *World) Digest(ctx context.Context) (string, error) {
	var d [32]byte
	if err := w.do(ctx, func() { d = w.chunks.Digest() }); err != nil {
		return "", err
	}
	return hex.EncodeToString(d[:]), nil
}

type sink struct{ w *World }

func (s sink) TrySet(pos render.Vec3i, t palette.CellType) bool {
	w := s.w
	if int(t) >= w.cfg.BlockTypes || !w.chunks.SetBlock(pos, uint16(t)) {
		w.failed.Add(1)
		return false
	}
	w.writes.Add(1)
	return true
}

func (w *World) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.doneOnce.Do(func() { close(w.done) })

	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.exec:
			req.fn()
			w.loaded.Store(int64(w.chunks.Loaded()))
			close(req.done)
		case <-ticker.C:
			w.tick.Add(1)
		}
	}
}

func (w *World) Stop() { w.stopOnce.Do(func() { close(w.stop) }) }

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }
