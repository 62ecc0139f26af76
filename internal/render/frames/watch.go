package frames

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"voxelcast.ai/internal/render"
)

const DefaultPollInterval = time.Second

// WatchedDirectory yields one frame per image file that appears in a directory
// after the watch started. Each poll's new files are played in name order.
// Files that do not decode as images are skipped. It never ends on its own.
type WatchedDirectory struct {
	dir      string
	lim      render.Limits
	interval time.Duration
	rate     float64

	seen    map[string]bool
	pending []string

	// Skipped is called with files that failed to decode. Optional.
	Skipped func(name string, err error)
}

// NewWatchedDirectory snapshots the directory so that files already present
// are not played.
func NewWatchedDirectory(dir string, lim render.Limits, interval time.Duration) (*WatchedDirectory, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &WatchedDirectory{
		dir:      dir,
		lim:      lim,
		interval: interval,
		rate:     float64(lim.MaxFPS),
		seen:     map[string]bool{},
	}
	names, err := w.list()
	if err != nil {
		return nil, render.SourceErr("watch", err)
	}
	for _, n := range names {
		w.seen[n] = true
	}
	return w, nil
}

func (w *WatchedDirectory) list() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, e.Name())
	}
	return out, nil
}

func (w *WatchedDirectory) poll() error {
	names, err := w.list()
	if err != nil {
		return err
	}
	var fresh []string
	for _, n := range names {
		if !w.seen[n] {
			w.seen[n] = true
			fresh = append(fresh, n)
		}
	}
	sort.Strings(fresh)
	w.pending = append(w.pending, fresh...)
	return nil
}

func (w *WatchedDirectory) Next(ctx context.Context) (PixelGrid, error) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		for len(w.pending) > 0 {
			name := w.pending[0]
			w.pending = w.pending[1:]
			img, err := DecodeFile(filepath.Join(w.dir, name))
			if err != nil {
				if w.Skipped != nil {
					w.Skipped(name, err)
				}
				continue
			}
			return Fit(img, w.lim), nil
		}
		if err := ctx.Err(); err != nil {
			return PixelGrid{}, err
		}
		if err := w.poll(); err != nil {
			return PixelGrid{}, render.SourceErr("watch", err)
		}
		if len(w.pending) > 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(w.interval)
		} else {
			timer.Reset(w.interval)
		}
		select {
		case <-ctx.Done():
			return PixelGrid{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (w *WatchedDirectory) FrameRate() float64 { return w.rate }

func (w *WatchedDirectory) Close() error { return nil }
