// Package registry is the process-scoped owner of render sessions and of the
// undo history of render footprints.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"voxelcast.ai/internal/metrics"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/batch"
	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/grid"
	"voxelcast.ai/internal/render/media"
	"voxelcast.ai/internal/render/notify"
	"voxelcast.ai/internal/render/palette"
	"voxelcast.ai/internal/render/pool"
	"voxelcast.ai/internal/render/session"
)

// ErrClosed is returned by Start after CancelAll.
var ErrClosed = fmt.Errorf("%w: registry closed", render.ErrCancelled)

type Opener interface {
	Open(ctx context.Context, req media.Request) (frames.Source, error)
}

// Record is one entry of the undo history.
type Record struct {
	SessionID string      `json:"session_id"`
	Kind      string      `json:"kind"`
	Src       string      `json:"src"`
	Rect      render.Rect `json:"rect"`
	At        time.Time   `json:"at"`
}

// Journal keeps a durable copy of started sessions. It must not block.
type Journal interface {
	RecordStart(Record)
}

type Options struct {
	Limits   render.Limits
	Palette  *palette.Palette
	Applier  *batch.Applier
	Opener   Opener
	IO       *pool.Pool
	CPU      *pool.Pool
	Notifier notify.Notifier
	Journal  Journal
	Metrics  *metrics.Metrics
	Logger   *log.Logger

	// NewID defaults to random UUIDs.
	NewID func() string
}

type entry struct {
	sess   *session.Session
	cancel context.CancelFunc
}

type Registry struct {
	opt Options

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	limits   render.Limits
	sessions map[string]*entry
	history  []Record
	closed   bool
}

func New(opt Options) (*Registry, error) {
	if err := opt.Limits.Validate(); err != nil {
		return nil, err
	}
	if opt.Palette == nil || opt.Palette.Len() == 0 {
		return nil, palette.ErrEmptyPalette
	}
	if opt.Applier == nil || opt.Opener == nil {
		return nil, render.Configf("registry", "applier and opener are required")
	}
	if opt.IO == nil {
		opt.IO = pool.New("io", 2)
	}
	if opt.CPU == nil {
		opt.CPU = pool.New("cpu", 1)
	}
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard, "", 0)
	}
	if opt.NewID == nil {
		opt.NewID = uuid.NewString
	}
	base, cancel := context.WithCancel(context.Background())
	return &Registry{
		opt:      opt,
		base:     base,
		cancel:   cancel,
		limits:   opt.Limits,
		sessions: map[string]*entry{},
	}, nil
}

func (r *Registry) Limits() render.Limits {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limits
}

// SetLimits applies to sessions started afterwards.
func (r *Registry) SetLimits(l render.Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.limits = l
	r.mu.Unlock()
	return nil
}

// Start registers a session rendering src at origin and runs it in the
// background. The returned id names the session in Stop and notifications.
func (r *Registry) Start(kind, src string, origin render.Vec3i) (string, error) {
	switch kind {
	case render.KindImage, render.KindVideo, render.KindStream:
	default:
		return "", render.Configf("start", "unknown kind %q", kind)
	}
	if src == "" {
		return "", render.Configf("start", "empty source")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	lim := r.limits
	id := r.opt.NewID()
	sess, err := session.New(session.Config{
		ID:       id,
		Kind:     kind,
		Origin:   origin,
		Limits:   lim,
		Palette:  r.opt.Palette,
		Applier:  r.opt.Applier,
		IO:       r.opt.IO,
		CPU:      r.opt.CPU,
		Notifier: r.opt.Notifier,
		Metrics:  r.opt.Metrics,
		Logger:   r.opt.Logger,
	})
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithCancel(r.base)
	r.sessions[id] = &entry{sess: sess, cancel: cancel}
	rec := Record{
		SessionID: id,
		Kind:      kind,
		Src:       src,
		Rect:      render.Rect{Origin: origin, Width: lim.MaxWidth, Height: lim.MaxHeight},
		At:        time.Now(),
	}
	r.history = append(r.history, rec)
	if r.opt.Journal != nil {
		r.opt.Journal.RecordStart(rec)
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.forget(id)
		r.run(ctx, sess, media.Request{SessionID: id, Kind: kind, Src: src, Limits: lim})
	}()
	return id, nil
}

func (r *Registry) run(ctx context.Context, sess *session.Session, req media.Request) {
	var src frames.Source
	err := r.opt.IO.Do(ctx, func() error {
		var err error
		src, err = r.opt.Opener.Open(ctx, req)
		return err
	})
	if err != nil {
		if src != nil {
			_ = src.Close()
		}
		if aerr := sess.Abort(err); aerr != nil {
			r.opt.Logger.Printf("registry: session %s: %v", req.SessionID, aerr)
		}
		return
	}
	if err := sess.Run(ctx, src); err != nil {
		r.opt.Logger.Printf("registry: session %s: %v", req.SessionID, err)
	}
}

func (r *Registry) forget(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Stop cancels one session. It reports whether the id was active.
func (r *Registry) Stop(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.sess.Cancel()
	e.cancel()
	return true
}

// StopAll cancels every active session and returns how many there were.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	entries := make([]*entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		entries = append(entries, e)
	}
	r.mu.Unlock()
	for _, e := range entries {
		e.sess.Cancel()
		e.cancel()
	}
	return len(entries)
}

// Sessions lists active sessions, oldest first.
func (r *Registry) Sessions() []session.Info {
	r.mu.Lock()
	out := make([]session.Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.sess.Info())
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.Before(out[j].Started)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) History() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.history...)
}

// UndoLast pops the most recent footprint and clears it to the empty cell
// type. With no history it does nothing and reports false. If the clear
// fails the footprint goes back into the history at its old position.
func (r *Registry) UndoLast(ctx context.Context) (Record, bool, error) {
	r.mu.Lock()
	if len(r.history) == 0 {
		r.mu.Unlock()
		return Record{}, false, nil
	}
	at := len(r.history) - 1
	rec := r.history[at]
	r.history = r.history[:at]
	r.mu.Unlock()

	rep, err := r.opt.Applier.Apply(ctx, rec.Rect.Origin, grid.Clear(rec.Rect.Width, rec.Rect.Height), nil)
	if err != nil {
		r.mu.Lock()
		at = min(at, len(r.history))
		r.history = append(r.history[:at], append([]Record{rec}, r.history[at:]...)...)
		r.mu.Unlock()
		return rec, true, fmt.Errorf("undo %s: %w", rec.SessionID, err)
	}
	if r.opt.Notifier != nil {
		r.opt.Notifier.Notify(notify.Status{
			SessionID: rec.SessionID,
			Kind:      rec.Kind,
			Phase:     notify.PhaseUndone,
			Message:   fmt.Sprintf("Cleared %dx%d at (%d, %d, %d), %d cells", rec.Rect.Width, rec.Rect.Height, rec.Rect.Origin.X, rec.Rect.Origin.Y, rec.Rect.Origin.Z, rep.Written),
			Time:      time.Now(),
		})
	}
	return rec, true, nil
}

// CancelAll stops every session, refuses new ones, and waits for background
// work until ctx ends. Work still running at that point is abandoned.
func (r *Registry) CancelAll(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	n := r.StopAll()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.opt.Logger.Printf("registry: stopped %d sessions", n)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("registry: shutdown: %w", errors.Join(ctx.Err(), fmt.Errorf("%d sessions abandoned", r.active())))
	}
}

func (r *Registry) active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
