package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/notify"
)

type recorder struct {
	mu  sync.Mutex
	got []notify.Status
}

func (r *recorder) Notify(s notify.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, s)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png: %v", err)
	}
	return buf.Bytes()
}

func gifBytes(t *testing.T, n int) []byte {
	t.Helper()
	pal := color.Palette{color.Black, color.White}
	anim := &gif.GIF{}
	for i := 0; i < n; i++ {
		anim.Image = append(anim.Image, image.NewPaletted(image.Rect(0, 0, 6, 3), pal))
		anim.Delay = append(anim.Delay, 10)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		t.Fatalf("gif: %v", err)
	}
	return buf.Bytes()
}

func tmpFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatalf("readdir: %v", err)
	}
	return len(entries)
}

func TestOpen_DownloadedImage(t *testing.T) {
	body := pngBytes(t, 200, 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cat.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	rec := &recorder{}
	o := NewOpener(Options{Dir: dir, Notifier: rec})
	src, err := o.Open(context.Background(), Request{SessionID: "s1", Kind: render.KindImage, Src: srv.URL + "/cat.png", Limits: render.DefaultLimits()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()
	g, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if g.Width != 100 || g.Height != 50 {
		t.Fatalf("grid %dx%d", g.Width, g.Height)
	}
	if n := tmpFiles(t, dir); n != 0 {
		t.Fatalf("%d temp files left after image decode", n)
	}
	if len(rec.got) != 2 || rec.got[0].Phase != notify.PhaseDownloading || rec.got[1].Phase != notify.PhaseDownloaded {
		t.Fatalf("statuses %+v", rec.got)
	}

	_, err = o.Open(context.Background(), Request{Kind: render.KindImage, Src: srv.URL + "/missing.png", Limits: render.DefaultLimits()})
	if !errors.Is(err, render.ErrSource) {
		t.Fatalf("expected source error for 404, got %v", err)
	}
}

func TestOpen_DownloadedGIFRemovedOnClose(t *testing.T) {
	body := gifBytes(t, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	dir := t.TempDir()
	o := NewOpener(Options{Dir: dir})
	src, err := o.Open(context.Background(), Request{Kind: render.KindVideo, Src: srv.URL + "/clip.gif", Limits: render.DefaultLimits()})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if src.FrameRate() != 10 {
		t.Fatalf("rate %v", src.FrameRate())
	}
	if n := tmpFiles(t, dir); n != 1 {
		t.Fatalf("want 1 staged file, got %d", n)
	}
	count := 0
	for {
		_, err := src.Next(context.Background())
		if errors.Is(err, frames.ErrEndOfSource) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		count++
	}
	if count != 3 {
		t.Fatalf("frames %d", count)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := tmpFiles(t, dir); n != 0 {
		t.Fatalf("%d temp files left after close", n)
	}
}

func TestOpen_DownloadTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()
	dir := t.TempDir()
	o := NewOpener(Options{Dir: dir, MaxDownload: 16})
	if _, err := o.Open(context.Background(), Request{Kind: render.KindImage, Src: srv.URL + "/big.png", Limits: render.DefaultLimits()}); err == nil {
		t.Fatalf("expected size error")
	}
	if n := tmpFiles(t, dir); n != 0 {
		t.Fatalf("partial download left behind")
	}
}

func TestOpen_LocalPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.png"), pngBytes(t, 4, 4), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	o := NewOpener(Options{Dir: dir})
	src, err := o.Open(context.Background(), Request{Kind: render.KindImage, Src: "a.png", Limits: render.DefaultLimits()})
	if err != nil {
		t.Fatalf("Open local: %v", err)
	}
	_ = src.Close()
	if _, err := os.Stat(filepath.Join(dir, "a.png")); err != nil {
		t.Fatalf("local file must not be removed: %v", err)
	}

	for _, bad := range []string{"../etc/passwd", "missing.png", ""} {
		if _, err := o.Open(context.Background(), Request{Kind: render.KindImage, Src: bad, Limits: render.DefaultLimits()}); !errors.Is(err, render.ErrSource) {
			t.Fatalf("Open(%q): expected source error, got %v", bad, err)
		}
	}
	if _, err := o.Open(context.Background(), Request{Kind: "hologram", Src: "a.png", Limits: render.DefaultLimits()}); !errors.Is(err, render.ErrConfiguration) {
		t.Fatalf("unknown kind: %v", err)
	}
}

func TestOpen_Stream(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "cam"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	o := NewOpener(Options{Dir: dir})
	src, err := o.Open(context.Background(), Request{Kind: render.KindStream, Src: "cam", Limits: render.DefaultLimits()})
	if err != nil {
		t.Fatalf("Open stream: %v", err)
	}
	defer src.Close()
	if _, ok := src.(*frames.WatchedDirectory); !ok {
		t.Fatalf("stream source is %T", src)
	}
	if _, err := o.Open(context.Background(), Request{Kind: render.KindStream, Src: "nope", Limits: render.DefaultLimits()}); !errors.Is(err, render.ErrSource) {
		t.Fatalf("missing stream dir: %v", err)
	}
}
