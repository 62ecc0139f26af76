// Package media resolves render sources (URLs, media-dir paths, stream
// directories) into frame sources.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/notify"
)

const DefaultMaxDownload = 512 << 20

type Options struct {
	// Dir holds local media; relative sources resolve inside it and downloads
	// are staged in Dir/tmp.
	Dir          string
	Client       *http.Client
	MaxDownload  int64
	FFmpeg       frames.FFmpegOptions
	PollInterval time.Duration
	Notifier     notify.Notifier
	Logger       *log.Logger
}

type Opener struct {
	opt Options
}

func NewOpener(opt Options) *Opener {
	if opt.Dir == "" {
		opt.Dir = "."
	}
	if opt.Client == nil {
		opt.Client = &http.Client{Timeout: 10 * time.Minute}
	}
	if opt.MaxDownload <= 0 {
		opt.MaxDownload = DefaultMaxDownload
	}
	if opt.Logger == nil {
		opt.Logger = log.New(io.Discard, "", 0)
	}
	return &Opener{opt: opt}
}

// Request names what to open for which session.
type Request struct {
	SessionID string
	Kind      string // render.KindImage, KindVideo or KindStream
	Src       string
	Limits    render.Limits
}

// Open resolves req.Src and returns a source fitted to req.Limits. Downloaded
// files are removed when the source closes.
func (o *Opener) Open(ctx context.Context, req Request) (frames.Source, error) {
	if req.Kind == render.KindStream {
		dir, err := o.localPath(req.Src)
		if err != nil {
			return nil, render.SourceErr(render.KindStream, err)
		}
		w, err := frames.NewWatchedDirectory(dir, req.Limits, o.opt.PollInterval)
		if err != nil {
			return nil, err
		}
		w.Skipped = func(name string, err error) {
			o.opt.Logger.Printf("stream %s: skip %s: %v", req.SessionID, name, err)
		}
		o.notify(req, notify.PhaseReady, fmt.Sprintf("Watching %s", req.Src))
		return w, nil
	}

	p, temp, err := o.fetch(ctx, req)
	if err != nil {
		return nil, render.SourceErr(req.Kind, err)
	}
	cleanup := func() {
		if temp {
			if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
				o.opt.Logger.Printf("media: remove %s: %v", p, err)
			}
		}
	}

	switch req.Kind {
	case render.KindImage:
		src, err := frames.NewStillImage(p, req.Limits)
		cleanup()
		if err != nil {
			return nil, err
		}
		return src, nil
	case render.KindVideo:
		dec, err := o.decoder(ctx, p)
		if err != nil {
			cleanup()
			return nil, render.SourceErr(render.KindVideo, err)
		}
		v, err := frames.NewVideoFile(dec, req.Limits)
		if err != nil {
			cleanup()
			return nil, err
		}
		info := v.Info()
		w, h := frames.FitSize(info.Width, info.Height, req.Limits.MaxWidth, req.Limits.MaxHeight)
		o.notify(req, notify.PhaseReady, fmt.Sprintf("Processing video: %dx%d -> %dx%d at %.2f fps", info.Width, info.Height, w, h, v.FrameRate()))
		if !temp {
			return v, nil
		}
		return &removeOnClose{Source: v, cleanup: cleanup}, nil
	}
	cleanup()
	return nil, render.Configf("open", "unknown source kind %q", req.Kind)
}

func (o *Opener) decoder(ctx context.Context, p string) (frames.Decoder, error) {
	if strings.EqualFold(filepath.Ext(p), ".gif") {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return frames.NewGIFDecoder(f)
	}
	return frames.OpenFFmpeg(ctx, p, o.opt.FFmpeg)
}

// fetch returns a local file for req.Src and whether it is a temporary download.
func (o *Opener) fetch(ctx context.Context, req Request) (string, bool, error) {
	u, err := url.Parse(req.Src)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		p, err := o.download(ctx, req, u)
		return p, true, err
	}
	p, err := o.localPath(req.Src)
	return p, false, err
}

func (o *Opener) localPath(src string) (string, error) {
	src = strings.TrimPrefix(src, "file://")
	if src == "" {
		return "", errors.New("empty source")
	}
	base, err := filepath.Abs(o.opt.Dir)
	if err != nil {
		return "", err
	}
	p := filepath.Join(base, filepath.FromSlash(src))
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: outside media dir", src)
	}
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

func (o *Opener) download(ctx context.Context, req Request, u *url.URL) (string, error) {
	o.notify(req, notify.PhaseDownloading, "Downloading "+req.Kind+"...")
	began := time.Now()

	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := o.opt.Client.Do(hreq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("download %s: %s", u.Redacted(), resp.Status)
	}

	tmpDir := filepath.Join(o.opt.Dir, "tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return "", err
	}
	f, err := os.CreateTemp(tmpDir, req.Kind+"-*"+path.Ext(u.Path))
	if err != nil {
		return "", err
	}
	n, err := io.Copy(f, io.LimitReader(resp.Body, o.opt.MaxDownload+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > o.opt.MaxDownload {
		err = fmt.Errorf("download %s: larger than %d bytes", u.Redacted(), o.opt.MaxDownload)
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	o.notify(req, notify.PhaseDownloaded, fmt.Sprintf("Download completed in %dms", time.Since(began).Milliseconds()))
	return f.Name(), nil
}

func (o *Opener) notify(req Request, phase notify.Phase, msg string) {
	if o.opt.Notifier == nil {
		return
	}
	o.opt.Notifier.Notify(notify.Status{SessionID: req.SessionID, Kind: req.Kind, Phase: phase, Message: msg, Time: time.Now()})
}

type removeOnClose struct {
	frames.Source
	cleanup func()
}

func (r *removeOnClose) Close() error {
	err := r.Source.Close()
	r.cleanup()
	return err
}
