package frames

import (
	"errors"
	"image"
	"image/gif"
	"io"

	"golang.org/x/image/draw"
)

const defaultGIFDelay = 10 // hundredths of a second

// GIFDecoder plays an animated GIF as a video. Frames are composited onto a
// full-size canvas honoring the disposal method of each frame.
type GIFDecoder struct {
	g      *gif.GIF
	canvas *image.RGBA
	next   int
	info   VideoInfo
}

func NewGIFDecoder(r io.Reader) (*GIFDecoder, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, err
	}
	if len(g.Image) == 0 {
		return nil, errors.New("gif: no frames")
	}
	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}
	total := 0
	for i := range g.Image {
		d := defaultGIFDelay
		if i < len(g.Delay) && g.Delay[i] > 0 {
			d = g.Delay[i]
		}
		total += d
	}
	rate := 100 * float64(len(g.Image)) / float64(total)
	return &GIFDecoder{
		g:      g,
		canvas: image.NewRGBA(image.Rect(0, 0, w, h)),
		info:   VideoInfo{Width: w, Height: h, FrameRate: rate, FrameCount: len(g.Image)},
	}, nil
}

func (d *GIFDecoder) Info() VideoInfo { return d.info }

func (d *GIFDecoder) NextFrame() (image.Image, error) {
	if d.next >= len(d.g.Image) {
		return nil, io.EOF
	}
	i := d.next
	d.next++
	fr := d.g.Image[i]

	var restore *image.RGBA
	disposal := byte(0)
	if i < len(d.g.Disposal) {
		disposal = d.g.Disposal[i]
	}
	if disposal == gif.DisposalPrevious {
		restore = image.NewRGBA(d.canvas.Rect)
		copy(restore.Pix, d.canvas.Pix)
	}

	draw.Draw(d.canvas, fr.Bounds(), fr, fr.Bounds().Min, draw.Over)
	out := image.NewRGBA(d.canvas.Rect)
	copy(out.Pix, d.canvas.Pix)

	switch disposal {
	case gif.DisposalBackground:
		draw.Draw(d.canvas, fr.Bounds(), image.Transparent, image.Point{}, draw.Src)
	case gif.DisposalPrevious:
		d.canvas = restore
	}
	return out, nil
}

func (d *GIFDecoder) Close() error { return nil }
