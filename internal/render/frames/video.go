package frames

import (
	"context"
	"errors"
	"image"
	"io"
	"math"

	"voxelcast.ai/internal/render"
)

// VideoInfo is the metadata a Decoder reports once opened.
type VideoInfo struct {
	Width      int
	Height     int
	FrameRate  float64
	FrameCount int // 0 when unknown
}

// Decoder produces the native frames of a video container in order.
// NextFrame returns io.EOF or ErrEndOfSource at the end of the stream.
type Decoder interface {
	Info() VideoInfo
	NextFrame() (image.Image, error)
	Close() error
}

// VideoFile plays a decoded video at min(native rate, fps cap). When the
// native rate is higher, output frame k shows native frame floor(k*native/cap);
// frames are dropped, never repeated.
type VideoFile struct {
	dec  Decoder
	info VideoInfo
	lim  render.Limits
	rate float64

	out  int // output frames produced
	read int // native frames consumed
}

func NewVideoFile(dec Decoder, lim render.Limits) (*VideoFile, error) {
	info := dec.Info()
	if info.FrameRate <= 0 || math.IsNaN(info.FrameRate) || math.IsInf(info.FrameRate, 0) {
		_ = dec.Close()
		return nil, render.SourceErr("video", errors.New("decoder reported no frame rate"))
	}
	rate := info.FrameRate
	if capped := float64(lim.MaxFPS); lim.MaxFPS > 0 && rate > capped {
		rate = capped
	}
	return &VideoFile{dec: dec, info: info, lim: lim, rate: rate}, nil
}

func (v *VideoFile) Info() VideoInfo { return v.info }

func (v *VideoFile) FrameRate() float64 { return v.rate }

// sourceIndex maps output frame k to the native frame it shows.
func (v *VideoFile) sourceIndex(k int) int {
	if v.info.FrameRate <= v.rate {
		return k
	}
	return int(math.Floor(float64(k)*v.info.FrameRate/v.rate + 1e-9))
}

func (v *VideoFile) Next(ctx context.Context) (PixelGrid, error) {
	want := v.sourceIndex(v.out)
	if v.info.FrameCount > 0 && want >= v.info.FrameCount {
		return PixelGrid{}, ErrEndOfSource
	}
	for {
		if err := ctx.Err(); err != nil {
			return PixelGrid{}, err
		}
		img, err := v.dec.NextFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrEndOfSource) {
				return PixelGrid{}, ErrEndOfSource
			}
			return PixelGrid{}, &DecodeError{Frame: v.read, Err: err}
		}
		idx := v.read
		v.read++
		if idx < want {
			continue
		}
		v.out++
		return Fit(img, v.lim), nil
	}
}

func (v *VideoFile) Close() error { return v.dec.Close() }
