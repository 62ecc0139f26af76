package frames

import (
	"context"

	"voxelcast.ai/internal/render"
)

// StillImage yields one frame and then ends.
type StillImage struct {
	grid PixelGrid
	rate float64
	done bool
}

// NewStillImage decodes and fits the image at path. Its declared rate is the
// fps cap.
func NewStillImage(path string, lim render.Limits) (*StillImage, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, &DecodeError{Frame: 0, Err: err}
	}
	return &StillImage{grid: Fit(img, lim), rate: float64(lim.MaxFPS)}, nil
}

// NewStillGrid wraps an already decoded frame.
func NewStillGrid(g PixelGrid, rate float64) *StillImage {
	return &StillImage{grid: g, rate: rate}
}

func (s *StillImage) Next(ctx context.Context) (PixelGrid, error) {
	if err := ctx.Err(); err != nil {
		return PixelGrid{}, err
	}
	if s.done {
		return PixelGrid{}, ErrEndOfSource
	}
	s.done = true
	return s.grid, nil
}

func (s *StillImage) FrameRate() float64 { return s.rate }

func (s *StillImage) Close() error { return nil }
