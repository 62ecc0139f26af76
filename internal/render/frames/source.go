// Package frames turns still images, video files and watched directories into
// sequences of PixelGrids fitted to the render limits.
package frames

import (
	"context"
	"errors"
	"fmt"

	"voxelcast.ai/internal/render"
)

// ErrEndOfSource is returned by Next once a finite source is exhausted.
var ErrEndOfSource = errors.New("frames: end of source")

// DecodeError reports a frame that could not be decoded. It is a source error.
type DecodeError struct {
	Frame int
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("frames: decode frame %d: %v", e.Frame, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == render.ErrSource }

// Source is a lazy sequence of frames at a declared rate.
type Source interface {
	// Next blocks until a frame is available, ctx is done, or the source ends.
	Next(ctx context.Context) (PixelGrid, error)
	// FrameRate is the declared output rate in frames per second.
	FrameRate() float64
	Close() error
}
