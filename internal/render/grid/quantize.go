package grid

import (
	"context"

	"golang.org/x/sync/errgroup"

	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/palette"
)

// minParallelPixels is the frame size below which quantization stays on the
// calling goroutine.
const minParallelPixels = 4096

// Quantize maps every pixel of pg to its nearest palette cell. Large frames are
// split into row bands, each with its own Quantizer. q is used for small frames
// and may be nil.
func Quantize(ctx context.Context, pg frames.PixelGrid, q *palette.Quantizer, pal *palette.Palette, workers int) (*CellGrid, error) {
	cells := make([]palette.CellType, pg.Width*pg.Height)
	if workers <= 1 || len(cells) < minParallelPixels {
		if q == nil {
			q = palette.NewQuantizer(pal)
		}
		for i, c := range pg.Pix {
			cells[i] = q.Nearest(c)
		}
		return New(pg.Width, pg.Height, cells)
	}

	rows := (pg.Height + workers - 1) / workers
	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < pg.Height; start += rows {
		lo, hi := start*pg.Width, min(start+rows, pg.Height)*pg.Width
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			wq := palette.NewQuantizer(pal)
			for i := lo; i < hi; i++ {
				cells[i] = wq.Nearest(pg.Pix[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return New(pg.Width, pg.Height, cells)
}
