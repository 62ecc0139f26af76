package frames

import (
	"image"

	"golang.org/x/image/draw"

	"voxelcast.ai/internal/render/palette"
)

// PixelGrid is a row-major frame. Immutable once produced.
type PixelGrid struct {
	Width  int
	Height int
	Pix    []palette.Color
}

func (g PixelGrid) At(x, y int) palette.Color { return g.Pix[y*g.Width+x] }

// FromImage copies img into a PixelGrid. Transparent pixels come out black.
func FromImage(img image.Image) PixelGrid {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Rect.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	}
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	g := PixelGrid{Width: w, Height: h, Pix: make([]palette.Color, w*h)}
	for y := 0; y < h; y++ {
		row := rgba.Pix[y*rgba.Stride : y*rgba.Stride+w*4]
		for x := 0; x < w; x++ {
			g.Pix[y*w+x] = palette.Color{R: row[x*4], G: row[x*4+1], B: row[x*4+2]}
		}
	}
	return g
}

// Image returns an opaque RGBA copy of g.
func (g PixelGrid) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, g.Width, g.Height))
	for i, c := range g.Pix {
		img.Pix[i*4] = c.R
		img.Pix[i*4+1] = c.G
		img.Pix[i*4+2] = c.B
		img.Pix[i*4+3] = 0xff
	}
	return img
}

// ResizeTo scales g to exactly w x h. It returns g itself when the size matches.
func (g PixelGrid) ResizeTo(w, h int) PixelGrid {
	if g.Width == w && g.Height == h {
		return g
	}
	return Resize(g.Image(), w, h)
}
