package frames

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"voxelcast.ai/internal/render"
)

// FitSize returns the dimensions of a w x h frame fitted within maxW x maxH.
// A frame that already fits is unchanged; otherwise the limiting dimension is
// set to its maximum and the other follows the aspect ratio, never below 1.
func FitSize(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	aspect := float64(w) / float64(h)
	if aspect > float64(maxW)/float64(maxH) {
		return maxW, clamp(int(math.Round(float64(maxW)/aspect)), 1, maxH)
	}
	return clamp(int(math.Round(float64(maxH)*aspect)), 1, maxW), maxH
}

// Fit scales img into the limits with approximate bilinear interpolation.
func Fit(img image.Image, lim render.Limits) PixelGrid {
	b := img.Bounds()
	w, h := FitSize(b.Dx(), b.Dy(), lim.MaxWidth, lim.MaxHeight)
	return Resize(img, w, h)
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int) PixelGrid {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return FromImage(img)
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Rect, img, b, draw.Src, nil)
	return FromImage(dst)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
