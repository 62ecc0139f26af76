package grid

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"voxelcast.ai/internal/render/frames"
	"voxelcast.ai/internal/render/palette"
)

const (
	black palette.CellType = 1
	white palette.CellType = 2
	red   palette.CellType = 3
)

func testPalette(t *testing.T) *palette.Palette {
	t.Helper()
	p, err := palette.New([]palette.Entry{
		{Type: black, Color: palette.Color{}},
		{Type: white, Color: palette.Color{R: 255, G: 255, B: 255}},
		{Type: red, Color: palette.Color{R: 255}},
	})
	if err != nil {
		t.Fatalf("palette: %v", err)
	}
	return p
}

func uniform(w, h int, c palette.Color) frames.PixelGrid {
	pg := frames.PixelGrid{Width: w, Height: h, Pix: make([]palette.Color, w*h)}
	for i := range pg.Pix {
		pg.Pix[i] = c
	}
	return pg
}

func TestCompute_RedOverBlack(t *testing.T) {
	pal := testPalette(t)
	prev := Filled(4, 4, black)
	next, err := Quantize(context.Background(), uniform(4, 4, palette.Color{R: 250, G: 5}), nil, pal, 1)
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	d, err := Compute(prev, next)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(d) != 16 {
		t.Fatalf("diff len=%d want 16", len(d))
	}
	for i, c := range d {
		if c.Type != red || c.X != i%4 || c.Y != i/4 {
			t.Fatalf("change %d = %+v", i, c)
		}
	}

	again, err := Compute(next, next)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("identical grids should have empty diff, got %d", len(again))
	}
}

func TestCompute_AgainstUnset(t *testing.T) {
	cells := []palette.CellType{0, red, 0, white, white, 0}
	g, err := New(3, 2, cells)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	d, err := Compute(nil, g)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	want := Diff{{X: 1, Y: 0, Type: red}, {X: 0, Y: 1, Type: white}, {X: 1, Y: 1, Type: white}}
	if len(d) != len(want) {
		t.Fatalf("diff %+v want %+v", d, want)
	}
	for i := range want {
		if d[i] != want[i] {
			t.Fatalf("diff %+v want %+v", d, want)
		}
	}
}

func TestCompute_NoDuplicatesRowMajor(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	w, h := 17, 9
	a := make([]palette.CellType, w*h)
	b := make([]palette.CellType, w*h)
	for i := range a {
		a[i] = palette.CellType(rng.Intn(3))
		b[i] = palette.CellType(rng.Intn(3))
	}
	ga, _ := New(w, h, a)
	gb, _ := New(w, h, b)
	d, err := Compute(ga, gb)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	last := -1
	for _, c := range d {
		idx := c.Y*w + c.X
		if idx <= last {
			t.Fatalf("diff not strictly row-major at %+v", c)
		}
		last = idx
		if ga.At(c.X, c.Y) == c.Type || gb.At(c.X, c.Y) != c.Type {
			t.Fatalf("bad change %+v", c)
		}
	}
	changed := 0
	for i := range a {
		if a[i] != b[i] {
			changed++
		}
	}
	if changed != len(d) {
		t.Fatalf("diff len=%d want %d", len(d), changed)
	}
}

func TestCompute_DimensionMismatch(t *testing.T) {
	_, err := Compute(Filled(2, 2, 0), Filled(3, 2, 0))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestQuantize_ParallelMatchesSerial(t *testing.T) {
	pal := testPalette(t)
	rng := rand.New(rand.NewSource(11))
	pg := frames.PixelGrid{Width: 100, Height: 90, Pix: make([]palette.Color, 9000)}
	for i := range pg.Pix {
		pg.Pix[i] = palette.Color{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256))}
	}
	serial, err := Quantize(context.Background(), pg, nil, pal, 1)
	if err != nil {
		t.Fatalf("serial: %v", err)
	}
	par, err := Quantize(context.Background(), pg, nil, pal, 7)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}
	d, _ := Compute(serial, par)
	if len(d) != 0 {
		t.Fatalf("parallel quantization differs in %d cells", len(d))
	}
}

func TestClear(t *testing.T) {
	d := Clear(3, 2)
	if len(d) != 6 {
		t.Fatalf("len=%d", len(d))
	}
	for _, c := range d {
		if c.Type != palette.Empty {
			t.Fatalf("non-empty clear %+v", c)
		}
	}
	if d[4] != (Change{X: 1, Y: 1}) {
		t.Fatalf("order %+v", d[4])
	}
}
