package world

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"voxelcast.ai/internal/persistence/snapshot"
	"voxelcast.ai/internal/render"
	"voxelcast.ai/internal/render/batch"
	"voxelcast.ai/internal/render/palette"
)

func paint(t *testing.T, w *World, cells map[render.Vec3i]palette.CellType) {
	t.Helper()
	err := w.Execute(context.Background(), func(s batch.Sink) {
		for pos, c := range cells {
			if !s.TrySet(pos, c) {
				t.Errorf("TrySet(%+v) failed", pos)
			}
		}
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestWorld_SnapshotRestore(t *testing.T) {
	cfg := WorldConfig{TickRateHz: 50, BoundaryR: 64, Height: 8, BlockTypes: 10}
	src := startWorld(t, cfg)
	paint(t, src, map[render.Vec3i]palette.CellType{
		{X: -3, Y: 1, Z: 7}:   4,
		{X: 20, Y: 1, Z: -20}: 9,
		{X: 0, Y: 7, Z: 0}:    2,
	})
	snap, err := src.Snapshot(context.Background(), "pal-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Chunks) != 3 || snap.Height != 8 || snap.BoundaryR != 64 {
		t.Fatalf("snapshot %+v", snap)
	}

	path := filepath.Join(t.TempDir(), "world.snap.zst")
	if err := snapshot.Write(path, snap); err != nil {
		t.Fatalf("Write: %v", err)
	}
	loaded, err := snapshot.Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	dst, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	dropped, err := dst.Restore(loaded, "pal-1")
	if err != nil || dropped != 0 {
		t.Fatalf("Restore: dropped=%d err=%v", dropped, err)
	}
	if dst.CurrentTick() != snap.Header.Tick || dst.Metrics().LoadedChunks != 3 {
		t.Fatalf("restored metrics %+v", dst.Metrics())
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = dst.Run(ctx) }()
	defer func() {
		cancel()
		<-dst.Done()
	}()

	want, _ := src.Digest(context.Background())
	got, err := dst.Digest(context.Background())
	if err != nil || got != want {
		t.Fatalf("digest %s want %s (%v)", got, want, err)
	}
	ids, err := dst.Region(context.Background(), render.Rect{Origin: render.Vec3i{X: -3, Y: 1, Z: 7}, Width: 1, Height: 1})
	if err != nil || ids[0] != 4 {
		t.Fatalf("region %v %v", ids, err)
	}

	if _, err := dst.Restore(loaded, "pal-1"); !errors.Is(err, ErrRunning) {
		t.Fatalf("Restore on running world: %v", err)
	}
}

func TestWorld_RestoreRejectsMismatch(t *testing.T) {
	cfg := WorldConfig{TickRateHz: 10, BoundaryR: 16, Height: 4, BlockTypes: 5}
	good := make([]uint16, chunkSize*chunkSize)
	bad := make([]uint16, chunkSize*chunkSize)
	bad[3] = 5

	cases := []struct {
		name string
		snap snapshot.WorldV1
		want string
	}{
		{"palette", snapshot.WorldV1{Header: snapshot.Header{PaletteDigest: "other"}}, "palette digest"},
		{"size", snapshot.WorldV1{Header: snapshot.Header{PaletteDigest: "p"}, Chunks: []snapshot.ChunkV1{{Blocks: good[:10]}}}, "cells"},
		{"id", snapshot.WorldV1{Header: snapshot.Header{PaletteDigest: "p"}, Chunks: []snapshot.ChunkV1{{Blocks: bad}}}, "unknown block id 5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, err := New(cfg, nil)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := w.Restore(tc.snap, "p"); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err %v, want %q", err, tc.want)
			}
		})
	}
}

func TestWorld_RestoreDropsOutOfBounds(t *testing.T) {
	w, err := New(WorldConfig{TickRateHz: 10, BoundaryR: 16, Height: 4, BlockTypes: 5}, nil)
	if err != nil {
		t.Fatal(err)
	}
	blocks := make([]uint16, chunkSize*chunkSize)
	blocks[0] = 1
	snap := snapshot.WorldV1{
		Header: snapshot.Header{PaletteDigest: "p"},
		// The first chunk spans z -32..-17 and the last sits above the top layer.
		Chunks: []snapshot.ChunkV1{
			{CX: 1, Y: 0, CZ: -2, Blocks: blocks},
			{CX: 1, Y: 0, CZ: -1, Blocks: blocks},
			{CX: 0, Y: 4, CZ: 0, Blocks: blocks},
		},
	}
	dropped, err := w.Restore(snap, "p")
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if dropped != 2 || w.Metrics().LoadedChunks != 1 {
		t.Fatalf("dropped=%d loaded=%d", dropped, w.Metrics().LoadedChunks)
	}
}
