package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"voxelcast.ai/internal/persistence/snapshot"
)

func TestSnapshotCmd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "w.snap.zst")
	a := make([]uint16, 256)
	a[0], a[1] = 2, 3
	b := make([]uint16, 256)
	b[9] = 1
	err := snapshot.Write(path, snapshot.WorldV1{
		Header: snapshot.Header{Tick: 11, PaletteDigest: "abc"},
		Height: 4,
		Chunks: []snapshot.ChunkV1{{Y: 3, Blocks: a}, {Y: 1, Blocks: b}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"snapshot", "--layers", path})
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		snapshotLayers = false
	}()
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	want := "version=1 tick=11 chunks=2 palette=abc\ny=1 cells=1\ny=3 cells=2\n"
	if out.String() != want {
		t.Fatalf("got %q want %q", out.String(), want)
	}
}
