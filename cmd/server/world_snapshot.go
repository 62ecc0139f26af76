package main

import (
	"context"
	"errors"
	"log"
	"os"

	"voxelcast.ai/internal/persistence/snapshot"
	"voxelcast.ai/internal/sim/world"
)

// restoreWorld loads path into w if it exists. A missing file is a fresh world.
func restoreWorld(w *world.World, path, paletteDigest string, logger *log.Logger) error {
	snap, err := snapshot.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Printf("world snapshot: none at %s, starting empty", path)
		return nil
	}
	if err != nil {
		return err
	}
	dropped, err := w.Restore(snap, paletteDigest)
	if err != nil {
		return err
	}
	logger.Printf("world snapshot: restored %d chunks at tick %d from %s", len(snap.Chunks)-dropped, snap.Header.Tick, path)
	if dropped > 0 {
		logger.Printf("world snapshot: dropped %d chunks outside the current bounds", dropped)
	}
	return nil
}

func saveWorld(ctx context.Context, w *world.World, path, paletteDigest string) error {
	snap, err := w.Snapshot(ctx, paletteDigest)
	if err != nil {
		return err
	}
	return snapshot.Write(path, snap)
}
