package world

import (
	"context"
	"errors"
	"fmt"

	"voxelcast.ai/internal/persistence/snapshot"
)

var ErrRunning = errors.New("world: already running")

// Snapshot copies every loaded chunk. paletteDigest identifies the block
// catalog the ids refer to.
func (w *World) Snapshot(ctx context.Context, paletteDigest string) (snapshot.WorldV1, error) {
	snap := snapshot.WorldV1{
		Header:    snapshot.Header{PaletteDigest: paletteDigest},
		BoundaryR: w.cfg.BoundaryR,
		Height:    w.cfg.Height,
	}
	err := w.do(ctx, func() {
		snap.Header.Tick = w.tick.Load()
		for _, k := range w.chunks.LoadedChunkKeys() {
			blocks := make([]uint16, len(w.chunks.chunks[k].Blocks))
			copy(blocks, w.chunks.chunks[k].Blocks)
			snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{CX: k.CX, Y: k.Y, CZ: k.CZ, Blocks: blocks})
		}
	})
	if err != nil {
		return snapshot.WorldV1{}, err
	}
	return snap, nil
}

// Restore loads snap into an idle world. It must be called before Run.
// Chunks outside the current bounds are dropped; the count is returned.
func (w *World) Restore(snap snapshot.WorldV1, paletteDigest string) (int, error) {
	if w.running.Load() {
		return 0, ErrRunning
	}
	if snap.Header.PaletteDigest != paletteDigest {
		return 0, fmt.Errorf("world restore: palette digest %q does not match catalog %q", snap.Header.PaletteDigest, paletteDigest)
	}
	for _, c := range snap.Chunks {
		if len(c.Blocks) != chunkSize*chunkSize {
			return 0, fmt.Errorf("world restore: chunk (%d,%d,%d) has %d cells", c.CX, c.Y, c.CZ, len(c.Blocks))
		}
		for _, id := range c.Blocks {
			if int(id) >= w.cfg.BlockTypes {
				return 0, fmt.Errorf("world restore: chunk (%d,%d,%d) has unknown block id %d", c.CX, c.Y, c.CZ, id)
			}
		}
	}

	store := NewChunkStore(w.cfg.BoundaryR, w.cfg.Height)
	dropped := 0
	for _, c := range snap.Chunks {
		k := ChunkKey{CX: c.CX, Y: c.Y, CZ: c.CZ}
		if !store.chunkInBounds(k) {
			dropped++
			continue
		}
		blocks := make([]uint16, len(c.Blocks))
		copy(blocks, c.Blocks)
		store.chunks[k] = &Chunk{Key: k, Blocks: blocks, dirty: true}
	}
	w.chunks = store
	w.tick.Store(snap.Header.Tick)
	w.loaded.Store(int64(store.Loaded()))
	return dropped, nil
}
