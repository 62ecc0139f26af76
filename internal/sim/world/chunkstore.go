package world

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"

	"voxelcast.ai/internal/render"
)

const chunkSize = 16

// ChunkKey addresses one 16x16 slab of a single layer.
type ChunkKey struct {
	CX int
	Y  int
	CZ int
}

type Chunk struct {
	Key    ChunkKey
	Blocks []uint16 // len = 16*16, x fastest

	dirty bool
	hash  [32]byte
}

func (c *Chunk) index(x, z int) int {
	return x + z*chunkSize
}

func (c *Chunk) Get(x, z int) uint16 {
	return c.Blocks[c.index(x, z)]
}

func (c *Chunk) Set(x, z int, b uint16) {
	i := c.index(x, z)
	if c.Blocks[i] == b {
		return
	}
	c.Blocks[i] = b
	c.dirty = true
}

func (c *Chunk) Digest() [32]byte {
	if c.dirty || c.hash == ([32]byte{}) {
		h := sha256.New()
		var tmp [2]byte
		for _, v := range c.Blocks {
			binary.LittleEndian.PutUint16(tmp[:], v)
			h.Write(tmp[:])
		}
		copy(c.hash[:], h.Sum(nil))
		c.dirty = false
	}
	return c.hash
}

// ChunkStore is a sparse voxel volume. Unloaded chunks read as air. Accessed
// only from the world loop goroutine.
type ChunkStore struct {
	boundaryR int
	height    int
	chunks    map[ChunkKey]*Chunk
}

func NewChunkStore(boundaryR, height int) *ChunkStore {
	return &ChunkStore{
		boundaryR: boundaryR,
		height:    height,
		chunks:    map[ChunkKey]*Chunk{},
	}
}

func (s *ChunkStore) InBounds(pos render.Vec3i) bool {
	if pos.Y < 0 || pos.Y >= s.height {
		return false
	}
	if s.boundaryR > 0 {
		if pos.X < -s.boundaryR || pos.X > s.boundaryR || pos.Z < -s.boundaryR || pos.Z > s.boundaryR {
			return false
		}
	}
	return true
}

// chunkInBounds reports whether any cell of k lies inside the world.
func (s *ChunkStore) chunkInBounds(k ChunkKey) bool {
	if k.Y < 0 || k.Y >= s.height {
		return false
	}
	if s.boundaryR <= 0 {
		return true
	}
	lo, hi := -s.boundaryR, s.boundaryR
	x0, z0 := k.CX*chunkSize, k.CZ*chunkSize
	return x0+chunkSize-1 >= lo && x0 <= hi && z0+chunkSize-1 >= lo && z0 <= hi
}

func (s *ChunkStore) LoadedChunkKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Y != keys[j].Y {
			return keys[i].Y < keys[j].Y
		}
		if keys[i].CX != keys[j].CX {
			return keys[i].CX < keys[j].CX
		}
		return keys[i].CZ < keys[j].CZ
	})
	return keys
}

func (s *ChunkStore) Loaded() int { return len(s.chunks) }

func (s *ChunkStore) GetBlock(pos render.Vec3i) uint16 {
	if !s.InBounds(pos) {
		return 0
	}
	ch, ok := s.chunks[keyOf(pos)]
	if !ok {
		return 0
	}
	return ch.Get(mod(pos.X, chunkSize), mod(pos.Z, chunkSize))
}

// SetBlock reports false when pos is outside the world.
func (s *ChunkStore) SetBlock(pos render.Vec3i, b uint16) bool {
	if !s.InBounds(pos) {
		return false
	}
	k := keyOf(pos)
	ch, ok := s.chunks[k]
	if !ok {
		if b == 0 {
			return true
		}
		ch = &Chunk{Key: k, Blocks: make([]uint16, chunkSize*chunkSize)}
		s.chunks[k] = ch
	}
	ch.Set(mod(pos.X, chunkSize), mod(pos.Z, chunkSize), b)
	return true
}

// Digest hashes every loaded chunk in key order.
func (s *ChunkStore) Digest() [32]byte {
	h := sha256.New()
	var tmp [8]byte
	for _, k := range s.LoadedChunkKeys() {
		for _, v := range []int{k.CX, k.Y, k.CZ} {
			binary.LittleEndian.PutUint64(tmp[:], uint64(int64(v)))
			h.Write(tmp[:])
		}
		d := s.chunks[k].Digest()
		h.Write(d[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func keyOf(pos render.Vec3i) ChunkKey {
	return ChunkKey{CX: floorDiv(pos.X, chunkSize), Y: pos.Y, CZ: floorDiv(pos.Z, chunkSize)}
}

func floorDiv(a, b int) int {
	// b > 0
	q := a / b
	r := a % b
	if r < 0 {
		q--
	}
	return q
}

func mod(a, b int) int {
	// b > 0
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}
