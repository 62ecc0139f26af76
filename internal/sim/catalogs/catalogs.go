package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"voxelcast.ai/internal/render/palette"
)

//go:embed blocks.schema.json
var blocksSchema string

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]BlockDef
	PaletteDigest string
	DefsDigest    string
}

type BlockDef struct {
	ID     string   `json:"id"`
	Solid  bool     `json:"solid"`
	Opaque bool     `json:"opaque,omitempty"`
	Shape  string   `json:"shape,omitempty"`
	Color  string   `json:"color"`
	Tags   []string `json:"tags,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadBlocks(filepath.Join(configDir, "blocks.json"), &c.Blocks); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadBlocks(path string, out *BlockCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return parseBlocks(raw, out)
}

func parseBlocks(raw []byte, out *BlockCatalog) error {
	out.DefsDigest = sha256Hex(raw)

	if err := validateBlocks(raw); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("blocks.json: %w", err)
	}
	out.Defs = map[string]BlockDef{}
	for _, d := range defs {
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("blocks.json: duplicate id %s", d.ID)
		}
		if d.Shape == "" {
			d.Shape = "cube"
		}
		if _, err := palette.ParseHex(d.Color); err != nil {
			return fmt.Errorf("blocks.json: %s: %w", d.ID, err)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	// AIR is palette id 0 and doubles as the empty cell type.
	if _, ok := out.Defs["AIR"]; !ok {
		return fmt.Errorf("blocks.json: missing AIR")
	}
	ids = append([]string{"AIR"}, filterOut(ids, "AIR")...)
	if len(ids) > 1<<16 {
		return fmt.Errorf("blocks.json: %d blocks exceed uint16 ids", len(ids))
	}

	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func validateBlocks(raw []byte) error {
	s, err := jsonschema.CompileString("blocks.schema.json", blocksSchema)
	if err != nil {
		return err
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	return s.Validate(v)
}

// Candidates lists every block as a palette candidate, in palette id order.
func (b *BlockCatalog) Candidates() []palette.Candidate {
	out := make([]palette.Candidate, 0, len(b.Palette))
	for i, id := range b.Palette {
		d := b.Defs[id]
		c, _ := palette.ParseHex(d.Color)
		out = append(out, palette.Candidate{
			Type:   palette.CellType(i),
			Name:   id,
			Solid:  d.Solid,
			Opaque: d.Opaque,
			Shape:  d.Shape,
			Color:  c,
			Tags:   d.Tags,
		})
	}
	return out
}

// Name returns the block id for a palette index, or "" if out of range.
func (b *BlockCatalog) Name(t uint16) string {
	if int(t) >= len(b.Palette) {
		return ""
	}
	return b.Palette[t]
}

func filterOut(in []string, remove string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == remove {
			continue
		}
		out = append(out, s)
	}
	return out
}
