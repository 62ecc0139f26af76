// Package palette holds the set of cell types usable as render targets and the
// nearest-color quantizer that maps pixels onto them.
package palette

import (
	"fmt"
	"sort"
	"strings"

	"voxelcast.ai/internal/render"
)

// CellType is a block catalog palette id. Empty (id 0, AIR) is the cleared state.
type CellType uint16

const Empty CellType = 0

type Entry struct {
	Type  CellType
	Name  string
	Color Color
}

// Candidate is a catalog block offered to Build.
type Candidate struct {
	Type   CellType
	Name   string
	Solid  bool
	Opaque bool
	Shape  string
	Color  Color
	Tags   []string
}

// Options filter candidates. Blocks are kept only if they are solid, opaque,
// cube shaped and their name contains none of the Deny substrings. With
// SpeedMode set, a block must also carry one of SpeedTags.
type Options struct {
	Deny      []string
	SpeedMode bool
	SpeedTags []string
}

var DefaultSpeedTags = []string{"wool", "concrete", "terracotta"}

// ErrEmptyPalette is returned by Build when no candidate survives filtering.
var ErrEmptyPalette = fmt.Errorf("%w: palette is empty", render.ErrConfiguration)

// Palette is immutable after Build. Entries are ordered by ascending Type.
type Palette struct {
	entries []Entry
	byType  map[CellType]int
}

func Build(cands []Candidate, opt Options) (*Palette, error) {
	tags := opt.SpeedTags
	if opt.SpeedMode && len(tags) == 0 {
		tags = DefaultSpeedTags
	}

	var out []Entry
	for _, c := range cands {
		if c.Type == Empty || !c.Solid || !c.Opaque || c.Shape != "cube" || denied(c.Name, opt.Deny) {
			continue
		}
		if opt.SpeedMode && !hasAny(c.Tags, tags) {
			continue
		}
		out = append(out, Entry{Type: c.Type, Name: c.Name, Color: c.Color})
	}
	return New(out)
}

// New builds a palette from explicit entries.
func New(entries []Entry) (*Palette, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyPalette
	}
	p := &Palette{
		entries: append([]Entry(nil), entries...),
		byType:  make(map[CellType]int, len(entries)),
	}
	sort.SliceStable(p.entries, func(i, j int) bool { return p.entries[i].Type < p.entries[j].Type })
	for i, e := range p.entries {
		if _, dup := p.byType[e.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate cell type %d", render.ErrConfiguration, e.Type)
		}
		p.byType[e.Type] = i
	}
	return p, nil
}

func (p *Palette) Len() int { return len(p.entries) }

func (p *Palette) Entries() []Entry { return append([]Entry(nil), p.entries...) }

func (p *Palette) Lookup(t CellType) (Entry, bool) {
	i, ok := p.byType[t]
	if !ok {
		return Entry{}, false
	}
	return p.entries[i], true
}

func denied(name string, deny []string) bool {
	for _, d := range deny {
		if d != "" && strings.Contains(name, d) {
			return true
		}
	}
	return false
}

func hasAny(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
