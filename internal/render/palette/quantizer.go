package palette

// Quantizer maps colors to the nearest palette entry. It keeps a one-entry
// memo of the last query and is not safe for concurrent use; give each worker
// its own.
type Quantizer struct {
	p *Palette

	hasLast bool
	last    Color
	lastT   CellType

	scans int
}

func NewQuantizer(p *Palette) *Quantizer {
	return &Quantizer{p: p}
}

// Nearest returns the entry with minimum squared RGB distance to c. Ties go to
// the earliest entry, which is the lowest cell type.
func (q *Quantizer) Nearest(c Color) CellType {
	if q.hasLast && q.last == c {
		return q.lastT
	}
	q.scans++
	best := q.p.entries[0].Type
	bestD := Dist2(c, q.p.entries[0].Color)
	for _, e := range q.p.entries[1:] {
		if bestD == 0 {
			break
		}
		if d := Dist2(c, e.Color); d < bestD {
			best, bestD = e.Type, d
		}
	}
	q.hasLast, q.last, q.lastT = true, c, best
	return best
}

// Reset clears the memo.
func (q *Quantizer) Reset() {
	q.hasLast = false
	q.last = Color{}
	q.lastT = 0
}

// Scans counts full palette scans performed so far.
func (q *Quantizer) Scans() int { return q.scans }
