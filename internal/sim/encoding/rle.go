// Package encoding packs cell id sequences for the wire.
package encoding

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrCorrupt = errors.New("rle: corrupt input")

// ID is any 16-bit cell id type.
type ID interface{ ~uint16 }

// Run is Len repetitions of one id.
type Run struct {
	ID  uint16
	Len uint64
}

// Runs collapses ids into maximal runs, in order.
func Runs[T ID](ids []T) []Run {
	var out []Run
	for _, id := range ids {
		if n := len(out); n > 0 && out[n-1].ID == uint16(id) {
			out[n-1].Len++
			continue
		}
		out = append(out, Run{ID: uint16(id), Len: 1})
	}
	return out
}

// EncodeRLE writes base64 of uvarint (id, run length) pairs.
func EncodeRLE[T ID](ids []T) string {
	runs := Runs(ids)
	raw := make([]byte, 0, len(runs)*3)
	for _, r := range runs {
		raw = binary.AppendUvarint(raw, uint64(r.ID))
		raw = binary.AppendUvarint(raw, r.Len)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func parseRuns(s string) ([]Run, uint64, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	var (
		runs  []Run
		total uint64
	)
	for off := 0; off < len(raw); {
		id, n := binary.Uvarint(raw[off:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("%w: id at byte %d", ErrCorrupt, off)
		}
		off += n
		length, n := binary.Uvarint(raw[off:])
		if n <= 0 {
			return nil, 0, fmt.Errorf("%w: run length at byte %d", ErrCorrupt, off)
		}
		off += n
		if id > 0xFFFF {
			return nil, 0, fmt.Errorf("%w: id %d", ErrCorrupt, id)
		}
		if total+length < total {
			return nil, 0, fmt.Errorf("%w: length overflow", ErrCorrupt)
		}
		total += length
		runs = append(runs, Run{ID: uint16(id), Len: length})
	}
	return runs, total, nil
}

// DecodeRLE reverses EncodeRLE. limit caps the decoded length and is checked
// before anything is allocated; 0 means no cap.
func DecodeRLE[T ID](s string, limit int) ([]T, error) {
	runs, total, err := parseRuns(s)
	if err != nil {
		return nil, err
	}
	if limit > 0 && total > uint64(limit) {
		return nil, fmt.Errorf("rle: decoded length %d exceeds %d", total, limit)
	}
	out := make([]T, 0, total)
	for _, r := range runs {
		for k := uint64(0); k < r.Len; k++ {
			out = append(out, T(r.ID))
		}
	}
	return out, nil
}
