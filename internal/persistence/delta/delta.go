// Package delta encodes the per-tick sparse changes between consecutive
// grid tensors. A run's delta log is a single zstd stream of fixed-layout
// binary frames, one frame per tick, so replaying from a checkpoint is a
// straight sequential scan.
package delta

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"terrarium.sim/internal/simerr"
	"terrarium.sim/internal/sim/grid"
)

// Cell is one changed cell: coordinates, field index, and the exact bit
// pattern of the new value. Storing raw bits keeps reconstruction
// bit-identical to the live run.
type Cell struct {
	Y, X, F uint16
	Bits    uint32
}

// Record holds every cell that changed between tick-1 and tick.
type Record struct {
	Tick  uint64
	Cells []Cell
}

const (
	frameHeaderLen = 12 // uint64 tick + uint32 count
	cellLen        = 10 // three uint16 coords + uint32 bits
)

// Diff computes the record transforming prev into next. Tensors must share
// a shape. Comparison is on bit patterns, so a NaN payload change counts.
func Diff(tick uint64, prev, next *grid.Tensor) (Record, error) {
	if prev.H != next.H || prev.W != next.W || prev.F != next.F {
		return Record{}, fmt.Errorf("%w: tensor shape mismatch %dx%dx%d vs %dx%dx%d",
			simerr.ErrState, prev.H, prev.W, prev.F, next.H, next.W, next.F)
	}
	rec := Record{Tick: tick}
	for f := 0; f < next.F; f++ {
		pl, nl := prev.Layer(f), next.Layer(f)
		for i := range nl {
			if math.Float32bits(pl[i]) == math.Float32bits(nl[i]) {
				continue
			}
			rec.Cells = append(rec.Cells, Cell{
				Y:    uint16(i / next.W),
				X:    uint16(i % next.W),
				F:    uint16(f),
				Bits: math.Float32bits(nl[i]),
			})
		}
	}
	return rec, nil
}

// Apply writes the record's cells into t in place.
func (r Record) Apply(t *grid.Tensor) error {
	for _, c := range r.Cells {
		if int(c.Y) >= t.H || int(c.X) >= t.W || int(c.F) >= t.F {
			return fmt.Errorf("%w: delta cell (%d,%d,%d) outside %dx%dx%d grid at tick %d",
				simerr.ErrCorruption, c.Y, c.X, c.F, t.H, t.W, t.F, r.Tick)
		}
		t.Set(int(c.Y), int(c.X), int(c.F), math.Float32frombits(c.Bits))
	}
	return nil
}

// WriteFrame appends one record to w in the fixed binary layout.
func WriteFrame(w io.Writer, rec Record) error {
	hdr := make([]byte, frameHeaderLen)
	binary.LittleEndian.PutUint64(hdr[0:8], rec.Tick)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(rec.Cells)))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("%w: write delta frame header: %v", simerr.ErrStorage, err)
	}
	buf := make([]byte, cellLen*len(rec.Cells))
	for i, c := range rec.Cells {
		off := i * cellLen
		binary.LittleEndian.PutUint16(buf[off:], c.Y)
		binary.LittleEndian.PutUint16(buf[off+2:], c.X)
		binary.LittleEndian.PutUint16(buf[off+4:], c.F)
		binary.LittleEndian.PutUint32(buf[off+6:], c.Bits)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: write delta frame body: %v", simerr.ErrStorage, err)
	}
	return nil
}

// ReadFrame reads the next record from r. io.EOF at a frame boundary means
// the stream ended cleanly; a partial frame is reported as corruption.
func ReadFrame(r io.Reader) (Record, error) {
	hdr := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(r, hdr); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("%w: truncated delta frame header: %v", simerr.ErrCorruption, err)
	}
	rec := Record{Tick: binary.LittleEndian.Uint64(hdr[0:8])}
	count := binary.LittleEndian.Uint32(hdr[8:12])
	buf := make([]byte, int(count)*cellLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Record{}, fmt.Errorf("%w: truncated delta frame body at tick %d: %v",
			simerr.ErrCorruption, rec.Tick, err)
	}
	rec.Cells = make([]Cell, count)
	for i := range rec.Cells {
		off := i * cellLen
		rec.Cells[i] = Cell{
			Y:    binary.LittleEndian.Uint16(buf[off:]),
			X:    binary.LittleEndian.Uint16(buf[off+2:]),
			F:    binary.LittleEndian.Uint16(buf[off+4:]),
			Bits: binary.LittleEndian.Uint32(buf[off+6:]),
		}
	}
	return rec, nil
}
