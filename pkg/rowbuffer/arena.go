package rowbuffer

import (
	"errors"
	"fmt"
)

// ErrArenaExhausted is fatal to the owning transaction (spec §4.A: "arena
// exhaustion (out of memory) is fatal to the transaction").
var ErrArenaExhausted = errors.New("row buffer arena exhausted")

// Arena bump-allocates rows for the lifetime of one transaction. It does
// not free individual rows; the whole arena is dropped together with the
// transaction that owns it (spec §4.A: "Lifetimes are tied to the
// transaction; the buffer outlives all sessions it produced rows for").
//
// Go values are garbage collected regardless, so Arena's job is not manual
// memory management but enforcing the budget invariant and giving every
// session spawned by a transaction a single, shared row owner.
type Arena struct {
	maxBytes int64
	used     int64
	rows     []Row
}

// NewArena creates an arena with the given byte budget. A budget of 0
// means unbounded.
func NewArena(maxBytes int64) *Arena {
	return &Arena{maxBytes: maxBytes}
}

func sizeOf(v Value) int64 {
	switch v.Kind {
	case KindString:
		return int64(len(v.Str)) + 1
	case KindBytes:
		return int64(len(v.Bytes)) + 1
	default:
		return 16
	}
}

func (a *Arena) reserve(n int64) error {
	if a.maxBytes == 0 {
		a.used += n
		return nil
	}
	if a.used+n > a.maxBytes {
		return fmt.Errorf("%w: used %d, requested %d, budget %d", ErrArenaExhausted, a.used, n, a.maxBytes)
	}
	a.used += n
	return nil
}

// CaptureRow copies src into the arena and returns the captured row. The
// returned Row's lifetime is the arena's.
func (a *Arena) CaptureRow(src Row) (Row, error) {
	var size int64
	for _, v := range src.Values {
		size += sizeOf(v)
	}
	if err := a.reserve(size); err != nil {
		return Row{}, err
	}
	captured := src.Clone()
	a.rows = append(a.rows, captured)
	return captured, nil
}

// CaptureAndPermuteRow reorders src according to idMapping (schema column
// index -> caller name-table index, as Permute takes it) before capturing
// it, per spec §4.A.
func (a *Arena) CaptureAndPermuteRow(src Row, idMapping []int) (Row, error) {
	permuted, err := Permute(src, idMapping)
	if err != nil {
		return Row{}, err
	}
	return a.CaptureRow(permuted)
}

// CaptureKey copies just the key-column prefix of src into the arena.
func (a *Arena) CaptureKey(src Row, keyColumns int) (Row, error) {
	return a.CaptureRow(src.Key(keyColumns))
}

// Used returns the number of bytes currently reserved from the budget.
func (a *Arena) Used() int64 { return a.used }

// RowCount returns how many rows have been captured.
func (a *Arena) RowCount() int { return len(a.rows) }
