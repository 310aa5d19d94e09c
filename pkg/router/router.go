// Package router implements Component E: given a table's mount info and
// a row, picks the tablet it belongs to — by pivot-key binary search for
// sorted tables, or by an explicit tablet-index column (or a stable
// per-transaction random choice) for ordered tables.
package router

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/types"
)

// ForWrite enforces the tablet must be mounted; ForRead allows any state.
type Purpose int

const (
	ForWrite Purpose = iota
	ForRead
)

// Router routes rows to tablets for one client's lifetime. It holds the
// per-transaction random-tablet stickiness for ordered tables (spec §4.E).
type Router struct {
	mu      sync.Mutex
	rng     *rand.Rand
	ordered map[stickyKey]*types.Tablet
}

type stickyKey struct {
	txn   types.TransactionID
	table types.TableID
}

// New builds a router with its own random source for ordered-table
// fallback routing.
func New() *Router {
	return &Router{
		rng:     rand.New(rand.NewSource(rand.Int63())),
		ordered: make(map[stickyKey]*types.Tablet),
	}
}

// Route picks the tablet row belongs to within info.
//
// tabletIndexColumn, when >= 0, is the position in row of the caller's
// $tablet_index column for ordered tables; -1 means absent.
func (r *Router) Route(info *types.TableMountInfo, row rowbuffer.Row, tabletIndexColumn int, purpose Purpose, txn types.TransactionID) (*types.Tablet, error) {
	var tablet *types.Tablet
	var err error
	if info.Sorted {
		tablet, err = routeSorted(info, row)
	} else {
		tablet, err = r.routeOrdered(info, row, tabletIndexColumn, txn)
	}
	if err != nil {
		return nil, err
	}
	if purpose == ForWrite && tablet.State != types.TabletMounted {
		return nil, &tablerrors.StalenessError{Kind: tablerrors.TabletNotMounted, TabletID: tablet.TabletID.String()}
	}
	return tablet, nil
}

// routeSorted binary searches the pivot list for the tablet whose range
// contains row's key (spec §4.E "Sorted").
func routeSorted(info *types.TableMountInfo, row rowbuffer.Row) (*types.Tablet, error) {
	if len(info.Tablets) == 0 {
		return nil, fmt.Errorf("router: table %s has no tablets", info.TableID.String())
	}
	// info.Tablets is assumed sorted by PivotKey ascending; find the last
	// tablet whose PivotKey is <= row's key (upper-bound minus one, per
	// spec). Each pivot is compared over its own length rather than one
	// global key length, since the first pivot is the empty lower-bound
	// and a write row carries value columns past the key prefix.
	idx := sort.Search(len(info.Tablets), func(i int) bool {
		tablet := info.Tablets[i]
		pivot := rowbuffer.Row{Values: toValues(tablet.PivotKey)}
		c, cmpErr := rowbuffer.CompareKeys(pivot, row, len(tablet.PivotKey))
		if cmpErr != nil {
			return false
		}
		return c > 0
	})
	if idx == 0 {
		return nil, fmt.Errorf("router: key precedes table %s's first pivot", info.TableID.String())
	}
	return info.Tablets[idx-1], nil
}

func toValues(anys []any) []rowbuffer.Value {
	out := make([]rowbuffer.Value, len(anys))
	for i, a := range anys {
		out[i] = toValue(a)
	}
	return out
}

func toValue(a any) rowbuffer.Value {
	switch v := a.(type) {
	case nil:
		return rowbuffer.NullValue
	case int64:
		return rowbuffer.Int64Value(v)
	case int:
		return rowbuffer.Int64Value(int64(v))
	case float64:
		return rowbuffer.Float64Value(v)
	case string:
		return rowbuffer.StringValue(v)
	case []byte:
		return rowbuffer.BytesValue(v)
	case bool:
		return rowbuffer.BoolValue(v)
	default:
		return rowbuffer.NullValue
	}
}

// routeOrdered implements spec §4.E "Ordered": an explicit tablet-index
// column selects the tablet; otherwise a random mounted tablet is chosen
// once per (transaction, table) and reused for every subsequent ordered
// insert.
func (r *Router) routeOrdered(info *types.TableMountInfo, row rowbuffer.Row, tabletIndexColumn int, txn types.TransactionID) (*types.Tablet, error) {
	if tabletIndexColumn >= 0 {
		if tabletIndexColumn >= len(row.Values) {
			return nil, fmt.Errorf("router: tablet index column %d out of range", tabletIndexColumn)
		}
		v := row.Values[tabletIndexColumn]
		if v.Kind != rowbuffer.KindInt64 {
			return nil, fmt.Errorf("router: tablet index column must be int64")
		}
		idx := int(v.Int)
		if idx < 0 || idx >= len(info.Tablets) {
			return nil, fmt.Errorf("router: tablet index %d out of range [0, %d)", idx, len(info.Tablets))
		}
		for _, t := range info.Tablets {
			if t.Index == idx {
				return t, nil
			}
		}
		return nil, fmt.Errorf("router: no tablet at index %d", idx)
	}

	key := stickyKey{txn: txn, table: info.TableID}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.ordered[key]; ok {
		return t, nil
	}
	mounted := mountedTablets(info.Tablets)
	if len(mounted) == 0 {
		return nil, fmt.Errorf("router: table %s has no mounted tablets", info.TableID.String())
	}
	chosen := mounted[r.rng.Intn(len(mounted))]
	r.ordered[key] = chosen
	return chosen, nil
}

func mountedTablets(tablets []*types.Tablet) []*types.Tablet {
	var out []*types.Tablet
	for _, t := range tablets {
		if t.State == types.TabletMounted {
			out = append(out, t)
		}
	}
	return out
}
