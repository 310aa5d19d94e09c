package router

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/types"
)

func sortedMountInfo() *types.TableMountInfo {
	t1 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, PivotKey: []any{int64(0)}}
	t2 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, PivotKey: []any{int64(100)}}
	t3 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletFrozen, PivotKey: []any{int64(200)}}
	return &types.TableMountInfo{
		TableID: types.TableID(uuid.New()),
		Sorted:  true,
		Tablets: []*types.Tablet{t1, t2, t3},
	}
}

func rowWithKey(k int64) rowbuffer.Row {
	return rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(k), rowbuffer.StringValue("v")}}
}

func TestRouteSortedFindsTablet(t *testing.T) {
	info := sortedMountInfo()
	r := New()
	tablet, err := r.Route(info, rowWithKey(50), -1, ForRead, types.NewTransactionID())
	require.NoError(t, err)
	require.Equal(t, info.Tablets[0].TabletID, tablet.TabletID)

	tablet, err = r.Route(info, rowWithKey(150), -1, ForRead, types.NewTransactionID())
	require.NoError(t, err)
	require.Equal(t, info.Tablets[1].TabletID, tablet.TabletID)
}

func TestRouteSortedWriteWithEmptyFirstPivotSpreadsAcrossTablets(t *testing.T) {
	t1 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, PivotKey: []any{}}
	t2 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, PivotKey: []any{int64(100)}}
	t3 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, PivotKey: []any{int64(200)}}
	info := &types.TableMountInfo{
		TableID: types.TableID(uuid.New()),
		Sorted:  true,
		Tablets: []*types.Tablet{t1, t2, t3},
	}
	r := New()

	// Rows carry a value column past the key prefix, as a real write does.
	tablet, err := r.Route(info, rowWithKey(50), -1, ForWrite, types.NewTransactionID())
	require.NoError(t, err)
	require.Equal(t, t1.TabletID, tablet.TabletID)

	tablet, err = r.Route(info, rowWithKey(150), -1, ForWrite, types.NewTransactionID())
	require.NoError(t, err)
	require.Equal(t, t2.TabletID, tablet.TabletID)

	tablet, err = r.Route(info, rowWithKey(250), -1, ForWrite, types.NewTransactionID())
	require.NoError(t, err)
	require.Equal(t, t3.TabletID, tablet.TabletID)
}

func TestRouteSortedWriteRejectsUnmounted(t *testing.T) {
	info := sortedMountInfo()
	r := New()
	_, err := r.Route(info, rowWithKey(250), -1, ForWrite, types.NewTransactionID())
	var staleErr *tablerrors.StalenessError
	require.ErrorAs(t, err, &staleErr)
	require.Equal(t, tablerrors.TabletNotMounted, staleErr.Kind)
}

func TestRouteOrderedStableWithinTransaction(t *testing.T) {
	t1 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, Index: 0}
	t2 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, Index: 1}
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: false, Tablets: []*types.Tablet{t1, t2}}

	r := New()
	txn := types.NewTransactionID()
	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.StringValue("x")}}

	first, err := r.Route(info, row, -1, ForWrite, txn)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := r.Route(info, row, -1, ForWrite, txn)
		require.NoError(t, err)
		require.Equal(t, first.TabletID, again.TabletID)
	}
}

func TestRouteOrderedExplicitIndex(t *testing.T) {
	t1 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, Index: 0}
	t2 := &types.Tablet{TabletID: types.TabletID(uuid.New()), State: types.TabletMounted, Index: 1}
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: false, Tablets: []*types.Tablet{t1, t2}}

	r := New()
	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("x")}}
	tablet, err := r.Route(info, row, 0, ForWrite, types.NewTransactionID())
	require.NoError(t, err)
	require.Equal(t, t2.TabletID, tablet.TabletID)
}
