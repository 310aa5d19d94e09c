package commitsession

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fluxtable/tabletclient/pkg/cellsession"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

func row(key int64, value string) rowbuffer.Row {
	return rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(key), rowbuffer.StringValue(value)}}
}

func TestFoldMergesSameKeyWritesKeepingLastWins(t *testing.T) {
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: true}
	s := New(types.TabletID(uuid.New()), info, 1, 100, 10000)
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(1, "a")))
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(1, "b")))
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(2, "c")))

	batches, err := s.Prepare(wire.CodecNone)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Records, 2)
	require.Equal(t, "b", batches[0].Records[0].Row.Values[1].Str)
	require.Equal(t, "c", batches[0].Records[1].Row.Values[1].Str)
}

func TestFoldDeleteWinsAsLastEdit(t *testing.T) {
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: true}
	s := New(types.TabletID(uuid.New()), info, 1, 100, 10000)
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(1, "a")))
	require.NoError(t, s.SubmitRow(wire.CommandDeleteRow, row(1, "")))

	batches, err := s.Prepare(wire.CodecNone)
	require.NoError(t, err)
	require.Len(t, batches[0].Records, 1)
	require.Equal(t, wire.CommandDeleteRow, batches[0].Records[0].Command)
}

func TestFoldOrderedTableSkipsMerge(t *testing.T) {
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: false}
	s := New(types.TabletID(uuid.New()), info, 1, 100, 10000)
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(1, "a")))
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(1, "b")))

	batches, err := s.Prepare(wire.CodecNone)
	require.NoError(t, err)
	require.Len(t, batches[0].Records, 2)
}

func TestPrepareSplitsIntoFixedSizeBatches(t *testing.T) {
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: true}
	s := New(types.TabletID(uuid.New()), info, 1, 2, 10000)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(i, "v")))
	}
	batches, err := s.Prepare(wire.CodecNone)
	require.NoError(t, err)
	require.Len(t, batches, 3) // 2, 2, 1
	require.Len(t, batches[2].Records, 1)
}

func TestSubmitRowRejectsOverMaxRowsPerTransaction(t *testing.T) {
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: true}
	s := New(types.TabletID(uuid.New()), info, 1, 100, 2)
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(1, "a")))
	require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(2, "b")))
	require.Error(t, s.SubmitRow(wire.CommandWriteRow, row(3, "c")))
}

func TestInvokeDispatchesBatchesInOrderWithSignatures(t *testing.T) {
	tabletID := types.TabletID(uuid.New())
	info := &types.TableMountInfo{
		TableID: types.TableID(uuid.New()),
		Sorted:  true,
		Tablets: []*types.Tablet{{TabletID: tabletID, State: types.TabletMounted}},
	}
	s := New(tabletID, info, 1, 1, 10000)
	for i := int64(0); i < 3; i++ {
		require.NoError(t, s.SubmitRow(wire.CommandWriteRow, row(i, "v")))
	}
	batches, err := s.Prepare(wire.CodecNone)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	tablet := rpc.NewFakeTabletServiceClient()
	cellID := types.CellID(uuid.New())
	txn := types.NewTransactionID()
	signer := cellsession.New(cellID, txn, 3, types.AtomicityFull, tablet)
	require.NoError(t, signer.RegisterRequests(3))

	err = s.Invoke(context.Background(), tablet, signer, batches, txn, 100, 0, types.DurabilitySync, "mid")
	require.NoError(t, err)
	require.Len(t, tablet.Writes, 3)
	require.Equal(t, int64(1), tablet.Writes[0].Signature)
	require.Equal(t, int64(1), tablet.Writes[1].Signature)
	require.Equal(t, int64(1), tablet.Writes[2].Signature) // terminal(3) - 2 already emitted
	require.Equal(t, int64(3), signer.EmittedSum())
}
