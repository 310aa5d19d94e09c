package transaction

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fluxtable/tabletclient/pkg/clientconfig"
	"github.com/fluxtable/tabletclient/pkg/router"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/schema"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

func singleTabletFixture() (*types.TableMountInfo, *types.Schema, types.CellID, *rpc.FakeTabletServiceClient) {
	cellID := types.CellID(uuid.New())
	tablet := &types.Tablet{TabletID: types.TabletID(uuid.New()), CellID: cellID, State: types.TabletMounted, PivotKey: []any{int64(0)}}
	info := &types.TableMountInfo{TableID: types.TableID(uuid.New()), Sorted: true, Tablets: []*types.Tablet{tablet}}
	sch := &types.Schema{Columns: []types.ColumnSchema{{Name: "key", Key: true}, {Name: "value"}}}
	tabletClient := rpc.NewFakeTabletServiceClient()
	return info, sch, cellID, tabletClient
}

func newTestDeps(coordinator rpc.CoordinatorClient, resolver TabletClientResolver) Deps {
	cfg := clientconfig.Default()
	cfg.TerminalSignature = 1
	return Deps{
		Coordinator: coordinator,
		SchemaCache: schema.NewCache(),
		Router:      router.New(),
		Resolver:    resolver,
		Config:      cfg,
	}
}

func TestModifyRowsRejectsWhenNotActive(t *testing.T) {
	coordinator := rpc.NewFakeCoordinatorClient()
	deps := newTestDeps(coordinator, func(types.CellID) (rpc.TabletServiceClient, error) { return rpc.NewFakeTabletServiceClient(), nil })
	txn, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)
	require.NoError(t, txn.Detach())

	info, sch, _, _ := singleTabletFixture()
	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	err = txn.ModifyRows(context.Background(), "//t", info, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1)
	var stateErr *tablerrors.TransactionStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestCommitHappyPath(t *testing.T) {
	info, sch, cellID, tabletClient := singleTabletFixture()
	coordinator := rpc.NewFakeCoordinatorClient()
	resolver := func(id types.CellID) (rpc.TabletServiceClient, error) {
		require.Equal(t, cellID, id)
		return tabletClient, nil
	}
	deps := newTestDeps(coordinator, resolver)
	txn, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)

	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	require.NoError(t, txn.ModifyRows(context.Background(), "//t", info, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1))

	var committed bool
	txn.SubscribeCommitted(func() { committed = true })

	ts, err := txn.Commit(context.Background(), rpc.CommitOptions{})
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))
	require.True(t, committed)
	require.Equal(t, types.StateCommit, txn.State())
	require.Len(t, tabletClient.Writes, 1)
}

func TestCommitAbortsOnWriteFailure(t *testing.T) {
	info, sch, _, tabletClient := singleTabletFixture()
	tabletClient.WriteErr = errors.New("write rpc failed")
	coordinator := rpc.NewFakeCoordinatorClient()
	deps := newTestDeps(coordinator, func(types.CellID) (rpc.TabletServiceClient, error) { return tabletClient, nil })
	txn, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)

	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	require.NoError(t, txn.ModifyRows(context.Background(), "//t", info, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1))

	var aborted bool
	txn.SubscribeAborted(func(error) { aborted = true })

	_, err = txn.Commit(context.Background(), rpc.CommitOptions{})
	require.Error(t, err)
	require.True(t, aborted)
	require.Equal(t, types.StateAbort, txn.State())
}

func TestAbortIsIdempotent(t *testing.T) {
	coordinator := rpc.NewFakeCoordinatorClient()
	deps := newTestDeps(coordinator, func(types.CellID) (rpc.TabletServiceClient, error) { return rpc.NewFakeTabletServiceClient(), nil })
	txn, err := New(context.Background(), deps, rpc.StartTransactionOptions{})
	require.NoError(t, err)

	err1 := txn.Abort(context.Background())
	err2 := txn.Abort(context.Background())
	require.Equal(t, err1, err2)
}

func TestCommitFlushesSlaveAndFoldsParticipants(t *testing.T) {
	masterInfo, sch, masterCellID, masterTablet := singleTabletFixture()
	slaveInfo, _, slaveCellID, slaveTablet := singleTabletFixture()

	coordinator := rpc.NewFakeCoordinatorClient()
	resolver := func(id types.CellID) (rpc.TabletServiceClient, error) {
		switch id {
		case masterCellID:
			return masterTablet, nil
		case slaveCellID:
			return slaveTablet, nil
		default:
			return nil, errors.New("unknown cell")
		}
	}
	deps := newTestDeps(coordinator, resolver)

	master, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)
	slave, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)
	require.NoError(t, master.AddSlave(slave))

	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	require.NoError(t, master.ModifyRows(context.Background(), "//t", masterInfo, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1))
	require.NoError(t, slave.ModifyRows(context.Background(), "//s", slaveInfo, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1))

	ts, err := master.Commit(context.Background(), rpc.CommitOptions{})
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))

	require.Len(t, masterTablet.Writes, 1)
	require.Len(t, slaveTablet.Writes, 1)
	require.Equal(t, types.StateFlush, slave.State())

	participants := coordinator.Participants(master.ID())
	require.ElementsMatch(t, []types.CellID{masterCellID, slaveCellID}, participants)
}

func TestCommitAbortsWhenSlaveFlushFails(t *testing.T) {
	masterInfo, sch, masterCellID, masterTablet := singleTabletFixture()
	slaveInfo, _, slaveCellID, slaveTablet := singleTabletFixture()
	slaveTablet.WriteErr = errors.New("slave write rpc failed")

	coordinator := rpc.NewFakeCoordinatorClient()
	resolver := func(id types.CellID) (rpc.TabletServiceClient, error) {
		switch id {
		case masterCellID:
			return masterTablet, nil
		case slaveCellID:
			return slaveTablet, nil
		default:
			return nil, errors.New("unknown cell")
		}
	}
	deps := newTestDeps(coordinator, resolver)

	master, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)
	slave, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)
	require.NoError(t, master.AddSlave(slave))

	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	require.NoError(t, master.ModifyRows(context.Background(), "//t", masterInfo, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1))
	require.NoError(t, slave.ModifyRows(context.Background(), "//s", slaveInfo, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1))

	_, err = master.Commit(context.Background(), rpc.CommitOptions{})
	require.Error(t, err)
	require.Equal(t, types.StateAbort, master.State())
}

func TestGetReadTimestampByAtomicity(t *testing.T) {
	coordinator := rpc.NewFakeCoordinatorClient()
	deps := newTestDeps(coordinator, nil)

	full, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)
	require.Equal(t, full.startTimestamp, full.GetReadTimestamp())

	none, err := New(context.Background(), deps, rpc.StartTransactionOptions{Atomicity: types.AtomicityNone})
	require.NoError(t, err)
	require.Equal(t, ReadTimestampSyncLastCommitted, none.GetReadTimestamp())
}
