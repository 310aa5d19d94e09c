package client

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/fluxtable/tabletclient/pkg/celldirectory"
	"github.com/fluxtable/tabletclient/pkg/clientconfig"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

const fixturePath = "//t"

func singleTabletClient(t *testing.T) (*Client, types.TableID, *rpc.FakeTabletServiceClient) {
	t.Helper()
	tableID := types.TableID(uuid.New())
	cellID := types.CellID(uuid.New())
	tablet := &types.Tablet{TabletID: types.TabletID(uuid.New()), CellID: cellID, State: types.TabletMounted, PivotKey: []any{int64(0)}}
	info := &types.TableMountInfo{TableID: tableID, Sorted: true, Tablets: []*types.Tablet{tablet}}

	master := rpc.NewFakeMasterClient()
	master.Attributes[fixturePath] = rpc.BasicTableAttributes{TableID: tableID, Dynamic: true}
	master.MountInfo[tableID] = info

	directory := celldirectory.New(0)
	directory.Install(celldirectory.CellDescriptor{
		CellID: cellID,
		Peers:  []celldirectory.Peer{{Address: "addr1", Role: celldirectory.RoleLeader, Voting: true}},
	})

	tabletClient := rpc.NewFakeTabletServiceClient()
	cfg := clientconfig.Default()
	cfg.TerminalSignature = 1

	c := New(Deps{
		Master:      master,
		Coordinator: rpc.NewFakeCoordinatorClient(),
		Directory:   directory,
		Dialer:      func(string) (rpc.TabletServiceClient, error) { return tabletClient, nil },
		Config:      cfg,
	})
	return c, tableID, tabletClient
}

func TestStartTransactionModifyCommit(t *testing.T) {
	c, _, tabletClient := singleTabletClient(t)
	sch := &types.Schema{Columns: []types.ColumnSchema{{Name: "key", Key: true}, {Name: "value"}}}

	ctx := context.Background()
	txn, err := c.StartTransaction(ctx, rpc.StartTransactionOptions{Atomicity: types.AtomicityFull})
	require.NoError(t, err)

	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	require.NoError(t, c.Modify(ctx, txn, fixturePath, sch, wire.CommandWriteRow, []rowbuffer.Row{row}, -1, ModifyOptions{}))

	ts, err := txn.Commit(ctx, rpc.CommitOptions{})
	require.NoError(t, err)
	require.Greater(t, ts, int64(0))
	require.Len(t, tabletClient.Writes, 1)
}

func TestStartTransactionStickyRegistryRoundTrips(t *testing.T) {
	c, _, _ := singleTabletClient(t)
	ctx := context.Background()

	txn, err := c.StartTransaction(ctx, rpc.StartTransactionOptions{Sticky: true, Atomicity: types.AtomicityFull})
	require.NoError(t, err)

	attached, err := c.AttachTransaction(ctx, txn.ID(), true, false)
	require.NoError(t, err)
	require.Same(t, txn, attached)

	_, err = txn.Commit(ctx, rpc.CommitOptions{})
	require.NoError(t, err)

	_, err = c.AttachTransaction(ctx, txn.ID(), true, false)
	require.Error(t, err) // forgotten from the sticky registry once committed
}

func TestLookupReturnsDecodedRows(t *testing.T) {
	c, _, tabletClient := singleTabletClient(t)
	sch := &types.Schema{Columns: []types.ColumnSchema{{Name: "key", Key: true}, {Name: "value"}}}

	resultRow := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.StringValue("v")}}
	payload, err := rowbuffer.EncodeRowset([]rowbuffer.Row{resultRow})
	require.NoError(t, err)
	env, err := wire.WrapEnvelope(wire.CodecNone, payload)
	require.NoError(t, err)
	tabletClient.LookupReplies = []rpc.LookupResponse{{Envelope: env}}

	keys := []rowbuffer.Row{{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.NullValue}}}
	rows, err := c.Lookup(context.Background(), fixturePath, sch, keys, LookupOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "v", rows[0].Values[1].Str)
	require.Len(t, tabletClient.Lookups, 1)
}

func TestLookupTrimsMissingRowsUnlessKept(t *testing.T) {
	c, _, tabletClient := singleTabletClient(t)
	sch := &types.Schema{Columns: []types.ColumnSchema{{Name: "key", Key: true}, {Name: "value"}}}

	payload, err := rowbuffer.EncodeRowset([]rowbuffer.Row{{Values: []rowbuffer.Value{rowbuffer.NullValue, rowbuffer.NullValue}}})
	require.NoError(t, err)
	env, err := wire.WrapEnvelope(wire.CodecNone, payload)
	require.NoError(t, err)
	tabletClient.LookupReplies = []rpc.LookupResponse{{Envelope: env}}

	keys := []rowbuffer.Row{{Values: []rowbuffer.Value{rowbuffer.Int64Value(1), rowbuffer.NullValue}}}
	rows, err := c.Lookup(context.Background(), fixturePath, sch, keys, LookupOptions{})
	require.NoError(t, err)
	require.Empty(t, rows)

	tabletClient.LookupReplies = []rpc.LookupResponse{{Envelope: env}}
	rows, err = c.Lookup(context.Background(), fixturePath, sch, keys, LookupOptions{KeepMissingRows: true})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestExecuteFailsImmediatelyWhenSemaphoreExhausted(t *testing.T) {
	c, _, _ := singleTabletClient(t)
	c.sem = semaphore.NewWeighted(0) // no slots available, ever

	_, err := Execute(context.Background(), c, "anything", 0, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, tablerrors.ErrTooManyConcurrentRequests)
}

func TestSelectRowsReturnsUnsupportedQueryError(t *testing.T) {
	c, _, _ := singleTabletClient(t)
	_, err := c.SelectRows(context.Background(), "select * from t", 0, SelectOptions{Timeout: time.Second})
	var unsupported *UnsupportedQueryError
	require.ErrorAs(t, err, &unsupported)
}
