package celldirectory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/fluxtable/tabletclient/pkg/types"
)

func TestPrimaryPeerLeader(t *testing.T) {
	d := New(0)
	cellID := types.CellID(uuid.New())
	d.Install(CellDescriptor{CellID: cellID, Peers: []Peer{
		{Address: "a", Role: RoleFollower, Voting: true},
		{Address: "b", Role: RoleLeader, Voting: true},
	}})
	peer, err := d.PrimaryPeer(cellID, Leader)
	require.NoError(t, err)
	require.Equal(t, "b", peer.Address)
}

func TestPrimaryPeerLeaderFailsWithoutLeader(t *testing.T) {
	d := New(0)
	cellID := types.CellID(uuid.New())
	d.Install(CellDescriptor{CellID: cellID, Peers: []Peer{
		{Address: "a", Role: RoleFollower, Voting: true},
	}})
	_, err := d.PrimaryPeer(cellID, Leader)
	require.ErrorIs(t, err, ErrNoLeader)
}

func TestPrimaryPeerFollowerExcludesLeader(t *testing.T) {
	d := New(0)
	cellID := types.CellID(uuid.New())
	d.Install(CellDescriptor{CellID: cellID, Peers: []Peer{
		{Address: "a", Role: RoleFollower, Voting: true},
		{Address: "b", Role: RoleLeader, Voting: true},
	}})
	for i := 0; i < 20; i++ {
		peer, err := d.PrimaryPeer(cellID, Follower)
		require.NoError(t, err)
		require.Equal(t, "a", peer.Address)
	}
}

func TestBackupPeerExcludesPrimary(t *testing.T) {
	d := New(0)
	cellID := types.CellID(uuid.New())
	d.Install(CellDescriptor{CellID: cellID, Peers: []Peer{
		{Address: "a", Role: RoleLeader, Voting: true},
		{Address: "b", Role: RoleFollower, Voting: true},
	}})
	backup, ok, err := d.BackupPeer(cellID, Peer{Address: "a"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", backup.Address)
}

func TestInvokeHedgesAfterDelay(t *testing.T) {
	d := New(10 * time.Millisecond)
	cellID := types.CellID(uuid.New())
	d.Install(CellDescriptor{CellID: cellID, Peers: []Peer{
		{Address: "slow", Role: RoleLeader, Voting: true},
		{Address: "fast", Role: RoleFollower, Voting: true},
	}})

	call := func(ctx context.Context, address string) (interface{}, error) {
		if address == "slow" {
			time.Sleep(100 * time.Millisecond)
			return "slow-reply", nil
		}
		return "fast-reply", nil
	}

	val, err := d.Invoke(context.Background(), cellID, Leader, call)
	require.NoError(t, err)
	require.Equal(t, "fast-reply", val)
}

func TestInvokeReturnsPrimaryErrorWhenNoBackup(t *testing.T) {
	d := New(time.Millisecond)
	cellID := types.CellID(uuid.New())
	d.Install(CellDescriptor{CellID: cellID, Peers: []Peer{
		{Address: "only", Role: RoleLeader, Voting: true},
	}})
	wantErr := errors.New("boom")
	call := func(ctx context.Context, address string) (interface{}, error) {
		return nil, wantErr
	}
	_, err := d.Invoke(context.Background(), cellID, Leader, call)
	require.ErrorIs(t, err, wantErr)
}
