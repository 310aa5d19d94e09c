package cellsession

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/types"
)

func TestAllocateRequestSignatureSumsToTerminal(t *testing.T) {
	s := New(types.CellID(uuid.New()), types.NewTransactionID(), 1, types.AtomicityFull, rpc.NewFakeTabletServiceClient())
	require.NoError(t, s.RegisterRequests(4))

	var sum int64
	for i := 0; i < 4; i++ {
		sig, err := s.AllocateRequestSignature()
		require.NoError(t, err)
		sum += sig
	}
	require.Equal(t, int64(1), sum)
}

func TestAllocateRequestSignatureSingleRequestIsTerminal(t *testing.T) {
	s := New(types.CellID(uuid.New()), types.NewTransactionID(), 7, types.AtomicityFull, rpc.NewFakeTabletServiceClient())
	require.NoError(t, s.RegisterRequests(1))
	sig, err := s.AllocateRequestSignature()
	require.NoError(t, err)
	require.Equal(t, int64(7), sig)
}

func TestAllocateRequestSignatureRejectsOverAllocation(t *testing.T) {
	s := New(types.CellID(uuid.New()), types.NewTransactionID(), 1, types.AtomicityFull, rpc.NewFakeTabletServiceClient())
	require.NoError(t, s.RegisterRequests(1))
	_, err := s.AllocateRequestSignature()
	require.NoError(t, err)
	_, err = s.AllocateRequestSignature()
	require.Error(t, err)
}

func TestAllocateRequestSignatureFlagsTerminalUndershoot(t *testing.T) {
	before := testutil.ToFloat64(metrics.SignatureTerminalMismatch)

	// terminal=1 but 3 requests registered: by the last allocation, 2
	// signatures of 1 have already been emitted, so terminal-emitted goes
	// negative instead of landing exactly on the registered count.
	s := New(types.CellID(uuid.New()), types.NewTransactionID(), 1, types.AtomicityFull, rpc.NewFakeTabletServiceClient())
	require.NoError(t, s.RegisterRequests(3))
	for i := 0; i < 2; i++ {
		_, err := s.AllocateRequestSignature()
		require.NoError(t, err)
	}
	sig, err := s.AllocateRequestSignature()
	require.NoError(t, err)
	require.Equal(t, int64(-1), sig)

	require.Equal(t, before+1, testutil.ToFloat64(metrics.SignatureTerminalMismatch))
}

func TestRegisterActionRequiresFullAtomicity(t *testing.T) {
	s := New(types.CellID(uuid.New()), types.NewTransactionID(), 1, types.AtomicityNone, rpc.NewFakeTabletServiceClient())
	err := s.RegisterAction([]byte("x"))
	require.Error(t, err)
}

func TestInvokeSendsActionAndConsumesSignature(t *testing.T) {
	tablet := rpc.NewFakeTabletServiceClient()
	s := New(types.CellID(uuid.New()), types.NewTransactionID(), 3, types.AtomicityFull, tablet)
	require.NoError(t, s.RegisterRequests(2)) // one row-batch RPC, one action RPC
	require.NoError(t, s.RegisterAction([]byte("payload")))

	_, err := s.AllocateRequestSignature() // the row-batch RPC
	require.NoError(t, err)

	require.NoError(t, s.Invoke(context.Background()))
	require.Len(t, tablet.Actions, 1)
	require.Equal(t, []byte("payload"), tablet.Actions[0].Data)
	require.Equal(t, int64(3), s.EmittedSum())
}
