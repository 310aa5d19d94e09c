// Package rpc defines the three external contracts this core consumes
// (spec §6) — MasterClient (primary+secondary master), CoordinatorClient
// (the Hydra-backed transaction coordinator), and TabletServiceClient (one
// participant cell's write/lookup/action endpoint) — plus one concrete
// gRPC-backed implementation of each.
//
// No .proto toolchain is available in this environment, so the generated
// client role the teacher's pkg/client/pkg/api fill with
// proto.WarrenAPIClient is filled here by grpc.ClientConn.Invoke against
// google.golang.org/protobuf's wrapperspb.BytesValue: the method name
// picks the RPC, the bytes carry a JSON-encoded header plus (for
// write/lookup) a pkg/wire-encoded, envelope-compressed row attachment —
// the same header+attachments split spec §6 describes. This is a stand-in
// for codegen, not a reach for the standard library: the transport is
// still real gRPC, and the row payloads still use the bit-exact envelope
// codec from pkg/wire.
package rpc

import (
	"context"
	"time"

	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

// BasicTableAttributes is the primary-master phase-1 response (spec §4.C,
// §6): "{id, dynamic, external_cell_tag}".
type BasicTableAttributes struct {
	TableID         types.TableID
	Dynamic         bool
	ExternalCellTag types.CellID
	PrimaryRevision int64
}

// MasterClient is the contract Component C (mount cache) consumes.
type MasterClient interface {
	// GetBasicAttributes performs the phase-1 primary-master fetch, with a
	// caching header that refuses entries older than refreshRevision.
	GetBasicAttributes(ctx context.Context, path string, refreshRevision int64) (BasicTableAttributes, error)
	// GetMountInfo performs the phase-2 fetch against the cell hosting the
	// table, with a caching header that refuses entries older than
	// refreshRevision.
	GetMountInfo(ctx context.Context, tableID types.TableID, refreshRevision int64) (*types.TableMountInfo, error)
}

// StartTransactionOptions configures a new transaction (spec §6).
type StartTransactionOptions struct {
	Sticky     bool
	Atomicity  types.Atomicity
	Durability types.Durability
	Timeout    time.Duration
}

// StartTransactionResult is the coordinator's reply to StartTransaction.
type StartTransactionResult struct {
	ID             types.TransactionID
	StartTimestamp int64
	Timeout        time.Duration
}

// CommitOptions parameterizes the coordinator commit call.
type CommitOptions struct {
	CoordinatorCellID types.CellID
	ParticipantCells  []types.CellID
	Atomicity         types.Atomicity
	Durability        types.Durability
}

// CoordinatorClient is the contract Component H consumes.
type CoordinatorClient interface {
	StartTransaction(ctx context.Context, opts StartTransactionOptions) (StartTransactionResult, error)
	Attach(ctx context.Context, id types.TransactionID, ping bool) error
	AddParticipant(ctx context.Context, id types.TransactionID, cellID types.CellID) error
	Ping(ctx context.Context, id types.TransactionID) error
	Commit(ctx context.Context, id types.TransactionID, opts CommitOptions) (commitTimestamp int64, err error)
	Abort(ctx context.Context, id types.TransactionID, force bool) error
	Detach(ctx context.Context, id types.TransactionID) error
	// SubscribeCommitted/SubscribeAborted attach listeners invoked at most
	// once when the coordinator reports the transaction's terminal
	// outcome (spec §4.H "Listeners").
	SubscribeCommitted(id types.TransactionID, fn func())
	SubscribeAborted(id types.TransactionID, fn func(err error))
}

// WriteRequestHeader is the header of a per-shard write RPC (spec §6).
type WriteRequestHeader struct {
	TransactionID      types.TransactionID
	TransactionStartTS int64 // set only when Timeout is also set (atomic)
	Timeout            time.Duration
	TabletID           types.TabletID
	MountRevision      int64
	Durability         types.Durability
	Signature          int64
	MutationID         string // idempotence key, see SPEC_FULL §4
	Retry              bool
}

// WriteResponse is the tablet service's reply to a write RPC.
type WriteResponse struct{}

// LookupRequestHeader is the header of a per-shard lookup RPC (spec §6).
type LookupRequestHeader struct {
	TabletID            types.TabletID
	MountRevision       int64
	Timestamp           int64
	ResponseCodec       wire.CodecID
	ColumnFilterIndexes []int
}

// LookupResponse carries the envelope-compressed schemaful rowset a
// tablet service returns.
type LookupResponse struct {
	Envelope wire.Envelope
}

// ActionRequest carries a custom transaction-action payload registered via
// Component G's RegisterAction (spec §4.G).
type ActionRequest struct {
	TransactionID types.TransactionID
	CellID        types.CellID
	Data          []byte
	Signature     int64
}

// TabletServiceClient is the contract Components D/F/G consume to reach a
// single participant cell's primary (or backup) peer.
type TabletServiceClient interface {
	Write(ctx context.Context, header WriteRequestHeader, batch []byte) (WriteResponse, error)
	LookupRows(ctx context.Context, header LookupRequestHeader, keys []byte) (LookupResponse, error)
	PostAction(ctx context.Context, req ActionRequest) error
}
