// Package transaction implements Component H: the client-side
// transaction object and its state machine (Active -> Commit | Abort |
// Flush | Detach), driving Components B, E, F, and G to produce a
// two-phase commit against the coordinator.
package transaction

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fluxtable/tabletclient/pkg/cellsession"
	"github.com/fluxtable/tabletclient/pkg/clientconfig"
	"github.com/fluxtable/tabletclient/pkg/commitsession"
	"github.com/fluxtable/tabletclient/pkg/log"
	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/router"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/schema"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

// ReadTimestampSyncLastCommitted is the sentinel the server resolves to
// the current max-committed timestamp, used as the read timestamp for
// None-atomicity transactions (spec §4.H "Read timestamp contract").
const ReadTimestampSyncLastCommitted int64 = -1

// TabletClientResolver reaches the TabletServiceClient for a participant
// cell, the way Component D's directory resolution feeds F/G.
type TabletClientResolver func(cellID types.CellID) (rpc.TabletServiceClient, error)

// Deps bundles the collaborators a Transaction drives. MountCache and
// CellDirectory are consumed one layer up, by pkg/client: the mount
// cache resolves table -> mount info before a ModifyRows call is built,
// and the cell directory is already folded into Resolver's peer
// selection, so Transaction itself only needs the Resolver closure.
type Deps struct {
	Coordinator rpc.CoordinatorClient
	SchemaCache *schema.Cache
	Router      *router.Router
	Resolver    TabletClientResolver
	Config      clientconfig.Config
}

type modificationRequest struct {
	path              string
	table             *types.TableMountInfo
	schema            *types.Schema
	command           wire.WriteCommand
	row               rowbuffer.Row
	tabletIndexColumn int
}

// Transaction is one client-side transaction (spec §4.H). Not safe for
// concurrent use except where noted (SubscribeCommitted/Aborted may be
// called from any goroutine).
type Transaction struct {
	deps Deps

	id             types.TransactionID
	startTimestamp int64
	atomicity      types.Atomicity
	durability     types.Durability
	sticky         bool

	mu       sync.Mutex
	state    types.TransactionState
	requests []modificationRequest
	actions  map[types.CellID][]byte
	slaves   []*Transaction

	abortOnce sync.Once
	abortErr  error
	arena     *rowbuffer.Arena

	// preparedBatches/tabletCell are populated by buildSessions and read
	// by the invoke phase of Commit/Flush.
	preparedBatches map[types.TabletID][]commitsession.Batch
	tabletCell      map[types.TabletID]types.CellID

	committedListeners []func()
	abortedListeners   []func(error)

	logger zerolog.Logger
}

// New constructs a transaction already started against the coordinator.
func New(ctx context.Context, deps Deps, opts rpc.StartTransactionOptions) (*Transaction, error) {
	result, err := deps.Coordinator.StartTransaction(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("transaction: start: %w", err)
	}
	t := &Transaction{
		deps:           deps,
		id:             result.ID,
		startTimestamp: result.StartTimestamp,
		atomicity:      opts.Atomicity,
		durability:     opts.Durability,
		sticky:         opts.Sticky,
		state:          types.StateActive,
		actions:        make(map[types.CellID][]byte),
		arena:          rowbuffer.NewArena(0),
		logger:         log.WithTransactionID(result.ID.String()),
	}
	return t, nil
}

// Attach rebuilds a Transaction object around an id already known to the
// coordinator (spec §4.H "Created by StartTransaction or
// AttachTransaction"). It carries no buffered state of its own — that
// belongs to whichever process originally started the transaction; this
// is the non-sticky attach path, a fresh shell that can still drive its
// own ModifyRows/Commit if the caller intends to reuse the id.
func Attach(deps Deps, id types.TransactionID) *Transaction {
	return &Transaction{
		deps:    deps,
		id:      id,
		state:   types.StateActive,
		actions: make(map[types.CellID][]byte),
		arena:   rowbuffer.NewArena(0),
		logger:  log.WithTransactionID(id.String()),
	}
}

// ID returns the transaction's client-visible handle.
func (t *Transaction) ID() types.TransactionID { return t.id }

// Sticky reports whether this transaction was started with Sticky=true.
func (t *Transaction) Sticky() bool { return t.sticky }

// State reports the transaction's current state-machine position.
func (t *Transaction) State() types.TransactionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) requireActive(op string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != types.StateActive {
		return &tablerrors.TransactionStateError{Operation: op, State: string(t.state)}
	}
	return nil
}

// ModifyRows buffers row modifications against a table within this
// transaction (spec §4.H). Each row's computed key columns are evaluated
// here and the row is captured into the transaction's arena; routing
// against the caller-supplied table mount info happens at Commit time.
func (t *Transaction) ModifyRows(ctx context.Context, path string, table *types.TableMountInfo, tableSchema *types.Schema, command wire.WriteCommand, rows []rowbuffer.Row, tabletIndexColumn int) error {
	if err := t.requireActive("ModifyRows"); err != nil {
		return err
	}
	evaluator, err := t.deps.SchemaCache.Get(tableSchema)
	if err != nil {
		return fmt.Errorf("transaction: modify rows for %s: %w", path, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, row := range rows {
		evaluated, err := evaluator.EvaluateKeys(t.arena, row)
		if err != nil {
			return &tablerrors.SemanticError{Command: "ModifyRows", Err: fmt.Errorf("%s: %w", path, err)}
		}
		t.requests = append(t.requests, modificationRequest{
			path:              path,
			table:             table,
			schema:            tableSchema,
			command:           command,
			row:               evaluated,
			tabletIndexColumn: tabletIndexColumn,
		})
	}
	return nil
}

// AddAction registers cellID as a participant and appends a custom
// transaction-action payload (spec §4.H). Only valid under full
// atomicity, matching Component G's RegisterAction restriction.
func (t *Transaction) AddAction(cellID types.CellID, data []byte) error {
	if err := t.requireActive("AddAction"); err != nil {
		return err
	}
	if t.atomicity != types.AtomicityFull {
		return fmt.Errorf("transaction: AddAction requires full atomicity")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions[cellID] = append(t.actions[cellID], data...)
	return nil
}

// AddSlave registers slave as a same-id transaction on a peer cluster
// (spec §4.H). It is flushed alongside this transaction's own shard
// writes when Commit runs, and its participant cells are folded into
// this transaction's participant set before the coordinator commit.
func (t *Transaction) AddSlave(slave *Transaction) error {
	if err := t.requireActive("AddSlave"); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slaves = append(t.slaves, slave)
	return nil
}

// GetReadTimestamp returns the timestamp lookups issued through this
// transaction should read at (spec §4.H "Read timestamp contract").
func (t *Transaction) GetReadTimestamp() int64 {
	if t.atomicity == types.AtomicityFull {
		return t.startTimestamp
	}
	return ReadTimestampSyncLastCommitted
}

// SubscribeCommitted/SubscribeAborted attach listeners for this
// transaction's terminal outcome as this Transaction object observes it
// locally; fired at most once, synchronously from whichever call
// (Commit/Abort/abortAfterFailure) decides the outcome.
func (t *Transaction) SubscribeCommitted(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committedListeners = append(t.committedListeners, fn)
}

func (t *Transaction) SubscribeAborted(fn func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.abortedListeners = append(t.abortedListeners, fn)
}

func (t *Transaction) fireCommitted() {
	t.mu.Lock()
	fns := t.committedListeners
	t.committedListeners, t.abortedListeners = nil, nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (t *Transaction) fireAborted(err error) {
	t.mu.Lock()
	fns := t.abortedListeners
	t.committedListeners, t.abortedListeners = nil, nil
	t.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// buildSessions expands buffered requests into one commitsession.Session
// per tablet and one cellsession.Session per participant cell (spec
// §4.H Commit steps 2-3).
func (t *Transaction) buildSessions() (map[types.TabletID]*commitsession.Session, map[types.CellID]*cellsession.Session, error) {
	tabletSessions := make(map[types.TabletID]*commitsession.Session)
	tabletCell := make(map[types.TabletID]types.CellID)

	for _, req := range t.requests {
		tablet, err := t.deps.Router.Route(req.table, req.row, req.tabletIndexColumn, router.ForWrite, t.id)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction: route row for %s: %w", req.path, err)
		}
		session, ok := tabletSessions[tablet.TabletID]
		if !ok {
			keyColumns := len(req.schema.KeyColumns())
			session = commitsession.New(tablet.TabletID, req.table, keyColumns, t.deps.Config.MaxRowsPerWriteRequest, t.deps.Config.MaxRowsPerTransaction)
			tabletSessions[tablet.TabletID] = session
			tabletCell[tablet.TabletID] = tablet.CellID
		}
		if err := session.SubmitRow(req.command, req.row); err != nil {
			return nil, nil, fmt.Errorf("transaction: submit row for %s: %w", req.path, err)
		}
	}

	cellSessions := make(map[types.CellID]*cellsession.Session)
	cellBatchCounts := make(map[types.CellID]int)
	tabletBatches := make(map[types.TabletID][]commitsession.Batch)

	for tabletID, session := range tabletSessions {
		batches, err := session.Prepare(wire.CodecZstd)
		if err != nil {
			return nil, nil, err
		}
		tabletBatches[tabletID] = batches
		cellBatchCounts[tabletCell[tabletID]] += len(batches)
	}
	for cellID := range t.actions {
		if _, ok := cellBatchCounts[cellID]; !ok {
			cellBatchCounts[cellID] = 0
		}
	}

	for cellID, count := range cellBatchCounts {
		tablet, err := t.deps.Resolver(cellID)
		if err != nil {
			return nil, nil, fmt.Errorf("transaction: resolve cell %s: %w", cellID.String(), err)
		}
		requestCount := count
		if _, hasAction := t.actions[cellID]; hasAction {
			requestCount++
		}
		session := cellsession.New(cellID, t.id, t.deps.Config.TerminalSignature, t.atomicity, tablet)
		if err := session.RegisterRequests(requestCount); err != nil {
			return nil, nil, err
		}
		if data, ok := t.actions[cellID]; ok {
			if err := session.RegisterAction(data); err != nil {
				return nil, nil, err
			}
		}
		cellSessions[cellID] = session
	}

	t.preparedBatches = tabletBatches
	t.tabletCell = tabletCell
	return tabletSessions, cellSessions, nil
}

// invokeAll concurrently dispatches every tablet's prepared batches and
// every cell's registered action (spec §4.H Commit step 4).
func (t *Transaction) invokeAll(ctx context.Context, tabletSessions map[types.TabletID]*commitsession.Session, cellSessions map[types.CellID]*cellsession.Session) error {
	group, gctx := errgroup.WithContext(ctx)

	for tabletID, session := range tabletSessions {
		tabletID, session := tabletID, session
		cellID := t.tabletCell[tabletID]
		cellSession, ok := cellSessions[cellID]
		if !ok {
			return fmt.Errorf("transaction: no cell session for cell %s (tablet %s)", cellID.String(), tabletID.String())
		}
		tablet, err := t.deps.Resolver(cellID)
		if err != nil {
			return fmt.Errorf("transaction: resolve cell %s: %w", cellID.String(), err)
		}
		batches := t.preparedBatches[tabletID]
		startTS, timeout := t.startTimestamp, t.deps.Config.DefaultTransactionTimeout
		if t.atomicity != types.AtomicityFull {
			startTS, timeout = 0, 0
		}
		group.Go(func() error {
			return session.Invoke(gctx, tablet, cellSession, batches, t.id, startTS, timeout, t.durability, t.id.String())
		})
	}

	for cellID, session := range cellSessions {
		session := session
		group.Go(func() error {
			return session.Invoke(gctx)
		})
	}

	return group.Wait()
}

// Commit runs spec §4.H's commit protocol: expand buffered requests,
// route and submit them, register and allocate signatures, invoke every
// participant, then commit the coordinator. On any failure it fires an
// abort and returns the original error.
func (t *Transaction) Commit(ctx context.Context, opts rpc.CommitOptions) (int64, error) {
	t.mu.Lock()
	if t.state != types.StateActive {
		err := &tablerrors.TransactionStateError{Operation: "Commit", State: string(t.state)}
		t.mu.Unlock()
		return 0, err
	}
	t.state = types.StateCommit
	t.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CommitDuration)

	tabletSessions, cellSessions, err := t.buildSessions()
	if err != nil {
		t.abortAfterFailure(ctx, err)
		return 0, err
	}

	for cellID := range cellSessions {
		if err := t.deps.Coordinator.AddParticipant(ctx, t.id, cellID); err != nil {
			t.abortAfterFailure(ctx, err)
			return 0, err
		}
	}

	t.mu.Lock()
	slaves := make([]*Transaction, len(t.slaves))
	copy(slaves, t.slaves)
	t.mu.Unlock()

	slaveResults := make([]FlushResult, len(slaves))
	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return t.invokeAll(gctx, tabletSessions, cellSessions)
	})
	for i, slave := range slaves {
		i, slave := i, slave
		group.Go(func() error {
			result, err := slave.Flush(gctx)
			if err != nil {
				return fmt.Errorf("transaction: flush slave %s: %w", slave.id.String(), err)
			}
			slaveResults[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		t.abortAfterFailure(ctx, err)
		return 0, err
	}

	participants := make([]types.CellID, 0, len(cellSessions))
	for cellID := range cellSessions {
		participants = append(participants, cellID)
	}
	for _, result := range slaveResults {
		participants = append(participants, result.ParticipantCells...)
	}
	for _, cellID := range participants[len(cellSessions):] {
		if err := t.deps.Coordinator.AddParticipant(ctx, t.id, cellID); err != nil {
			t.abortAfterFailure(ctx, err)
			return 0, err
		}
	}
	commitOpts := opts
	commitOpts.ParticipantCells = participants
	commitOpts.Atomicity = t.atomicity
	commitOpts.Durability = t.durability

	commitTS, err := t.deps.Coordinator.Commit(ctx, t.id, commitOpts)
	if err != nil {
		t.abortAfterFailure(ctx, err)
		return 0, err
	}

	metrics.CommitsTotal.WithLabelValues("success").Inc()
	t.fireCommitted()
	return commitTS, nil
}

// abortAfterFailure fires a best-effort coordinator abort when a commit
// step fails (spec §4.H step 6 "fire-and-forget coordinator Abort").
func (t *Transaction) abortAfterFailure(ctx context.Context, cause error) {
	t.mu.Lock()
	t.state = types.StateAbort
	t.mu.Unlock()
	metrics.CommitsTotal.WithLabelValues("aborted").Inc()
	go func() {
		if err := t.deps.Coordinator.Abort(context.Background(), t.id, true); err != nil {
			t.logger.Warn().Err(err).Msg("fire-and-forget coordinator abort failed")
		}
	}()
	t.fireAborted(cause)
}

// Abort is idempotent: subsequent calls reuse the first call's error.
func (t *Transaction) Abort(ctx context.Context) error {
	t.abortOnce.Do(func() {
		t.mu.Lock()
		t.state = types.StateAbort
		t.mu.Unlock()
		t.abortErr = t.deps.Coordinator.Abort(ctx, t.id, false)
		metrics.CommitsTotal.WithLabelValues("aborted").Inc()
		t.fireAborted(t.abortErr)
	})
	return t.abortErr
}

// Detach marks the transaction Detach without calling the coordinator; it
// has no server-side effect (spec §4.H). This Transaction object does not
// ping the coordinator in any state.
func (t *Transaction) Detach() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != types.StateActive {
		return &tablerrors.TransactionStateError{Operation: "Detach", State: string(t.state)}
	}
	t.state = types.StateDetach
	return nil
}

// FlushResult is what Flush returns for a master transaction to fold
// into its own participant set (spec §4.H).
type FlushResult struct {
	ParticipantCells []types.CellID
}

// Flush runs Commit's steps 2-5 without calling the coordinator commit,
// for use as a slave transaction folded into an outer commit.
func (t *Transaction) Flush(ctx context.Context) (FlushResult, error) {
	t.mu.Lock()
	if t.state != types.StateActive {
		err := &tablerrors.TransactionStateError{Operation: "Flush", State: string(t.state)}
		t.mu.Unlock()
		return FlushResult{}, err
	}
	t.state = types.StateFlush
	t.mu.Unlock()

	tabletSessions, cellSessions, err := t.buildSessions()
	if err != nil {
		return FlushResult{}, err
	}
	for cellID := range cellSessions {
		if err := t.deps.Coordinator.AddParticipant(ctx, t.id, cellID); err != nil {
			return FlushResult{}, err
		}
	}
	if err := t.invokeAll(ctx, tabletSessions, cellSessions); err != nil {
		return FlushResult{}, err
	}
	participants := make([]types.CellID, 0, len(cellSessions))
	for cellID := range cellSessions {
		participants = append(participants, cellID)
	}
	return FlushResult{ParticipantCells: participants}, nil
}
