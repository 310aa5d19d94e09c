package rpc

import (
	"context"
	"sync"

	"github.com/fluxtable/tabletclient/pkg/types"
)

// FakeMasterClient is an in-process MasterClient for tests, standing in
// for the gRPC round trip the same way the teacher's pkg/client tests
// substitute an in-memory FSM for the Raft-backed one.
type FakeMasterClient struct {
	mu         sync.Mutex
	Attributes map[string]BasicTableAttributes
	MountInfo  map[types.TableID]*types.TableMountInfo
	Calls      int
}

func NewFakeMasterClient() *FakeMasterClient {
	return &FakeMasterClient{
		Attributes: make(map[string]BasicTableAttributes),
		MountInfo:  make(map[types.TableID]*types.TableMountInfo),
	}
}

func (f *FakeMasterClient) GetBasicAttributes(_ context.Context, path string, _ int64) (BasicTableAttributes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	attrs, ok := f.Attributes[path]
	if !ok {
		return BasicTableAttributes{}, errNotFound(path)
	}
	return attrs, nil
}

func (f *FakeMasterClient) GetMountInfo(_ context.Context, tableID types.TableID, _ int64) (*types.TableMountInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	info, ok := f.MountInfo[tableID]
	if !ok {
		return nil, errNotFound(tableID.String())
	}
	return info, nil
}

type notFoundError struct{ key string }

func (e notFoundError) Error() string { return "rpc: no fake entry for " + e.key }

func errNotFound(key string) error { return notFoundError{key: key} }

// FakeCoordinatorClient is an in-process CoordinatorClient for tests. It
// accepts every transaction it is asked to start and commits immediately
// on Commit, firing listeners synchronously.
type FakeCoordinatorClient struct {
	mu           sync.Mutex
	nextTS       int64
	participants map[types.TransactionID][]types.CellID
	committed    map[types.TransactionID][]func()
	aborted      map[types.TransactionID][]func(error)

	// CommitErr, when non-nil, makes Commit fail with it and fire the
	// transaction's aborted listeners.
	CommitErr error
}

func NewFakeCoordinatorClient() *FakeCoordinatorClient {
	return &FakeCoordinatorClient{
		nextTS:       1,
		participants: make(map[types.TransactionID][]types.CellID),
		committed:    make(map[types.TransactionID][]func()),
		aborted:      make(map[types.TransactionID][]func(error)),
	}
}

func (f *FakeCoordinatorClient) StartTransaction(_ context.Context, opts StartTransactionOptions) (StartTransactionResult, error) {
	id := types.NewTransactionID()
	return StartTransactionResult{ID: id, StartTimestamp: f.tick(), Timeout: opts.Timeout}, nil
}

func (f *FakeCoordinatorClient) tick() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextTS++
	return f.nextTS
}

func (f *FakeCoordinatorClient) Attach(context.Context, types.TransactionID, bool) error { return nil }

func (f *FakeCoordinatorClient) AddParticipant(_ context.Context, id types.TransactionID, cellID types.CellID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[id] = append(f.participants[id], cellID)
	return nil
}

func (f *FakeCoordinatorClient) Ping(context.Context, types.TransactionID) error { return nil }

func (f *FakeCoordinatorClient) Commit(_ context.Context, id types.TransactionID, _ CommitOptions) (int64, error) {
	if f.CommitErr != nil {
		f.notifyAborted(id, f.CommitErr)
		return 0, f.CommitErr
	}
	ts := f.tick()
	f.notifyCommitted(id)
	return ts, nil
}

func (f *FakeCoordinatorClient) Abort(_ context.Context, id types.TransactionID, _ bool) error {
	f.notifyAborted(id, nil)
	return nil
}

func (f *FakeCoordinatorClient) Detach(context.Context, types.TransactionID) error { return nil }

// Participants returns the cells registered via AddParticipant for id, for
// test assertions.
func (f *FakeCoordinatorClient) Participants(id types.TransactionID) []types.CellID {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.CellID, len(f.participants[id]))
	copy(out, f.participants[id])
	return out
}

func (f *FakeCoordinatorClient) SubscribeCommitted(id types.TransactionID, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed[id] = append(f.committed[id], fn)
}

func (f *FakeCoordinatorClient) SubscribeAborted(id types.TransactionID, fn func(err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aborted[id] = append(f.aborted[id], fn)
}

func (f *FakeCoordinatorClient) notifyCommitted(id types.TransactionID) {
	f.mu.Lock()
	fns := f.committed[id]
	delete(f.committed, id)
	delete(f.aborted, id)
	f.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (f *FakeCoordinatorClient) notifyAborted(id types.TransactionID, err error) {
	f.mu.Lock()
	fns := f.aborted[id]
	delete(f.committed, id)
	delete(f.aborted, id)
	f.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// FakeTabletServiceClient is an in-process TabletServiceClient for
// tests. It records every write/lookup/action it receives and replays
// LookupResponses queued by test setup.
type FakeTabletServiceClient struct {
	mu      sync.Mutex
	Writes  []WriteRequestHeader
	Lookups []LookupRequestHeader
	Actions []ActionRequest

	// LookupReplies is consumed in FIFO order by LookupRows.
	LookupReplies []LookupResponse

	WriteErr  error
	LookupErr error
}

func NewFakeTabletServiceClient() *FakeTabletServiceClient {
	return &FakeTabletServiceClient{}
}

func (f *FakeTabletServiceClient) Write(_ context.Context, header WriteRequestHeader, _ []byte) (WriteResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return WriteResponse{}, f.WriteErr
	}
	f.Writes = append(f.Writes, header)
	return WriteResponse{}, nil
}

func (f *FakeTabletServiceClient) LookupRows(_ context.Context, header LookupRequestHeader, _ []byte) (LookupResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LookupErr != nil {
		return LookupResponse{}, f.LookupErr
	}
	f.Lookups = append(f.Lookups, header)
	if len(f.LookupReplies) == 0 {
		return LookupResponse{}, nil
	}
	reply := f.LookupReplies[0]
	f.LookupReplies = f.LookupReplies[1:]
	return reply, nil
}

func (f *FakeTabletServiceClient) PostAction(_ context.Context, req ActionRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Actions = append(f.Actions, req)
	return nil
}
