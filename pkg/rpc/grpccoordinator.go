package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fluxtable/tabletclient/pkg/types"
	"google.golang.org/grpc"
)

const (
	methodStartTransaction = "/ytcore.Coordinator/StartTransaction"
	methodAttach           = "/ytcore.Coordinator/Attach"
	methodAddParticipant   = "/ytcore.Coordinator/AddParticipant"
	methodPing             = "/ytcore.Coordinator/Ping"
	methodCommit           = "/ytcore.Coordinator/Commit"
	methodAbort            = "/ytcore.Coordinator/Abort"
	methodDetach           = "/ytcore.Coordinator/Detach"
)

// GRPCCoordinatorClient implements CoordinatorClient over a dialed
// connection to the coordinator cell. Listeners attached with
// SubscribeCommitted/SubscribeAborted fire only when a caller invokes
// NotifyCommitted/NotifyAborted; pkg/transaction does not call them and
// fires its own listeners instead. This protocol is unary-request-per-op,
// so there is no separate push channel to consume.
type GRPCCoordinatorClient struct {
	conn *grpc.ClientConn

	mu        sync.Mutex
	committed map[types.TransactionID][]func()
	aborted   map[types.TransactionID][]func(error)
}

// NewGRPCCoordinatorClient wraps an already-dialed connection.
func NewGRPCCoordinatorClient(conn *grpc.ClientConn) *GRPCCoordinatorClient {
	return &GRPCCoordinatorClient{
		conn:      conn,
		committed: make(map[types.TransactionID][]func()),
		aborted:   make(map[types.TransactionID][]func(error)),
	}
}

func (c *GRPCCoordinatorClient) StartTransaction(ctx context.Context, opts StartTransactionOptions) (StartTransactionResult, error) {
	req, err := json.Marshal(opts)
	if err != nil {
		return StartTransactionResult{}, fmt.Errorf("marshal request: %w", err)
	}
	respBytes, err := invoke(ctx, c.conn, methodStartTransaction, req)
	if err != nil {
		return StartTransactionResult{}, err
	}
	var result StartTransactionResult
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return StartTransactionResult{}, fmt.Errorf("unmarshal response: %w", err)
	}
	return result, nil
}

type attachRequest struct {
	ID   types.TransactionID
	Ping bool
}

func (c *GRPCCoordinatorClient) Attach(ctx context.Context, id types.TransactionID, ping bool) error {
	req, err := json.Marshal(attachRequest{ID: id, Ping: ping})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = invoke(ctx, c.conn, methodAttach, req)
	return err
}

type addParticipantRequest struct {
	ID     types.TransactionID
	CellID types.CellID
}

func (c *GRPCCoordinatorClient) AddParticipant(ctx context.Context, id types.TransactionID, cellID types.CellID) error {
	req, err := json.Marshal(addParticipantRequest{ID: id, CellID: cellID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = invoke(ctx, c.conn, methodAddParticipant, req)
	return err
}

func (c *GRPCCoordinatorClient) Ping(ctx context.Context, id types.TransactionID) error {
	req, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = invoke(ctx, c.conn, methodPing, req)
	return err
}

type commitRequest struct {
	ID   types.TransactionID
	Opts CommitOptions
}

type commitResponse struct {
	CommitTimestamp int64
}

func (c *GRPCCoordinatorClient) Commit(ctx context.Context, id types.TransactionID, opts CommitOptions) (int64, error) {
	req, err := json.Marshal(commitRequest{ID: id, Opts: opts})
	if err != nil {
		return 0, fmt.Errorf("marshal request: %w", err)
	}
	respBytes, err := invoke(ctx, c.conn, methodCommit, req)
	if err != nil {
		return 0, err
	}
	var resp commitResponse
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal response: %w", err)
	}
	return resp.CommitTimestamp, nil
}

type abortRequest struct {
	ID    types.TransactionID
	Force bool
}

func (c *GRPCCoordinatorClient) Abort(ctx context.Context, id types.TransactionID, force bool) error {
	req, err := json.Marshal(abortRequest{ID: id, Force: force})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = invoke(ctx, c.conn, methodAbort, req)
	return err
}

func (c *GRPCCoordinatorClient) Detach(ctx context.Context, id types.TransactionID) error {
	req, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	_, err = invoke(ctx, c.conn, methodDetach, req)
	return err
}

func (c *GRPCCoordinatorClient) SubscribeCommitted(id types.TransactionID, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed[id] = append(c.committed[id], fn)
}

func (c *GRPCCoordinatorClient) SubscribeAborted(id types.TransactionID, fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aborted[id] = append(c.aborted[id], fn)
}

// NotifyCommitted fires and clears the committed listeners for id. Each
// listener fires at most once (spec §4.H).
func (c *GRPCCoordinatorClient) NotifyCommitted(id types.TransactionID) {
	c.mu.Lock()
	fns := c.committed[id]
	delete(c.committed, id)
	delete(c.aborted, id)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// NotifyAborted fires and clears the aborted listeners for id.
func (c *GRPCCoordinatorClient) NotifyAborted(id types.TransactionID, err error) {
	c.mu.Lock()
	fns := c.aborted[id]
	delete(c.committed, id)
	delete(c.aborted, id)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}
