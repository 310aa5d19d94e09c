// Package client implements Component I: the externally-visible facade
// that executes every call under a bounded concurrency semaphore and a
// per-call timeout, retries table operations across mount-cache staleness,
// and owns the process-local registry of sticky transactions.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/fluxtable/tabletclient/pkg/celldirectory"
	"github.com/fluxtable/tabletclient/pkg/clientconfig"
	"github.com/fluxtable/tabletclient/pkg/log"
	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/mountcache"
	"github.com/fluxtable/tabletclient/pkg/router"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/schema"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/transaction"
	"github.com/fluxtable/tabletclient/pkg/types"
)

// TabletDialer reaches one tablet cell peer's TabletServiceClient by
// address. Component D (celldirectory) only picks the address; Client
// owns dialing and pooling the connections behind it.
type TabletDialer func(address string) (rpc.TabletServiceClient, error)

// Deps bundles the external collaborators a Client drives.
type Deps struct {
	Master      rpc.MasterClient
	Coordinator rpc.CoordinatorClient
	Directory   *celldirectory.Directory
	Dialer      TabletDialer
	Config      clientconfig.Config
}

// Client is the process-wide facade over the tablet commit subsystem
// (spec §4.I). One Client is normally constructed per process and shared
// by every caller.
type Client struct {
	deps    Deps
	mounts  *mountcache.Cache
	schemas *schema.Cache
	router  *router.Router
	sem     *semaphore.Weighted
	logger  zerolog.Logger

	connsMu sync.Mutex
	conns   map[string]rpc.TabletServiceClient

	stickyMu sync.Mutex
	sticky   map[types.TransactionID]*transaction.Transaction
}

// New builds a Client over deps.
func New(deps Deps) *Client {
	return &Client{
		deps:    deps,
		mounts:  mountcache.New(deps.Master, deps.Config),
		schemas: schema.NewCache(),
		router:  router.New(),
		sem:     semaphore.NewWeighted(int64(deps.Config.MaxConcurrentRequests)),
		logger:  log.WithComponent("client"),
		conns:   make(map[string]rpc.TabletServiceClient),
		sticky:  make(map[types.TransactionID]*transaction.Transaction),
	}
}

// Execute runs fn under the process-wide concurrency semaphore and an
// overall timeout (spec §4.I steps 1-3). It fails immediately, without
// waiting, when no semaphore slot is free.
func Execute[T any](ctx context.Context, c *Client, name string, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !c.sem.TryAcquire(1) {
		return zero, fmt.Errorf("%s: %w", name, tablerrors.ErrTooManyConcurrentRequests)
	}
	metrics.InFlightRequests.Inc()
	defer func() {
		metrics.InFlightRequests.Dec()
		c.sem.Release(1)
	}()

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.logger.Debug().Str("call", name).Msg("executing")
	start := time.Now()
	result, err := fn(callCtx)
	c.logger.Debug().Str("call", name).Dur("elapsed", time.Since(start)).Err(err).Msg("executed")
	return result, err
}

// CallAndRetryIfMetadataCacheIsInconsistent resolves path's mount info
// and runs cb against it, invalidating and re-resolving on the three
// staleness kinds and retrying, bounded by
// Config.TableMountInfoUpdateRetryCount (spec §4.I).
func CallAndRetryIfMetadataCacheIsInconsistent[T any](ctx context.Context, c *Client, path string, cb func(ctx context.Context, info *types.TableMountInfo) (T, error)) (T, error) {
	var zero T
	info, err := c.mounts.Get(ctx, path, mountcache.RefreshRevisions{})
	if err != nil {
		return zero, fmt.Errorf("resolve %s: %w", path, err)
	}

	for attempt := 0; ; attempt++ {
		result, callErr := cb(ctx, info)
		if callErr == nil {
			return result, nil
		}
		se, stale := tablerrors.AsStaleness(callErr)
		if !stale {
			return zero, callErr
		}
		if attempt >= c.deps.Config.TableMountInfoUpdateRetryCount {
			return zero, fmt.Errorf("%s: %w (exhausted %d retries)", path, callErr, c.deps.Config.TableMountInfoUpdateRetryCount)
		}
		metrics.RetriesTotal.WithLabelValues(retryReason(se.Kind)).Inc()

		c.mounts.InvalidateTable(ctx, path, info)
		select {
		case <-time.After(c.deps.Config.TableMountInfoUpdateRetryPeriod):
		case <-ctx.Done():
			return zero, ctx.Err()
		}

		refresh := mountcache.RefreshRevisions{Primary: info.PrimaryRevision}
		if se.Revision > 0 {
			refresh.Primary = se.Revision
		}
		refreshed, fetchErr := c.mounts.Get(ctx, path, refresh)
		if fetchErr != nil {
			return zero, fmt.Errorf("refresh %s after %s: %w", path, se.Kind, fetchErr)
		}
		info = refreshed
	}
}

func retryReason(kind tablerrors.Staleness) string {
	switch kind {
	case tablerrors.NoSuchTablet:
		return "no_such_tablet"
	case tablerrors.TabletNotMounted:
		return "tablet_not_mounted"
	case tablerrors.InvalidMountRevision:
		return "invalid_mount_revision"
	default:
		return "unknown"
	}
}

// invokeCell dispatches call against cellID's chosen peer, hedged per
// celldirectory's backup-request policy (spec §4.D), dialing (and
// pooling) whichever peer(s) get tried.
func (c *Client) invokeCell(ctx context.Context, cellID types.CellID, kind celldirectory.PrimaryKind, call func(client rpc.TabletServiceClient) (interface{}, error)) (interface{}, error) {
	return c.deps.Directory.Invoke(ctx, cellID, kind, func(ctx context.Context, address string) (interface{}, error) {
		client, err := c.dial(address)
		if err != nil {
			return nil, err
		}
		return call(client)
	})
}

func (c *Client) dial(address string) (rpc.TabletServiceClient, error) {
	c.connsMu.Lock()
	defer c.connsMu.Unlock()
	if conn, ok := c.conns[address]; ok {
		return conn, nil
	}
	conn, err := c.deps.Dialer(address)
	if err != nil {
		return nil, fmt.Errorf("dial tablet peer %s: %w", address, err)
	}
	c.conns[address] = conn
	return conn, nil
}

// resolver builds the transaction.TabletClientResolver a Transaction's
// commit path uses to reach a participant cell's primary peer, folding
// Component D's peer selection and this Client's connection pooling
// behind the single closure pkg/transaction expects.
func (c *Client) resolver(cellID types.CellID) (rpc.TabletServiceClient, error) {
	peer, err := c.deps.Directory.PrimaryPeer(cellID, celldirectory.Leader)
	if err != nil {
		return nil, fmt.Errorf("resolve primary peer for cell %s: %w", cellID.String(), err)
	}
	return c.dial(peer.Address)
}

func (c *Client) transactionDeps() transaction.Deps {
	return transaction.Deps{
		Coordinator: c.deps.Coordinator,
		SchemaCache: c.schemas,
		Router:      c.router,
		Resolver:    c.resolver,
		Config:      c.deps.Config,
	}
}

// StartTransaction starts a new transaction, registering it in the sticky
// registry when opts.Sticky is set (spec §4.I "Sticky transactions").
func (c *Client) StartTransaction(ctx context.Context, opts rpc.StartTransactionOptions) (*transaction.Transaction, error) {
	return Execute(ctx, c, "StartTransaction", opts.Timeout, func(ctx context.Context) (*transaction.Transaction, error) {
		txn, err := transaction.New(ctx, c.transactionDeps(), opts)
		if err != nil {
			return nil, err
		}
		if opts.Sticky {
			c.stickyMu.Lock()
			c.sticky[txn.ID()] = txn
			c.stickyMu.Unlock()
			txn.SubscribeCommitted(func() { c.forgetSticky(txn.ID()) })
			txn.SubscribeAborted(func(error) { c.forgetSticky(txn.ID()) })
		}
		return txn, nil
	})
}

// AttachTransaction returns a sticky transaction previously started by
// this process, or attaches a fresh shell against the coordinator for a
// non-sticky id (spec §4.I "Sticky transactions").
func (c *Client) AttachTransaction(ctx context.Context, id types.TransactionID, sticky bool, ping bool) (*transaction.Transaction, error) {
	if sticky {
		c.stickyMu.Lock()
		txn, ok := c.sticky[id]
		c.stickyMu.Unlock()
		if ok {
			return txn, nil
		}
		return nil, fmt.Errorf("client: no sticky transaction registered locally for %s", id.String())
	}
	if err := c.deps.Coordinator.Attach(ctx, id, ping); err != nil {
		return nil, fmt.Errorf("client: attach %s: %w", id.String(), err)
	}
	return transaction.Attach(c.transactionDeps(), id), nil
}

// forgetSticky drops a sticky transaction once it reaches a terminal
// state, so the registry doesn't grow without bound.
func (c *Client) forgetSticky(id types.TransactionID) {
	c.stickyMu.Lock()
	delete(c.sticky, id)
	c.stickyMu.Unlock()
}
