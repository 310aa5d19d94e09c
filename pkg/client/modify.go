package client

import (
	"context"
	"fmt"
	"time"

	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/mountcache"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/transaction"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

// ModifyOptions configures a Modify call's Execute envelope.
type ModifyOptions struct {
	Timeout time.Duration
}

// Modify buffers row modifications against an already-started txn (spec
// §2 "Flow on write": caller -> I -> H). It resolves path's mount info
// so txn has something to route against at Commit time. Staleness
// discovered once txn actually commits is not retried here — a caller
// driving its own multi-table transaction owns replaying ModifyRows
// itself; ModifyAndCommit is the single-transaction entry point that
// wires the full retry envelope around both calls.
func (c *Client) Modify(ctx context.Context, txn *transaction.Transaction, path string, tableSchema *types.Schema, command wire.WriteCommand, rows []rowbuffer.Row, tabletIndexColumn int, opts ModifyOptions) error {
	_, err := Execute(ctx, c, "Modify", opts.Timeout, func(ctx context.Context) (struct{}, error) {
		info, err := c.mounts.Get(ctx, path, mountcache.RefreshRevisions{})
		if err != nil {
			return struct{}{}, fmt.Errorf("modify %s: %w", path, err)
		}
		return struct{}{}, txn.ModifyRows(ctx, path, info, tableSchema, command, rows, tabletIndexColumn)
	})
	return err
}

// ModifyAndCommitOptions configures ModifyAndCommit's Execute envelope,
// the transaction it starts, and the commit it drives.
type ModifyAndCommitOptions struct {
	Timeout           time.Duration
	Start             rpc.StartTransactionOptions
	Commit            rpc.CommitOptions
	TabletIndexColumn int
}

// ModifyAndCommit runs rows through a single auto-committed transaction
// against path, retrying the whole ModifyRows+Commit sequence across
// mount-cache staleness (spec §4.F "the I retry envelope ... retries
// the whole ModifyRows/Lookup call", scenario S5). A transaction is
// one-shot — Commit moves it out of Active whether it succeeds or
// fails — so each retry starts a fresh transaction against freshly
// resolved mount info rather than reusing the failed one.
func (c *Client) ModifyAndCommit(ctx context.Context, path string, tableSchema *types.Schema, command wire.WriteCommand, rows []rowbuffer.Row, opts ModifyAndCommitOptions) (int64, error) {
	return Execute(ctx, c, "ModifyAndCommit", opts.Timeout, func(ctx context.Context) (int64, error) {
		info, err := c.mounts.Get(ctx, path, mountcache.RefreshRevisions{})
		if err != nil {
			return 0, fmt.Errorf("modify %s: %w", path, err)
		}

		for attempt := 0; ; attempt++ {
			txn, err := transaction.New(ctx, c.transactionDeps(), opts.Start)
			if err != nil {
				return 0, fmt.Errorf("modify %s: start transaction: %w", path, err)
			}

			if err := txn.ModifyRows(ctx, path, info, tableSchema, command, rows, opts.TabletIndexColumn); err != nil {
				_ = txn.Abort(ctx)
				return 0, fmt.Errorf("modify %s: %w", path, err)
			}

			commitTS, commitErr := txn.Commit(ctx, opts.Commit)
			if commitErr == nil {
				return commitTS, nil
			}

			se, stale := tablerrors.AsStaleness(commitErr)
			if !stale {
				return 0, fmt.Errorf("modify %s: %w", path, commitErr)
			}
			if attempt >= c.deps.Config.TableMountInfoUpdateRetryCount {
				return 0, fmt.Errorf("modify %s: %w (exhausted %d retries)", path, commitErr, c.deps.Config.TableMountInfoUpdateRetryCount)
			}
			metrics.RetriesTotal.WithLabelValues(retryReason(se.Kind)).Inc()

			c.mounts.InvalidateTable(ctx, path, info)
			select {
			case <-time.After(c.deps.Config.TableMountInfoUpdateRetryPeriod):
			case <-ctx.Done():
				return 0, ctx.Err()
			}

			refresh := mountcache.RefreshRevisions{Primary: info.PrimaryRevision}
			if se.Revision > 0 {
				refresh.Primary = se.Revision
			}
			refreshed, fetchErr := c.mounts.Get(ctx, path, refresh)
			if fetchErr != nil {
				return 0, fmt.Errorf("modify %s: refresh after %s: %w", path, se.Kind, fetchErr)
			}
			info = refreshed
		}
	})
}
