package client

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fluxtable/tabletclient/pkg/celldirectory"
	"github.com/fluxtable/tabletclient/pkg/router"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

// LookupOptions configures a Lookup call (spec §6 "Wire: LookupRows").
type LookupOptions struct {
	Timeout             time.Duration
	ColumnFilterIndexes []int
	Timestamp           int64
	KeepMissingRows     bool
}

// Lookup reads keys from path in caller order (spec §2 "Flow on read"):
// resolve mount info, group keys per shard, pick a peer per shard
// (hedged per Component D), issue LookupRows, and reassemble rows in the
// order keys were given. A shard's missing keys decode to all-null rows;
// they are trimmed from the result unless KeepMissingRows is set.
func (c *Client) Lookup(ctx context.Context, path string, tableSchema *types.Schema, keys []rowbuffer.Row, opts LookupOptions) ([]rowbuffer.Row, error) {
	return Execute(ctx, c, "Lookup", opts.Timeout, func(ctx context.Context) ([]rowbuffer.Row, error) {
		return CallAndRetryIfMetadataCacheIsInconsistent(ctx, c, path, func(ctx context.Context, info *types.TableMountInfo) ([]rowbuffer.Row, error) {
			return c.lookupOnce(ctx, path, info, tableSchema, keys, opts)
		})
	})
}

type shardPlan struct {
	tablet  *types.Tablet
	indexes []int
	keys    []rowbuffer.Row
}

func (c *Client) lookupOnce(ctx context.Context, path string, info *types.TableMountInfo, tableSchema *types.Schema, keys []rowbuffer.Row, opts LookupOptions) ([]rowbuffer.Row, error) {
	evaluator, err := c.schemas.Get(tableSchema)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", path, err)
	}
	arena := rowbuffer.NewArena(0)

	shards := make(map[types.TabletID]*shardPlan)
	var order []types.TabletID
	for i, key := range keys {
		evaluated, err := evaluator.EvaluateKeys(arena, key)
		if err != nil {
			return nil, fmt.Errorf("lookup %s: evaluate key %d: %w", path, i, err)
		}
		tablet, err := c.router.Route(info, evaluated, -1, router.ForRead, types.TransactionID{})
		if err != nil {
			return nil, fmt.Errorf("lookup %s: route key %d: %w", path, i, err)
		}
		plan, ok := shards[tablet.TabletID]
		if !ok {
			plan = &shardPlan{tablet: tablet}
			shards[tablet.TabletID] = plan
			order = append(order, tablet.TabletID)
		}
		plan.indexes = append(plan.indexes, i)
		plan.keys = append(plan.keys, evaluated)
	}

	results := make([]rowbuffer.Row, len(keys))
	group, gctx := errgroup.WithContext(ctx)
	for _, tabletID := range order {
		plan := shards[tabletID]
		group.Go(func() error {
			rows, err := c.lookupShard(gctx, info, plan, opts)
			if err != nil {
				return fmt.Errorf("lookup %s: shard %s: %w", path, plan.tablet.TabletID.String(), err)
			}
			for i, idx := range plan.indexes {
				if i < len(rows) {
					results[idx] = rows[i]
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	if opts.KeepMissingRows {
		return results, nil
	}
	out := results[:0]
	for _, row := range results {
		if !isAllNull(row) {
			out = append(out, row)
		}
	}
	return out, nil
}

func (c *Client) lookupShard(ctx context.Context, info *types.TableMountInfo, plan *shardPlan, opts LookupOptions) ([]rowbuffer.Row, error) {
	keyBytes, err := rowbuffer.EncodeRowset(plan.keys)
	if err != nil {
		return nil, fmt.Errorf("encode key rowset: %w", err)
	}
	keyEnvelope, err := wire.WrapEnvelope(wire.CodecZstd, keyBytes)
	if err != nil {
		return nil, fmt.Errorf("compress key rowset: %w", err)
	}
	attachment, err := keyEnvelope.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal key envelope: %w", err)
	}
	header := rpc.LookupRequestHeader{
		TabletID:            plan.tablet.TabletID,
		MountRevision:       plan.tablet.MountRevision,
		Timestamp:           opts.Timestamp,
		ResponseCodec:       wire.CodecZstd,
		ColumnFilterIndexes: opts.ColumnFilterIndexes,
	}

	raw, err := c.invokeCell(ctx, plan.tablet.CellID, celldirectory.LeaderOrFollower, func(client rpc.TabletServiceClient) (interface{}, error) {
		return client.LookupRows(ctx, header, attachment)
	})
	if err != nil {
		return nil, err
	}
	resp := raw.(rpc.LookupResponse)
	payload, err := resp.Envelope.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("unwrap envelope: %w", err)
	}
	return rowbuffer.DecodeRowset(payload)
}

func isAllNull(row rowbuffer.Row) bool {
	if len(row.Values) == 0 {
		return true
	}
	for _, v := range row.Values {
		if !v.IsNull() {
			return false
		}
	}
	return true
}
