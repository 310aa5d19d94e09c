// Package mountcache implements Component C: an async expiring cache of
// path -> TableMountInfo, populated through a two-phase fetch against a
// primary and secondary master collaborator.
package mountcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/fluxtable/tabletclient/pkg/clientconfig"
	"github.com/fluxtable/tabletclient/pkg/log"
	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/tablerrors"
	"github.com/fluxtable/tabletclient/pkg/types"
)

// RefreshRevisions bounds a lookup: the returned entry's revisions must
// be >= both of these.
type RefreshRevisions struct {
	Primary   int64
	Secondary int64
}

type entry struct {
	info      *types.TableMountInfo
	err       error
	expiresAt time.Time
	onAdded   []func(*types.TableMountInfo)
}

// Cache is the process-wide mount info cache. One Cache is normally
// shared by every Component E/F/H caller in a client.
type Cache struct {
	master rpc.MasterClient
	cfg    clientconfig.Config
	logger zerolog.Logger

	mu       sync.Mutex
	entries  map[string]*entry
	inFlight map[string]*inFlightFetch
}

type inFlightFetch struct {
	done chan struct{}
	info *types.TableMountInfo
	err  error
}

// New builds a mount cache backed by master.
func New(master rpc.MasterClient, cfg clientconfig.Config) *Cache {
	return &Cache{
		master:   master,
		cfg:      cfg,
		logger:   log.WithComponent("mountcache"),
		entries:  make(map[string]*entry),
		inFlight: make(map[string]*inFlightFetch),
	}
}

// Get returns the mount info for path, fetching (or waiting on an
// in-flight fetch for) it if the cached entry is missing, expired, or
// stale with respect to refresh.
func (c *Cache) Get(ctx context.Context, path string, refresh RefreshRevisions) (*types.TableMountInfo, error) {
	if cached, ok := c.freshEntry(path, refresh); ok {
		metrics.MountCacheHits.Inc()
		return cached.info, cached.err
	}
	metrics.MountCacheMisses.Inc()
	return c.fetchShared(ctx, path, refresh)
}

func (c *Cache) freshEntry(path string, refresh RefreshRevisions) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	if e.err != nil {
		return nil, false
	}
	if e.info.PrimaryRevision < refresh.Primary || e.info.SecondaryRevision < refresh.Secondary {
		return nil, false
	}
	return e, true
}

// fetchShared runs one GetSession per path at a time; concurrent callers
// share the in-flight result (spec §4.C "Concurrency").
func (c *Cache) fetchShared(ctx context.Context, path string, refresh RefreshRevisions) (*types.TableMountInfo, error) {
	c.mu.Lock()
	if f, ok := c.inFlight[path]; ok {
		c.mu.Unlock()
		<-f.done
		return f.info, f.err
	}
	f := &inFlightFetch{done: make(chan struct{})}
	c.inFlight[path] = f
	c.mu.Unlock()

	info, err := c.runSession(ctx, path, refresh)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("mount info fetch failed")
	}
	f.info, f.err = info, err
	close(f.done)

	c.mu.Lock()
	delete(c.inFlight, path)
	ttl := c.cfg.ExpireAfterSuccessfulUpdateTime
	if err != nil {
		ttl = c.cfg.ExpireAfterFailedUpdateTime
	}
	var onAdded []func(*types.TableMountInfo)
	if prev, ok := c.entries[path]; ok {
		onAdded = prev.onAdded
	}
	e := &entry{info: info, err: err, expiresAt: time.Now().Add(ttl), onAdded: onAdded}
	c.entries[path] = e
	c.mu.Unlock()

	if err == nil {
		for _, fn := range e.onAdded {
			fn(info)
		}
	}
	return info, err
}

// runSession performs the two-phase fetch described in spec §4.C,
// retrying phase 2 against tightened revision bounds on staleness.
func (c *Cache) runSession(ctx context.Context, path string, refresh RefreshRevisions) (*types.TableMountInfo, error) {
	attrs, err := c.master.GetBasicAttributes(ctx, path, refresh.Primary)
	if err != nil {
		return nil, fmt.Errorf("get basic attributes for %s: %w", path, err)
	}
	if !attrs.Dynamic {
		return nil, fmt.Errorf("%s: %w", path, tablerrors.ErrNotDynamic)
	}

	primaryRevision := attrs.PrimaryRevision
	secondaryRevision := refresh.Secondary

	var info *types.TableMountInfo
	for attempt := 0; attempt < 3; attempt++ {
		info, err = c.master.GetMountInfo(ctx, attrs.TableID, secondaryRevision)
		if err == nil {
			break
		}
		se, stale := tablerrors.AsStaleness(err)
		if !stale {
			return nil, fmt.Errorf("get mount info for %s: %w", path, err)
		}
		switch attempt {
		case 0:
			secondaryRevision = primaryRevision
		case 1:
			secondaryRevision = se.Revision
		default:
			return nil, fmt.Errorf("get mount info for %s after retries: %w", path, err)
		}
	}
	if err != nil {
		return nil, err
	}
	info.PrimaryRevision = primaryRevision
	info.FetchedAt = time.Now()
	return info, nil
}

// InvalidateTable drops the cached info for a table's path (keeping any
// OnAdded listeners registered for it) and begins a background refresh
// seeded with the invalidated entry's revisions as lower bounds (spec
// §4.C "Invalidation").
func (c *Cache) InvalidateTable(ctx context.Context, path string, info *types.TableMountInfo) {
	c.mu.Lock()
	if e, ok := c.entries[path]; ok {
		c.entries[path] = &entry{expiresAt: time.Time{}, onAdded: e.onAdded}
	}
	c.mu.Unlock()
	metrics.MountCacheInvalidations.Inc()

	refresh := RefreshRevisions{}
	if info != nil {
		refresh = RefreshRevisions{Primary: info.PrimaryRevision, Secondary: info.SecondaryRevision}
	}
	go func() {
		b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.cfg.TableMountInfoUpdateRetryCount))
		_ = backoff.Retry(func() error {
			_, err := c.fetchShared(ctx, path, refresh)
			return err
		}, b)
	}()
}

// OnAdded registers a listener invoked whenever a fresh entry for path
// is installed, in addition to the value returned to the caller that
// triggered the fetch (spec §4.C step 3).
func (c *Cache) OnAdded(path string, fn func(*types.TableMountInfo)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[path]
	if !ok {
		e = &entry{expiresAt: time.Time{}}
		c.entries[path] = e
	}
	e.onAdded = append(e.onAdded, fn)
}

// Status reports a point-in-time snapshot of cached entries, for
// introspection endpoints and tests (SPEC_FULL §4 supplemented feature).
type Status struct {
	Path      string
	HasError  bool
	ExpiresAt time.Time
}

func (c *Cache) Status() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Status, 0, len(c.entries))
	for path, e := range c.entries {
		out = append(out, Status{Path: path, HasError: e.err != nil, ExpiresAt: e.expiresAt})
	}
	return out
}
