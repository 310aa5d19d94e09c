// Package celldirectory implements Component D: resolving a participant
// cell id to its peer set and picking a primary (and optional backup)
// peer to send a request to.
package celldirectory

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/fluxtable/tabletclient/pkg/types"
)

// PeerRole is a peer's standing within its cell's replication group.
type PeerRole string

const (
	RoleLeader   PeerRole = "leader"
	RoleFollower PeerRole = "follower"
)

// Peer is one member of a cell's replica set.
type Peer struct {
	Address string
	Role    PeerRole
	Voting  bool
}

// CellDescriptor is the peer set for one participant cell.
type CellDescriptor struct {
	CellID types.CellID
	Peers  []Peer
}

// PrimaryKind selects how a primary peer is chosen among a descriptor's
// peers (spec §4.D).
type PrimaryKind int

const (
	Leader PrimaryKind = iota
	LeaderOrFollower
	Follower
)

var ErrNoLeader = errors.New("celldirectory: no leader known for cell")
var ErrUnknownCell = errors.New("celldirectory: unknown cell")

// Directory maps CellID -> CellDescriptor. Descriptors are installed by
// whatever keeps cluster topology current (not modeled here — spec §6
// treats this as collaborator-provided); Directory only implements peer
// selection over whatever is installed.
type Directory struct {
	mu    sync.RWMutex
	rng   *rand.Rand
	rngMu sync.Mutex
	cells map[types.CellID]CellDescriptor

	// BackupRequestDelay is how long to wait for the primary before
	// dispatching a hedged request to the backup peer.
	BackupRequestDelay time.Duration
}

// New builds an empty directory.
func New(backupRequestDelay time.Duration) *Directory {
	return &Directory{
		cells:              make(map[types.CellID]CellDescriptor),
		rng:                rand.New(rand.NewSource(1)),
		BackupRequestDelay: backupRequestDelay,
	}
}

// Install replaces (or adds) a cell's descriptor.
func (d *Directory) Install(desc CellDescriptor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cells[desc.CellID] = desc
}

// Describe returns the descriptor for a cell.
func (d *Directory) Describe(cellID types.CellID) (CellDescriptor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	desc, ok := d.cells[cellID]
	if !ok {
		return CellDescriptor{}, fmt.Errorf("cell %s: %w", cellID.String(), ErrUnknownCell)
	}
	return desc, nil
}

func (d *Directory) intn(n int) int {
	d.rngMu.Lock()
	defer d.rngMu.Unlock()
	return d.rng.Intn(n)
}

// PrimaryPeer picks a primary peer from a cell's descriptor per kind.
func (d *Directory) PrimaryPeer(cellID types.CellID, kind PrimaryKind) (Peer, error) {
	desc, err := d.Describe(cellID)
	if err != nil {
		return Peer{}, err
	}
	switch kind {
	case Leader:
		for _, p := range desc.Peers {
			if p.Voting && p.Role == RoleLeader {
				return p, nil
			}
		}
		return Peer{}, fmt.Errorf("cell %s: %w", cellID.String(), ErrNoLeader)
	case Follower:
		followers := votingPeersWithRole(desc.Peers, RoleFollower)
		if len(followers) == 0 {
			return Peer{}, fmt.Errorf("cell %s: no follower peers", cellID.String())
		}
		return followers[d.intn(len(followers))], nil
	default: // LeaderOrFollower
		candidates := votingPeers(desc.Peers)
		if len(candidates) == 0 {
			return Peer{}, fmt.Errorf("cell %s: no voting peers", cellID.String())
		}
		return candidates[d.intn(len(candidates))], nil
	}
}

// BackupPeer picks a peer distinct from primary for a hedged request, or
// reports none available.
func (d *Directory) BackupPeer(cellID types.CellID, primary Peer) (Peer, bool, error) {
	desc, err := d.Describe(cellID)
	if err != nil {
		return Peer{}, false, err
	}
	var candidates []Peer
	for _, p := range desc.Peers {
		if p.Voting && p.Address != primary.Address {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return Peer{}, false, nil
	}
	return candidates[d.intn(len(candidates))], true, nil
}

func votingPeers(peers []Peer) []Peer {
	var out []Peer
	for _, p := range peers {
		if p.Voting {
			out = append(out, p)
		}
	}
	return out
}

func votingPeersWithRole(peers []Peer, role PeerRole) []Peer {
	var out []Peer
	for _, p := range peers {
		if p.Voting && p.Role == role {
			out = append(out, p)
		}
	}
	return out
}

// Call is what Invoke needs to reach a chosen peer; it is the function a
// caller supplies to make the actual RPC against one address.
type Call func(ctx context.Context, address string) (interface{}, error)

// Invoke wraps a primary call with optional backup hedging (spec §4.D):
// after BackupRequestDelay the backup address is also dispatched, and
// the first successful reply wins.
func (d *Directory) Invoke(ctx context.Context, cellID types.CellID, kind PrimaryKind, call Call) (interface{}, error) {
	primary, err := d.PrimaryPeer(cellID, kind)
	if err != nil {
		return nil, err
	}
	backup, hasBackup, err := d.BackupPeer(cellID, primary)
	if err != nil || !hasBackup || d.BackupRequestDelay <= 0 {
		return call(ctx, primary.Address)
	}

	type result struct {
		val interface{}
		err error
	}
	results := make(chan result, 2)
	dispatch := func(address string) {
		go func() {
			val, err := call(ctx, address)
			results <- result{val, err}
		}()
	}

	dispatch(primary.Address)
	pending := 1
	backupSent := false

	timer := time.NewTimer(d.BackupRequestDelay)
	defer timer.Stop()

	var firstErr error
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err == nil {
				return r.val, nil
			}
			if firstErr == nil {
				firstErr = r.err
			}
			if !backupSent {
				backupSent = true
				dispatch(backup.Address)
				pending++
			}
		case <-timer.C:
			if !backupSent {
				backupSent = true
				dispatch(backup.Address)
				pending++
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, firstErr
}
