// Package cellsession implements Component G: the per-participant-cell
// signature accounting a transaction's commit protocol relies on, plus
// the custom transaction-action payload channel.
package cellsession

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxtable/tabletclient/pkg/log"
	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/types"
)

// Session tracks signature allocation for one participant cell within
// one transaction (spec §4.G). A Session must have RegisterRequests
// called exactly once before any AllocateRequestSignature call.
type Session struct {
	mu sync.Mutex

	cellID      types.CellID
	transaction types.TransactionID
	terminal    int64
	atomicity   types.Atomicity
	tablet      rpc.TabletServiceClient

	registered int
	allocated  int
	emitted    int64

	action []byte
}

// New builds a cell session. terminal is the configured terminal
// signature constant (spec.md §9 open question, resolved in
// clientconfig.Config.TerminalSignature).
func New(cellID types.CellID, transaction types.TransactionID, terminal int64, atomicity types.Atomicity, tablet rpc.TabletServiceClient) *Session {
	return &Session{
		cellID:      cellID,
		transaction: transaction,
		terminal:    terminal,
		atomicity:   atomicity,
		tablet:      tablet,
	}
}

// RegisterRequests declares how many RPCs this session will issue
// against its cell. Must be called exactly once, before any allocation.
func (s *Session) RegisterRequests(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered != 0 {
		return fmt.Errorf("cellsession: RegisterRequests already called for cell %s", s.cellID.String())
	}
	if count <= 0 {
		return fmt.Errorf("cellsession: RegisterRequests count must be positive, got %d", count)
	}
	s.registered = count
	return nil
}

// AllocateRequestSignature returns 1 for every call except the last,
// which returns terminal - emitted_so_far, so that the cell observes
// signatures summing to exactly terminal (spec §4.G invariant 1).
func (s *Session) AllocateRequestSignature() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registered == 0 {
		return 0, fmt.Errorf("cellsession: AllocateRequestSignature before RegisterRequests for cell %s", s.cellID.String())
	}
	if s.allocated >= s.registered {
		return 0, fmt.Errorf("cellsession: AllocateRequestSignature called more than %d times for cell %s", s.registered, s.cellID.String())
	}
	s.allocated++
	if s.allocated < s.registered {
		s.emitted++
		return 1, nil
	}
	sig := s.terminal - s.emitted
	if sig < 0 {
		metrics.SignatureTerminalMismatch.Inc()
	}
	s.emitted = s.terminal
	return sig, nil
}

// RegisterAction appends a custom transaction-action payload, which
// consumes one signature of its own when sent via Invoke. Disallowed
// unless the transaction's atomicity is Full (spec §4.G).
func (s *Session) RegisterAction(data []byte) error {
	if s.atomicity != types.AtomicityFull {
		return fmt.Errorf("cellsession: RegisterAction requires full atomicity, got %q", s.atomicity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.action = append(s.action, data...)
	return nil
}

// Invoke sends the registered action payload (if any) to the
// participant's tablet service, consuming one signature.
func (s *Session) Invoke(ctx context.Context) error {
	s.mu.Lock()
	action := s.action
	s.mu.Unlock()
	if len(action) == 0 {
		return nil
	}
	sig, err := s.AllocateRequestSignature()
	if err != nil {
		return fmt.Errorf("cellsession: allocate signature for action: %w", err)
	}
	logger := log.WithCellID(s.cellID.String())
	logger.Debug().Str("transaction_id", s.transaction.String()).Msg("posting transaction action")
	return s.tablet.PostAction(ctx, rpc.ActionRequest{
		TransactionID: s.transaction,
		CellID:        s.cellID,
		Data:          action,
		Signature:     sig,
	})
}

// EmittedSum reports the signature total emitted so far, for tests and
// the terminal-sum invariant check in commitsession.
func (s *Session) EmittedSum() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted
}
