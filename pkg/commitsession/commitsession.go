// Package commitsession implements Component F: the per-shard buffer
// that accepts submitted row edits, merges same-key runs, splits the
// result into fixed-size batches, and dispatches them in order.
package commitsession

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/fluxtable/tabletclient/pkg/cellsession"
	"github.com/fluxtable/tabletclient/pkg/log"
	"github.com/fluxtable/tabletclient/pkg/metrics"
	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/rpc"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/fluxtable/tabletclient/pkg/wire"
)

// submission is one buffered SubmitRow call.
type submission struct {
	command    wire.WriteCommand
	row        rowbuffer.Row
	sequential int64
}

// Session buffers writes for one tablet within one transaction. It is
// not safe for concurrent SubmitRow/Prepare/Invoke calls — a
// transaction issues them from a single goroutine per shard.
type Session struct {
	tabletID      types.TabletID
	table         *types.TableMountInfo
	sorted        bool
	keyColumns    int
	maxRowsPerReq int
	maxRowsPerTxn int

	submissions []submission
	nextSeq     int64
	totalRows   int
}

// New builds a commit session for one tablet.
func New(tabletID types.TabletID, table *types.TableMountInfo, keyColumns, maxRowsPerRequest, maxRowsPerTransaction int) *Session {
	return &Session{
		tabletID:      tabletID,
		table:         table,
		sorted:        table.Sorted,
		keyColumns:    keyColumns,
		maxRowsPerReq: maxRowsPerRequest,
		maxRowsPerTxn: maxRowsPerTransaction,
	}
}

// SubmitRow buffers one edit. Accepted in arbitrary order; ordering is
// resolved at Prepare time (spec §4.F).
func (s *Session) SubmitRow(command wire.WriteCommand, row rowbuffer.Row) error {
	if s.totalRows >= s.maxRowsPerTxn {
		return fmt.Errorf("commitsession: tablet %s exceeded MaxRowsPerTransaction=%d", s.tabletID.String(), s.maxRowsPerTxn)
	}
	s.submissions = append(s.submissions, submission{command: command, row: row, sequential: s.nextSeq})
	s.nextSeq++
	s.totalRows++
	return nil
}

// Batch is one fixed-size, envelope-compressed unit of transmission.
type Batch struct {
	Records  []rowbuffer.Record
	Envelope wire.Envelope
}

// Prepare sorts and merges buffered edits (for sorted tables) or leaves
// them in submission order (for ordered tables), then splits the result
// into batches of at most maxRowsPerReq records, each compressed with
// codec (spec §4.F "Batching").
func (s *Session) Prepare(codec wire.CodecID) ([]Batch, error) {
	records, err := s.fold()
	if err != nil {
		return nil, err
	}

	var batches []Batch
	for start := 0; start < len(records); start += s.maxRowsPerReq {
		end := start + s.maxRowsPerReq
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]
		payload, err := rowbuffer.EncodeBatch(chunk)
		if err != nil {
			return nil, fmt.Errorf("commitsession: encode batch for tablet %s: %w", s.tabletID.String(), err)
		}
		env, err := wire.WrapEnvelope(codec, payload)
		if err != nil {
			return nil, fmt.Errorf("commitsession: compress batch for tablet %s: %w", s.tabletID.String(), err)
		}
		batches = append(batches, Batch{Records: chunk, Envelope: env})
	}
	return batches, nil
}

// fold sorts (for sorted tables) and merges same-key runs per spec §4.F
// "Sorted merge": Delete wipes partial row state, Write overrides
// non-key columns, and the last edit in a run decides whether the
// emitted record is a write or a delete.
func (s *Session) fold() ([]rowbuffer.Record, error) {
	if !s.sorted {
		out := make([]rowbuffer.Record, len(s.submissions))
		for i, sub := range s.submissions {
			out[i] = rowbuffer.Record{Command: sub.command, Row: sub.row}
		}
		return out, nil
	}

	ordered := make([]submission, len(s.submissions))
	copy(ordered, s.submissions)
	sort.Slice(ordered, func(i, j int) bool {
		c, err := rowbuffer.CompareKeys(ordered[i].row, ordered[j].row, s.keyColumns)
		if err != nil {
			return false
		}
		if c != 0 {
			return c < 0
		}
		return ordered[i].sequential < ordered[j].sequential
	})

	var out []rowbuffer.Record
	i := 0
	for i < len(ordered) {
		j := i + 1
		for j < len(ordered) {
			c, err := rowbuffer.CompareKeys(ordered[i].row, ordered[j].row, s.keyColumns)
			if err != nil {
				return nil, fmt.Errorf("commitsession: tablet %s: incomparable keys: %w", s.tabletID.String(), err)
			}
			if c != 0 {
				break
			}
			j++
		}
		merged, err := mergeRun(ordered[i:j])
		if err != nil {
			return nil, err
		}
		out = append(out, merged)
		i = j
	}
	return out, nil
}

// mergeRun folds a maximal equal-key run of edits into one record.
func mergeRun(run []submission) (rowbuffer.Record, error) {
	result := run[0].row.Clone()
	command := run[0].command

	for _, sub := range run[1:] {
		switch sub.command {
		case wire.CommandDeleteRow:
			result = sub.row.Clone()
			command = wire.CommandDeleteRow
		case wire.CommandWriteRow, wire.CommandVersionedWriteRow:
			result = overrideNonKey(result, sub.row)
			command = sub.command
		default:
			return rowbuffer.Record{}, fmt.Errorf("commitsession: unexpected command %s in merge run", sub.command)
		}
	}
	return rowbuffer.Record{Command: command, Row: result}, nil
}

// overrideNonKey layers later's non-null values over base, leaving base's
// value where later is null (a later write that omits a column doesn't
// clobber it).
func overrideNonKey(base, later rowbuffer.Row) rowbuffer.Row {
	out := base.Clone()
	for i := range out.Values {
		if i >= len(later.Values) {
			break
		}
		if !later.Values[i].IsNull() {
			out.Values[i] = later.Values[i]
		}
	}
	return out
}

// Invoke sends batches produced by Prepare to tablet in order, each
// carrying a signature allocated from signer and the shared transaction
// header fields (spec §4.F "Transmission").
func (s *Session) Invoke(
	ctx context.Context,
	tablet rpc.TabletServiceClient,
	signer *cellsession.Session,
	batches []Batch,
	txn types.TransactionID,
	startTimestamp int64,
	timeout time.Duration,
	durability types.Durability,
	mutationIDPrefix string,
) error {
	logger := log.WithTabletID(s.tabletID.String())
	tabletInfo := s.table.TabletByID(s.tabletID)
	if tabletInfo == nil {
		return fmt.Errorf("commitsession: tablet %s not present in mount info", s.tabletID.String())
	}
	for i, batch := range batches {
		sig, err := signer.AllocateRequestSignature()
		if err != nil {
			return fmt.Errorf("commitsession: allocate signature for tablet %s batch %d: %w", s.tabletID.String(), i, err)
		}
		envelopeBytes, err := batch.Envelope.MarshalBinary()
		if err != nil {
			return fmt.Errorf("commitsession: marshal envelope for tablet %s batch %d: %w", s.tabletID.String(), i, err)
		}
		header := rpc.WriteRequestHeader{
			TransactionID:      txn,
			TransactionStartTS: startTimestamp,
			Timeout:            timeout,
			TabletID:           s.tabletID,
			MountRevision:      tabletInfo.MountRevision,
			Durability:         durability,
			Signature:          sig,
			MutationID:         fmt.Sprintf("%s-%d", mutationIDPrefix, i),
		}
		logger.Debug().Int("batch", i).Int("records", len(batch.Records)).Msg("dispatching write batch")
		if _, err := tablet.Write(ctx, header, envelopeBytes); err != nil {
			return fmt.Errorf("commitsession: write tablet %s batch %d: %w", s.tabletID.String(), i, err)
		}
		for _, rec := range batch.Records {
			metrics.RowsWrittenTotal.WithLabelValues(commandLabel(rec.Command)).Inc()
		}
	}
	return nil
}

func commandLabel(cmd wire.WriteCommand) string {
	switch cmd {
	case wire.CommandWriteRow:
		return "write"
	case wire.CommandDeleteRow:
		return "delete"
	case wire.CommandVersionedWriteRow:
		return "versioned_write"
	default:
		return "unknown"
	}
}
