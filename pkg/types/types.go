// Package types holds the data model shared by every component of the
// tablet commit client: table/tablet/cell identity, schema kinds, mount
// info, and the transaction enums from spec §3.
package types

import (
	"time"

	"github.com/google/uuid"
)

// TableID identifies a table, stable across renames.
type TableID uuid.UUID

// String renders the table id in canonical UUID form.
func (id TableID) String() string { return uuid.UUID(id).String() }

// TabletID identifies one shard of a dynamic table.
type TabletID uuid.UUID

func (id TabletID) String() string { return uuid.UUID(id).String() }

// CellID identifies a participant cell (a replicated state-machine group).
type CellID uuid.UUID

func (id CellID) String() string { return uuid.UUID(id).String() }

// TransactionID is a 128-bit client-visible transaction handle.
type TransactionID uuid.UUID

func (id TransactionID) String() string { return uuid.UUID(id).String() }

// NewTransactionID generates a fresh random transaction id.
func NewTransactionID() TransactionID { return TransactionID(uuid.New()) }

// SchemaKind names one of the views a table schema can be consulted under.
type SchemaKind string

const (
	SchemaPrimary                SchemaKind = "primary"
	SchemaWrite                  SchemaKind = "write"
	SchemaVersionedWrite         SchemaKind = "versioned_write"
	SchemaDelete                 SchemaKind = "delete"
	SchemaQuery                  SchemaKind = "query"
	SchemaLookup                 SchemaKind = "lookup"
	SchemaPrimaryWithTabletIndex SchemaKind = "primary_with_tablet_index"
)

// TabletState is the mount lifecycle state of one tablet.
type TabletState string

const (
	TabletMounted  TabletState = "mounted"
	TabletFreezing TabletState = "freezing"
	TabletFrozen   TabletState = "frozen"
	TabletUnmounted TabletState = "unmounted"
)

// Atomicity selects the write durability/isolation mode of a transaction.
type Atomicity string

const (
	AtomicityFull Atomicity = "full"
	AtomicityNone Atomicity = "none"
)

// Durability selects whether a write must be made durable before the RPC
// completes.
type Durability string

const (
	DurabilitySync  Durability = "sync"
	DurabilityAsync Durability = "async"
)

// TransactionState is the state-machine position of a Transaction (§3, §4.H).
type TransactionState string

const (
	StateActive TransactionState = "active"
	StateCommit TransactionState = "commit"
	StateAbort  TransactionState = "abort"
	StateFlush  TransactionState = "flush"
	StateDetach TransactionState = "detach"
)

// ColumnSchema describes one column of a table's Primary schema.
type ColumnSchema struct {
	Name       string
	Key        bool
	Computed   bool
	Expression string // non-empty when Computed is true
}

// Schema is the Primary schema of a table plus the views derived from it.
type Schema struct {
	Columns           []ColumnSchema
	NeedKeyEvaluation bool
}

// KeyColumns returns the schema's key columns in declared order.
func (s Schema) KeyColumns() []ColumnSchema {
	var out []ColumnSchema
	for _, c := range s.Columns {
		if c.Key {
			out = append(out, c)
		}
	}
	return out
}

// Tablet is one shard of a dynamic table, owned by a single CellID.
type Tablet struct {
	TabletID      TabletID
	CellID        CellID
	MountRevision int64
	State         TabletState
	PivotKey      []any // sorted tables: the tablet's lower-bound key
	Index         int   // ordered tables: the tablet's position
	InMemoryMode  string
}

// TableMountInfo is the entity Component C (the mount cache) produces and
// caches, keyed by path.
type TableMountInfo struct {
	TableID           TableID
	Dynamic           bool
	Sorted            bool
	UpstreamReplicaID CellID
	NeedKeyEvaluation bool
	Tablets           []*Tablet
	PrimaryRevision   int64
	SecondaryRevision int64
	LowerCapBound     []any
	UpperCapBound     []any
	FetchedAt         time.Time
}

// TabletByID finds a tablet by id, or nil.
func (m *TableMountInfo) TabletByID(id TabletID) *Tablet {
	for _, t := range m.Tablets {
		if t.TabletID == id {
			return t
		}
	}
	return nil
}
