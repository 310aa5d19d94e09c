// Package tablerrors defines the stable error taxonomy surfaced to callers
// of the tablet commit client (spec §6, §7): metadata-staleness errors that
// the retry envelope knows how to recover from, and semantic/fatal errors
// that are never retried.
package tablerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is by callers that only care about
// the kind, not the payload.
var (
	ErrTooManyConcurrentRequests = errors.New("too many concurrent requests")
	ErrAborted                   = errors.New("transaction aborted")
	ErrNotDynamic                = errors.New("table is not dynamic")
)

// Staleness classifies the three metadata-staleness kinds from §7 that the
// retry envelope invalidates-and-retries on.
type Staleness int

const (
	NoSuchTablet Staleness = iota
	TabletNotMounted
	InvalidMountRevision
)

func (s Staleness) String() string {
	switch s {
	case NoSuchTablet:
		return "NoSuchTablet"
	case TabletNotMounted:
		return "TabletNotMounted"
	case InvalidMountRevision:
		return "InvalidMountRevision"
	default:
		return "UnknownStaleness"
	}
}

// StalenessError is returned by the RPC layer when a write/lookup request
// failed because the client's view of a tablet's placement is stale.
// TabletID names the stale tablet; the retry envelope (pkg/client)
// invalidates the whole table's mount cache entry rather than that one
// tablet (§4.I). Revision, when non-zero, is the revision
// the collaborator actually holds — the mount cache (§4.C) uses it as
// the tightened bound for its next retry.
type StalenessError struct {
	Kind     Staleness
	TabletID string
	Revision int64
}

func (e *StalenessError) Error() string {
	return fmt.Sprintf("%s: tablet %s", e.Kind, e.TabletID)
}

// TransactionStateError reports an operation attempted against a
// transaction that is not in the state it requires (§4.H).
type TransactionStateError struct {
	Operation string
	State     string
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("%s: transaction already in %s", e.Operation, e.State)
}

// AuthorizationError carries the subject/object pair an authorization
// failure concerned, when known (§7).
type AuthorizationError struct {
	Subject string
	Object  string
}

func (e *AuthorizationError) Error() string {
	if e.Subject == "" && e.Object == "" {
		return "authorization error"
	}
	return fmt.Sprintf("authorization error: %s is not permitted on %s", e.Subject, e.Object)
}

// ResolveError reports a path that could not be resolved to a TableID.
type ResolveError struct {
	Path string
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s: %v", e.Path, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// SemanticError wraps a non-retryable structural mistake (bad schema, bad
// key, write to a non-active transaction, etc.) with the command name that
// raised it, matching pkg/client's "never swallow, decorate" policy (§7).
type SemanticError struct {
	Command string
	Err     error
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *SemanticError) Unwrap() error { return e.Err }

// AsStaleness reports whether err (or something it wraps) is a
// *StalenessError, and returns it.
func AsStaleness(err error) (*StalenessError, bool) {
	var se *StalenessError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
