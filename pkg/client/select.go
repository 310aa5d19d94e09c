package client

import (
	"context"
	"time"
)

// SelectOptions configures a SelectRows call.
type SelectOptions struct {
	Timeout time.Duration
}

// SelectRows is a routing/timestamp pass-through for query-string reads
// (SPEC_FULL §4 supplemented feature, following the original client's
// query + timestamp contract). No query engine runs in this subsystem —
// out of scope per spec.md §1 — so this stops at the point where a full
// client would hand the parsed query off to one; it still exercises
// Execute's semaphore+timeout envelope the way every other entry point
// does, and fails clearly rather than silently doing nothing.
func (c *Client) SelectRows(ctx context.Context, query string, timestamp int64, opts SelectOptions) ([]byte, error) {
	return Execute(ctx, c, "SelectRows", opts.Timeout, func(ctx context.Context) ([]byte, error) {
		return nil, &UnsupportedQueryError{Query: query}
	})
}

// UnsupportedQueryError reports that SelectRows was asked to run a query
// this subsystem has no query engine to execute.
type UnsupportedQueryError struct {
	Query string
}

func (e *UnsupportedQueryError) Error() string {
	return "select: no query engine wired for: " + e.Query
}
