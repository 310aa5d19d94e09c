package tablerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAsStalenessUnwrapsWrappedError(t *testing.T) {
	se := &StalenessError{Kind: TabletNotMounted, TabletID: "t1", Revision: 7}
	wrapped := fmt.Errorf("lookup //t: %w", se)

	got, ok := AsStaleness(wrapped)
	require.True(t, ok)
	require.Same(t, se, got)
	require.Equal(t, int64(7), got.Revision)
}

func TestAsStalenessFalseForOtherErrors(t *testing.T) {
	_, ok := AsStaleness(errors.New("boom"))
	require.False(t, ok)

	_, ok = AsStaleness(&SemanticError{Command: "Modify", Err: errors.New("bad key")})
	require.False(t, ok)
}

func TestResolveErrorUnwraps(t *testing.T) {
	cause := errors.New("no such path")
	err := &ResolveError{Path: "//missing", Err: cause}
	require.ErrorIs(t, err, cause)
}

func TestStalenessStringNames(t *testing.T) {
	require.Equal(t, "NoSuchTablet", NoSuchTablet.String())
	require.Equal(t, "TabletNotMounted", TabletNotMounted.String())
	require.Equal(t, "InvalidMountRevision", InvalidMountRevision.String())
}
