package schema

import (
	"testing"

	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEvaluateKeysHash(t *testing.T) {
	s := &types.Schema{
		NeedKeyEvaluation: true,
		Columns: []types.ColumnSchema{
			{Name: "shard_key", Key: true, Computed: true, Expression: "hash:user_id"},
			{Name: "user_id", Key: true},
			{Name: "value"},
		},
	}
	cache := NewCache()
	ev, err := cache.Get(s)
	require.NoError(t, err)

	arena := rowbuffer.NewArena(0)
	row := rowbuffer.Row{Values: []rowbuffer.Value{
		rowbuffer.NullValue, // shard_key, to be filled
		rowbuffer.StringValue("u1"),
		rowbuffer.StringValue("v"),
	}}

	out, err := ev.EvaluateKeys(arena, row)
	require.NoError(t, err)
	require.False(t, out.Values[0].IsNull())
	require.Equal(t, rowbuffer.KindInt64, out.Values[0].Kind)
}

func TestEvaluatorCacheIsPerSchema(t *testing.T) {
	s := &types.Schema{Columns: []types.ColumnSchema{{Name: "k", Key: true}}}
	cache := NewCache()
	a, err := cache.Get(s)
	require.NoError(t, err)
	b, err := cache.Get(s)
	require.NoError(t, err)
	require.Same(t, a, b)
}

func TestCompileUnknownColumnErrors(t *testing.T) {
	s := &types.Schema{
		Columns: []types.ColumnSchema{
			{Name: "k", Key: true, Computed: true, Expression: "col:missing"},
		},
	}
	cache := NewCache()
	_, err := cache.Get(s)
	require.Error(t, err)
}

func TestNoComputedColumnsSkipsEvaluation(t *testing.T) {
	s := &types.Schema{Columns: []types.ColumnSchema{{Name: "k", Key: true}}}
	cache := NewCache()
	ev, err := cache.Get(s)
	require.NoError(t, err)

	arena := rowbuffer.NewArena(0)
	row := rowbuffer.Row{Values: []rowbuffer.Value{rowbuffer.Int64Value(1)}}
	out, err := ev.EvaluateKeys(arena, row)
	require.NoError(t, err)
	require.Equal(t, row.Values, out.Values)
}
