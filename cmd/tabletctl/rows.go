package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fluxtable/tabletclient/pkg/rowbuffer"
	"github.com/fluxtable/tabletclient/pkg/types"
)

// parseSchema turns "id:key,name,value" into a Schema: a plain column
// name is a value column, one suffixed ":key" is a key column, declared
// in the order given.
func parseSchema(spec string) (*types.Schema, error) {
	if spec == "" {
		return nil, fmt.Errorf("--schema is required")
	}
	var schema types.Schema
	for _, field := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(field), ":", 2)
		col := types.ColumnSchema{Name: parts[0]}
		if len(parts) == 2 && parts[1] == "key" {
			col.Key = true
		}
		schema.Columns = append(schema.Columns, col)
	}
	return &schema, nil
}

// parseRow turns "id=1,name=foo" into a Row following schema's column
// order; a column missing from the input encodes as null. Values that
// parse as integers become Int64Value, everything else StringValue.
func parseRow(schema *types.Schema, spec string) (rowbuffer.Row, error) {
	fields := make(map[string]string)
	for _, kv := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(kv), "=", 2)
		if len(parts) != 2 {
			return rowbuffer.Row{}, fmt.Errorf("malformed field %q, want name=value", kv)
		}
		fields[parts[0]] = parts[1]
	}

	row := rowbuffer.Row{Values: make([]rowbuffer.Value, len(schema.Columns))}
	for i, col := range schema.Columns {
		raw, ok := fields[col.Name]
		if !ok {
			row.Values[i] = rowbuffer.NullValue
			continue
		}
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			row.Values[i] = rowbuffer.Int64Value(n)
			continue
		}
		row.Values[i] = rowbuffer.StringValue(raw)
	}
	return row, nil
}
