package rowbuffer

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fluxtable/tabletclient/pkg/wire"
)

// WriteUnversionedRow appends row's columns to buf with no schema
// reference: a column count followed by each value's self-describing wire
// form (spec §4.A: "schema-implicit row serialization").
func WriteUnversionedRow(buf *bytes.Buffer, row Row) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(row.Values))); err != nil {
		return fmt.Errorf("write row column count: %w", err)
	}
	for i, v := range row.Values {
		if err := v.encode(buf); err != nil {
			return fmt.Errorf("write row column %d: %w", i, err)
		}
	}
	return nil
}

// ReadUnversionedRow reads one row written by WriteUnversionedRow.
func ReadUnversionedRow(data []byte) (Row, int, error) {
	if len(data) < 4 {
		return Row{}, 0, fmt.Errorf("row column count truncated")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	offset := 4
	values := make([]Value, n)
	for i := uint32(0); i < n; i++ {
		v, consumed, err := decodeValue(data[offset:])
		if err != nil {
			return Row{}, 0, fmt.Errorf("read row column %d: %w", i, err)
		}
		values[i] = v
		offset += consumed
	}
	return Row{Values: values}, offset, nil
}

// WriteSchemafulRow writes row using the given schema's key-column count
// as a sanity check (the wire form is identical to the unversioned one;
// the schema only disambiguates which prefix is the key), matching
// spec §4.A's "schema-implicit row serialization" note that Write/Lookup
// share one encoder.
func WriteSchemafulRow(buf *bytes.Buffer, row Row, keyColumns int) error {
	if keyColumns > len(row.Values) {
		return fmt.Errorf("schemaful row: %d key columns requested, row has %d values", keyColumns, len(row.Values))
	}
	return WriteUnversionedRow(buf, row)
}

// EncodeRecord frames one (command, row) pair the way a write batch's
// attachment stream carries it: a command tag followed by the row.
func EncodeRecord(buf *bytes.Buffer, cmd wire.WriteCommand, row Row) error {
	if err := wire.WriteCommandTag(buf, cmd); err != nil {
		return err
	}
	return WriteUnversionedRow(buf, row)
}

// DecodeRecord reads one (command, row) pair written by EncodeRecord.
func DecodeRecord(data []byte) (wire.WriteCommand, Row, int, error) {
	cmd, n1, err := wire.ReadCommandTag(data)
	if err != nil {
		return 0, Row{}, 0, err
	}
	row, n2, err := ReadUnversionedRow(data[n1:])
	if err != nil {
		return 0, Row{}, 0, err
	}
	return cmd, row, n1 + n2, nil
}

// EncodeBatch frames a sequence of (command, row) records into a single
// buffer, ready to be handed to wire.WrapEnvelope.
func EncodeBatch(records []Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(records))); err != nil {
		return nil, err
	}
	for i, rec := range records {
		if err := EncodeRecord(buf, rec.Command, rec.Row); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeBatch reads a batch written by EncodeBatch.
func DecodeBatch(data []byte) ([]Record, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("batch record count truncated")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	offset := 4
	out := make([]Record, n)
	for i := uint32(0); i < n; i++ {
		cmd, row, consumed, err := DecodeRecord(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", i, err)
		}
		out[i] = Record{Command: cmd, Row: row}
		offset += consumed
	}
	return out, nil
}

// Record is one (command, row) entry of a write batch.
type Record struct {
	Command wire.WriteCommand
	Row     Row
}

// EncodeRowset frames a sequence of rows with no command tag, the shape
// a LookupRows request's key set and a LookupRows response's result set
// both use (spec §6 "schemaful key rowset" / "schemaful rowset").
func EncodeRowset(rows []Row) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(rows))); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if err := WriteUnversionedRow(buf, row); err != nil {
			return nil, fmt.Errorf("encode rowset row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeRowset reads a rowset written by EncodeRowset.
func DecodeRowset(data []byte) ([]Row, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("rowset row count truncated")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	offset := 4
	out := make([]Row, n)
	for i := uint32(0); i < n; i++ {
		row, consumed, err := ReadUnversionedRow(data[offset:])
		if err != nil {
			return nil, fmt.Errorf("decode rowset row %d: %w", i, err)
		}
		out[i] = row
		offset += consumed
	}
	return out, nil
}
