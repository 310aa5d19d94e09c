package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WriteMessage appends a length-prefixed opaque message to buf, the framing
// spec §4.A calls "WriteMessage(bytes) — length-prefixed protobuf". This
// module has no protoc toolchain available, so payloads are pre-serialized
// bytes supplied by the caller; WriteMessage only owns the framing. pkg/rpc
// encodes its messages as JSON and does not use this framing.
func WriteMessage(buf *bytes.Buffer, payload []byte) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(payload))); err != nil {
		return fmt.Errorf("write message length: %w", err)
	}
	buf.Write(payload)
	return nil
}

// ReadMessage reads one length-prefixed message written by WriteMessage,
// returning the payload and the number of bytes consumed from data.
func ReadMessage(data []byte) (payload []byte, consumed int, err error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("message length header truncated")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	if uint32(len(data)-4) < n {
		return nil, 0, fmt.Errorf("message body truncated: want %d have %d", n, len(data)-4)
	}
	return data[4 : 4+n], int(4 + n), nil
}

// WriteCommandTag appends a command tag to buf.
func WriteCommandTag(buf *bytes.Buffer, cmd WriteCommand) error {
	return binary.Write(buf, binary.LittleEndian, uint16(cmd))
}

// ReadCommandTag reads a command tag, returning the command and bytes
// consumed.
func ReadCommandTag(data []byte) (WriteCommand, int, error) {
	if len(data) < 2 {
		return 0, 0, fmt.Errorf("command tag truncated")
	}
	return WriteCommand(binary.LittleEndian.Uint16(data[:2])), 2, nil
}
