// Package wire implements the bit-exact wire primitives spec.md §4.A/§6
// calls for: envelope compression ({codec_id, compressed_bytes,
// uncompressed_size}) around an otherwise opaque attachment, the write
// command tags, and length-prefixed message framing. The unversioned-row
// record encoding carried inside the envelope lives in pkg/rowbuffer.
//
// The envelope codec uses github.com/klauspost/compress/zstd, wired in as
// this module's compression library the way spec §6 names "envelope
// compression" as a first-class concept of the write/lookup wire protocol.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// CodecID names the compression codec an envelope was written with.
type CodecID byte

const (
	CodecNone CodecID = iota
	CodecZstd
)

var (
	encoderPool sync.Pool
	decoderPool sync.Pool
)

func getEncoder() (*zstd.Encoder, error) {
	if v := encoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil)
}

func putEncoder(e *zstd.Encoder) { encoderPool.Put(e) }

func getDecoder() (*zstd.Decoder, error) {
	if v := decoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

func putDecoder(d *zstd.Decoder) { decoderPool.Put(d) }

// Envelope is the {codec_id, compressed_bytes, uncompressed_size} framing
// that wraps every write/lookup attachment.
type Envelope struct {
	Codec            CodecID
	UncompressedSize uint32
	Compressed       []byte
}

// WrapEnvelope compresses payload with codec and frames it.
func WrapEnvelope(codec CodecID, payload []byte) (Envelope, error) {
	switch codec {
	case CodecNone:
		return Envelope{Codec: CodecNone, UncompressedSize: uint32(len(payload)), Compressed: payload}, nil
	case CodecZstd:
		enc, err := getEncoder()
		if err != nil {
			return Envelope{}, fmt.Errorf("acquire zstd encoder: %w", err)
		}
		defer putEncoder(enc)
		compressed := enc.EncodeAll(payload, nil)
		return Envelope{Codec: CodecZstd, UncompressedSize: uint32(len(payload)), Compressed: compressed}, nil
	default:
		return Envelope{}, fmt.Errorf("unknown envelope codec %d", codec)
	}
}

// Unwrap decompresses an envelope back to its original payload.
func (e Envelope) Unwrap() ([]byte, error) {
	switch e.Codec {
	case CodecNone:
		return e.Compressed, nil
	case CodecZstd:
		dec, err := getDecoder()
		if err != nil {
			return nil, fmt.Errorf("acquire zstd decoder: %w", err)
		}
		defer putDecoder(dec)
		out, err := dec.DecodeAll(e.Compressed, make([]byte, 0, e.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown envelope codec %d", e.Codec)
	}
}

// MarshalBinary serializes the envelope as {codec byte}{uncompressed_size
// uint32}{compressed_len uint32}{compressed bytes} for transport inside an
// RPC attachment.
func (e Envelope) MarshalBinary() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(e.Codec))
	if err := binary.Write(buf, binary.LittleEndian, e.UncompressedSize); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(e.Compressed))); err != nil {
		return nil, err
	}
	buf.Write(e.Compressed)
	return buf.Bytes(), nil
}

// UnmarshalBinary parses the framing produced by MarshalBinary.
func (e *Envelope) UnmarshalBinary(data []byte) error {
	if len(data) < 9 {
		return fmt.Errorf("envelope header truncated: %d bytes", len(data))
	}
	e.Codec = CodecID(data[0])
	e.UncompressedSize = binary.LittleEndian.Uint32(data[1:5])
	n := binary.LittleEndian.Uint32(data[5:9])
	if uint32(len(data)-9) < n {
		return fmt.Errorf("envelope body truncated: want %d have %d", n, len(data)-9)
	}
	e.Compressed = data[9 : 9+n]
	return nil
}
