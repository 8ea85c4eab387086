package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var magic = []byte("LHS1")

// ErrNotSealed is returned by Open when data does not start with the envelope magic.
var ErrNotSealed = errors.New("codec: data is not a sealed snapshot")

// maxPayload bounds the declared uncompressed size accepted by Open.
const maxPayload = 256 << 20

// Seal encodes v as CBOR and wraps it in a versioned envelope, compressing
// with zstd when that makes the payload smaller.
func Seal(v any) ([]byte, error) {
	raw, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: marshal: %w", err)
	}
	payload, tag := compress(raw)

	out := make([]byte, 0, len(magic)+1+binary.MaxVarintLen64+len(payload))
	out = append(out, magic...)
	out = append(out, byte(tag))
	out = binary.AppendUvarint(out, uint64(len(raw)))
	return append(out, payload...), nil
}

// Open reverses Seal, decoding the payload into v.
func Open(data []byte, v any) error {
	if !bytes.HasPrefix(data, magic) || len(data) < len(magic)+2 {
		return ErrNotSealed
	}
	rest := data[len(magic):]
	tag := Compression(rest[0])
	size, n := binary.Uvarint(rest[1:])
	if n <= 0 || size > maxPayload {
		return fmt.Errorf("codec: corrupt envelope length")
	}
	raw, err := decompress(rest[1+n:], tag, int(size))
	if err != nil {
		return err
	}
	if err := Unmarshal(raw, v); err != nil {
		return fmt.Errorf("codec: unmarshal: %w", err)
	}
	return nil
}

// Inspect reports the compression and uncompressed size of a sealed blob
// without decoding it.
func Inspect(data []byte) (Compression, int, error) {
	if !bytes.HasPrefix(data, magic) || len(data) < len(magic)+2 {
		return 0, 0, ErrNotSealed
	}
	size, n := binary.Uvarint(data[len(magic)+1:])
	if n <= 0 {
		return 0, 0, fmt.Errorf("codec: corrupt envelope length")
	}
	return Compression(data[len(magic)]), int(size), nil
}
