package codec

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression identifies how a sealed payload is compressed.
type Compression uint8

const (
	// CompressionNone stores the CBOR payload as is.
	CompressionNone Compression = 0
	// CompressionZstd stores the payload zstd-compressed.
	CompressionZstd Compression = 1
)

// String returns the human-readable name of a compression tag.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// minCompressSize is the payload size below which compression is skipped.
const minCompressSize = 256

// zstd.Encoder and zstd.Decoder are safe for concurrent use with EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(256<<20))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the smaller of data and its zstd encoding, with the tag used.
func compress(data []byte) ([]byte, Compression) {
	if len(data) < minCompressSize {
		return data, CompressionNone
	}
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return data, CompressionNone
	}
	return compressed, CompressionZstd
}

func decompress(payload []byte, tag Compression, size int) ([]byte, error) {
	switch tag {
	case CompressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("codec: payload is %d bytes, header says %d", len(payload), size)
		}
		return payload, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("codec: zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("codec: zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unsupported compression tag %d", uint8(tag))
	}
}
