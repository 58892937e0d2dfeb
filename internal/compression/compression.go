// Package compression implements the block codecs used by table files.
// Each stored block carries a one-byte codec tag in its trailer.
package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies a codec. The values are persisted in block trailers.
type Type uint8

const (
	NoCompression     Type = 0x0
	SnappyCompression Type = 0x1
	LZ4Compression    Type = 0x4
	ZstdCompression   Type = 0x7
)

// ErrUnsupported is returned for unknown codec tags.
var ErrUnsupported = errors.New("compression: unsupported type")

func (t Type) String() string {
	switch t {
	case NoCompression:
		return "none"
	case SnappyCompression:
		return "snappy"
	case LZ4Compression:
		return "lz4"
	case ZstdCompression:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Parse maps a codec name back to its Type.
func Parse(name string) (Type, error) {
	for _, t := range []Type{NoCompression, SnappyCompression, LZ4Compression, ZstdCompression} {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupported, name)
}

// IsSupported reports whether t can be encoded and decoded.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, LZ4Compression, ZstdCompression:
		return true
	}
	return false
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress encodes data with t. NoCompression returns data unchanged.
func Compress(t Type, data []byte) ([]byte, error) {
	return CompressTo(t, nil, data)
}

// CompressTo is Compress writing into the capacity of dst when it is large
// enough. The result may alias dst.
func CompressTo(t Type, dst, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Encode(dst[:cap(dst)], data), nil
	case LZ4Compression:
		buf := bytes.NewBuffer(dst[:0])
		w := lz4.NewWriter(buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	case ZstdCompression:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return enc.EncodeAll(data, dst[:0]), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}

// Decompress decodes data produced by Compress with the same t.
func Decompress(t Type, data []byte) ([]byte, error) {
	switch t {
	case NoCompression:
		return data, nil
	case SnappyCompression:
		return snappy.Decode(nil, data)
	case LZ4Compression:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case ZstdCompression:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, t)
	}
}
