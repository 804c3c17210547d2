package http

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// ValidCompression reports whether name is a supported algorithm. Empty
// means none.
func ValidCompression(name string) bool {
	switch name {
	case "", CompressionNone, CompressionGzip, CompressionZstd,
		CompressionZlib, CompressionSnappy:
		return true
	default:
		return false
	}
}

// Compressor compresses request bodies and report streams.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

// NewCompressor creates a new Compressor for the specified algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	if !ValidCompression(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	// The zstd encoder is expensive to build; reuse it for every body.
	if algorithm == CompressionZstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	}

	return c, nil
}

// Compress compresses a whole buffer.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	}

	var buf bytes.Buffer

	w, err := c.NewWriter(&buf)
	if err != nil {
		return nil, err
	}

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	return buf.Bytes(), nil
}

// NewWriter wraps dst in a streaming compressor. Closing the returned
// writer flushes it but does not close dst. Snappy streams use the framed
// format, unlike Compress.
func (c *Compressor) NewWriter(dst io.Writer) (io.WriteCloser, error) {
	switch c.algorithm {
	case CompressionNone, "":
		return nopCloser{dst}, nil
	case CompressionGzip:
		return gzip.NewWriter(dst), nil
	case CompressionZlib:
		return zlib.NewWriter(dst), nil
	case CompressionSnappy:
		return snappy.NewBufferedWriter(dst), nil
	case CompressionZstd:
		w, err := zstd.NewWriter(dst)
		if err != nil {
			return nil, fmt.Errorf("creating zstd stream: %w", err)
		}

		return w, nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", c.algorithm)
	}
}

// ContentEncoding returns the Content-Encoding header value for the algorithm.
func (c *Compressor) ContentEncoding() string {
	switch c.algorithm {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Extension returns the file suffix for streams of this algorithm.
func (c *Compressor) Extension() string {
	switch c.algorithm {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionZlib:
		return ".zz"
	case CompressionSnappy:
		return ".sz"
	default:
		return ""
	}
}

// Close closes the compressor and releases resources.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// Decompress reverses Compress (for testing).
func Decompress(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case CompressionNone, "":
		return data, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	default:
		return DecompressStream(algorithm, bytes.NewReader(data))
	}
}

// DecompressStream reads a stream produced by NewWriter (for testing).
func DecompressStream(algorithm string, src io.Reader) ([]byte, error) {
	switch algorithm {
	case CompressionNone, "":
		return io.ReadAll(src)
	case CompressionGzip:
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case CompressionZlib:
		r, err := zlib.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case CompressionZstd:
		r, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case CompressionSnappy:
		return io.ReadAll(snappy.NewReader(src))
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}
