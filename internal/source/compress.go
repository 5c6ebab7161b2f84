package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the framing detected on a stream.
type Compression string

// Supported compression formats.
const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionGzip Compression = "gzip"
	CompressionLZ4  Compression = "lz4"
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect reports the compression indicated by the leading bytes of a stream.
func Detect(prefix []byte) Compression {
	switch {
	case bytes.HasPrefix(prefix, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(prefix, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(prefix, lz4Magic):
		return CompressionLZ4
	default:
		return CompressionNone
	}
}

// Decompress sniffs rc and returns a reader over its decompressed content.
// Closing the result closes rc.
//
// An uncompressed CAR starts with a header-length varint followed by a CBOR
// map byte, which never matches any of the magic numbers.
func Decompress(rc io.ReadCloser) (io.ReadCloser, Compression, error) {
	br := bufio.NewReader(rc)
	prefix, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("sniff compression: %w", err)
	}

	format := Detect(prefix)
	var r io.Reader
	var closeFn func() error
	switch format {
	case CompressionZstd:
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, "", fmt.Errorf("create zstd decoder: %w", err)
		}
		zr := dec.IOReadCloser()
		r, closeFn = zr, zr.Close
	case CompressionGzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("create gzip reader: %w", err)
		}
		r, closeFn = gr, gr.Close
	case CompressionLZ4:
		r = lz4.NewReader(br)
	default:
		r = br
	}
	return &stream{Reader: r, closeFn: closeFn, under: rc}, format, nil
}

// stream closes its decoder, then the underlying source.
type stream struct {
	io.Reader
	closeFn func() error
	under   io.Closer
}

func (s *stream) Close() error {
	var err error
	if s.closeFn != nil {
		err = s.closeFn()
	}
	if uerr := s.under.Close(); err == nil {
		err = uerr
	}
	return err
}
