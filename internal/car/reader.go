package car

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"

	"github.com/meigma/carx/internal/cartype"
)

// DefaultMaxSectionSize bounds a single header or block section.
const DefaultMaxSectionSize = 32 << 20 // 32MB

// Block is one (identifier, raw bytes) pair from the stream.
type Block struct {
	CID  cid.Cid
	Data []byte
}

// Option configures a Reader.
type Option func(*Reader)

// WithMaxSectionSize limits the size of any single section.
// Set limit to 0 to use DefaultMaxSectionSize.
func WithMaxSectionSize(limit uint64) Option {
	return func(r *Reader) {
		if limit == 0 {
			limit = DefaultMaxSectionSize
		}
		r.maxSectionSize = limit
	}
}

// Reader yields blocks from a CAR stream in archive order.
type Reader struct {
	br             *bufio.Reader
	header         Header
	version        uint64
	maxSectionSize uint64
	zeroLengthEOF  bool
	blocks         int
}

// NewReader reads and validates the archive header from r.
//
// For CARv2 input the reader discards bytes up to the inner CARv1 payload
// and limits reads to the payload size, so any index after the payload is
// never consumed.
func NewReader(r io.Reader, opts ...Option) (*Reader, error) {
	cr := &Reader{
		br:             bufio.NewReader(r),
		maxSectionSize: DefaultMaxSectionSize,
	}
	for _, opt := range opts {
		opt(cr)
	}

	hdrLen, hdrData, err := cr.readSection()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty stream", cartype.ErrFormat)
		}
		return nil, err
	}
	h, err := decodeHeader(hdrData)
	if err != nil {
		return nil, err
	}

	switch h.Version {
	case 1:
	case 2:
		if err := cr.enterV2Payload(uint64(varint.UvarintSize(hdrLen)) + hdrLen); err != nil {
			return nil, err
		}
		_, inner, err := cr.readSection()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: empty v2 payload", cartype.ErrFormat)
			}
			return nil, err
		}
		if h, err = decodeHeader(inner); err != nil {
			return nil, err
		}
		if h.Version != 1 {
			return nil, fmt.Errorf("%w: v2 payload declares version %d", cartype.ErrFormat, h.Version)
		}
		cr.version = 2
		cr.zeroLengthEOF = true
	default:
		return nil, fmt.Errorf("%w: unsupported version %d", cartype.ErrFormat, h.Version)
	}
	if cr.version == 0 {
		cr.version = 1
	}
	if len(h.Roots) == 0 {
		return nil, fmt.Errorf("%w: header declares no roots", cartype.ErrFormat)
	}
	cr.header = h
	return cr, nil
}

// enterV2Payload reads the fixed v2 header, skips to the data payload and
// bounds the reader to it. consumed is the number of pragma bytes already read.
func (r *Reader) enterV2Payload(consumed uint64) error {
	var fixed [v2HeaderSize]byte
	if _, err := io.ReadFull(r.br, fixed[:]); err != nil {
		return fmt.Errorf("%w: read v2 header: %v", cartype.ErrFormat, err)
	}
	consumed += v2HeaderSize
	h := decodeV2Header(fixed[:])
	if h.DataOffset < consumed {
		return fmt.Errorf("%w: v2 data offset %d overlaps header", cartype.ErrFormat, h.DataOffset)
	}
	if skip := h.DataOffset - consumed; skip > 0 {
		if _, err := io.CopyN(io.Discard, r.br, int64(skip)); err != nil { //nolint:gosec // bounded by stream length
			return fmt.Errorf("%w: skip to v2 payload: %v", cartype.ErrFormat, err)
		}
	}
	r.br = bufio.NewReader(io.LimitReader(r.br, int64(h.DataSize))) //nolint:gosec // size from header, reads stop at EOF
	return nil
}

// Version returns the container version of the stream (1 or 2).
func (r *Reader) Version() uint64 {
	return r.version
}

// Roots returns the root CIDs declared by the (inner) CARv1 header.
func (r *Reader) Roots() []cid.Cid {
	return r.header.Roots
}

// Blocks returns the number of blocks returned so far.
func (r *Reader) Blocks() int {
	return r.blocks
}

// Next returns the next verified block. It returns io.EOF after the last block.
func (r *Reader) Next() (Block, error) {
	n, data, err := r.readSection()
	if err != nil {
		return Block{}, err
	}
	if n == 0 {
		if r.zeroLengthEOF {
			return Block{}, io.EOF
		}
		return Block{}, fmt.Errorf("%w: zero-length section", cartype.ErrFormat)
	}

	cidLen, c, err := cid.CidFromBytes(data)
	if err != nil {
		return Block{}, fmt.Errorf("%w: section %d: %v", cartype.ErrFormat, r.blocks, err)
	}
	payload := data[cidLen:]
	if err := verify(c, payload); err != nil {
		return Block{}, err
	}
	r.blocks++
	return Block{CID: c, Data: payload}, nil
}

// readSection reads one varint-prefixed section and returns its declared
// length and content. io.EOF is returned only at a clean section boundary.
func (r *Reader) readSection() (uint64, []byte, error) {
	n, err := varint.ReadUvarint(r.br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		return 0, nil, fmt.Errorf("%w: read section length: %v", cartype.ErrFormat, err)
	}
	if n == 0 {
		return 0, nil, nil
	}
	if n > r.maxSectionSize {
		return 0, nil, fmt.Errorf("%w: section of %d bytes exceeds limit %d", cartype.ErrFormat, n, r.maxSectionSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, fmt.Errorf("%w: truncated section", cartype.ErrFormat)
		}
		return 0, nil, err
	}
	return n, buf, nil
}

// verify checks that data hashes to the multihash carried by c.
func verify(c cid.Cid, data []byte) error {
	sum, err := c.Prefix().Sum(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", cartype.ErrHashMismatch, c, err)
	}
	if !sum.Equals(c) {
		return fmt.Errorf("%w: %s", cartype.ErrHashMismatch, c)
	}
	return nil
}
