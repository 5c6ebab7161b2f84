package car

import (
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"

	"github.com/meigma/carx/internal/cartype"
)

// cborTagLink is the DAG-CBOR tag for CIDs.
const cborTagLink = 42

// v2HeaderSize is the size of the fixed CARv2 header that follows the pragma.
const v2HeaderSize = 40

// Header is the decoded CARv1 header.
type Header struct {
	Version uint64
	Roots   []cid.Cid
}

// v2Header is the fixed CARv2 header. Offsets are relative to the start of
// the stream.
type v2Header struct {
	Characteristics [16]byte
	DataOffset      uint64
	DataSize        uint64
	IndexOffset     uint64
}

type rawHeader struct {
	Roots   []cbor.Tag `cbor:"roots"`
	Version uint64     `cbor:"version"`
}

var decMode cbor.DecMode

func init() {
	var err error
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("car: CBOR decoder initialization failed: " + err.Error())
	}
}

// decodeHeader decodes a DAG-CBOR header section.
func decodeHeader(data []byte) (Header, error) {
	var raw rawHeader
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return Header{}, fmt.Errorf("%w: decode header: %v", cartype.ErrFormat, err)
	}
	h := Header{Version: raw.Version}
	for i, tag := range raw.Roots {
		if tag.Number != cborTagLink {
			return Header{}, fmt.Errorf("%w: root %d: unexpected CBOR tag %d", cartype.ErrFormat, i, tag.Number)
		}
		b, ok := tag.Content.([]byte)
		if !ok || len(b) == 0 || b[0] != 0 {
			return Header{}, fmt.Errorf("%w: root %d: malformed link", cartype.ErrFormat, i)
		}
		c, err := cid.Cast(b[1:])
		if err != nil {
			return Header{}, fmt.Errorf("%w: root %d: %v", cartype.ErrFormat, i, err)
		}
		h.Roots = append(h.Roots, c)
	}
	return h, nil
}

func decodeV2Header(b []byte) v2Header {
	var h v2Header
	copy(h.Characteristics[:], b[:16])
	h.DataOffset = binary.LittleEndian.Uint64(b[16:24])
	h.DataSize = binary.LittleEndian.Uint64(b[24:32])
	h.IndexOffset = binary.LittleEndian.Uint64(b[32:40])
	return h
}
