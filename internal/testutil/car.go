// Package testutil builds CAR archives and sinks for tests.
package testutil

import (
	"bytes"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
	"google.golang.org/protobuf/encoding/protowire"
)

// UnixFS data types.
const (
	TypeRaw       = 0
	TypeDirectory = 1
	TypeFile      = 2
	TypeSymlink   = 4
)

// Block is an encoded block with its CID.
type Block struct {
	CID  cid.Cid
	Data []byte
}

// Link names a child block.
type Link struct {
	Name string
	CID  cid.Cid
}

// NamedLink returns a link to b under name.
func NamedLink(name string, b Block) Link {
	return Link{Name: name, CID: b.CID}
}

// Chunk returns an unnamed link to b, as used inside multi-block files.
func Chunk(b Block) Link {
	return Link{CID: b.CID}
}

var pbPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagProtobuf,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

var rawPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.Raw,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Sum returns the CID of data under prefix.
func Sum(t testing.TB, prefix cid.Prefix, data []byte) cid.Cid {
	t.Helper()
	c, err := prefix.Sum(data)
	if err != nil {
		t.Fatalf("sum cid: %v", err)
	}
	return c
}

// must fails t if err is set.
func must[T any](t testing.TB, v T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatalf("testutil: %v", err)
	}
	return v
}

// FileLeaf returns a dag-pb UnixFS file leaf holding data.
func FileLeaf(t testing.TB, data []byte) Block {
	t.Helper()
	return PBNode(t, UnixFSData(TypeFile, data, true), nil)
}

// RawLeaf returns a raw-codec leaf.
func RawLeaf(t testing.TB, data []byte) Block {
	t.Helper()
	return Block{CID: Sum(t, rawPrefix, data), Data: data}
}

// File returns a dag-pb UnixFS file branch over chunks, in order.
func File(t testing.TB, chunks ...Block) Block {
	t.Helper()
	links := make([]Link, len(chunks))
	for i, c := range chunks {
		links[i] = Chunk(c)
	}
	return PBNode(t, UnixFSData(TypeFile, nil, false), links)
}

// Dir returns a dag-pb UnixFS directory over links, in order.
func Dir(t testing.TB, links ...Link) Block {
	t.Helper()
	return PBNode(t, UnixFSData(TypeDirectory, nil, false), links)
}

// UnixFSData encodes a UnixFS Data message.
func UnixFSData(fsType uint64, data []byte, withData bool) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, fsType)
	if withData {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, data)
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(len(data)))
	}
	return b
}

// PBNode encodes a dag-pb node with links before data, as canonical dag-pb does.
// A nil fsData omits the Data field.
func PBNode(t testing.TB, fsData []byte, links []Link) Block {
	t.Helper()
	b, err := EncodePBNode(fsData, links)
	return must(t, b, err)
}

// EncodePBNode is PBNode without a test handle.
func EncodePBNode(fsData []byte, links []Link) (Block, error) {
	var b []byte
	for _, l := range links {
		var lb []byte
		lb = protowire.AppendTag(lb, 1, protowire.BytesType)
		lb = protowire.AppendBytes(lb, l.CID.Bytes())
		lb = protowire.AppendTag(lb, 2, protowire.BytesType)
		lb = protowire.AppendString(lb, l.Name)
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, lb)
	}
	if fsData != nil {
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, fsData)
	}
	c, err := pbPrefix.Sum(b)
	if err != nil {
		return Block{}, err
	}
	return Block{CID: c, Data: b}, nil
}

// CARv1 encodes a CARv1 archive with the given roots and blocks in order.
func CARv1(t testing.TB, roots []cid.Cid, blocks ...Block) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := WriteCARv1(&buf, roots, blocks...); err != nil {
		t.Fatalf("testutil: %v", err)
	}
	return buf.Bytes()
}

// WriteCARv1 streams a CARv1 archive to w.
func WriteCARv1(w io.Writer, roots []cid.Cid, blocks ...Block) error {
	hdr, err := EncodeHeader(1, roots)
	if err != nil {
		return err
	}
	if err := writeSection(w, hdr); err != nil {
		return err
	}
	for _, b := range blocks {
		if err := writeSection(w, append(b.CID.Bytes(), b.Data...)); err != nil {
			return err
		}
	}
	return nil
}

// Header encodes a DAG-CBOR CAR header.
func Header(t testing.TB, version uint64, roots []cid.Cid) []byte {
	t.Helper()
	hdr, err := EncodeHeader(version, roots)
	return must(t, hdr, err)
}

// EncodeHeader is Header without a test handle.
func EncodeHeader(version uint64, roots []cid.Cid) ([]byte, error) {
	type header struct {
		Roots   []cbor.Tag `cbor:"roots,omitempty"`
		Version uint64     `cbor:"version"`
	}
	h := header{Version: version}
	for _, r := range roots {
		h.Roots = append(h.Roots, cbor.Tag{Number: 42, Content: append([]byte{0}, r.Bytes()...)})
	}
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(h)
}

// CARv2 wraps a CARv1 payload in a CARv2 container with padding bytes
// between the header and the payload and a dummy trailing index.
func CARv2(t testing.TB, v1 []byte, padding int) []byte {
	t.Helper()
	var buf bytes.Buffer
	_ = writeSection(&buf, Header(t, 2, nil)) //nolint:errcheck // bytes.Buffer writes never fail
	dataOffset := uint64(buf.Len()) + 40 + uint64(padding) //nolint:gosec // test sizes are small
	var fixed [40]byte
	binary.LittleEndian.PutUint64(fixed[16:24], dataOffset)
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(len(v1)))
	binary.LittleEndian.PutUint64(fixed[32:40], dataOffset+uint64(len(v1)))
	buf.Write(fixed[:])
	buf.Write(make([]byte, padding))
	buf.Write(v1)
	buf.WriteString("not-a-real-index")
	return buf.Bytes()
}

func writeSection(w io.Writer, data []byte) error {
	if _, err := w.Write(varint.ToUvarint(uint64(len(data)))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// MemorySink records appended content in memory.
type MemorySink struct {
	mu    sync.Mutex
	Files map[string][]byte
	// Opens lists every path passed to Writer, in call order.
	Opens []string
	// Fail, when set, is returned by Writer for the named path.
	Fail map[string]error
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{Files: make(map[string][]byte), Fail: make(map[string]error)}
}

// Writer implements sink.Sink.
func (s *MemorySink) Writer(path string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Opens = append(s.Opens, path)
	if err, ok := s.Fail[path]; ok {
		return nil, err
	}
	return &memoryWriter{sink: s, path: path}, nil
}

type memoryWriter struct {
	sink *MemorySink
	path string
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	w.sink.mu.Lock()
	defer w.sink.mu.Unlock()
	w.sink.Files[w.path] = append(w.sink.Files[w.path], p...)
	return len(p), nil
}

func (w *memoryWriter) Close() error {
	return nil
}
