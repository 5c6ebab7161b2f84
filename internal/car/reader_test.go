package car

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/carx/internal/cartype"
	"github.com/meigma/carx/internal/testutil"
)

func readAll(t *testing.T, r *Reader) []Block {
	t.Helper()
	var blocks []Block
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return blocks
		}
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
}

func TestReaderV1(t *testing.T) {
	t.Parallel()

	leaf := testutil.FileLeaf(t, []byte("hello"))
	root := testutil.Dir(t, testutil.NamedLink("hello.txt", leaf))
	data := testutil.CARv1(t, []cid.Cid{root.CID}, root, leaf)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), r.Version())
	require.Len(t, r.Roots(), 1)
	assert.True(t, r.Roots()[0].Equals(root.CID))

	blocks := readAll(t, r)
	require.Len(t, blocks, 2)
	assert.True(t, blocks[0].CID.Equals(root.CID))
	assert.Equal(t, root.Data, blocks[0].Data)
	assert.True(t, blocks[1].CID.Equals(leaf.CID))
	assert.Equal(t, leaf.Data, blocks[1].Data)
	assert.Equal(t, 2, r.Blocks())
}

func TestReaderV2SkipsPaddingAndIndex(t *testing.T) {
	t.Parallel()

	leaf := testutil.RawLeaf(t, []byte("payload"))
	v1 := testutil.CARv1(t, []cid.Cid{leaf.CID}, leaf)
	data := testutil.CARv2(t, v1, 13)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Version())
	require.Len(t, r.Roots(), 1)
	assert.True(t, r.Roots()[0].Equals(leaf.CID))

	blocks := readAll(t, r)
	require.Len(t, blocks, 1)
	assert.Equal(t, []byte("payload"), blocks[0].Data)
}

func TestReaderHashMismatch(t *testing.T) {
	t.Parallel()

	leaf := testutil.RawLeaf(t, []byte("original"))
	forged := testutil.Block{CID: leaf.CID, Data: []byte("tampered")}
	data := testutil.CARv1(t, []cid.Cid{leaf.CID}, forged)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, cartype.ErrHashMismatch)
}

func TestReaderFormatErrors(t *testing.T) {
	t.Parallel()

	leaf := testutil.RawLeaf(t, []byte("x"))
	valid := testutil.CARv1(t, []cid.Cid{leaf.CID}, leaf)

	tests := []struct {
		name string
		data []byte
	}{
		{name: "empty", data: nil},
		{name: "garbage header", data: []byte{0x03, 0xff, 0xff, 0xff}},
		{name: "truncated header", data: []byte{0x20, 0xa2}},
		{name: "no roots", data: append([]byte{0x0a}, testutil.Header(t, 1, nil)...)},
		{name: "unsupported version", data: func() []byte {
			h := testutil.Header(t, 3, []cid.Cid{leaf.CID})
			return append([]byte{byte(len(h))}, h...)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewReader(bytes.NewReader(tt.data))
			require.ErrorIs(t, err, cartype.ErrFormat)
		})
	}

	t.Run("truncated block", func(t *testing.T) {
		t.Parallel()
		r, err := NewReader(bytes.NewReader(valid[:len(valid)-1]))
		require.NoError(t, err)
		_, err = r.Next()
		require.ErrorIs(t, err, cartype.ErrFormat)
	})

	t.Run("section over limit", func(t *testing.T) {
		t.Parallel()
		big := testutil.RawLeaf(t, bytes.Repeat([]byte("a"), 1024))
		data := testutil.CARv1(t, []cid.Cid{big.CID}, big)
		r, err := NewReader(bytes.NewReader(data), WithMaxSectionSize(512))
		require.NoError(t, err)
		_, err = r.Next()
		require.ErrorIs(t, err, cartype.ErrFormat)
	})
}

func TestReaderZeroLengthSectionV1(t *testing.T) {
	t.Parallel()

	leaf := testutil.RawLeaf(t, []byte("x"))
	data := append(testutil.CARv1(t, []cid.Cid{leaf.CID}), 0x00)

	r, err := NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	_, err = r.Next()
	require.ErrorIs(t, err, cartype.ErrFormat)
}
