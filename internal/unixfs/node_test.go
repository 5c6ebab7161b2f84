package unixfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/carx/internal/cartype"
	"github.com/meigma/carx/internal/testutil"
)

func TestDecodeFileLeaf(t *testing.T) {
	t.Parallel()

	b := testutil.FileLeaf(t, []byte("chunk"))
	n, err := Decode(b.CID, b.Data)
	require.NoError(t, err)
	assert.Equal(t, KindFile, n.Kind)
	assert.True(t, n.IsLeaf())
	assert.True(t, n.HasData)
	assert.Equal(t, []byte("chunk"), n.Data)
	assert.Equal(t, uint64(5), n.FileSize)
}

func TestDecodeRawLeaf(t *testing.T) {
	t.Parallel()

	b := testutil.RawLeaf(t, []byte("raw bytes"))
	n, err := Decode(b.CID, b.Data)
	require.NoError(t, err)
	assert.Equal(t, KindFile, n.Kind)
	assert.True(t, n.HasData)
	assert.Equal(t, []byte("raw bytes"), n.Data)
}

func TestDecodeDirectoryKeepsLinkOrder(t *testing.T) {
	t.Parallel()

	x := testutil.FileLeaf(t, []byte("x"))
	y := testutil.RawLeaf(t, []byte("y"))
	dir := testutil.Dir(t, testutil.NamedLink("zeta", x), testutil.NamedLink("alpha", y))

	n, err := Decode(dir.CID, dir.Data)
	require.NoError(t, err)
	assert.Equal(t, KindDirectory, n.Kind)
	assert.False(t, n.HasData)
	require.Len(t, n.Links, 2)
	assert.Equal(t, "zeta", n.Links[0].Name)
	assert.True(t, n.Links[0].CID.Equals(x.CID))
	assert.Equal(t, "alpha", n.Links[1].Name)
	assert.True(t, n.Links[1].CID.Equals(y.CID))
}

func TestDecodeFileBranch(t *testing.T) {
	t.Parallel()

	a := testutil.RawLeaf(t, []byte("a"))
	b := testutil.RawLeaf(t, []byte("b"))
	file := testutil.File(t, a, b)

	n, err := Decode(file.CID, file.Data)
	require.NoError(t, err)
	assert.Equal(t, KindFile, n.Kind)
	assert.False(t, n.IsLeaf())
	require.Len(t, n.Links, 2)
	assert.Empty(t, n.Links[0].Name)
}

func TestDecodeOtherKinds(t *testing.T) {
	t.Parallel()

	b := testutil.PBNode(t, testutil.UnixFSData(testutil.TypeSymlink, []byte("target"), true), nil)
	n, err := Decode(b.CID, b.Data)
	require.NoError(t, err)
	assert.Equal(t, KindOther, n.Kind)
	assert.Equal(t, "other", n.Kind.String())
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		block testutil.Block
	}{
		{name: "no unixfs data", block: testutil.PBNode(t, nil, nil)},
		{name: "untyped unixfs data", block: testutil.PBNode(t, []byte{}, nil)},
		{name: "unknown type", block: testutil.PBNode(t, testutil.UnixFSData(99, nil, false), nil)},
		{name: "truncated protobuf", block: func() testutil.Block {
			good := testutil.FileLeaf(t, []byte("abc"))
			bad := good.Data[:len(good.Data)-2]
			return testutil.Block{CID: testutil.Sum(t, good.CID.Prefix(), bad), Data: bad}
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.block.CID, tt.block.Data)
			require.ErrorIs(t, err, cartype.ErrInvalidNode)
		})
	}
}

func TestDecodeUnsupportedCodec(t *testing.T) {
	t.Parallel()

	b := testutil.RawLeaf(t, []byte("x"))
	prefix := b.CID.Prefix()
	prefix.Codec = 0x71 // dag-cbor
	c := testutil.Sum(t, prefix, b.Data)

	_, err := Decode(c, b.Data)
	require.ErrorIs(t, err, cartype.ErrInvalidNode)
}
