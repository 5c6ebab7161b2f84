// Package unixfs decodes dag-pb blocks carrying UnixFS metadata, and raw
// blocks, into typed nodes.
//
// Decoding is a pure function of the block's CID codec and bytes.
package unixfs

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/meigma/carx/internal/cartype"
)

// Kind classifies a decoded node.
type Kind uint8

// Node kinds.
const (
	// KindOther covers UnixFS types that are neither files nor directories
	// (raw, metadata, symlink, HAMT shard).
	KindOther Kind = iota

	// KindFile is a UnixFS file node or a raw-codec leaf.
	KindFile

	// KindDirectory is a UnixFS directory node.
	KindDirectory
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "other"
	}
}

// UnixFS data types as encoded in the Type field.
const (
	typeRaw       = 0
	typeDirectory = 1
	typeFile      = 2
	typeMetadata  = 3
	typeSymlink   = 4
	typeHAMTShard = 5
)

// Link is a named reference to a child block.
type Link struct {
	CID  cid.Cid
	Name string
	Size uint64
}

// Node is a decoded block.
type Node struct {
	Kind Kind

	// Data is the node payload. HasData distinguishes an absent field from
	// an empty one.
	Data    []byte
	HasData bool

	// FileSize is the UnixFS filesize field, when present.
	FileSize uint64

	// Links are the child references in encoded order.
	Links []Link
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Links) == 0
}

// Decode decodes block according to the codec of c.
//
// Raw-codec blocks decode to a file leaf whose payload is the whole block.
// dag-pb blocks must carry a UnixFS Data message.
func Decode(c cid.Cid, block []byte) (Node, error) {
	switch c.Type() {
	case cid.Raw:
		return Node{Kind: KindFile, Data: block, HasData: true}, nil
	case cid.DagProtobuf:
		n, err := decodeDagPB(block)
		if err != nil {
			return Node{}, fmt.Errorf("%w: %s: %v", cartype.ErrInvalidNode, c, err)
		}
		return n, nil
	default:
		return Node{}, fmt.Errorf("%w: %s: unsupported codec 0x%x", cartype.ErrInvalidNode, c, c.Type())
	}
}

// decodeDagPB decodes a PBNode { 1: Data bytes, 2: repeated PBLink }.
func decodeDagPB(b []byte) (Node, error) {
	var (
		n       Node
		fsData  []byte
		hasData bool
	)
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return Node{}, protowire.ParseError(tagLen)
		}
		b = b[tagLen:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Node{}, protowire.ParseError(m)
			}
			fsData, hasData = v, true
			b = b[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Node{}, protowire.ParseError(m)
			}
			link, err := decodeLink(v)
			if err != nil {
				return Node{}, fmt.Errorf("link %d: %w", len(n.Links), err)
			}
			n.Links = append(n.Links, link)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Node{}, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if !hasData {
		return Node{}, fmt.Errorf("dag-pb node has no unixfs data")
	}
	if err := decodeData(fsData, &n); err != nil {
		return Node{}, err
	}
	return n, nil
}

// decodeLink decodes a PBLink { 1: Hash bytes, 2: Name string, 3: Tsize uint64 }.
func decodeLink(b []byte) (Link, error) {
	var (
		l       Link
		hasHash bool
	)
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return Link{}, protowire.ParseError(tagLen)
		}
		b = b[tagLen:]
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Link{}, protowire.ParseError(m)
			}
			c, err := cid.Cast(v)
			if err != nil {
				return Link{}, fmt.Errorf("hash: %w", err)
			}
			l.CID, hasHash = c, true
			b = b[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return Link{}, protowire.ParseError(m)
			}
			l.Name = string(v)
			b = b[m:]
		case num == 3 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return Link{}, protowire.ParseError(m)
			}
			l.Size = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return Link{}, protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if !hasHash {
		return Link{}, fmt.Errorf("link has no hash")
	}
	return l, nil
}

// decodeData decodes the UnixFS Data message
// { 1: Type enum, 2: Data bytes, 3: filesize uint64, ... } into n.
func decodeData(b []byte, n *Node) error {
	fsType := uint64(typeRaw)
	hasType := false
	for len(b) > 0 {
		num, typ, tagLen := protowire.ConsumeTag(b)
		if tagLen < 0 {
			return protowire.ParseError(tagLen)
		}
		b = b[tagLen:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			fsType, hasType = v, true
			b = b[m:]
		case num == 2 && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			n.Data, n.HasData = v, true
			b = b[m:]
		case num == 3 && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			n.FileSize = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	if !hasType {
		return fmt.Errorf("unixfs data has no type")
	}
	switch fsType {
	case typeFile:
		n.Kind = KindFile
	case typeDirectory:
		n.Kind = KindDirectory
	case typeRaw, typeMetadata, typeSymlink, typeHAMTShard:
		n.Kind = KindOther
	default:
		return fmt.Errorf("unknown unixfs type %d", fsType)
	}
	return nil
}
