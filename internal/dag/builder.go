// Package dag buffers decoded UnixFS nodes from a CAR stream, resolves
// their path names, and flattens the result into ordered (payload, path)
// entries.
//
// Names are not stored on a child node; they live in the parent's link
// list. The Builder therefore records a pending name for every child when
// the parent is consumed and resolves it when the child arrives.
package dag

import (
	"fmt"
	"log/slog"

	"github.com/ipfs/go-cid"

	"github.com/meigma/carx/internal/cartype"
	"github.com/meigma/carx/internal/unixfs"
)

// Synthetic names for the first node of a stream, which has no parent.
const (
	// RootFileName names a top-level file that carries no name of its own.
	RootFileName = "file"

	// RootMarker names a top-level directory.
	RootMarker = "/"
)

// Link is a child reference in link order.
type Link struct {
	CID  cid.Cid
	Name string
}

// Node is a buffered node with its resolved name.
type Node struct {
	// Name is the path segment resolved for this node.
	Name string

	// IsFile is true for leaves and for branches of a File-typed subtree.
	IsFile bool

	// Data is the payload of a leaf.
	Data []byte

	// Links are the children of a branch, in link order.
	Links []Link

	leaf bool
}

// IsLeaf reports whether the node holds payload rather than children.
func (n *Node) IsLeaf() bool {
	return n.leaf
}

// Graph is a read-only view of buffered nodes.
type Graph interface {
	Node(id cid.Cid) (*Node, bool)
}

// Builder consumes decoded nodes in stream order.
//
// A Builder is owned by a single extraction and is not safe for concurrent use.
type Builder struct {
	nodes       map[cid.Cid]*Node
	names       map[cid.Cid]string
	maxBuffered uint64
	buffered    uint64
	logger      *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithMaxBuffered limits the total leaf payload bytes held in memory.
// Set limit to 0 to disable the limit.
func WithMaxBuffered(limit uint64) BuilderOption {
	return func(b *Builder) {
		b.maxBuffered = limit
	}
}

// WithLogger sets the logger for per-node debug records.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates an empty Builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		nodes: make(map[cid.Cid]*Node),
		names: make(map[cid.Cid]string),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// log returns the logger, falling back to a discard logger if nil.
func (b *Builder) log() *slog.Logger {
	if b.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.logger
}

// Node implements Graph.
func (b *Builder) Node(id cid.Cid) (*Node, bool) {
	n, ok := b.nodes[id]
	return n, ok
}

// Len returns the number of buffered nodes.
func (b *Builder) Len() int {
	return len(b.nodes)
}

// Buffered returns the total leaf payload bytes buffered so far.
func (b *Builder) Buffered() uint64 {
	return b.buffered
}

// Consume buffers one decoded node.
//
// Nodes without links are leaves, except directories, which are branches
// with no children. A node already buffered under id is ignored: identical
// identifiers carry identical bytes.
func (b *Builder) Consume(id cid.Cid, n unixfs.Node) error {
	if _, ok := b.nodes[id]; ok {
		b.log().Debug("duplicate block", "cid", id)
		return nil
	}
	if n.IsLeaf() && n.Kind != unixfs.KindDirectory {
		return b.consumeLeaf(id, n)
	}
	return b.consumeBranch(id, n)
}

func (b *Builder) consumeLeaf(id cid.Cid, n unixfs.Node) error {
	name, ok := b.names[id]
	if !ok {
		return fmt.Errorf("%w: leaf %s", cartype.ErrMissingName, id)
	}
	if !n.HasData {
		return fmt.Errorf("%w: leaf %s has no data", cartype.ErrInvalidNode, id)
	}
	b.buffered += uint64(len(n.Data))
	if b.maxBuffered > 0 && b.buffered > b.maxBuffered {
		return fmt.Errorf("%w: %d bytes buffered, limit %d", cartype.ErrBufferExceeded, b.buffered, b.maxBuffered)
	}

	b.nodes[id] = &Node{Name: name, IsFile: true, Data: n.Data, leaf: true}
	b.log().Debug("buffered leaf", "cid", id, "name", name, "bytes", len(n.Data))
	return nil
}

func (b *Builder) consumeBranch(id cid.Cid, n unixfs.Node) error {
	isFile := n.Kind == unixfs.KindFile
	if len(b.nodes) == 0 {
		if isFile {
			b.names[id] = RootFileName
		} else {
			b.names[id] = RootMarker
		}
	}
	name, ok := b.names[id]
	if !ok {
		return fmt.Errorf("%w: %s %s", cartype.ErrMissingName, n.Kind, id)
	}

	links := make([]Link, len(n.Links))
	for i, l := range n.Links {
		// File children are chunks of this same file and inherit its name.
		childName := l.Name
		if isFile {
			childName = name
		}
		b.names[l.CID] = childName
		links[i] = Link{CID: l.CID, Name: l.Name}
	}

	b.nodes[id] = &Node{Name: name, IsFile: isFile, Links: links}
	b.log().Debug("buffered branch", "cid", id, "name", name, "kind", n.Kind, "links", len(links))
	return nil
}
