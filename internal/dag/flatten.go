package dag

import (
	"fmt"
	"io/fs"

	"github.com/ipfs/go-cid"

	"github.com/meigma/carx/internal/cartype"
)

// Entry is one payload destined for a relative output path.
//
// A multi-block file yields one Entry per leaf, consecutively and in link
// order; writers must append them in that order.
type Entry struct {
	Path string
	Data []byte
}

// FlattenOption configures Flatten.
type FlattenOption func(*flattener)

// WithMaxOutput limits the total payload bytes Flatten may emit. A block
// linked from several places counts once per reference, and every entry
// counts at least one byte. Set limit to 0 to disable the limit.
func WithMaxOutput(limit uint64) FlattenOption {
	return func(f *flattener) {
		f.maxOutput = limit
	}
}

type flattener struct {
	maxOutput uint64
	output    uint64
}

// charge accounts for one emitted entry of n bytes.
func (f *flattener) charge(n int) error {
	if f.maxOutput == 0 {
		return nil
	}
	f.output += uint64(max(n, 1)) //nolint:gosec // n is a slice length
	if f.output > f.maxOutput {
		return fmt.Errorf("%w: flattened output exceeds %d bytes", cartype.ErrBufferExceeded, f.maxOutput)
	}
	return nil
}

// frame is a pending visit on the flatten work list.
type frame struct {
	id   cid.Cid
	path string
	top  bool
}

// Flatten walks the graph from root and returns every leaf payload with its
// slash-separated path relative to the output root.
//
// A top-level directory contributes no path segment; a top-level file is
// named by its own resolved name. Below the top, directories append the
// link name of each child and file branches pass their path through
// unchanged, so every chunk of a file lands on the same path.
//
// The walk uses an explicit stack, so stack usage does not grow with tree
// depth. Output follows link order at every level.
func Flatten(g Graph, root cid.Cid, opts ...FlattenOption) ([]Entry, error) {
	fl := &flattener{}
	for _, opt := range opts {
		opt(fl)
	}
	var out []Entry
	stack := []frame{{id: root, top: true}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, ok := g.Node(f.id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", cartype.ErrMissingNode, f.id)
		}

		if n.IsLeaf() {
			p := f.path
			if f.top {
				p = n.Name
			}
			if !validPath(p) {
				return nil, &fs.PathError{Op: "flatten", Path: p, Err: fs.ErrInvalid}
			}
			if err := fl.charge(len(n.Data)); err != nil {
				return nil, err
			}
			out = append(out, Entry{Path: p, Data: n.Data})
			continue
		}

		// Push children in reverse so they pop in link order.
		for i := len(n.Links) - 1; i >= 0; i-- {
			l := n.Links[i]
			stack = append(stack, frame{id: l.CID, path: childPath(f, n, l)})
		}
	}
	return out, nil
}

// childPath returns the path a child of branch n inherits.
func childPath(f frame, n *Node, l Link) string {
	if n.IsFile {
		if f.top {
			return n.Name
		}
		return f.path
	}
	if f.top {
		return l.Name
	}
	return f.path + "/" + l.Name
}

// validPath reports whether p is a clean relative path with no empty,
// "." or ".." segments.
func validPath(p string) bool {
	return fs.ValidPath(p) && p != "."
}
