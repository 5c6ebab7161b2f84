// Package cartype holds the types shared between the extraction pipeline
// stages and re-exported by the carx package.
package cartype

import "errors"

// Sentinel errors for extraction operations.
var (
	// ErrFormat is returned when the archive header or block framing is malformed.
	ErrFormat = errors.New("carx: invalid archive format")

	// ErrHashMismatch is returned when a block does not hash to its identifier.
	ErrHashMismatch = errors.New("carx: block does not match its identifier")

	// ErrInvalidNode is returned when a block cannot be decoded into a node,
	// or a leaf node carries no payload.
	ErrInvalidNode = errors.New("carx: invalid node")

	// ErrMissingName is returned when a node arrives before any parent
	// propagated a name to it.
	ErrMissingName = errors.New("carx: node has no propagated name")

	// ErrBufferExceeded is returned when buffered leaf payload exceeds the
	// configured limit.
	ErrBufferExceeded = errors.New("carx: buffered data limit exceeded")

	// ErrMissingNode is returned when a link or the declared root references
	// a block that never appeared on the stream.
	ErrMissingNode = errors.New("carx: missing node")

	// ErrRootMismatch is returned when the declared root differs from the
	// caller-supplied root.
	ErrRootMismatch = errors.New("carx: root mismatch")

	// ErrIO is returned, joined with the underlying cause, when writing
	// extracted content fails.
	ErrIO = errors.New("carx: write failed")
)
