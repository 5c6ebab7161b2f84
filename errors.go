package carx

import "github.com/meigma/carx/internal/cartype"

// Errors re-exported from internal/cartype.
var (
	// ErrFormat is returned when the archive header or block framing is malformed,
	// or the header does not declare exactly one root.
	ErrFormat = cartype.ErrFormat

	// ErrHashMismatch is returned when a block does not hash to its CID.
	ErrHashMismatch = cartype.ErrHashMismatch

	// ErrInvalidNode is returned when a block cannot be decoded as UnixFS,
	// or a leaf carries no payload.
	ErrInvalidNode = cartype.ErrInvalidNode

	// ErrMissingName is returned when a block arrives before its parent.
	ErrMissingName = cartype.ErrMissingName

	// ErrBufferExceeded is returned when buffered payload exceeds WithMaxBufferedBytes.
	ErrBufferExceeded = cartype.ErrBufferExceeded

	// ErrMissingNode is returned when a link references a block not in the archive.
	ErrMissingNode = cartype.ErrMissingNode

	// ErrRootMismatch is returned by ExtractFromRoot when the archive root differs.
	ErrRootMismatch = cartype.ErrRootMismatch

	// ErrIO is returned, joined with the cause, when writing output fails.
	ErrIO = cartype.ErrIO
)
