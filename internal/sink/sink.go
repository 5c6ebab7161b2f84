// Package sink provides destinations for extracted file content.
package sink

import "io"

// Sink receives extracted content by relative slash-separated path.
//
// Writer may be called more than once for the same path; every handle
// appends. Callers write a path's chunks in order through one handle and
// Close it before requesting the next path.
type Sink interface {
	Writer(path string) (io.WriteCloser, error)
}
