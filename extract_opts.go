package carx

import (
	"log/slog"

	"github.com/opencontainers/go-digest"
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxBufferedBytes limits the total file payload held in memory while
// the stream is consumed. Exceeding it fails the extraction with
// ErrBufferExceeded before anything is written. The same limit bounds the
// bytes produced by flattening, where a block linked from several places
// counts once per reference.
// Set limit to 0 to disable the limit (the default).
func WithMaxBufferedBytes(limit uint64) Option {
	return func(e *Extractor) {
		e.maxBuffered = limit
	}
}

// WithMaxSectionSize limits the size of a single archive section (one
// block plus its CID). Set limit to 0 to use the default of 32MB.
func WithMaxSectionSize(limit uint64) Option {
	return func(e *Extractor) {
		e.maxSectionSize = limit
	}
}

// WithLogger sets the logger for extraction diagnostics.
// By default nothing is logged.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		e.logger = logger
	}
}

// WithProgress sets a callback that receives stage changes and per-block
// and per-file progress.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Extractor) {
		e.progress = fn
	}
}

// WithDigests reports the sha256 digest of the bytes written to each output
// path. The callback runs after the path's handle is closed.
func WithDigests(fn func(path string, d digest.Digest)) Option {
	return func(e *Extractor) {
		e.digests = fn
	}
}
